package systems

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/accessreg/accessreg/cmd/accessregd/cmd/cmdutil"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/models"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/services/registry"
)

var (
	nameFlag        string
	descriptionFlag string
	rolesInput      []string
	filterFlag      string
	deletedFlag     bool
	actorFlag       string
)

// SystemsCmd is the parent command for registered system operations
var SystemsCmd = &cobra.Command{
	Use:   "systems",
	Short: "Manage registered systems",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered systems",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.OpenRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		var read registry.Read[[]models.System]
		if deletedFlag {
			read, err = bundle.Service.ListDeletedSystems(cmd.Context())
		} else {
			read, err = bundle.Service.ListSystems(cmd.Context(), filterFlag)
		}
		if err != nil {
			return fmt.Errorf("failed to list systems: %w", err)
		}
		w := cmdutil.NewTable(cmd.OutOrStdout(), "ID", "NAME", "ROLES", "STATUS", "DELETED_BY")
		for _, s := range read.Value {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, strings.Join(s.AvailableRoles, ","), s.Status,
				cmdutil.FormatOptional(s.DeletedBy))
		}
		return w.Flush()
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a system",
	Long:  `Registers a system. Without --role the catalog defaults to view, edit and delete.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if nameFlag == "" {
			return fmt.Errorf("--name flag is required")
		}
		bundle, err := cmdutil.OpenRegistryForWrite(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		system, err := bundle.Service.CreateSystem(cmd.Context(), registry.SystemInput{
			Name:           nameFlag,
			Description:    descriptionFlag,
			AvailableRoles: rolesInput,
		})
		if err != nil {
			return fmt.Errorf("failed to create system: %w", err)
		}
		printSystem(cmd, system)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show an active system",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.OpenRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		read, err := bundle.Service.GetSystem(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get system: %w", err)
		}
		printSystem(cmd, &read.Value)
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a system's name, description or role catalog",
	Long: `Updates the given fields. Replacing the role catalog does not touch
existing grants; roles removed from the catalog stay on grants that hold them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in registry.SystemUpdate
		if cmd.Flags().Changed("name") {
			in.Name = &nameFlag
		}
		if cmd.Flags().Changed("description") {
			in.Description = &descriptionFlag
		}
		if cmd.Flags().Changed("role") {
			in.AvailableRoles = rolesInput
		}
		bundle, err := cmdutil.OpenRegistryForWrite(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		system, err := bundle.Service.UpdateSystem(cmd.Context(), args[0], in)
		if err != nil {
			return fmt.Errorf("failed to update system: %w", err)
		}
		printSystem(cmd, system)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Soft-delete a system that no grant blocks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.OpenRegistryForWrite(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		system, err := bundle.Service.SoftDeleteSystem(cmd.Context(), args[0], actorFlag)
		if err != nil {
			return fmt.Errorf("failed to delete system: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted system %s (%s)\n", system.ID, system.Name)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a soft-deleted system",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.OpenRegistryForWrite(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		system, err := bundle.Service.RestoreSystem(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to restore system: %w", err)
		}
		printSystem(cmd, system)
		return nil
	},
}

func printSystem(cmd *cobra.Command, s *models.System) {
	w := cmdutil.NewTable(cmd.OutOrStdout(), "ID", "NAME", "DESCRIPTION", "ROLES", "STATUS")
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Description, strings.Join(s.AvailableRoles, ","), s.Status)
	w.Flush()
}

func init() {
	SystemsCmd.AddCommand(listCmd, createCmd, getCmd, updateCmd, deleteCmd, restoreCmd)

	listCmd.Flags().StringVar(&filterFlag, "filter", "", `Filter expression, e.g. '"admin" in available_roles'`)
	listCmd.Flags().BoolVar(&deletedFlag, "deleted", false, "List only deleted systems")

	for _, c := range []*cobra.Command{createCmd, updateCmd} {
		c.Flags().StringVar(&nameFlag, "name", "", "Unique system name")
		c.Flags().StringVar(&descriptionFlag, "description", "", "Free-form description")
		c.Flags().StringSliceVar(&rolesInput, "role", []string{}, "Role(s) in the system's catalog")
	}
	deleteCmd.Flags().StringVar(&actorFlag, "actor", "cli", "Recorded as the deleting actor")
}
