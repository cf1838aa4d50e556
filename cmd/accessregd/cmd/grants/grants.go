package grants

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/accessreg/accessreg/cmd/accessregd/cmd/cmdutil"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/models"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/services/registry"
)

var (
	accountFlag string
	systemFlag  string
	rolesInput  []string
	activeFlag  bool
	deletedFlag bool
	actorFlag   string
)

// GrantsCmd is the parent command for grant operations
var GrantsCmd = &cobra.Command{
	Use:   "grants",
	Short: "Manage role grants between accounts and systems",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List grants with their account and system",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.OpenRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		var views []registry.GrantView
		switch {
		case deletedFlag:
			views, err = bundle.Service.ListDeletedGrants(cmd.Context())
		case activeFlag:
			var read registry.Read[[]registry.GrantView]
			read, err = bundle.Service.ListActiveGrants(cmd.Context())
			views = read.Value
		default:
			var read registry.Read[[]registry.GrantView]
			read, err = bundle.Service.ListGrants(cmd.Context())
			views = read.Value
		}
		if err != nil {
			return fmt.Errorf("failed to list grants: %w", err)
		}

		w := cmdutil.NewTable(cmd.OutOrStdout(), "ID", "ACCOUNT", "SYSTEM", "ROLES", "STATUS")
		for _, g := range views {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", g.ID, g.Account.Email, g.System.Name, strings.Join(g.Roles, ","), g.Status)
		}
		return w.Flush()
	},
}

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Create a grant or replace its roles",
	RunE: func(cmd *cobra.Command, args []string) error {
		if accountFlag == "" || systemFlag == "" {
			return fmt.Errorf("--account and --system are required")
		}
		if len(rolesInput) == 0 {
			return fmt.Errorf("at least one role must be specified using --role")
		}
		bundle, err := cmdutil.OpenRegistryForWrite(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		result, err := bundle.Service.UpsertGrant(cmd.Context(), accountFlag, systemFlag, rolesInput)
		if err != nil {
			return fmt.Errorf("failed to set grant: %w", err)
		}
		verb := "Updated"
		if result.Created {
			verb = "Created"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s grant %s\n", verb, result.Grant.ID)
		printGrant(cmd, &result.Grant)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show an active grant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.OpenRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		read, err := bundle.Service.GetGrant(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get grant: %w", err)
		}
		printGrant(cmd, &read.Value.Grant)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"revoke"},
	Short:   "Revoke a grant",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.OpenRegistryForWrite(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		grant, err := bundle.Service.SoftDeleteGrant(cmd.Context(), args[0], actorFlag)
		if err != nil {
			return fmt.Errorf("failed to delete grant: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Revoked grant %s\n", grant.ID)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a revoked grant whose account and system are active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.OpenRegistryForWrite(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		grant, err := bundle.Service.RestoreGrant(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to restore grant: %w", err)
		}
		printGrant(cmd, grant)
		return nil
	},
}

func printGrant(cmd *cobra.Command, g *models.Grant) {
	w := cmdutil.NewTable(cmd.OutOrStdout(), "ID", "ACCOUNT_ID", "SYSTEM_ID", "ROLES", "STATUS")
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", g.ID, g.AccountID, g.SystemID, strings.Join(g.Roles, ","), g.Status)
	w.Flush()
}

func init() {
	GrantsCmd.AddCommand(listCmd, setCmd, getCmd, deleteCmd, restoreCmd)

	listCmd.Flags().BoolVar(&activeFlag, "active", false, "Only grants whose account and system are active")
	listCmd.Flags().BoolVar(&deletedFlag, "deleted", false, "Only revoked grants")

	setCmd.Flags().StringVar(&accountFlag, "account", "", "Account ID")
	setCmd.Flags().StringVar(&systemFlag, "system", "", "System ID")
	setCmd.Flags().StringSliceVar(&rolesInput, "role", []string{}, "Role(s) to grant; replaces the current set")

	deleteCmd.Flags().StringVar(&actorFlag, "actor", "cli", "Recorded as the deleting actor")
}
