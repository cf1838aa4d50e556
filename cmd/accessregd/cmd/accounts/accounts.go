package accounts

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/accessreg/accessreg/cmd/accessregd/cmd/cmdutil"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/models"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/services/registry"
)

var (
	nameFlag    string
	emailFlag   string
	filterFlag  string
	allFlag     bool
	deletedFlag bool
	actorFlag   string
)

// AccountsCmd is the parent command for account operations
var AccountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage registry accounts",
	Long:  `Commands for managing accounts directly against the registry database.`,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts with their grants",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.OpenRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		if deletedFlag {
			read, err := bundle.Service.ListDeletedAccounts(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list deleted accounts: %w", err)
			}
			w := cmdutil.NewTable(cmd.OutOrStdout(), "ID", "NAME", "EMAIL", "DELETED_AT", "DELETED_BY")
			for _, a := range read.Value {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Email,
					cmdutil.FormatTime(a.DeletedAt), cmdutil.FormatOptional(a.DeletedBy))
			}
			return w.Flush()
		}

		var read registry.Read[[]registry.AccountView]
		if allFlag {
			read, err = bundle.Service.ListAllAccounts(cmd.Context())
		} else {
			read, err = bundle.Service.ListAccounts(cmd.Context(), filterFlag)
		}
		if err != nil {
			return fmt.Errorf("failed to list accounts: %w", err)
		}

		w := cmdutil.NewTable(cmd.OutOrStdout(), "ID", "NAME", "EMAIL", "STATUS", "GRANTS")
		for _, view := range read.Value {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", view.ID, view.Name, view.Email, view.Status, formatGrants(view.Grants))
		}
		return w.Flush()
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if nameFlag == "" || emailFlag == "" {
			return fmt.Errorf("--name and --email are required")
		}
		bundle, err := cmdutil.OpenRegistryForWrite(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		account, err := bundle.Service.CreateAccount(cmd.Context(), registry.AccountInput{Name: nameFlag, Email: emailFlag})
		if err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}
		printAccount(cmd, account)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show an account in any state, with all of its grants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.OpenRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		view, err := bundle.Service.GetAccountIncludingDeleted(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get account: %w", err)
		}
		printAccount(cmd, &view.Account)
		w := cmdutil.NewTable(cmd.OutOrStdout(), "GRANT", "SYSTEM", "ROLES", "STATUS")
		for _, g := range view.Grants {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", g.ID, g.System.Name, strings.Join(g.Roles, ","), g.Status)
		}
		return w.Flush()
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update an account's name or email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in registry.AccountUpdate
		if cmd.Flags().Changed("name") {
			in.Name = &nameFlag
		}
		if cmd.Flags().Changed("email") {
			in.Email = &emailFlag
		}
		bundle, err := cmdutil.OpenRegistryForWrite(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		account, err := bundle.Service.UpdateAccount(cmd.Context(), args[0], in)
		if err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}
		printAccount(cmd, account)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Soft-delete an account and revoke its active grants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.OpenRegistryForWrite(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		result, err := bundle.Service.SoftDeleteAccount(cmd.Context(), args[0], actorFlag)
		if err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted account %s, revoked %d grant(s)\n", result.Account.ID, len(result.RevokedGrants))
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a soft-deleted account",
	Long:  `Restores the account only. Grants revoked with it stay deleted and are restored one by one.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.OpenRegistryForWrite(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		account, err := bundle.Service.RestoreAccount(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to restore account: %w", err)
		}
		printAccount(cmd, account)
		return nil
	},
}

func printAccount(cmd *cobra.Command, a *models.Account) {
	w := cmdutil.NewTable(cmd.OutOrStdout(), "ID", "NAME", "EMAIL", "STATUS", "CREATED_AT")
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Email, a.Status, cmdutil.FormatTime(&a.CreatedAt))
	w.Flush()
}

func formatGrants(grants []registry.AccountGrant) string {
	if len(grants) == 0 {
		return "-"
	}
	parts := make([]string, len(grants))
	for i, g := range grants {
		parts[i] = fmt.Sprintf("%s[%s]", g.System.Name, strings.Join(g.Roles, ","))
	}
	return strings.Join(parts, " ")
}

func init() {
	AccountsCmd.AddCommand(listCmd, createCmd, getCmd, updateCmd, deleteCmd, restoreCmd)

	listCmd.Flags().StringVar(&filterFlag, "filter", "", `Filter expression, e.g. 'email matches "@example.com$"'`)
	listCmd.Flags().BoolVar(&allFlag, "all", false, "Include deleted accounts")
	listCmd.Flags().BoolVar(&deletedFlag, "deleted", false, "List only deleted accounts")

	for _, c := range []*cobra.Command{createCmd, updateCmd} {
		c.Flags().StringVar(&nameFlag, "name", "", "Display name")
		c.Flags().StringVar(&emailFlag, "email", "", "Email address")
	}
	deleteCmd.Flags().StringVar(&actorFlag, "actor", "cli", "Recorded as the deleting actor")
}
