package cachecmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/accessreg/accessreg/cmd/accessregd/cmd/cmdutil"
)

// CacheCmd is the parent command for cache maintenance. It operates on the
// configured backend directly and refuses to run unless that backend is
// shared (redis).
var CacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and flush the shared read cache",
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Connect to the cache backend and report its state",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.OpenRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()
		if err := bundle.RequireSharedCache(); err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(bundle.Service.CacheStatus())
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Drop every cached registry entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.OpenRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()
		if err := bundle.RequireSharedCache(); err != nil {
			return err
		}

		keys, err := bundle.Service.FlushCache(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to flush cache: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d key(s)\n", len(keys))
		return nil
	},
}

func init() {
	CacheCmd.AddCommand(statusCmd, flushCmd)
}
