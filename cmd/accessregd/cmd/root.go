package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/accessreg/accessreg/cmd/accessregd/cmd/accounts"
	"github.com/accessreg/accessreg/cmd/accessregd/cmd/cachecmd"
	"github.com/accessreg/accessreg/cmd/accessregd/cmd/grants"
	"github.com/accessreg/accessreg/cmd/accessregd/cmd/systems"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/config"
)

var (
	cfg        *config.Config
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "accessregd",
	Short: "Access registry server for accounts, systems and grants",
	Long: `accessregd keeps the registry of accounts, the systems they can access
and the role grants between them. It serves a JSON HTTP API backed by
PostgreSQL or SQLite with a Redis or in-process read cache.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Path to a YAML, TOML or JSON config file")
	flags.String("db-url", "", "Database connection URL (env: ACCESSREG_DATABASE_URL)")
	flags.String("server-addr", "", "Server bind address (env: ACCESSREG_SERVER_ADDR)")
	flags.Bool("debug", false, "Enable debug logging and error detail (env: ACCESSREG_DEBUG)")
	flags.String("cache-backend", "", "Cache backend: redis, memory or none (env: ACCESSREG_CACHE_BACKEND)")
	flags.String("redis-url", "", "Redis URL for the redis cache backend (env: ACCESSREG_CACHE_REDIS_URL)")

	bindFlag("database_url", "db-url")
	bindFlag("server_addr", "server-addr")
	bindFlag("debug", "debug")
	bindFlag("cache.backend", "cache-backend")
	bindFlag("cache.redis_url", "redis-url")

	rootCmd.AddCommand(accounts.AccountsCmd)
	rootCmd.AddCommand(systems.SystemsCmd)
	rootCmd.AddCommand(grants.GrantsCmd)
	rootCmd.AddCommand(cachecmd.CacheCmd)
}

// bindFlag binds a persistent flag to a config key. Unset flags leave the
// file and environment values in place.
func bindFlag(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
