// Package cli holds the hammer-trader command tree.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"hammer-trader/internal/decision"
	"hammer-trader/internal/strategy"
	"hammer-trader/pkg/config"
	"hammer-trader/pkg/db"
	"hammer-trader/pkg/logger"
)

// Version is overridden at link time with -ldflags "-X hammer-trader/internal/cli.Version=...".
var Version = "v1.0-dev"

func version() string {
	if v := os.Getenv("APP_VERSION"); v != "" {
		return v
	}
	return Version
}

// NewRootCmd creates the root command. Without a subcommand it serves.
func NewRootCmd() *cobra.Command {
	var cfg *config.Config
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "hammer-trader",
		Short:         "Hammer candlestick trading engine for USDT-M futures",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if logLevel != "" {
				loaded.LogLevel = logLevel
			}
			cfg = loaded
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, cfg)
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the engine and the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, cfg)
		},
	})
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd, cfg)
		},
	})
	rootCmd.AddCommand(newStrategiesCmd(func() *config.Config { return cfg }))
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		// The version command needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hammer-trader %s\n", version())
		},
	}
}

func newStrategiesCmd(cfg func() *config.Config) *cobra.Command {
	strategiesCmd := &cobra.Command{
		Use:   "strategies",
		Short: "Strategy bootstrap file tools",
	}
	strategiesCmd.AddCommand(&cobra.Command{
		Use:   "validate FILE",
		Short: "Check a strategy bootstrap file without starting the engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asset := "USDT"
			if c := cfg(); c != nil && c.QuoteAsset != "" {
				asset = c.QuoteAsset
			}
			return validateStrategies(cmd, args[0], asset)
		},
	})
	return strategiesCmd
}

func serve(cmd *cobra.Command, cfg *config.Config) error {
	log, err := logger.New("hammer-trader", cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if err := runServe(cmd.Context(), cfg, log); err != nil {
		log.Error("hammer-trader stopped with error", zap.Error(err))
		return err
	}
	log.Info("hammer-trader stopped")
	return nil
}

func migrate(cmd *cobra.Command, cfg *config.Config) error {
	database, err := db.New(cfg.ActiveDBPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema up to date: %s\n", database.Path())
	return nil
}

func validateStrategies(cmd *cobra.Command, path, defaultAsset string) error {
	configs, err := strategy.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	out := cmd.OutOrStdout()

	var errs error
	seen := make(map[string]bool, len(configs))
	for i, c := range configs {
		name := c.Key
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
		}
		spec, err := c.Spec(defaultAsset)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		switch strings.ToLower(spec.Type) {
		case decision.TypeHammer, decision.TypeHammerMin:
		default:
			errs = multierr.Append(errs, fmt.Errorf("%s: unknown strategy type %q", name, spec.Type))
			continue
		}
		if seen[spec.Key] {
			errs = multierr.Append(errs, fmt.Errorf("%s: duplicate key", name))
			continue
		}
		seen[spec.Key] = true
		fmt.Fprintf(out, "ok   %s %s %s %v\n", spec.Key, spec.Type, spec.Interval, spec.Symbols)
	}
	if errs != nil {
		for _, e := range multierr.Errors(errs) {
			fmt.Fprintf(out, "fail %v\n", e)
		}
		return fmt.Errorf("%d of %d strategies invalid", len(multierr.Errors(errs)), len(configs))
	}
	fmt.Fprintf(out, "%d strategies valid\n", len(configs))
	return nil
}
