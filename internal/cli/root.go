// Package cli implements pricectl, the operator command line for seeding,
// inspecting and verifying reference data.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"claimpricer/config"
	"claimpricer/internal/app"
	"claimpricer/internal/logging"
	"claimpricer/internal/pricing"
	"claimpricer/internal/refdata"
	"claimpricer/internal/seed"
	"claimpricer/internal/version"
)

// NewRootCmd builds the pricectl command tree.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "pricectl",
		Short: "Operate the claim pricing engine",
		Long: `pricectl seeds reference data, prices individual claims with a full
trace, verifies the demo scenarios and repairs stale specificity scores.

Configuration is shared with the pricer server (config/config.yaml and
environment variables). PRICECTL_* variables override pricectl flags.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cfgFile != "" {
				if err := os.Setenv("PRICER_CONFIG", cfgFile); err != nil {
					return err
				}
			}
			level := "warn"
			if v.GetBool("verbose") {
				level = "debug"
			}
			return logging.Setup(logging.Config{Format: logging.FormatText, Level: level})
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config/config.yaml)")
	root.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	root.PersistentFlags().String("order", "", "accumulation order: score or staged (default from config)")

	v.SetEnvPrefix("PRICECTL")
	v.AutomaticEnv()
	_ = v.BindPFlag("verbose", root.PersistentFlags().Lookup("verbose"))
	_ = v.BindPFlag("order", root.PersistentFlags().Lookup("order"))

	root.AddCommand(
		newSeedCmd(v),
		newPriceCmd(v),
		newVerifyCmd(v),
		newRescoreCmd(v),
		newConfigCmd(v),
		newVersionCmd(),
	)
	return root
}

// Execute runs pricectl with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}

// loadConfig loads the shared configuration and applies pricectl overrides.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if order := v.GetString("order"); order != "" {
		cfg.Engine.Accumulation = order
	}
	return cfg, nil
}

// openEngine returns an engine over the configured store, or over a fresh
// in-memory copy of the demo dataset when demo is set.
func openEngine(ctx context.Context, v *viper.Viper, demo bool) (*pricing.Engine, func() error, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, nil, err
	}
	order, err := pricing.ParseOrder(cfg.Engine.Accumulation)
	if err != nil {
		return nil, nil, err
	}
	opts := pricing.Options{
		Order:            order,
		MaxSkipSteps:     cfg.Engine.MaxSkipSteps,
		BatchConcurrency: cfg.Engine.BatchConcurrency,
	}

	if demo {
		store := refdata.NewMemoryStore()
		ds, err := seed.Demo()
		if err != nil {
			return nil, nil, err
		}
		if err := ds.Apply(ctx, store); err != nil {
			return nil, nil, err
		}
		return pricing.New(store, opts), store.Close, nil
	}

	store, closeFn, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return pricing.New(store, opts), closeFn, nil
}

// openStore opens the configured store and returns a function closing it
// together with its storage connection.
func openStore(ctx context.Context, cfg *config.Config) (refdata.Store, func() error, error) {
	st, store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error {
		err := store.Close()
		if st != nil {
			if cerr := st.Close(); err == nil {
				err = cerr
			}
		}
		return err
	}
	return store, closeFn, nil
}
