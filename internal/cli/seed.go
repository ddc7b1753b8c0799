package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"claimpricer/internal/seed"
)

func newSeedCmd(v *viper.Viper) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the demo contract, fee schedule and rules",
		Long: `Load the embedded demo dataset into the configured store. Records with
the same IDs are replaced. With --reset, all reference data is removed first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			store, closeFn, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			if reset {
				if err := store.Reset(ctx); err != nil {
					return fmt.Errorf("reset: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Removed existing reference data.")
			}

			ds, err := seed.Demo()
			if err != nil {
				return err
			}
			if err := ds.Apply(ctx, store); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, c := range ds.Contracts {
				fmt.Fprintf(out, "Contract %s (%s) for %s\n", c.Name, c.ID, c.Organization)
			}
			rates := 0
			for _, fs := range ds.FeeSchedules {
				rates += len(fs.Rates)
			}
			fmt.Fprintf(out, "Loaded %d fee schedule(s) with %d rates and %d rules into %s storage.\n",
				len(ds.FeeSchedules), rates, len(ds.Rules), cfg.Storage.Type)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "remove all reference data before seeding")
	return cmd
}
