package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"claimpricer/internal/seed"
)

func newVerifyCmd(v *viper.Viper) *cobra.Command {
	var useStore bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run the demo scenarios and report PASS/FAIL",
		Long: `Price every demo scenario and compare the allowed amount and outcome with
the expected values. By default the scenarios run against a fresh in-memory
copy of the demo dataset; --use-store runs them against the configured store,
which must have been seeded. Exits non-zero when any scenario fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ds, err := seed.Demo()
			if err != nil {
				return err
			}
			engine, closeFn, err := openEngine(cmd.Context(), v, !useStore)
			if err != nil {
				return err
			}
			defer closeFn()

			checks := ds.Verify(cmd.Context(), engine)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RESULT\tSCENARIO\tEXPECTED\tACTUAL\tOUTCOME")
			for _, c := range checks {
				status := "PASS"
				if !c.Pass {
					status = "FAIL"
				}
				fmt.Fprintf(tw, "%s\t%s\t$%s\t$%s\t%s\n",
					status, c.Scenario.Name, c.Scenario.Expected, c.Result.AllowedAmount.StringFixed(2), c.Result.Outcome)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			passed := seed.Passed(checks)
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d/%d scenarios passed (order: %s)\n", passed, len(checks), engine.Order())
			for _, c := range checks {
				if !c.Pass {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", c.Scenario.Name, c.Reason)
				}
			}
			if passed != len(checks) {
				return fmt.Errorf("%d scenario(s) failed", len(checks)-passed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&useStore, "use-store", false, "verify against the configured store instead of an in-memory demo copy")
	return cmd
}
