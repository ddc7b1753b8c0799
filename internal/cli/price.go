package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"claimpricer/internal/core"
	"claimpricer/internal/server"
)

func newPriceCmd(v *viper.Viper) *cobra.Command {
	var (
		demo   bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "price <claim.json|->",
		Short: "Price one claim and print its trace",
		Long: `Price a single claim read from a JSON file, or stdin with "-", and print
every trace step followed by the allowed amount.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			claim, err := server.DecodeClaim(body)
			if err != nil {
				return fmt.Errorf("claim: %w", err)
			}

			engine, closeFn, err := openEngine(cmd.Context(), v, demo)
			if err != nil {
				return err
			}
			defer closeFn()

			result := engine.CalculatePrice(cmd.Context(), claim)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printTrace(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().BoolVar(&demo, "demo", false, "price against an in-memory copy of the demo dataset")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}

func printTrace(w io.Writer, result *core.PriceResult) {
	fmt.Fprintln(w, "Trace:")
	if len(result.Trace) == 0 {
		fmt.Fprintln(w, "   (no steps recorded)")
	}
	for _, step := range result.Trace {
		fmt.Fprintf(w, "   %s [%s] %s\n", stepMarker(step.Kind), step.Kind, step.Message)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Outcome:        %s\n", result.Outcome)
	if result.AppliedRuleID != nil {
		fmt.Fprintf(w, "Applied rule:   %s\n", *result.AppliedRuleID)
	}
	if result.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:          %s\n", result.ErrorMessage)
	}
	fmt.Fprintf(w, "Allowed amount: $%s\n", result.AllowedAmount.StringFixed(2))
}

func stepMarker(kind core.StepKind) string {
	switch kind {
	case core.StepAccum, core.StepCalc, core.StepSuccess, core.StepAdjust, core.StepOutlier:
		return "+"
	case core.StepSkip:
		return "-"
	case core.StepStop, core.StepError, core.StepCritical:
		return "!"
	default:
		return " "
	}
}
