package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"claimpricer/internal/refdata"
)

func newRescoreCmd(v *viper.Viper) *cobra.Command {
	var contractID string

	cmd := &cobra.Command{
		Use:   "rescore",
		Short: "Recompute persisted specificity scores",
		Long: `Recompute every rule's specificity score from its conditions and persist
it. Rules whose stored score was stale are listed. Use --contract to limit the
run to one contract.`,
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

			ids := []string{contractID}
			if contractID == "" {
				contracts, err := store.ListContracts(ctx)
				if err != nil {
					return err
				}
				ids = ids[:0]
				for _, c := range contracts {
					ids = append(ids, c.ID)
				}
			}

			out := cmd.OutOrStdout()
			total := 0
			for _, id := range ids {
				changed, err := refdata.RescoreContract(ctx, store, id)
				if err != nil {
					return fmt.Errorf("contract %s: %w", id, err)
				}
				for _, c := range changed {
					fmt.Fprintf(out, "%s  rule %s: %d -> %d\n", id, c.RuleID, c.OldScore, c.NewScore)
				}
				total += len(changed)
			}
			fmt.Fprintf(out, "Rescored %d contract(s); %d stale score(s) corrected.\n", len(ids), total)
			return nil
		},
	}
	cmd.Flags().StringVar(&contractID, "contract", "", "only rescore this contract")
	return cmd
}
