package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ferro-labs/llm-gateway-core/catalog"
	"github.com/ferro-labs/llm-gateway-core/internal/catalogseed"
)

func newAdaptiveCmd() *cobra.Command {
	var (
		seedPath     string
		credentialID string
	)

	cmd := &cobra.Command{
		Use:   "adaptive",
		Short: "Inspect a credential's learned adaptive concurrency state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if seedPath == "" {
				return fmt.Errorf("--seed is required")
			}
			if credentialID == "" {
				return fmt.Errorf("--credential is required")
			}

			store := catalog.NewStore()
			if err := catalogseed.LoadInto(store, seedPath); err != nil {
				return err
			}

			cred, ok := store.Credential(credentialID)
			if !ok {
				return fmt.Errorf("no such credential: %s", credentialID)
			}

			out := cmd.OutOrStdout()
			st := cred.Adaptive
			fmt.Fprintf(out, "credential: %s\n", cred.ID)
			fmt.Fprintf(out, "learned max concurrent: %d\n", st.LearnedMaxConcurrent)
			fmt.Fprintf(out, "utilization samples: %d\n", len(st.UtilizationSamples))
			if !st.LastRateLimitAt.IsZero() {
				fmt.Fprintf(out, "last rate limit: %s at %s\n", st.LastRateLimitKind, st.LastRateLimitAt.Format("2006-01-02T15:04:05Z07:00"))
			} else {
				fmt.Fprintln(out, "last rate limit: none observed")
			}
			fmt.Fprintf(out, "consecutive concurrency-429s: %d\n", st.ConsecutiveConc429)

			if len(st.AdjustmentHistory) == 0 {
				fmt.Fprintln(out, "adjustment history: empty")
				return nil
			}
			fmt.Fprintln(out, "adjustment history:")
			for _, a := range st.AdjustmentHistory {
				fmt.Fprintf(out, "  %s: %d -> %d (%s)\n", a.At.Format("2006-01-02T15:04:05Z07:00"), a.From, a.To, a.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&seedPath, "seed", "", "path to a catalog seed JSON file")
	cmd.Flags().StringVar(&credentialID, "credential", "", "credential id to inspect")

	return cmd
}
