package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ferro-labs/llm-gateway-core/affinity"
	"github.com/ferro-labs/llm-gateway-core/candidates"
	"github.com/ferro-labs/llm-gateway-core/catalog"
	"github.com/ferro-labs/llm-gateway-core/convert"
	"github.com/ferro-labs/llm-gateway-core/health"
	"github.com/ferro-labs/llm-gateway-core/internal/catalogseed"
	"github.com/ferro-labs/llm-gateway-core/resolver"
)

func newCandidatesCmd() *cobra.Command {
	var (
		seedPath     string
		model        string
		caller       string
		clientFormat string
		priorityMode string
		stream       bool
	)

	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "Dry-run candidate resolution for a model against a catalog seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if seedPath == "" {
				return fmt.Errorf("--seed is required")
			}
			if model == "" {
				return fmt.Errorf("--model is required")
			}

			store := catalog.NewStore()
			if err := catalogseed.LoadInto(store, seedPath); err != nil {
				return err
			}

			modelResolver := resolver.New(store, 10*time.Minute, 4096)
			healthMonitor := health.NewMonitor(5, 30*time.Second)
			affinityStore := affinity.New(10000)
			converters := convert.NewRegistry()
			resolved := candidates.New(store, modelResolver, healthMonitor, affinityStore, converters.Available)

			result, err := resolved.Resolve(candidates.Request{
				ClientFormat: catalog.APIFormat(clientFormat),
				ModelName:    model,
				CallerID:     caller,
				Stream:       stream,
				PriorityMode: candidates.PriorityMode(priorityMode),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "canonical model: %s\n", result.CanonicalModelID)
			fmt.Fprintf(out, "%d candidate(s), %d total attempt(s)\n", len(result.Candidates), candidates.CountTotalAttempts(result.Candidates))
			for i, c := range result.Candidates {
				skip := ""
				if c.IsSkipped {
					skip = fmt.Sprintf(" SKIP(%s)", c.SkipReason)
				}
				cached := ""
				if c.IsCached {
					cached = " cached"
				}
				fmt.Fprintf(out, "  %d. provider=%s endpoint=%s credential=%s model=%s%s%s\n",
					i+1, c.Provider.Name, c.Endpoint.ID, c.Credential.ID, c.ProviderModelName, cached, skip)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&seedPath, "seed", "", "path to a catalog seed JSON file")
	cmd.Flags().StringVar(&model, "model", "", "caller-facing model name to resolve")
	cmd.Flags().StringVar(&caller, "caller", "dry-run", "caller id, used for cache-affinity lookup")
	cmd.Flags().StringVar(&clientFormat, "client-format", string(catalog.FormatOpenAIChat), "inbound wire format")
	cmd.Flags().StringVar(&priorityMode, "priority-mode", "provider", "provider|credential")
	cmd.Flags().BoolVar(&stream, "stream", false, "resolve as a streaming request")

	return cmd
}
