package main

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/spf13/cobra"
)

// newDiscoverCmd lists models an upstream account actually exposes, for
// reconciling against the global_models/models entries an operator is about
// to put in a catalog seed. Read-only discovery, never writes to a seed.
func newDiscoverCmd() *cobra.Command {
	var (
		apiKey  string
		baseURL string
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List models visible to an OpenAI-compatible API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := apiKey
			if key == "" {
				key = os.Getenv("OPENAI_API_KEY")
			}
			if key == "" {
				return fmt.Errorf("--api-key or OPENAI_API_KEY is required")
			}

			opts := []option.RequestOption{option.WithAPIKey(key)}
			if baseURL != "" {
				opts = append(opts, option.WithBaseURL(baseURL))
			}
			client := openai.NewClient(opts...)

			ctx := context.Background()
			out := cmd.OutOrStdout()

			iter := client.Models.ListAutoPaging(ctx)
			count := 0
			for iter.Next() {
				m := iter.Current()
				fmt.Fprintf(out, "%s\towned_by=%s\n", m.ID, m.OwnedBy)
				count++
			}
			if err := iter.Err(); err != nil {
				return fmt.Errorf("listing models: %w", err)
			}
			fmt.Fprintf(out, "%d model(s)\n", count)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (defaults to OPENAI_API_KEY)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "override the API base URL for OpenAI-compatible providers")

	return cmd
}
