package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ferro-labs/llm-gateway-core/internal/catalogseed"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect a catalog seed file",
	}
	cmd.AddCommand(newCatalogLintCmd())
	return cmd
}

func newCatalogLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <seed-file>",
		Short: "Check a catalog seed file for dangling references and obvious mistakes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := catalogseed.ReadFile(args[0])
			if err != nil {
				return err
			}

			problems := seed.Lint()
			if len(problems) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ catalog is valid: %d providers, %d endpoints, %d credentials, %d models\n",
					len(seed.Providers), len(seed.Endpoints), len(seed.Credentials), len(seed.Models))
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "found %d problem(s):\n", len(problems))
			for _, p := range problems {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", p)
			}
			return fmt.Errorf("catalog seed failed lint with %d problem(s)", len(problems))
		},
	}
}
