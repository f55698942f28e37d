// Command gwctl is an operator CLI for the orchestration core: validating a
// catalog seed file, dry-running candidate resolution for a model, and
// inspecting a credential's learned adaptive state.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ferro-labs/llm-gateway-core/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:     "gwctl",
		Short:   "Operate the LLM gateway orchestration core",
		Version: version.String(),
	}

	root.AddCommand(newCatalogCmd())
	root.AddCommand(newCandidatesCmd())
	root.AddCommand(newAdaptiveCmd())
	root.AddCommand(newDiscoverCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
