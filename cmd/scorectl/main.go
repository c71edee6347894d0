package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "2.0.0"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scorectl",
		Short:         "Score loan applications offline and inspect scoring policies",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(newEvaluateCmd(), newPolicyCmd(), newTokenCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
