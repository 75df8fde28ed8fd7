// Command sluicedump is the operator debug entry point spec.md §6
// describes: it opens a checkpoint file and prints its header and ring
// contents without running replay or issuing any writes beyond what
// IndexQueue.Open itself performs (none, for a checkpoint that already
// exists).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sluicedump",
	Short: "Inspect a sluice checkpoint file",
	Long: `sluicedump reads a channel's checkpoint file and reports its header
fields, active-file refcounts, and a full ring dump, without replaying
any log files.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sluicedump: %v\n", err)
		os.Exit(1)
	}
}
