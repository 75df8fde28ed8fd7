package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mvaleed/sluice/internal/queue"
	"github.com/mvaleed/sluice/internal/replay"
)

var inspectCapacity int

var inspectCmd = &cobra.Command{
	Use:   "inspect <checkpoint-path>",
	Short: "Print a checkpoint's header, refcounts, and ring contents",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().IntVar(&inspectCapacity, "capacity", 0, "queue capacity the checkpoint was created with (required)")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	if inspectCapacity <= 0 {
		return fmt.Errorf("--capacity is required and must be positive")
	}

	// inspect is read-only: queue.Open would happily create and
	// zero-initialize a missing checkpoint file, which is exactly what
	// a typo'd path must not silently do here.
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	// A dump never checkpoints, so the write-order oracle is never
	// consulted; it exists only to satisfy IndexQueue.Open's signature.
	q, err := queue.Open(path, inspectCapacity, replay.NewSequenceOracle())
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer q.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "capacity: %d\n", q.Capacity())
	fmt.Fprintf(out, "size:     %d\n", q.Size())
	fmt.Fprintf(out, "head:     %d\n", q.DebugHead())
	fmt.Fprintf(out, "writeOrderID: %d\n", q.LogWriteOrderID())

	fmt.Fprintln(out, "\nactive files:")
	refcounts := q.DebugRefcounts()
	if len(refcounts) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for _, fileID := range q.FileIDs() {
		fmt.Fprintf(out, "  fileID=%d refcount=%d\n", fileID, refcounts[fileID])
	}

	fmt.Fprintln(out, "\nring:")
	for i, ptr := range q.DebugDump() {
		if ptr.IsEmpty() {
			fmt.Fprintf(out, "  %d: 0x%016x (empty)\n", i, uint64(ptr))
			continue
		}
		fmt.Fprintf(out, "  %d: 0x%016x fileID=%d offset=%d\n", i, uint64(ptr), ptr.FileID(), ptr.Offset())
	}

	return nil
}
