package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"lockstep/internal/engine"

	"github.com/spf13/cobra"
)

// verify flags
var (
	verifyRepair bool
	verifyJSON   bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that the vector index and the metadata match",
	Long: `Check that the vector index and the SQLite metadata table describe
the same events. With --repair, drift is fixed by rebuilding the index
from the metadata rows, which re-embeds every event.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerify()
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyRepair, "repair", false, "repair drift by rebuilding the index from metadata rows")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "output the report in JSON format")

	rootCmd.AddCommand(verifyCmd)
}

func runVerify() error {
	_, eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	rep, err := eng.Verify(ctx)
	if err != nil {
		return fmt.Errorf("verify failed: %w", err)
	}

	if verifyJSON {
		if err := json.NewEncoder(os.Stdout).Encode(rep); err != nil {
			return err
		}
	} else {
		fmt.Printf("State: %s\n", rep.State)
		fmt.Printf("Rows:  %d\n", rep.RowCount)
		fmt.Printf("Index: %d vectors\n", rep.IndexTotal)
		if rep.Model != "" {
			fmt.Printf("Model: %s (dim %d)\n", rep.Model, rep.Dim)
		}
		for _, issue := range rep.Issues {
			fmt.Printf("ISSUE: %s\n", issue)
		}
	}

	if rep.State != engine.StateDrifted {
		return nil
	}
	if !verifyRepair {
		return fmt.Errorf("store is drifted (%d issues); run with --repair to fix", len(rep.Issues))
	}

	fmt.Println("Repairing...")
	sum, err := eng.Repair(ctx)
	if err != nil {
		return fmt.Errorf("repair failed: %w", err)
	}
	fmt.Printf("Repaired: %d events (%d before)\n", sum.TotalAfter, sum.TotalBefore)
	return nil
}
