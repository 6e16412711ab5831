package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"lockstep/internal/backup"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the store directory",
	Long:  `Create and inspect portable snapshots of the metadata database and the vector index.`,
}

// backup create flags
var (
	backupOutput     string
	backupJSONOutput bool
)

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a backup archive",
	Long:  `Create a .tar.gz archive containing a compacted copy of the metadata database, the vector index file and a manifest describing both.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		result, err := backup.Create(ctx, backup.Options{
			StoreDir:   cfg.StoreDir,
			OutputPath: backupOutput,
		})
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		if backupJSONOutput {
			return json.NewEncoder(os.Stdout).Encode(result)
		}

		fmt.Printf("Backup created: %s\n", result.ArchivePath)
		fmt.Printf("Files: %d\n", result.FileCount)
		fmt.Printf("Size: %s\n", formatSize(result.TotalSize))
		fmt.Printf("Duration: %v\n", result.Duration.Round(time.Millisecond))

		for _, w := range result.Warnings {
			fmt.Printf("WARNING: %s\n", w)
		}

		return nil
	},
}

// backup list flags
var (
	listJSONOutput bool
	listVerbose    bool
)

var backupListCmd = &cobra.Command{
	Use:   "list <backup-file>",
	Short: "Inspect a backup archive",
	Long:  `Display the contents and metadata of a backup archive.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := backup.ListOptions{
			ArchivePath: args[0],
			JSONOutput:  listJSONOutput,
			Verbose:     listVerbose || verbose,
		}

		result, err := backup.List(opts)
		if err != nil {
			return fmt.Errorf("list failed: %w", err)
		}

		return backup.PrintList(result, opts)
	},
}

func init() {
	// Create subcommand flags
	backupCreateCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "Output file path (default: lockstep-backup-YYYYMMDD-HHMMSS.tar.gz)")
	backupCreateCmd.Flags().BoolVar(&backupJSONOutput, "json", false, "Output results in JSON format")

	// List subcommand flags
	backupListCmd.Flags().BoolVar(&listJSONOutput, "json", false, "Output in JSON format")
	backupListCmd.Flags().BoolVar(&listVerbose, "verbose", false, "Show all files in archive")

	// Wire subcommands
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)

	rootCmd.AddCommand(backupCmd)
}

func formatSize(b int64) string {
	switch {
	case b >= 1024*1024*1024:
		return fmt.Sprintf("%.1f GB", float64(b)/(1024*1024*1024))
	case b >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(b)/(1024*1024))
	case b >= 1024:
		return fmt.Sprintf("%.1f KB", float64(b)/1024)
	default:
		return fmt.Sprintf("%d B", b)
	}
}
