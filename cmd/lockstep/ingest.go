package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lockstep/internal/embed"
	"lockstep/internal/engine"
	"lockstep/internal/parser"
	"lockstep/internal/store"
	"lockstep/internal/tasks"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// ingest flags
var (
	ingestMode   string
	ingestDedupe bool
	ingestYear   int
	ingestTag    string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Parse a schedule file and embed its events into the store",
	Long: `Parse a weekly schedule document (.docx or .html) and embed its
events into the store. Append mode adds new events on top of the
existing ones; rebuild mode replaces the whole store with the
document's events.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(args[0])
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestMode, "mode", tasks.ModeAppend, "ingestion mode: append or rebuild")
	ingestCmd.Flags().BoolVar(&ingestDedupe, "dedupe", true, "skip events already in the store")
	ingestCmd.Flags().IntVar(&ingestYear, "year", 0, "year for date completion (default: inferred from the document)")
	ingestCmd.Flags().StringVar(&ingestTag, "tag", "", "tag recorded in the uploads log, e.g. tuan-34")

	rootCmd.AddCommand(ingestCmd)
}

func runIngest(path string) error {
	if ingestMode != tasks.ModeAppend && ingestMode != tasks.ModeRebuild {
		return fmt.Errorf("mode must be %q or %q", tasks.ModeAppend, tasks.ModeRebuild)
	}

	records, err := parser.ParseFile(path, ingestYear)
	if err != nil {
		return fmt.Errorf("parse failed: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("no events found in %s", path)
	}
	fmt.Printf("Parsed %d events from %s\n", len(records), filepath.Base(path))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	emb, err := embed.New(embedOptions(cfg))
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	bar := newEmbedBar(len(records))
	eng, err := engine.Open(cfg.StoreDir, &progressEmbedder{Embedder: emb, bar: bar})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	// Record the run in the uploads log so it shows up alongside the
	// web ingests.
	taskID := uuid.NewString()
	if err := eng.Store().CreateUpload(ctx, taskID, filepath.Base(path), ingestTag, ingestMode); err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	if err := eng.Store().MarkUploadStatus(ctx, taskID, store.UploadIngesting); err != nil {
		return fmt.Errorf("failed to mark upload: %w", err)
	}

	var sum *engine.Summary
	if ingestMode == tasks.ModeRebuild {
		sum, err = eng.Rebuild(ctx, records, ingestDedupe)
	} else {
		sum, err = eng.Append(ctx, records, ingestDedupe)
	}
	if err != nil {
		_ = eng.Store().FinishUpload(context.Background(), taskID, store.UploadFailed, 0, 0, err.Error())
		return fmt.Errorf("ingest failed: %w", err)
	}
	_ = bar.Finish()

	logBlob, merr := json.Marshal(sum)
	if merr != nil {
		logBlob = []byte{}
	}
	if err := eng.Store().FinishUpload(ctx, taskID, store.UploadDone, sum.Added, sum.TotalAfter, string(logBlob)); err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}

	fmt.Printf("\nIngest complete:\n")
	fmt.Printf("  Added:      %d\n", sum.Added)
	fmt.Printf("  Duplicates: %d\n", sum.Duplicates)
	fmt.Printf("  Invalid:    %d\n", sum.Invalid)
	fmt.Printf("  Total:      %d\n", sum.TotalAfter)
	if sum.Repaired {
		fmt.Printf("  Note: store drift was repaired during this run\n")
	}
	if sum.Warning != "" {
		fmt.Printf("WARNING: %s\n", sum.Warning)
	}
	return nil
}

// progressEmbedder advances a progress bar as batches are embedded.
type progressEmbedder struct {
	embed.Embedder
	bar *progressbar.ProgressBar
}

func (p *progressEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.Embedder.Embed(ctx, texts)
	if err == nil {
		_ = p.bar.Add(len(texts))
	}
	return vecs, err
}

func newEmbedBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stdout)
		}),
	)
}
