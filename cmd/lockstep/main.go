package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"lockstep/internal/config"
	"lockstep/internal/embed"
	"lockstep/internal/engine"
	"lockstep/internal/maintenance"
	"lockstep/internal/search"
	"lockstep/internal/server"
	"lockstep/internal/tasks"
	"lockstep/internal/telegram"
	"lockstep/internal/version"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	cfgFile string
	verbose bool
	port    int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lockstep",
	Short: "Lockstep - weekly schedule search service",
	Long: `Lockstep parses weekly schedule documents into events, keeps a
vector index and a SQLite metadata table of them in lockstep, and
serves semantic search and admin ingestion over HTTP.

The server command runs the HTTP API; the remaining commands manage
the store from the command line.`,
	Version: version.Full(),
}

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the lockstep HTTP server",
	Long: `Start the HTTP server. This is the main mode: it serves semantic
search, the admin ingestion API and the live task feed, and runs the
background ingestion worker.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("lockstep %s\n", version.Full())
		buildInfo := version.GetBuildInfo()

		if buildInfo.GitCommit != "unknown" {
			fmt.Printf("Git commit: %s\n", buildInfo.GitCommit)
		}
		if buildInfo.BuildDate != "unknown" {
			fmt.Printf("Build date: %s\n", buildInfo.BuildDate)
		}
		fmt.Printf("Go version: %s\n", buildInfo.GoVersion)

		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	// Server command flags
	serverCmd.Flags().IntVarP(&port, "port", "p", 0, "override the configured HTTP port")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)

	// If no command is specified, default to server
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return serverCmd.RunE(cmd, args)
	}
}

func initConfig() {
	if verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		log.Println("Verbose logging enabled")
	}
}

// embedOptions maps the embedding config block onto provider options.
func embedOptions(cfg *config.Config) embed.Options {
	return embed.Options{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		APIKeyEnv: cfg.Embedding.APIKeyEnv,
		BaseURL:   cfg.Embedding.BaseURL,
		Dimension: cfg.Embedding.Dimension,
		BatchSize: cfg.Embedding.BatchSize,
	}
}

// loadConfig reads the config file named by the --config flag.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openEngine loads the config and opens the store with the configured
// embedding provider. Shared by the commands that touch the store.
func openEngine() (*config.Config, *engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	emb, err := embed.New(embedOptions(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	eng, err := engine.Open(cfg.StoreDir, emb)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	return cfg, eng, nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	emb, err := embed.New(embedOptions(cfg))
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	eng, err := engine.Open(cfg.StoreDir, emb)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer eng.Close()

	runner := tasks.NewRunner(eng, 16)
	searcher := search.New(eng.Store(), emb, eng.IndexPath())

	srv, err := server.New(cfg, eng, runner, searcher)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal: %v", sig)
		cancel()
	}()

	if cfg.Maintenance.Enabled {
		sched := maintenance.NewScheduler(cfg.Maintenance.Schedule, nil)
		maintTasks := []maintenance.Task{
			maintenance.NewStoreVerifyTask(eng, cfg.Maintenance.AutoRepair, nil),
			maintenance.NewUploadsCleanupTask(cfg.UploadsDir, cfg.Maintenance.UploadsRetentionDays, nil),
		}
		for _, task := range maintTasks {
			if err := sched.RegisterTask(task); err != nil {
				return fmt.Errorf("failed to register maintenance task: %w", err)
			}
		}
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start maintenance scheduler: %w", err)
		}
		defer sched.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return srv.Start(gctx) })

	if cfg.Telegram.Enabled {
		token := os.Getenv(cfg.Telegram.BotTokenEnv)
		if token == "" {
			log.Printf("WARNING: telegram is enabled but %s is not set, bot disabled", cfg.Telegram.BotTokenEnv)
		} else {
			bot, err := telegram.New(token, searcher)
			if err != nil {
				return fmt.Errorf("failed to create telegram bot: %w", err)
			}
			g.Go(func() error { return bot.Run(gctx) })
		}
	}

	log.Printf("Starting lockstep %s on port %d", version.Full(), cfg.Server.Port)
	if err := g.Wait(); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	log.Println("Server stopped gracefully")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
