package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/confidanthq/confidant/internal/config"
	"github.com/confidanthq/confidant/internal/engine"
	"github.com/confidanthq/confidant/internal/llm"
	"github.com/confidanthq/confidant/internal/server"
	"github.com/confidanthq/confidant/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Default()

	// Env overrides
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		cfg.LLM.Provider = "openrouter"
		cfg.LLM.OpenRouterKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.LLM.Provider = "anthropic"
		cfg.LLM.AnthropicKey = key
	}
	if path := os.Getenv("CONFIDANT_DB"); path != "" {
		cfg.Database.Path = path
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	// Resolve database path
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// An unconfigured LLM disables reconciliation but not the rest of the
	// API; context assembly and detection work without a model.
	var llmClient llm.Client
	if c, err := llm.NewClient(cfg.LLM); err != nil {
		fmt.Fprintf(os.Stderr, "warning: LLM not configured (%v), card auto-updates disabled\n", err)
	} else {
		llmClient = c
		fmt.Fprintf(os.Stderr, "  llm: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	}

	eng := engine.New(db, llmClient, cfg)
	if err := eng.StartMaintenance(); err != nil {
		return fmt.Errorf("start maintenance: %w", err)
	}
	defer eng.Stop()

	srv := server.New(db, eng, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "confidant serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", dbPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
