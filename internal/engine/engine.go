// Package engine implements the two core per-turn operations: context
// assembly (which cards go into the next prompt) and reconciliation
// (confidence-gated card updates extracted from session transcripts).
package engine

import (
	"errors"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/confidanthq/confidant/internal/config"
	"github.com/confidanthq/confidant/internal/llm"
	"github.com/confidanthq/confidant/internal/store"
)

// ErrInvalidInput marks a request rejected before any work began
// (unknown client or session, bad window). Callers map it to a 400.
var ErrInvalidInput = errors.New("invalid input")

// Engine orchestrates context assembly, reconciliation, and maintenance.
type Engine struct {
	DB   *store.DB
	LLM  llm.Client
	Cfg  config.Config
	cron *cron.Cron
}

// New creates a new Engine.
func New(db *store.DB, client llm.Client, cfg config.Config) *Engine {
	return &Engine{DB: db, LLM: client, Cfg: cfg}
}

// StartMaintenance schedules the nightly jobs: closing sessions left open
// for more than a day and pruning metric rows older than 30 days.
func (e *Engine) StartMaintenance() error {
	c := cron.New()
	_, err := c.AddFunc("@daily", e.runMaintenance)
	if err != nil {
		return err
	}
	c.Start()
	e.cron = c
	return nil
}

// Stop shuts down the maintenance scheduler.
func (e *Engine) Stop() {
	if e.cron != nil {
		e.cron.Stop()
	}
}

func (e *Engine) runMaintenance() {
	now := time.Now()

	if closed, err := e.DB.CloseStaleSessions(now.Add(-24 * time.Hour).UnixMilli()); err != nil {
		log.Printf("maintenance: close stale sessions: %v", err)
	} else if closed > 0 {
		log.Printf("maintenance: closed %d stale sessions", closed)
	}

	if pruned, err := e.DB.PruneMetrics(now.AddDate(0, 0, -30).UnixMilli()); err != nil {
		log.Printf("maintenance: prune metrics: %v", err)
	} else if pruned > 0 {
		log.Printf("maintenance: pruned %d metric rows", pruned)
	}
}
