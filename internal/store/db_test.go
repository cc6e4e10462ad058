package store

import (
	"testing"
	"time"
)

func TestMigrations(t *testing.T) {
	db := testDB(t)

	version, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}

	// Re-running is a no-op
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestLogAndPruneMetrics(t *testing.T) {
	db := testDB(t)

	err := db.LogMetric("reconcile", 120*time.Millisecond, "success", "", map[string]any{"session_id": 1})
	if err != nil {
		t.Fatalf("LogMetric: %v", err)
	}
	if err := db.LogMetric("reconcile", 0, "degraded", "llm timeout", nil); err != nil {
		t.Fatalf("LogMetric: %v", err)
	}

	// Future cutoff removes everything
	n, err := db.PruneMetrics(time.Now().Add(time.Hour).UnixMilli())
	if err != nil {
		t.Fatalf("PruneMetrics: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d, want 2", n)
	}
}
