package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// LogMetric records the outcome of a background operation (reconciliation
// passes, maintenance jobs). Failures here are the caller's to log; metrics
// must never block the operation they describe.
func (db *DB) LogMetric(operation string, duration time.Duration, status, errMsg string, metadata map[string]any) error {
	meta := "{}"
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal metric metadata: %w", err)
		}
		meta = string(data)
	}

	_, err := db.Exec(`
		INSERT INTO performance_metrics (operation, duration_ms, status, error, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, operation, duration.Milliseconds(), status, errMsg, meta, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("log metric: %w", err)
	}
	return nil
}

// PruneMetrics deletes metric rows older than the cutoff. Returns the
// number removed.
func (db *DB) PruneMetrics(cutoff int64) (int, error) {
	result, err := db.Exec(`DELETE FROM performance_metrics WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune metrics: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
