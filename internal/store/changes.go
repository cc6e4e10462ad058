package store

import (
	"database/sql"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// ChangeRecord is an immutable audit entry for a card mutation.
// Old and new values are JSON objects keyed by field name; user edits carry
// the full payload instead.
type ChangeRecord struct {
	ID        string
	CardID    int64
	SessionID *int64
	Action    string
	OldValue  string
	NewValue  string
	ChangedBy string
	ChangedAt int64
}

// logChange appends a change record inside the caller's transaction, so the
// audit entry commits or rolls back with the mutation it describes.
func logChange(tx *sql.Tx, cardID int64, sessionID *int64, action, oldValue, newValue, changedBy string, now int64) error {
	_, err := tx.Exec(`
		INSERT INTO change_log (id, card_id, session_id, action, old_value, new_value, changed_by, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ulid.Make().String(), cardID, sessionID, action, oldValue, newValue, changedBy, now)
	if err != nil {
		return fmt.Errorf("log change for card %d: %w", cardID, err)
	}
	return nil
}

// GetChangeHistory returns a card's change records, newest first.
func (db *DB) GetChangeHistory(cardID int64, limit int) ([]ChangeRecord, error) {
	rows, err := db.Query(`
		SELECT id, card_id, session_id, action, old_value, new_value, changed_by, changed_at
		FROM change_log WHERE card_id = ?
		ORDER BY changed_at DESC, id DESC LIMIT ?
	`, cardID, limit)
	if err != nil {
		return nil, fmt.Errorf("get change history: %w", err)
	}
	defer rows.Close()

	var records []ChangeRecord
	for rows.Next() {
		var r ChangeRecord
		var sessionID sql.NullInt64
		var oldValue, newValue sql.NullString
		if err := rows.Scan(&r.ID, &r.CardID, &sessionID, &r.Action,
			&oldValue, &newValue, &r.ChangedBy, &r.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}
		if sessionID.Valid {
			r.SessionID = &sessionID.Int64
		}
		r.OldValue = oldValue.String
		r.NewValue = newValue.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// LastUserEdit returns the time of the most recent user edit to a card,
// or nil if the user has never edited it.
func (db *DB) LastUserEdit(cardID int64) (*int64, error) {
	var at sql.NullInt64
	err := db.QueryRow(`
		SELECT MAX(changed_at) FROM change_log
		WHERE card_id = ? AND changed_by = 'user'
	`, cardID).Scan(&at)
	if err != nil {
		return nil, fmt.Errorf("last user edit: %w", err)
	}
	if !at.Valid {
		return nil, nil
	}
	return &at.Int64, nil
}

// LastModelUpdate returns the time of the most recent model-driven update
// to a card, or nil if the model has never touched it.
func (db *DB) LastModelUpdate(cardID int64) (*int64, error) {
	var at sql.NullInt64
	err := db.QueryRow(`
		SELECT MAX(changed_at) FROM change_log
		WHERE card_id = ? AND changed_by = 'model'
	`, cardID).Scan(&at)
	if err != nil {
		return nil, fmt.Errorf("last model update: %w", err)
	}
	if !at.Valid {
		return nil, nil
	}
	return &at.Int64, nil
}
