package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Session is an ordered sequence of turns for a (client, counselor) pair.
type Session struct {
	ID            int64
	ClientID      int64
	CounselorID   int64
	SessionNumber int
	StartedAt     int64
	EndedAt       *int64
}

// Message is one turn of a session transcript.
type Message struct {
	ID        int64
	SessionID int64
	Role      string
	Content   string
	CreatedAt int64
}

// StartSession opens a new session for a client/counselor pair with the
// next session number in that pair's sequence.
func (db *DB) StartSession(clientID, counselorID int64) (*Session, error) {
	now := time.Now().UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin start session: %w", err)
	}

	var next int
	err = tx.QueryRow(`
		SELECT COALESCE(MAX(session_number), 0) + 1 FROM sessions
		WHERE client_id = ? AND counselor_id = ?
	`, clientID, counselorID).Scan(&next)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("next session number: %w", err)
	}

	result, err := tx.Exec(`
		INSERT INTO sessions (client_id, counselor_id, session_number, started_at)
		VALUES (?, ?, ?, ?)
	`, clientID, counselorID, next, now)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit start session: %w", err)
	}

	id, _ := result.LastInsertId()
	return &Session{
		ID:            id,
		ClientID:      clientID,
		CounselorID:   counselorID,
		SessionNumber: next,
		StartedAt:     now,
	}, nil
}

// GetSession returns a session by id, or nil if not found.
func (db *DB) GetSession(id int64) (*Session, error) {
	var s Session
	var endedAt sql.NullInt64
	err := db.QueryRow(`
		SELECT id, client_id, counselor_id, session_number, started_at, ended_at
		FROM sessions WHERE id = ?
	`, id).Scan(&s.ID, &s.ClientID, &s.CounselorID, &s.SessionNumber, &s.StartedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Int64
	}
	return &s, nil
}

// EndSession closes a session. Ending an already-closed session is a no-op.
func (db *DB) EndSession(id int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE sessions SET ended_at = COALESCE(ended_at, ?) WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// CloseStaleSessions closes sessions still open that started before the
// cutoff. Returns the number closed.
func (db *DB) CloseStaleSessions(cutoff int64) (int, error) {
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		UPDATE sessions SET ended_at = ? WHERE ended_at IS NULL AND started_at < ?
	`, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("close stale sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// AddMessage appends a turn to a session transcript.
func (db *DB) AddMessage(sessionID int64, role, content string) (*Message, error) {
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		INSERT INTO messages (session_id, role, content, created_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, role, content, now)
	if err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	id, _ := result.LastInsertId()
	return &Message{ID: id, SessionID: sessionID, Role: role, Content: content, CreatedAt: now}, nil
}

// ListMessages returns a session's transcript in turn order.
func (db *DB) ListMessages(sessionID int64) ([]Message, error) {
	return db.listMessages(sessionID, 0)
}

// ListMessagesAfter returns the transcript turns recorded after the given
// time, in turn order. Used to hand the reconciler only the delta it has
// not yet analyzed.
func (db *DB) ListMessagesAfter(sessionID, after int64) ([]Message, error) {
	return db.listMessages(sessionID, after)
}

func (db *DB) listMessages(sessionID, after int64) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, session_id, role, content, created_at FROM messages
		WHERE session_id = ? AND created_at > ?
		ORDER BY created_at, id
	`, sessionID, after)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
