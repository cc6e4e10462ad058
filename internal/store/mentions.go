package store

import (
	"fmt"
	"time"
)

// Mention is an append-only observation that a card was referenced within a
// session. Mentions are never mutated after insert.
type Mention struct {
	ID             int64
	ClientID       int64
	SessionID      int64
	CardID         int64
	CardKind       string
	MatchType      string
	MentionContext string
	MentionedAt    int64
}

// LogMention appends a mention and bumps the referenced card's recency
// metadata (mention_count, first_mentioned, last_mentioned) in one
// transaction. This is the only writer of card recency metadata.
func (db *DB) LogMention(m *Mention) error {
	now := time.Now().UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin log mention: %w", err)
	}

	result, err := tx.Exec(`
		INSERT INTO entity_mentions (client_id, session_id, card_id, card_kind, match_type, mention_context, mentioned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ClientID, m.SessionID, m.CardID, m.CardKind, m.MatchType, m.MentionContext, now)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert mention: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE cards SET
			mention_count = mention_count + 1,
			first_mentioned = COALESCE(first_mentioned, ?),
			last_mentioned = ?
		WHERE id = ?
	`, now, now, m.CardID); err != nil {
		tx.Rollback()
		return fmt.Errorf("bump card recency: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit log mention: %w", err)
	}

	id, _ := result.LastInsertId()
	m.ID = id
	m.MentionedAt = now
	return nil
}

// ListSessionMentions returns all mentions recorded against a session,
// most recent first.
func (db *DB) ListSessionMentions(sessionID int64) ([]Mention, error) {
	rows, err := db.Query(`
		SELECT id, client_id, session_id, card_id, card_kind, match_type, mention_context, mentioned_at
		FROM entity_mentions WHERE session_id = ?
		ORDER BY mentioned_at DESC, id DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session mentions: %w", err)
	}
	defer rows.Close()

	var mentions []Mention
	for rows.Next() {
		var m Mention
		if err := rows.Scan(&m.ID, &m.ClientID, &m.SessionID, &m.CardID,
			&m.CardKind, &m.MatchType, &m.MentionContext, &m.MentionedAt); err != nil {
			return nil, fmt.Errorf("scan mention: %w", err)
		}
		mentions = append(mentions, m)
	}
	return mentions, rows.Err()
}

// CountMentions returns the total number of mentions for a client.
func (db *DB) CountMentions(clientID int64) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM entity_mentions WHERE client_id = ?`, clientID).Scan(&count)
	return count, err
}
