package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/confidanthq/confidant/internal/card"
)

// Card kinds.
const (
	KindSelf       = "self"
	KindCharacter  = "character"
	KindWorldEvent = "world_event"
)

// Card is a persisted memory card: the client's self profile, a person in
// their life, or a life event.
type Card struct {
	ID                int64
	ClientID          int64
	Kind              string
	Name              string
	EntityKey         string
	RelationshipType  string
	RelationshipLabel string
	EventType         string
	Payload           *card.Payload
	Pinned            bool
	AutoUpdate        bool
	MentionCount      int
	FirstMentioned    *int64
	LastMentioned     *int64
	CreatedAt         int64
	UpdatedAt         int64
}

const cardColumns = `id, client_id, kind, name, entity_key, relationship_type,
	relationship_label, event_type, payload, pinned, auto_update,
	mention_count, first_mentioned, last_mentioned, created_at, updated_at`

// CreateCard inserts a new card. The self-card uniqueness constraint is
// enforced by the schema; a second self card for a client fails here.
func (db *DB) CreateCard(c *Card) error {
	if c.Payload == nil {
		c.Payload = card.New(nil, card.SourceUser, time.Now().UnixMilli())
	}
	payload, err := c.Payload.Encode()
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		INSERT INTO cards (client_id, kind, name, entity_key, relationship_type,
			relationship_label, event_type, payload, pinned, auto_update,
			mention_count, created_at, updated_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, c.ClientID, c.Kind, c.Name, c.EntityKey, c.RelationshipType,
		c.RelationshipLabel, c.EventType, string(payload),
		boolInt(c.Pinned), boolInt(c.AutoUpdate), now, now)
	if err != nil {
		return fmt.Errorf("create card: %w", err)
	}

	id, _ := result.LastInsertId()
	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

// GetCard returns a card by id, or nil if not found.
func (db *DB) GetCard(id int64) (*Card, error) {
	row := db.QueryRow(`SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	c, err := scanCard(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get card: %w", err)
	}
	return c, nil
}

// GetSelfCard returns the client's self card, or nil if none exists.
func (db *DB) GetSelfCard(clientID int64) (*Card, error) {
	row := db.QueryRow(`
		SELECT `+cardColumns+` FROM cards WHERE client_id = ? AND kind = 'self'
	`, clientID)
	c, err := scanCard(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get self card: %w", err)
	}
	return c, nil
}

// ListByKind returns all of a client's cards of the given kind.
func (db *DB) ListByKind(clientID int64, kind string) ([]Card, error) {
	rows, err := db.Query(`
		SELECT `+cardColumns+` FROM cards
		WHERE client_id = ? AND kind = ?
		ORDER BY id
	`, clientID, kind)
	if err != nil {
		return nil, fmt.Errorf("list cards by kind: %w", err)
	}
	defer rows.Close()
	return scanCards(rows)
}

// ListPinned returns the client's pinned character and world-event cards,
// most recently mentioned first (never-mentioned last), id ascending for
// determinism.
func (db *DB) ListPinned(clientID int64) ([]Card, error) {
	rows, err := db.Query(`
		SELECT `+cardColumns+` FROM cards
		WHERE client_id = ? AND pinned = 1 AND kind != 'self'
		ORDER BY last_mentioned IS NULL, last_mentioned DESC, id ASC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list pinned: %w", err)
	}
	defer rows.Close()
	return scanCards(rows)
}

// ListRecentByMention returns up to limit cards ordered by most recent
// mention, ties broken by mention count then id, excluding the given ids.
// Cards never mentioned are not returned.
func (db *DB) ListRecentByMention(clientID int64, limit int, exclude []int64) ([]Card, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `SELECT ` + cardColumns + ` FROM cards
		WHERE client_id = ? AND last_mentioned IS NOT NULL`
	args := []any{clientID}

	if len(exclude) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(exclude)), ",")
		query += ` AND id NOT IN (` + placeholders + `)`
		for _, id := range exclude {
			args = append(args, id)
		}
	}

	query += ` ORDER BY last_mentioned DESC, mention_count DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent by mention: %w", err)
	}
	defer rows.Close()
	return scanCards(rows)
}

// SetPinned toggles a card's pin flag.
func (db *DB) SetPinned(cardID int64, pinned bool) error {
	_, err := db.Exec(`UPDATE cards SET pinned = ? WHERE id = ?`, boolInt(pinned), cardID)
	if err != nil {
		return fmt.Errorf("set pinned: %w", err)
	}
	return nil
}

// SetAutoUpdate toggles a card's auto-update flag.
func (db *DB) SetAutoUpdate(cardID int64, enabled bool) error {
	_, err := db.Exec(`UPDATE cards SET auto_update = ? WHERE id = ?`, boolInt(enabled), cardID)
	if err != nil {
		return fmt.Errorf("set auto update: %w", err)
	}
	return nil
}

// UserEditCard replaces a card's payload on behalf of the user. All field
// timestamps reset to user-authored at now, and exactly one change record
// is written, atomically with the payload.
func (db *DB) UserEditCard(cardID int64, p *card.Payload) error {
	existing, err := db.GetCard(cardID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("user edit: card %d not found", cardID)
	}

	now := time.Now().UnixMilli()
	p.ResetAll(now)

	newPayload, err := p.Encode()
	if err != nil {
		return err
	}
	oldPayload, err := existing.Payload.Encode()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin user edit: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE cards SET payload = ?, updated_at = ? WHERE id = ?
	`, string(newPayload), now, cardID); err != nil {
		tx.Rollback()
		return fmt.Errorf("user edit card %d: %w", cardID, err)
	}

	if err := logChange(tx, cardID, nil, "edit", string(oldPayload), string(newPayload), "user", now); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit user edit: %w", err)
	}
	return nil
}

// DeleteCard removes a card along with its mentions and audit trail.
// Mentions already woven into other sessions' context simply stop resolving.
func (db *DB) DeleteCard(cardID int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete card: %w", err)
	}

	for _, stmt := range []string{
		`DELETE FROM change_log WHERE card_id = ?`,
		`DELETE FROM entity_mentions WHERE card_id = ?`,
		`DELETE FROM cards WHERE id = ?`,
	} {
		if _, err := tx.Exec(stmt, cardID); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete card %d: %w", cardID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete card: %w", err)
	}
	return nil
}

// CardChange is one card's accepted field set from a reconciliation pass,
// with the post-mutation payload and the per-field old/new values for audit.
type CardChange struct {
	CardID    int64
	SessionID int64
	Payload   *card.Payload
	OldFields map[string]card.Value
	NewFields map[string]card.Value
}

// ApplyChanges writes a reconciliation pass's accepted field sets in a
// single transaction: each card's payload update plus exactly one change
// record. Either the whole pass commits or none of it does.
func (db *DB) ApplyChanges(changes []CardChange, now int64) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin apply changes: %w", err)
	}

	for _, ch := range changes {
		payload, err := ch.Payload.Encode()
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec(`
			UPDATE cards SET payload = ?, updated_at = ? WHERE id = ?
		`, string(payload), now, ch.CardID); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply change to card %d: %w", ch.CardID, err)
		}

		oldJSON, err := encodeFieldValues(ch.OldFields)
		if err != nil {
			tx.Rollback()
			return err
		}
		newJSON, err := encodeFieldValues(ch.NewFields)
		if err != nil {
			tx.Rollback()
			return err
		}

		sessionID := ch.SessionID
		if err := logChange(tx, ch.CardID, &sessionID, "auto_update", oldJSON, newJSON, "model", now); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply changes: %w", err)
	}
	return nil
}

func scanCard(row *sql.Row) (*Card, error) {
	var c Card
	var entityKey sql.NullString
	var pinned, autoUpdate int
	var firstMentioned, lastMentioned sql.NullInt64
	var payload string

	err := row.Scan(&c.ID, &c.ClientID, &c.Kind, &c.Name, &entityKey,
		&c.RelationshipType, &c.RelationshipLabel, &c.EventType, &payload,
		&pinned, &autoUpdate, &c.MentionCount, &firstMentioned, &lastMentioned,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return finishCard(&c, entityKey, pinned, autoUpdate, firstMentioned, lastMentioned, payload)
}

func scanCards(rows *sql.Rows) ([]Card, error) {
	var cards []Card
	for rows.Next() {
		var c Card
		var entityKey sql.NullString
		var pinned, autoUpdate int
		var firstMentioned, lastMentioned sql.NullInt64
		var payload string

		if err := rows.Scan(&c.ID, &c.ClientID, &c.Kind, &c.Name, &entityKey,
			&c.RelationshipType, &c.RelationshipLabel, &c.EventType, &payload,
			&pinned, &autoUpdate, &c.MentionCount, &firstMentioned, &lastMentioned,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		done, err := finishCard(&c, entityKey, pinned, autoUpdate, firstMentioned, lastMentioned, payload)
		if err != nil {
			return nil, err
		}
		cards = append(cards, *done)
	}
	return cards, rows.Err()
}

func finishCard(c *Card, entityKey sql.NullString, pinned, autoUpdate int,
	firstMentioned, lastMentioned sql.NullInt64, payload string) (*Card, error) {

	c.EntityKey = entityKey.String
	c.Pinned = pinned != 0
	c.AutoUpdate = autoUpdate != 0
	if firstMentioned.Valid {
		c.FirstMentioned = &firstMentioned.Int64
	}
	if lastMentioned.Valid {
		c.LastMentioned = &lastMentioned.Int64
	}

	p, err := card.Decode([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("card %d: %w", c.ID, err)
	}
	c.Payload = p
	return c, nil
}

func encodeFieldValues(fields map[string]card.Value) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode field values: %w", err)
	}
	return string(data), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
