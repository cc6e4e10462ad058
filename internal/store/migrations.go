package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "clients: chat companion account records",
		SQL: `
CREATE TABLE clients (
    id            INTEGER PRIMARY KEY,
    name          TEXT NOT NULL,
    recovery_code TEXT NOT NULL UNIQUE,
    created_at    INTEGER NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "cards: memory cards (self, character, world_event)",
		SQL: `
CREATE TABLE cards (
    id                 INTEGER PRIMARY KEY,
    client_id          INTEGER NOT NULL,
    kind               TEXT NOT NULL CHECK (kind IN ('self', 'character', 'world_event')),
    name               TEXT NOT NULL DEFAULT '',
    entity_key         TEXT,
    relationship_type  TEXT NOT NULL DEFAULT '',
    relationship_label TEXT NOT NULL DEFAULT '',
    event_type         TEXT NOT NULL DEFAULT '',
    payload            TEXT NOT NULL,

    -- Flags
    pinned             INTEGER NOT NULL DEFAULT 0,
    auto_update        INTEGER NOT NULL DEFAULT 1,

    -- Mention recency metadata (character/world_event)
    mention_count      INTEGER NOT NULL DEFAULT 0,
    first_mentioned    INTEGER,
    last_mentioned     INTEGER,

    created_at         INTEGER NOT NULL,
    updated_at         INTEGER NOT NULL,

    FOREIGN KEY (client_id) REFERENCES clients(id)
);

-- At most one self card per client.
CREATE UNIQUE INDEX idx_cards_one_self ON cards(client_id) WHERE kind = 'self';

-- Stable entity keys are client-scoped and unique per kind.
CREATE UNIQUE INDEX idx_cards_entity_key ON cards(client_id, kind, entity_key)
    WHERE entity_key IS NOT NULL;

CREATE INDEX idx_cards_client        ON cards(client_id);
CREATE INDEX idx_cards_pinned        ON cards(client_id, pinned);
CREATE INDEX idx_cards_last_mention  ON cards(client_id, last_mentioned DESC);
`,
	},
	{
		Version:     3,
		Description: "sessions + messages: per-counselor session sequence and transcript",
		SQL: `
CREATE TABLE sessions (
    id             INTEGER PRIMARY KEY,
    client_id      INTEGER NOT NULL,
    counselor_id   INTEGER NOT NULL,
    session_number INTEGER NOT NULL,
    started_at     INTEGER NOT NULL,
    ended_at       INTEGER,

    UNIQUE (client_id, counselor_id, session_number),
    FOREIGN KEY (client_id) REFERENCES clients(id)
);

CREATE INDEX idx_sessions_client ON sessions(client_id, started_at DESC);

CREATE TABLE messages (
    id         INTEGER PRIMARY KEY,
    session_id INTEGER NOT NULL,
    role       TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content    TEXT NOT NULL,
    created_at INTEGER NOT NULL,

    FOREIGN KEY (session_id) REFERENCES sessions(id)
);

CREATE INDEX idx_messages_session ON messages(session_id, created_at);
`,
	},
	{
		Version:     4,
		Description: "entity_mentions: append-only record of card references per session",
		SQL: `
CREATE TABLE entity_mentions (
    id              INTEGER PRIMARY KEY,
    client_id       INTEGER NOT NULL,
    session_id      INTEGER NOT NULL,
    card_id         INTEGER NOT NULL,
    card_kind       TEXT NOT NULL,
    match_type      TEXT NOT NULL DEFAULT '',
    mention_context TEXT NOT NULL DEFAULT '',
    mentioned_at    INTEGER NOT NULL,

    FOREIGN KEY (client_id) REFERENCES clients(id),
    FOREIGN KEY (session_id) REFERENCES sessions(id),
    FOREIGN KEY (card_id) REFERENCES cards(id)
);

CREATE INDEX idx_mentions_session ON entity_mentions(session_id, mentioned_at DESC);
CREATE INDEX idx_mentions_client  ON entity_mentions(client_id, mentioned_at DESC);
`,
	},
	{
		Version:     5,
		Description: "change_log: append-only audit trail for card mutations",
		SQL: `
CREATE TABLE change_log (
    id         TEXT PRIMARY KEY,
    card_id    INTEGER NOT NULL,
    session_id INTEGER,
    action     TEXT NOT NULL,
    old_value  TEXT,
    new_value  TEXT,
    changed_by TEXT NOT NULL CHECK (changed_by IN ('model', 'user')),
    changed_at INTEGER NOT NULL,

    FOREIGN KEY (card_id) REFERENCES cards(id)
);

CREATE INDEX idx_changes_card ON change_log(card_id, changed_at DESC);
`,
	},
	{
		Version:     6,
		Description: "performance_metrics: background operation outcomes",
		SQL: `
CREATE TABLE performance_metrics (
    id          INTEGER PRIMARY KEY,
    operation   TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    metadata    TEXT NOT NULL DEFAULT '{}',
    created_at  INTEGER NOT NULL
);

CREATE INDEX idx_metrics_op ON performance_metrics(operation, created_at DESC);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
