package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Client is a chat companion account.
type Client struct {
	ID           int64
	Name         string
	RecoveryCode string
	CreatedAt    int64
}

// CreateClient inserts a new client with a generated recovery code.
func (db *DB) CreateClient(name string) (*Client, error) {
	now := time.Now().UnixMilli()
	code := uuid.NewString()

	result, err := db.Exec(`
		INSERT INTO clients (name, recovery_code, created_at) VALUES (?, ?, ?)
	`, name, code, now)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	id, _ := result.LastInsertId()
	return &Client{ID: id, Name: name, RecoveryCode: code, CreatedAt: now}, nil
}

// GetClient returns a client by id, or nil if not found.
func (db *DB) GetClient(id int64) (*Client, error) {
	var c Client
	err := db.QueryRow(`
		SELECT id, name, recovery_code, created_at FROM clients WHERE id = ?
	`, id).Scan(&c.ID, &c.Name, &c.RecoveryCode, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	return &c, nil
}
