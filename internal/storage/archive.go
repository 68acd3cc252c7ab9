package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatrelay/internal/models"
)

// Archive appends committed chat messages and generated images to the database.
// It is write-mostly: the in-process session store stays authoritative.
type Archive struct {
	db *sql.DB
}

func NewArchive(db *sql.DB) *Archive {
	return &Archive{db: db}
}

func (a *Archive) RecordMessage(ctx context.Context, sessionID string, msg models.Message) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO chat_messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(msg.Role), msg.Content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

func (a *Archive) RecordImage(ctx context.Context, sessionID, prompt, url string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO generated_images (session_id, prompt, url, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, prompt, url, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert generated image: %w", err)
	}
	return nil
}
