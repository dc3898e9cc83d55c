package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chatrelay/pkg/types"
)

// Archive is a sqlite-backed transcript log. The relay only ever appends to
// it; live state is never rebuilt from it.
type Archive struct {
	db           *sql.DB
	config       Config
	writeChannel chan writeOperation // TECHNICAL: single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// Open opens (creating if needed) the archive database and applies migrations
func Open(config Config) (*Archive, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", config.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	migrations := NewMigrationManager(db)
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	a := &Archive{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}
	a.wg.Add(1)
	go a.writeLoop()

	log.Printf("Transcript archive opened at %s", config.Path)
	return a, nil
}

// writeLoop processes all writes in a single goroutine, retrying each failure once
func (a *Archive) writeLoop() {
	defer a.wg.Done()

	for {
		select {
		case op := <-a.writeChannel:
			err := op.operation(a.db)
			if err != nil {
				log.Printf("Archive write failed, retrying in %v: %v", a.config.RetryDelay, err)
				time.Sleep(a.config.RetryDelay)
				err = op.operation(a.db)
				if err != nil {
					log.Printf("Archive write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-a.shutdown:
			return
		}
	}
}

// executeWrite queues a write and waits for its result
func (a *Archive) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return ErrArchiveClosed
	}
	a.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(a.config.WriteTimeout)
	defer timer.Stop()

	select {
	case a.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-a.shutdown:
		return ErrArchiveClosed
	}

	select {
	case err := <-result:
		return err
	case <-a.shutdown:
		return ErrArchiveClosed
	}
}

// StoreSession upserts the session row
func (a *Archive) StoreSession(ctx context.Context, session types.SessionView) error {
	platforms, err := json.Marshal(session.AIPlatforms)
	if err != nil {
		return fmt.Errorf("failed to marshal platforms: %w", err)
	}

	return a.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO sessions (id, name, facilitator_id, ai_platforms, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at
		`, session.ID, session.Name, session.FacilitatorID, string(platforms), session.Status, session.CreatedAt, time.Now())
		if err != nil {
			return fmt.Errorf("failed to upsert session: %w", err)
		}
		return nil
	})
}

// StoreMessage appends a message; storing the same id twice is a no-op
func (a *Archive) StoreMessage(ctx context.Context, message *types.ChatMessage) error {
	return a.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT OR IGNORE INTO messages
				(id, session_id, sender_id, sender_name, sender_type, platform, thread_id, content, rich_media, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			message.ID,
			message.SessionID,
			message.SenderID,
			message.SenderName,
			message.SenderType,
			nullString(message.Platform),
			nullString(message.ThreadID),
			message.Content,
			nullString(string(message.RichMedia)),
			message.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// StoreMedia upserts a media item with its final status
func (a *Archive) StoreMedia(ctx context.Context, item *types.MediaItem) error {
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	var derivatives sql.NullString
	if item.Derivatives != nil {
		raw, err := json.Marshal(item.Derivatives)
		if err != nil {
			return fmt.Errorf("failed to marshal derivatives: %w", err)
		}
		derivatives = sql.NullString{String: string(raw), Valid: true}
	}

	return a.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO media (id, session_id, uploaded_by, kind, data, metadata, status, derivatives, uploaded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET status = excluded.status, derivatives = excluded.derivatives
		`, item.ID, item.SessionID, item.UploadedBy, item.Type, string(item.Data), string(metadata), item.Status, derivatives, item.UploadedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert media: %w", err)
		}
		return nil
	})
}

// GetTranscript returns archived messages for a session in arrival order
func (a *Archive) GetTranscript(ctx context.Context, sessionID string) ([]*types.ChatMessage, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, session_id, sender_id, sender_name, sender_type, platform, thread_id, content, rich_media, timestamp
		FROM messages
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := []*types.ChatMessage{}
	for rows.Next() {
		var msg types.ChatMessage
		var platform, threadID, richMedia sql.NullString
		if err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.SenderID,
			&msg.SenderName,
			&msg.SenderType,
			&platform,
			&threadID,
			&msg.Content,
			&richMedia,
			&msg.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Platform = platform.String
		msg.ThreadID = threadID.String
		if richMedia.Valid {
			msg.RichMedia = json.RawMessage(richMedia.String)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// HealthCheck validates database connectivity
func (a *Archive) HealthCheck(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the database. Idempotent.
func (a *Archive) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.shutdown)
	a.wg.Wait()

	if err := a.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
