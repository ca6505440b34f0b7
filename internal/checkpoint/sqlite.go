// Package checkpoint persists DeliberationState so a killed or crashed
// session resumes at the last round boundary instead of restarting.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"quorum/internal/types"
)

// SQLiteStore is the durable checkpoint store. One row per session; the
// full state is one JSON blob so the schema never chases the state
// struct.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the checkpoint database at path.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			session_id  TEXT PRIMARY KEY,
			phase       TEXT NOT NULL,
			waiting_for TEXT NOT NULL DEFAULT '',
			state_json  TEXT NOT NULL,
			updated_at  TIMESTAMP NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Save implements types.CheckpointStore. The latest state for a session
// wins; INSERT OR REPLACE keeps saves idempotent.
func (s *SQLiteStore) Save(ctx context.Context, st *types.DeliberationState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints (session_id, phase, waiting_for, state_json, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		st.SessionID, string(st.Phase), string(st.WaitingFor), string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	s.logger.Debug("Checkpoint saved",
		zap.String("session", st.SessionID),
		zap.String("phase", string(st.Phase)),
		zap.Int("round", st.Round),
		zap.Int("index", st.Index))
	return nil
}

// Load implements types.CheckpointStore. An absent session returns
// (nil, nil).
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*types.DeliberationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT state_json FROM checkpoints WHERE session_id = ?", sessionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	var st types.DeliberationState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint for %s: %w", sessionID, err)
	}
	return &st, nil
}

// Sessions lists checkpointed sessions, newest first.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id, phase, waiting_for, updated_at FROM checkpoints ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.SessionID, &info.Phase, &info.WaitingFor, &info.UpdatedAt); err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SessionInfo is one row of the session listing.
type SessionInfo struct {
	SessionID  string
	Phase      string
	WaitingFor string
	UpdatedAt  time.Time
}
