// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/gridchat/grid-tui/internal/model"
	"github.com/gridchat/grid-tui/internal/util"
)

// ErrThreadNotFound indicates an unknown thread id.
var ErrThreadNotFound = errors.New("thread not found")

// schema creates the thread and turn tables. Turns are append-only; their
// rowid preserves insertion order within a thread.
const schema = `
CREATE TABLE IF NOT EXISTS threads (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	tool       TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	id             TEXT PRIMARY KEY,
	thread_id      TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
	role           TEXT NOT NULL,
	status         TEXT NOT NULL,
	content        TEXT NOT NULL,
	reasoning      TEXT NOT NULL DEFAULT '',
	model          TEXT NOT NULL DEFAULT '',
	search_results TEXT NOT NULL DEFAULT '',
	follow_ups     TEXT NOT NULL DEFAULT '',
	response_time  REAL NOT NULL DEFAULT 0,
	collapsed      INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_thread ON turns(thread_id);
`

// =============================================================================
// STORE
// =============================================================================

// Store persists threads and their turn logs in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the thread database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// THREAD OPERATIONS
// =============================================================================

// CreateThread creates a new thread and returns its metadata.
func (s *Store) CreateThread(title, tool string) (model.ThreadMeta, error) {
	now := time.Now()
	meta := model.ThreadMeta{
		ID:        util.NewID(),
		Title:     title,
		Tool:      tool,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Exec(
		"INSERT INTO threads (id, title, tool, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		meta.ID, meta.Title, meta.Tool, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return model.ThreadMeta{}, fmt.Errorf("create thread: %w", err)
	}
	return meta, nil
}

// UpdateThreadTitle renames a thread.
func (s *Store) UpdateThreadTitle(id, title string) error {
	res, err := s.db.Exec(
		"UPDATE threads SET title = ?, updated_at = ? WHERE id = ?",
		title, time.Now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("update thread title: %w", err)
	}
	return checkFound(res)
}

// UpdateThreadTool records the tool mode a thread was created under.
func (s *Store) UpdateThreadTool(id, tool string) error {
	res, err := s.db.Exec(
		"UPDATE threads SET tool = ?, updated_at = ? WHERE id = ?",
		tool, time.Now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("update thread tool: %w", err)
	}
	return checkFound(res)
}

// DeleteThread removes a thread and all of its turns.
func (s *Store) DeleteThread(id string) error {
	res, err := s.db.Exec("DELETE FROM threads WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return checkFound(res)
}

// ListThreads returns all threads, most recently updated first.
func (s *Store) ListThreads() ([]model.ThreadMeta, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.title, t.tool, t.created_at, t.updated_at,
		       (SELECT COUNT(*) FROM turns WHERE thread_id = t.id)
		FROM threads t
		ORDER BY t.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()
	return scanThreads(rows)
}

// SearchThreads returns threads whose title or any turn content matches the
// query, most recently updated first.
func (s *Store) SearchThreads(query string) ([]model.ThreadMeta, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.Query(`
		SELECT DISTINCT t.id, t.title, t.tool, t.created_at, t.updated_at,
		       (SELECT COUNT(*) FROM turns WHERE thread_id = t.id)
		FROM threads t
		LEFT JOIN turns tu ON tu.thread_id = t.id
		WHERE t.title LIKE ? OR tu.content LIKE ?
		ORDER BY t.updated_at DESC`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search threads: %w", err)
	}
	defer rows.Close()
	return scanThreads(rows)
}

func scanThreads(rows *sql.Rows) ([]model.ThreadMeta, error) {
	var metas []model.ThreadMeta
	for rows.Next() {
		var m model.ThreadMeta
		var created, updated int64
		if err := rows.Scan(&m.ID, &m.Title, &m.Tool, &created, &updated, &m.TurnCount); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		m.CreatedAt = time.UnixMilli(created)
		m.UpdatedAt = time.UnixMilli(updated)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// =============================================================================
// TURN OPERATIONS
// =============================================================================

// AppendTurn appends one turn to a thread's log and bumps the thread's
// updated time.
func (s *Store) AppendTurn(threadID string, turn model.Turn) error {
	searchJSON, err := marshalOrEmpty(turn.SearchResults)
	if err != nil {
		return fmt.Errorf("encode search results: %w", err)
	}
	followJSON, err := marshalOrEmpty(turn.FollowUps)
	if err != nil {
		return fmt.Errorf("encode follow-ups: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO turns
		(id, thread_id, role, status, content, reasoning, model,
		 search_results, follow_ups, response_time, collapsed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, threadID, string(turn.Role), string(turn.Status),
		turn.Content, turn.Reasoning, turn.Model,
		searchJSON, followJSON, turn.ResponseTime,
		boolToInt(turn.Collapsed), turn.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	if _, err := tx.Exec(
		"UPDATE threads SET updated_at = ? WHERE id = ?",
		time.Now().UnixMilli(), threadID,
	); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	return tx.Commit()
}

// Turns returns a thread's turns in insertion order.
func (s *Store) Turns(threadID string) ([]model.Turn, error) {
	rows, err := s.db.Query(`
		SELECT id, role, status, content, reasoning, model,
		       search_results, follow_ups, response_time, collapsed, created_at
		FROM turns WHERE thread_id = ? ORDER BY rowid`, threadID)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		var t model.Turn
		var role, status, searchJSON, followJSON string
		var collapsed int
		var created int64
		if err := rows.Scan(&t.ID, &role, &status, &t.Content, &t.Reasoning,
			&t.Model, &searchJSON, &followJSON, &t.ResponseTime, &collapsed, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = model.Role(role)
		t.Status = model.TurnStatus(status)
		t.Collapsed = collapsed != 0
		t.Timestamp = time.UnixMilli(created)
		if searchJSON != "" {
			if err := json.Unmarshal([]byte(searchJSON), &t.SearchResults); err != nil {
				return nil, fmt.Errorf("decode search results: %w", err)
			}
		}
		if followJSON != "" {
			if err := json.Unmarshal([]byte(followJSON), &t.FollowUps); err != nil {
				return nil, fmt.Errorf("decode follow-ups: %w", err)
			}
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func checkFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrThreadNotFound
	}
	return nil
}

func marshalOrEmpty(v any) (string, error) {
	switch val := v.(type) {
	case []model.SearchResult:
		if len(val) == 0 {
			return "", nil
		}
	case []model.FollowUp:
		if len(val) == 0 {
			return "", nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
