// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"sync"

	"github.com/gridchat/grid-tui/internal/model"
)

// =============================================================================
// THREAD LOG
// =============================================================================

// ThreadLog binds a Store to one thread and keeps an in-memory copy of the
// turn log so reads never block on the database. Appends write through.
type ThreadLog struct {
	store    *Store
	threadID string

	mu    sync.RWMutex
	turns []model.Turn
}

// NewThreadLog loads the existing turns of threadID and returns a log bound
// to it.
func NewThreadLog(store *Store, threadID string) (*ThreadLog, error) {
	turns, err := store.Turns(threadID)
	if err != nil {
		return nil, err
	}
	return &ThreadLog{store: store, threadID: threadID, turns: turns}, nil
}

// ThreadID returns the bound thread id.
func (l *ThreadLog) ThreadID() string {
	return l.threadID
}

// AppendTurn persists a turn and appends it to the in-memory log.
func (l *ThreadLog) AppendTurn(turn model.Turn) error {
	if err := l.store.AppendTurn(l.threadID, turn); err != nil {
		return err
	}
	l.mu.Lock()
	l.turns = append(l.turns, turn)
	l.mu.Unlock()
	return nil
}

// Turns returns a copy of the turn log in insertion order.
func (l *ThreadLog) Turns() []model.Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Turn, len(l.turns))
	copy(out, l.turns)
	return out
}
