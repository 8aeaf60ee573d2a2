// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"sync"
	"time"
)

// DefaultFlushInterval bounds how often buffered tokens reach the
// presentation layer, independent of network burstiness.
const DefaultFlushInterval = 80 * time.Millisecond

// =============================================================================
// UPDATE THROTTLER
// =============================================================================

// Throttler coalesces rapid token appends into periodic flushes.
//
// The first append since the last flush schedules a flush after the
// configured interval; appends arriving before the timer fires are absorbed
// into the same flush. A flush atomically moves everything buffered into the
// externally observable sequences, preserving arrival order. Flushing with
// empty buffers is a safe no-op.
//
// Thread-safety: appends come from the stream-consumer goroutine while the
// presentation layer reads snapshots, so all state is mutex-guarded.
type Throttler struct {
	mu sync.Mutex

	interval time.Duration
	onFlush  func()

	// Internal buffers, pending flush.
	pendingReasoning []string
	pendingAnswer    []string

	// Externally observable state.
	reasoning []string
	answer    []string

	timer *time.Timer
}

// NewThrottler creates a throttler flushing on the given cadence.
// onFlush, if non-nil, is invoked after each non-empty flush (outside the
// internal lock) so the presentation layer can pick up a fresh snapshot.
func NewThrottler(interval time.Duration, onFlush func()) *Throttler {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Throttler{
		interval: interval,
		onFlush:  onFlush,
	}
}

// AppendReasoning buffers one reasoning token and requests a flush.
func (t *Throttler) AppendReasoning(token string) {
	t.mu.Lock()
	t.pendingReasoning = append(t.pendingReasoning, token)
	t.scheduleLocked()
	t.mu.Unlock()
}

// AppendAnswer buffers one answer token and requests a flush.
func (t *Throttler) AppendAnswer(token string) {
	t.mu.Lock()
	t.pendingAnswer = append(t.pendingAnswer, token)
	t.scheduleLocked()
	t.mu.Unlock()
}

// scheduleLocked arms the flush timer if none is pending.
// Caller must hold the lock.
func (t *Throttler) scheduleLocked() {
	if t.timer != nil {
		return
	}
	t.timer = time.AfterFunc(t.interval, t.Flush)
}

// Flush moves all buffered fragments to the observable state, in order.
// Called by the timer, and forced unconditionally when the stream ends so no
// fragment is lost to a pending timer. Empty flushes change nothing and do
// not notify.
func (t *Throttler) Flush() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	moved := len(t.pendingReasoning) > 0 || len(t.pendingAnswer) > 0
	if moved {
		t.reasoning = append(t.reasoning, t.pendingReasoning...)
		t.answer = append(t.answer, t.pendingAnswer...)
		t.pendingReasoning = nil
		t.pendingAnswer = nil
	}
	onFlush := t.onFlush
	t.mu.Unlock()

	if moved && onFlush != nil {
		onFlush()
	}
}

// Snapshot returns copies of the observable fragment sequences.
func (t *Throttler) Snapshot() (reasoning, answer []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	reasoning = append([]string(nil), t.reasoning...)
	answer = append([]string(nil), t.answer...)
	return reasoning, answer
}

// Pending returns the number of buffered, not yet flushed fragments.
func (t *Throttler) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pendingReasoning) + len(t.pendingAnswer)
}

// Reset discards all buffered and observable state and disarms the timer.
// Used at turn start and during turn cleanup.
func (t *Throttler) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pendingReasoning = nil
	t.pendingAnswer = nil
	t.reasoning = nil
	t.answer = nil
}
