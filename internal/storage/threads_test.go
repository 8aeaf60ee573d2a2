// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gridchat/grid-tui/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "threads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndListThreads(t *testing.T) {
	store := openTestStore(t)

	first, err := store.CreateThread("Deploy llama", "deployer")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := store.CreateThread("Check job status", "")
	require.NoError(t, err)

	metas, err := store.ListThreads()
	require.NoError(t, err)
	require.Len(t, metas, 2)

	ids := []string{metas[0].ID, metas[1].ID}
	require.Contains(t, ids, first.ID)
	require.Contains(t, ids, second.ID)
}

func TestAppendAndLoadTurns(t *testing.T) {
	store := openTestStore(t)
	meta, err := store.CreateThread("New chat", "deployer")
	require.NoError(t, err)

	user := model.NewUserTurn("deploy a small model")
	require.NoError(t, store.AppendTurn(meta.ID, user))

	reply := model.NewModelTurn("Deploying now.", "openai/gpt-oss-20b")
	reply.Reasoning = "user wants a deployment"
	reply.ResponseTime = 1234.5
	reply.SearchResults = []model.SearchResult{{URL: "https://example.com", Title: "Example"}}
	reply.FollowUps = []model.FollowUp{{Question: "Extend the runtime?"}}
	require.NoError(t, store.AppendTurn(meta.ID, reply))

	turns, err := store.Turns(meta.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	require.Equal(t, model.RoleUser, turns[0].Role)
	require.Equal(t, "deploy a small model", turns[0].Content)

	require.Equal(t, model.RoleModel, turns[1].Role)
	require.Equal(t, "openai/gpt-oss-20b", turns[1].Model)
	require.Equal(t, "user wants a deployment", turns[1].Reasoning)
	require.InDelta(t, 1234.5, turns[1].ResponseTime, 0.001)
	require.Len(t, turns[1].SearchResults, 1)
	require.Equal(t, "https://example.com", turns[1].SearchResults[0].URL)
	require.Len(t, turns[1].FollowUps, 1)
}

func TestTurnOrderPreserved(t *testing.T) {
	store := openTestStore(t)
	meta, err := store.CreateThread("Ordering", "")
	require.NoError(t, err)

	for _, content := range []string{"one", "two", "three"} {
		require.NoError(t, store.AppendTurn(meta.ID, model.NewUserTurn(content)))
	}

	turns, err := store.Turns(meta.ID)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	require.Equal(t, "one", turns[0].Content)
	require.Equal(t, "two", turns[1].Content)
	require.Equal(t, "three", turns[2].Content)
}

func TestUpdateThreadTitle(t *testing.T) {
	store := openTestStore(t)
	meta, err := store.CreateThread("New chat", "")
	require.NoError(t, err)

	require.NoError(t, store.UpdateThreadTitle(meta.ID, "GPU deployment help"))

	metas, err := store.ListThreads()
	require.NoError(t, err)
	require.Equal(t, "GPU deployment help", metas[0].Title)

	require.ErrorIs(t, store.UpdateThreadTitle("missing", "x"), ErrThreadNotFound)
}

func TestDeleteThreadCascades(t *testing.T) {
	store := openTestStore(t)
	meta, err := store.CreateThread("Doomed", "")
	require.NoError(t, err)
	require.NoError(t, store.AppendTurn(meta.ID, model.NewUserTurn("hi")))

	require.NoError(t, store.DeleteThread(meta.ID))

	turns, err := store.Turns(meta.ID)
	require.NoError(t, err)
	require.Empty(t, turns)

	require.ErrorIs(t, store.DeleteThread(meta.ID), ErrThreadNotFound)
}

func TestSearchThreads(t *testing.T) {
	store := openTestStore(t)

	a, err := store.CreateThread("Llama deployment", "deployer")
	require.NoError(t, err)
	b, err := store.CreateThread("Unrelated", "")
	require.NoError(t, err)
	require.NoError(t, store.AppendTurn(b.ID, model.NewUserTurn("what is a llama")))
	c, err := store.CreateThread("Nothing here", "")
	require.NoError(t, err)
	_ = c

	metas, err := store.SearchThreads("llama")
	require.NoError(t, err)
	require.Len(t, metas, 2)
	ids := []string{metas[0].ID, metas[1].ID}
	require.Contains(t, ids, a.ID)
	require.Contains(t, ids, b.ID)
}

func TestListThreadsTurnCount(t *testing.T) {
	store := openTestStore(t)
	meta, err := store.CreateThread("Counted", "")
	require.NoError(t, err)
	require.NoError(t, store.AppendTurn(meta.ID, model.NewUserTurn("a")))
	require.NoError(t, store.AppendTurn(meta.ID, model.NewModelTurn("b", "m")))

	metas, err := store.ListThreads()
	require.NoError(t, err)
	require.Equal(t, 2, metas[0].TurnCount)
}

func TestThreadLogWriteThrough(t *testing.T) {
	store := openTestStore(t)
	meta, err := store.CreateThread("Logged", "")
	require.NoError(t, err)

	log, err := NewThreadLog(store, meta.ID)
	require.NoError(t, err)
	require.Empty(t, log.Turns())

	require.NoError(t, log.AppendTurn(model.NewUserTurn("hello")))
	require.Len(t, log.Turns(), 1)

	// A fresh log sees the persisted turn.
	reopened, err := NewThreadLog(store, meta.ID)
	require.NoError(t, err)
	require.Len(t, reopened.Turns(), 1)
	require.Equal(t, "hello", reopened.Turns()[0].Content)
}

func TestAppendBumpsUpdatedAt(t *testing.T) {
	store := openTestStore(t)
	meta, err := store.CreateThread("Bumped", "")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.AppendTurn(meta.ID, model.NewUserTurn("hi")))

	metas, err := store.ListThreads()
	require.NoError(t, err)
	require.True(t, metas[0].UpdatedAt.After(meta.UpdatedAt) || metas[0].UpdatedAt.Equal(meta.UpdatedAt))
}
