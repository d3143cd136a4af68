package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/brainlive/internal/transcript"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	older := Session{ID: "a", Title: "A", CreatedAt: at, UpdatedAt: at}
	newer := Session{
		ID:        "b",
		Title:     "B",
		Turns:     []transcript.Turn{{Role: transcript.RoleUser, Text: "bonjour", Timestamp: at}},
		CreatedAt: at.Add(time.Hour),
		UpdatedAt: at.Add(time.Hour),
	}
	require.NoError(t, store.Put(ctx, older))
	require.NoError(t, store.Put(ctx, newer))
	require.NoError(t, store.SetCurrent(ctx, "b"))

	sessions, current, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "b", current)
	require.Len(t, sessions, 2)
	require.Equal(t, "b", sessions[0].ID)
	require.Equal(t, "bonjour", sessions[0].Turns[0].Text)

	require.NoError(t, store.Remove(ctx, "a"))
	require.NoError(t, store.Remove(ctx, "a"))
	sessions, _, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	err = store.Put(context.Background(), Session{ID: "../escape"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid session id")
}

func TestFileStoreLoadFailsOnCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, sessionsDir, "x.json"), []byte("{"), 0o600))

	_, _, err = store.Load(context.Background())
	require.Error(t, err)
}

func TestLedgerSurvivesReopenOnFileStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	l, err := Open(ctx, store)
	require.NoError(t, err)
	require.NoError(t, l.AppendTurn(ctx, transcript.Turn{Role: transcript.RoleUser, Text: "persist me"}))
	id := l.Current().ID

	reopened, err := Open(ctx, store)
	require.NoError(t, err)
	require.Equal(t, id, reopened.Current().ID)
	require.Equal(t, "persist me", reopened.Current().Turns[0].Text)
}

func TestDefaultDirUsesXDGStateHome(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_STATE_HOME", xdg)

	dir, err := DefaultDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "brainlive", "ledger"), dir)
}

func TestResolveDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	xdg := t.TempDir()
	t.Setenv("XDG_STATE_HOME", xdg)

	dir, err := ResolveDir("  ")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "brainlive", "ledger"), dir)

	dir, err = ResolveDir("~/notes/ledger")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "notes", "ledger"), dir)

	dir, err = ResolveDir("/srv/ledger")
	require.NoError(t, err)
	require.Equal(t, "/srv/ledger", dir)
}
