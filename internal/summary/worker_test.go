package summary

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	states  map[string]State
	readErr error
}

func (m *memoryStore) Summary(id string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return State{}, m.readErr
	}
	return m.states[id], nil
}

func (m *memoryStore) SetSummary(id string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states == nil {
		m.states = map[string]State{}
	}
	m.states[id] = state
	return nil
}

// appendUpdater records each segment as a key idea so ordering is observable.
type appendUpdater struct {
	err error
}

func (a appendUpdater) Update(_ context.Context, prior State, segment string, _ string) (State, error) {
	if a.err != nil {
		return State{}, a.err
	}
	next := prior.Normalized()
	next.KeyIdeas = append(append([]string{}, next.KeyIdeas...), segment)
	return next, nil
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *outcomeRecorder) RecordSummary(_ context.Context, _ float64, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func TestWorkerAppliesSegmentsInOrder(t *testing.T) {
	store := &memoryStore{}
	rec := &outcomeRecorder{}
	w := NewWorker(appendUpdater{}, store, nil, rec)

	require.True(t, w.Submit("s1", "first", "en"))
	require.True(t, w.Submit("s1", "second", "en"))
	require.True(t, w.Submit("s2", "other", "en"))
	w.Close()

	require.NoError(t, w.Run(context.Background()))

	require.Equal(t, []string{"first", "second"}, store.states["s1"].KeyIdeas)
	require.Equal(t, []string{"other"}, store.states["s2"].KeyIdeas)
	require.Equal(t, []string{"ok", "ok", "ok"}, rec.outcomes)
}

func TestWorkerSubmitAfterClose(t *testing.T) {
	w := NewWorker(appendUpdater{}, &memoryStore{}, nil, nil)
	w.Close()
	w.Close()
	require.False(t, w.Submit("s1", "late", "en"))
}

func TestWorkerSubmitDropsWhenFull(t *testing.T) {
	w := NewWorker(appendUpdater{}, &memoryStore{}, nil, nil)
	for i := 0; i < cap(w.queue); i++ {
		require.True(t, w.Submit("s1", "x", "en"))
	}
	require.False(t, w.Submit("s1", "overflow", "en"))
}

func TestWorkerRecordsFailures(t *testing.T) {
	rec := &outcomeRecorder{}
	store := &memoryStore{}
	w := NewWorker(appendUpdater{err: errors.New("model down")}, store, nil, rec)
	require.True(t, w.Submit("s1", "x", "en"))
	w.Close()
	require.NoError(t, w.Run(context.Background()))
	require.Equal(t, []string{"update_error"}, rec.outcomes)
	require.Empty(t, store.states)

	rec = &outcomeRecorder{}
	w = NewWorker(appendUpdater{}, &memoryStore{readErr: errors.New("disk")}, nil, rec)
	require.True(t, w.Submit("s1", "x", "en"))
	w.Close()
	require.NoError(t, w.Run(context.Background()))
	require.Equal(t, []string{"store_error"}, rec.outcomes)
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	w := NewWorker(appendUpdater{}, &memoryStore{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx))
}
