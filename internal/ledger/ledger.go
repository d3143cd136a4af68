// Package ledger keeps the ordered, persisted log of recording sessions and
// tracks which one is current.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/brainlive/internal/summary"
	"github.com/rbright/brainlive/internal/transcript"
)

// DefaultTitle names a session before any summary exists.
const DefaultTitle = "Nouvelle session"

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Session is one recording session and its finalized turns.
type Session struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Turns     []transcript.Turn `json:"turns"`
	State     summary.State     `json:"state"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

func (s Session) clone() Session {
	s.Turns = slices.Clone(s.Turns)
	if s.Turns == nil {
		s.Turns = []transcript.Turn{}
	}
	s.State = summary.State{
		Summary:       s.State.Summary,
		KeyIdeas:      slices.Clone(s.State.KeyIdeas),
		Decisions:     slices.Clone(s.State.Decisions),
		ActionItems:   slices.Clone(s.State.ActionItems),
		OpenQuestions: slices.Clone(s.State.OpenQuestions),
	}.Normalized()
	return s
}

// Store persists sessions keyed by id plus the current-session pointer.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns every stored session and the persisted current id ("" if unset).
	Load(ctx context.Context) ([]Session, string, error)

	// Put creates or replaces a session.
	Put(ctx context.Context, s Session) error

	// Remove deletes a session. Removing an unknown id is not an error.
	Remove(ctx context.Context, id string) error

	// SetCurrent persists the current-session pointer.
	SetCurrent(ctx context.Context, id string) error
}

// Ledger is the in-memory view of a Store. Every mutation is written through.
type Ledger struct {
	store Store
	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	sessions []Session // insertion order, newest created first
	current  string
}

var _ summary.Store = (*Ledger)(nil)

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// Open loads the store and makes sure a current session exists. A stale
// current pointer falls back to the most recently updated session; an empty
// store gets a fresh session.
func Open(ctx context.Context, store Store, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}

	sessions, current, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: load: %w", err)
	}
	l.sessions = make([]Session, 0, len(sessions))
	for _, s := range sessions {
		l.sessions = append(l.sessions, s.clone())
	}
	l.current = current

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.indexLocked(l.current) >= 0 {
		return l, nil
	}
	if err := l.fallbackLocked(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Create starts an empty session and makes it current.
func (l *Ledger) Create(ctx context.Context) (Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.createLocked(ctx)
	if err != nil {
		return Session{}, err
	}
	return s.clone(), nil
}

// AppendTurn appends a finalized turn to the current session.
func (l *Ledger) AppendTurn(ctx context.Context, turn transcript.Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexLocked(l.current)
	if idx < 0 {
		if _, err := l.createLocked(ctx); err != nil {
			return err
		}
		idx = l.indexLocked(l.current)
	}

	next := l.sessions[idx].clone()
	next.Turns = append(next.Turns, turn)
	next.UpdatedAt = l.now()
	if err := l.store.Put(ctx, next); err != nil {
		return fmt.Errorf("ledger: append turn to %s: %w", next.ID, err)
	}
	l.sessions[idx] = next
	return nil
}

// List returns sessions ordered by most recent update first.
func (l *Ledger) List() []Session {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		out = append(out, s.clone())
	}
	slices.SortStableFunc(out, func(a, b Session) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out
}

// Get returns one session by id.
func (l *Ledger) Get(id string) (Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.indexLocked(id)
	if idx < 0 {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return l.sessions[idx].clone(), nil
}

// Current returns the current session.
func (l *Ledger) Current() Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.indexLocked(l.current)
	if idx < 0 {
		return Session{}
	}
	return l.sessions[idx].clone()
}

// SwitchTo makes id the current session.
func (l *Ledger) SwitchTo(ctx context.Context, id string) (Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexLocked(id)
	if idx < 0 {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err := l.store.SetCurrent(ctx, id); err != nil {
		return Session{}, fmt.Errorf("ledger: switch to %s: %w", id, err)
	}
	l.current = id
	return l.sessions[idx].clone(), nil
}

// Delete removes a session. Deleting the current session switches to the
// most recently updated remaining one, or to a new empty session. It returns
// the current session after the deletion.
func (l *Ledger) Delete(ctx context.Context, id string) (Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexLocked(id)
	if idx < 0 {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err := l.store.Remove(ctx, id); err != nil {
		return Session{}, fmt.Errorf("ledger: delete %s: %w", id, err)
	}
	l.sessions = slices.Delete(l.sessions, idx, idx+1)

	if id == l.current {
		if err := l.fallbackLocked(ctx); err != nil {
			return Session{}, err
		}
	}
	return l.sessions[l.indexLocked(l.current)].clone(), nil
}

// Summary implements summary.Store.
func (l *Ledger) Summary(id string) (summary.State, error) {
	s, err := l.Get(id)
	if err != nil {
		return summary.State{}, err
	}
	return s.State, nil
}

// SetSummary implements summary.Store. The title is rederived from the state.
func (l *Ledger) SetSummary(id string, state summary.State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	next := l.sessions[idx].clone()
	next.State = state.Normalized()
	next.UpdatedAt = l.now()
	next.Title = next.State.Title(next.UpdatedAt)
	if err := l.store.Put(context.Background(), next); err != nil {
		return fmt.Errorf("ledger: store summary for %s: %w", id, err)
	}
	l.sessions[idx] = next
	return nil
}

func (l *Ledger) createLocked(ctx context.Context) (Session, error) {
	now := l.now()
	s := Session{
		ID:        l.newID(),
		Title:     DefaultTitle,
		Turns:     []transcript.Turn{},
		State:     summary.Empty(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.Put(ctx, s); err != nil {
		return Session{}, fmt.Errorf("ledger: create session: %w", err)
	}
	if err := l.store.SetCurrent(ctx, s.ID); err != nil {
		return Session{}, fmt.Errorf("ledger: set current session: %w", err)
	}
	l.sessions = slices.Insert(l.sessions, 0, s)
	l.current = s.ID
	return s, nil
}

// fallbackLocked points current at the most recently updated session, or
// creates one when the ledger is empty.
func (l *Ledger) fallbackLocked(ctx context.Context) error {
	if len(l.sessions) == 0 {
		_, err := l.createLocked(ctx)
		return err
	}

	latest := l.sessions[0]
	for _, s := range l.sessions[1:] {
		if s.UpdatedAt.After(latest.UpdatedAt) {
			latest = s
		}
	}
	if err := l.store.SetCurrent(ctx, latest.ID); err != nil {
		return fmt.Errorf("ledger: set current session: %w", err)
	}
	l.current = latest.ID
	return nil
}

func (l *Ledger) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(l.sessions, func(s Session) bool { return s.ID == id })
}
