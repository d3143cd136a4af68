package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	sessionsDir = "sessions"
	currentFile = "current"
)

// FileStore keeps one JSON document per session under Dir/sessions and the
// current-session pointer in Dir/current.
type FileStore struct {
	Dir string
}

var _ Store = (*FileStore)(nil)

// DefaultDir resolves $XDG_STATE_HOME/brainlive/ledger, falling back to
// ~/.local/state/brainlive/ledger.
func DefaultDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return filepath.Join(xdg, "brainlive", "ledger"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "brainlive", "ledger"), nil
}

// ResolveDir returns dir with a leading ~ expanded, or DefaultDir when dir
// is blank.
func ResolveDir(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return DefaultDir()
	}
	if dir != "~" && !strings.HasPrefix(dir, "~/") {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(dir, "~")), nil
}

// NewFileStore creates the store directory when missing.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("ledger: file store dir must not be empty")
	}
	if err := os.MkdirAll(filepath.Join(dir, sessionsDir), 0o700); err != nil {
		return nil, fmt.Errorf("ledger: create %s: %w", dir, err)
	}
	return &FileStore{Dir: dir}, nil
}

// Load reads every session file. Unreadable documents fail the load rather
// than silently dropping history.
func (f *FileStore) Load(_ context.Context) ([]Session, string, error) {
	entries, err := os.ReadDir(filepath.Join(f.Dir, sessionsDir))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", err
	}

	sessions := make([]Session, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.Dir, sessionsDir, entry.Name()))
		if err != nil {
			return nil, "", err
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, "", fmt.Errorf("decode %s: %w", entry.Name(), err)
		}
		sessions = append(sessions, s)
	}
	slices.SortStableFunc(sessions, func(a, b Session) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	current, err := os.ReadFile(filepath.Join(f.Dir, currentFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", err
	}
	return sessions, strings.TrimSpace(string(current)), nil
}

// Put writes the session document atomically.
func (f *FileStore) Put(_ context.Context, s Session) error {
	path, err := f.sessionPath(s.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// Remove deletes the session document.
func (f *FileStore) Remove(_ context.Context, id string) error {
	path, err := f.sessionPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// SetCurrent writes the current-session pointer.
func (f *FileStore) SetCurrent(_ context.Context, id string) error {
	return writeFileAtomic(filepath.Join(f.Dir, currentFile), []byte(id+"\n"))
}

func (f *FileStore) sessionPath(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("ledger: invalid session id %q", id)
	}
	return filepath.Join(f.Dir, sessionsDir, id+".json"), nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
