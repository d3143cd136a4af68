package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/rbright/brainlive/internal/audio"
	"github.com/rbright/brainlive/internal/config"
	"github.com/rbright/brainlive/internal/ledger"
	"github.com/rbright/brainlive/internal/live"
	"github.com/rbright/brainlive/internal/observe"
	"github.com/rbright/brainlive/internal/session"
	"github.com/rbright/brainlive/internal/summary"
)

// ledgerHandle is an open ledger plus whatever backs its store.
type ledgerHandle struct {
	ledger *ledger.Ledger
	close  func()
}

// openLedger opens the configured ledger backend and loads it.
func openLedger(ctx context.Context, cfg config.LedgerConfig) (ledgerHandle, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := ledger.Connect(ctx, cfg.DSN)
		if err != nil {
			return ledgerHandle{}, err
		}
		store := ledger.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return ledgerHandle{}, err
		}
		l, err := ledger.Open(ctx, store)
		if err != nil {
			pool.Close()
			return ledgerHandle{}, err
		}
		return ledgerHandle{ledger: l, close: pool.Close}, nil
	default:
		dir, err := ledger.ResolveDir(cfg.Dir)
		if err != nil {
			return ledgerHandle{}, err
		}
		store, err := ledger.NewFileStore(dir)
		if err != nil {
			return ledgerHandle{}, err
		}
		l, err := ledger.Open(ctx, store)
		if err != nil {
			return ledgerHandle{}, err
		}
		return ledgerHandle{ledger: l, close: func() {}}, nil
	}
}

// newSummaryWorker returns nil when summaries are disabled.
func newSummaryWorker(cfg config.SummaryConfig, store summary.Store, metrics *observe.Metrics, logger *slog.Logger) (*summary.Worker, error) {
	if !cfg.Enable {
		return nil, nil
	}

	var opts []anyllmlib.Option
	if cfg.Provider != "ollama" {
		key := strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
		if key == "" {
			return nil, fmt.Errorf("summary: %s is not set", cfg.APIKeyEnv)
		}
		opts = append(opts, anyllmlib.WithAPIKey(key))
	}

	updater, err := summary.NewLLMUpdater(cfg.Provider, cfg.Model, opts...)
	if err != nil {
		return nil, err
	}
	return summary.NewWorker(updater, store, logger, metrics), nil
}

// newDialer builds the live endpoint client. The returned closer releases
// the wire dump file when one is open.
func newDialer(cfg config.Config, logger *slog.Logger, stateDir string) (*live.Client, io.Closer, error) {
	key := strings.TrimSpace(os.Getenv(cfg.Live.APIKeyEnv))
	if key == "" {
		return nil, nil, fmt.Errorf("%s is not set", cfg.Live.APIKeyEnv)
	}

	opts := []live.Option{
		live.WithBaseURL(cfg.Live.BaseURL),
		live.WithModel(cfg.Live.Model),
		live.WithLogger(logger),
	}
	var closer io.Closer = nopCloser{}
	if cfg.Debug.EnableWireDump {
		path := filepath.Join(stateDir, fmt.Sprintf("wire-%d.jsonl", time.Now().UnixMilli()))
		if err := os.MkdirAll(stateDir, 0o700); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open wire dump: %w", err)
		}
		logger.Info("wire dump enabled", "path", path)
		opts = append(opts, live.WithWireDump(f))
		closer = f
	}
	return live.NewClient(key, opts...), closer, nil
}

func openAudioOutput(sampleRate int) (session.Output, error) {
	out, err := audio.OpenOutput(sampleRate)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// debugDir is where wire and audio dumps land, next to the log file.
func debugDir(logPath string) string {
	return filepath.Join(filepath.Dir(logPath), "debug")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

var errNoOwner = errors.New("no running brainlive session")
