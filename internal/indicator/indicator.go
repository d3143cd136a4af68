// Package indicator plays short audio cues when a live session starts,
// stops, or fails.
package indicator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rbright/brainlive/internal/config"
)

// Cues is the session-facing cue player. Playback is asynchronous and
// serialized so overlapping lifecycle changes never mix tones.
type Cues struct {
	enabled bool
	logger  *slog.Logger
	play    func(context.Context, cueKind) error

	mu       sync.Mutex
	inflight sync.WaitGroup
}

// New builds a cue player from config. A nil logger discards diagnostics.
func New(cfg config.IndicatorConfig, logger *slog.Logger) *Cues {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cues{
		enabled: cfg.SoundEnable,
		logger:  logger,
		play:    emitCue,
	}
}

// CueStart signals that the session is live.
func (c *Cues) CueStart(ctx context.Context) { c.cue(ctx, cueStart) }

// CueStop signals a clean stop.
func (c *Cues) CueStop(ctx context.Context) { c.cue(ctx, cueStop) }

// CueError signals a start failure or a transport loss.
func (c *Cues) CueError(ctx context.Context) { c.cue(ctx, cueError) }

// Wait blocks until queued cues have finished playing.
func (c *Cues) Wait() {
	c.inflight.Wait()
}

func (c *Cues) cue(ctx context.Context, kind cueKind) {
	if !c.enabled {
		return
	}
	ctx = context.WithoutCancel(ctx)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := c.play(ctx, kind); err != nil {
			c.logger.Debug("indicator audio cue failed", "cue", kind.String(), "error", err.Error())
		}
	}()
}
