// Package session runs one realtime voice session at a time: microphone
// frames go out to the live endpoint, transcript deltas and response audio
// come back.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/brainlive/internal/capture"
	"github.com/rbright/brainlive/internal/fsm"
	"github.com/rbright/brainlive/internal/ipc"
	"github.com/rbright/brainlive/internal/ledger"
	"github.com/rbright/brainlive/internal/live"
	"github.com/rbright/brainlive/internal/observe"
	"github.com/rbright/brainlive/internal/pcm"
	"github.com/rbright/brainlive/internal/playback"
	"github.com/rbright/brainlive/internal/transcript"
)

var (
	// ErrSessionStartFailed wraps every start failure, including capture errors.
	ErrSessionStartFailed = errors.New("session start failed")
	// ErrTransportError marks a connection lost while the session was active.
	ErrTransportError = errors.New("transport error")
)

var errStoppedWhileStarting = errors.New("stopped while starting")

const defaultSendTimeout = 2 * time.Second

// Ledger is the session-facing subset of the ledger.
type Ledger interface {
	AppendTurn(ctx context.Context, turn transcript.Turn) error
	Current() ledger.Session
}

// Summarizer receives finalized user text.
type Summarizer interface {
	Submit(sessionID string, segment string, locale string) bool
}

// Output is an open response-audio device.
type Output interface {
	playback.Clock
	playback.Sink
	Close() error
}

// OutputFactory opens the response-audio device at sampleRate.
type OutputFactory func(sampleRate int) (Output, error)

// Indicator gives audible feedback on lifecycle changes.
type Indicator interface {
	CueStart(context.Context)
	CueStop(context.Context)
	CueError(context.Context)
}

type noopIndicator struct{}

func (noopIndicator) CueStart(context.Context) {}
func (noopIndicator) CueStop(context.Context)  {}
func (noopIndicator) CueError(context.Context) {}

// Config wires a Session to its collaborators.
type Config struct {
	Dialer     live.Dialer
	Microphone capture.Device
	OpenOutput OutputFactory
	Ledger     Ledger
	Summarizer Summarizer
	Indicator  Indicator
	Metrics    *observe.Metrics
	Logger     *slog.Logger

	Model          string
	Voice          string
	InputRate      int
	OutputRate     int
	QuantumSamples int

	// DialTimeout bounds connection establishment. Zero waits until Stop.
	DialTimeout time.Duration

	// SendTimeout bounds one outbound frame write.
	SendTimeout time.Duration

	// AudioDumpDir, when set, receives a WAV file of each run's captured audio.
	AudioDumpDir string
}

// Options are chosen per start.
type Options struct {
	Mode   Mode
	Locale string
}

// Status is a point-in-time view of the session.
type Status struct {
	State      fsm.State `json:"state"`
	Mode       Mode      `json:"mode,omitempty"`
	Locale     string    `json:"locale,omitempty"`
	Level      float64   `json:"level"`
	FramesSent int64     `json:"frames_sent"`
	Pending    int       `json:"pending_playback"`
}

type connRef struct {
	conn live.Conn
}

// run holds the resources of one start attempt. After Start hands it to the
// owner goroutine, only that goroutine acquires or releases resources.
type run struct {
	opts Options

	// closing is set by the first teardown step and never cleared; the last
	// step drops the run so the next Start begins with a fresh flag.
	closing atomic.Bool
	conn    atomic.Pointer[connRef]

	stream     *capture.Stream
	aggregator *transcript.Aggregator
	live       live.Conn
	output     Output              // guarded by Session.mu
	scheduler  *playback.Scheduler // guarded by Session.mu
	active     bool

	cancel   context.CancelFunc
	stopCh   chan struct{}
	started  chan struct{}
	startErr error
	endErr   error
	done     chan struct{}
}

// Session owns at most one live session at a time.
type Session struct {
	cfg       Config
	logger    *slog.Logger
	indicator Indicator
	metrics   *observe.Metrics

	mu      sync.Mutex
	state   fsm.State
	run     *run
	lastErr error

	stepHook func(step int, name string)
}

func New(cfg Config) *Session {
	if cfg.InputRate <= 0 {
		cfg.InputRate = capture.DefaultSampleRate
	}
	if cfg.OutputRate <= 0 {
		cfg.OutputRate = 24000
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	indicator := cfg.Indicator
	if indicator == nil {
		indicator = noopIndicator{}
	}
	return &Session{
		cfg:       cfg,
		logger:    logger,
		indicator: indicator,
		metrics:   cfg.Metrics,
		state:     fsm.StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() fsm.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the current state plus live capture and playback counters.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: s.state}
	if r := s.run; r != nil {
		st.Mode = r.opts.Mode
		st.Locale = r.opts.Locale
		st.Level = r.stream.Level()
		st.FramesSent = r.stream.FramesSent()
		if r.scheduler != nil {
			st.Pending = r.scheduler.Pending()
		}
	}
	return st
}

// Start acquires the microphone, connects and wires capture to the
// connection. It returns once the session is Active or has failed and been
// torn down. Calling Start while not Idle does nothing.
func (s *Session) Start(ctx context.Context, opts Options) error {
	if opts.Mode == "" {
		opts.Mode = ModeTranscribe
	}
	if opts.Locale == "" {
		opts.Locale = "en"
	}

	s.mu.Lock()
	if s.state != fsm.StateIdle || s.run != nil {
		s.mu.Unlock()
		return nil
	}
	if err := s.transitionLocked(fsm.EventStart); err != nil {
		s.mu.Unlock()
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		opts:    opts,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
		started: make(chan struct{}),
		done:    make(chan struct{}),
		stream: capture.NewStream(s.cfg.Microphone, capture.Config{
			SampleRate:     s.cfg.InputRate,
			QuantumSamples: s.cfg.QuantumSamples,
			RetainPCM:      s.cfg.AudioDumpDir != "",
		}),
		aggregator: transcript.NewAggregator(transcript.Options{
			SuppressAssistant: opts.Mode.TranscriptionOnly(),
		}),
	}
	s.run = r
	s.lastErr = nil
	s.mu.Unlock()

	go s.own(runCtx, r)

	select {
	case <-r.started:
		return r.startErr
	case <-ctx.Done():
		s.requestStop(r, fsm.EventStop)
		<-r.done
		return fmt.Errorf("%w: %w", ErrSessionStartFailed, ctx.Err())
	}
}

// Stop tears the session down and waits for Idle. Calling it while
// Stopping or Idle has no effect.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil || !s.requestStop(r, fsm.EventStop) {
		return nil
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the running session ends and returns why it ended:
// nil after a user stop, an ErrTransportError otherwise.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	r := s.run
	lastErr := s.lastErr
	s.mu.Unlock()
	if r == nil {
		return lastErr
	}

	select {
	case <-r.done:
		if r.startErr != nil {
			return r.startErr
		}
		return r.endErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle serves lifecycle IPC commands for the owner process.
func (s *Session) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case "status":
		st := s.Status()
		data, err := json.Marshal(st)
		if err != nil {
			return ipc.Response{OK: false, State: string(st.State), Error: err.Error()}
		}
		return ipc.Response{OK: true, State: string(st.State), Message: "status", Data: data}
	case "level":
		st := s.Status()
		return ipc.Response{OK: true, State: string(st.State), Message: fmt.Sprintf("%.4f", st.Level)}
	case "toggle", "stop":
		return s.requestStopIPC(req.Command)
	default:
		return ipc.Response{OK: false, State: string(s.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

// requestStopIPC signals the owner without waiting for teardown.
func (s *Session) requestStopIPC(source string) ipc.Response {
	s.mu.Lock()
	r := s.run
	state := s.state
	s.mu.Unlock()

	if state == fsm.StateStopping {
		return ipc.Response{OK: true, State: string(state), Message: "stop already requested"}
	}
	if r == nil || !fsm.Live(state) {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot %s from state %s", source, state)}
	}
	if !s.requestStop(r, fsm.EventStop) {
		return ipc.Response{OK: true, State: string(s.State()), Message: "stop already requested"}
	}
	return ipc.Response{OK: true, State: string(fsm.StateStopping), Message: "stop requested"}
}

// requestStop performs the synchronous part of teardown: mark closing, move
// to Stopping, abort any in-flight dial and wake the owner. It reports false
// when r is not live anymore.
func (s *Session) requestStop(r *run, event fsm.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != r || !fsm.Live(s.state) {
		return false
	}
	r.closing.Store(true)
	if err := s.transitionLocked(event); err != nil {
		s.logger.Error("stop transition rejected", "state", string(s.state), "error", err.Error())
		return false
	}
	r.cancel()
	close(r.stopCh)
	return true
}

// own is the owner goroutine of one run.
func (s *Session) own(ctx context.Context, r *run) {
	defer close(r.done)

	err := s.open(ctx, r)
	if err == nil {
		err = s.markActive(r)
	}
	if err != nil {
		r.startErr = fmt.Errorf("%w: %w", ErrSessionStartFailed, err)
		s.requestStop(r, fsm.EventFail)
		s.metrics.RecordSessionStart(context.Background(), "failed")
		s.logger.Warn("session start failed", "mode", string(r.opts.Mode), "error", err.Error())
		s.shutdown(r)
		s.indicator.CueError(context.Background())
		close(r.started)
		return
	}
	close(r.started)

	s.loop(r)
	s.shutdown(r)
	s.dumpAudio(r)
	if r.endErr != nil {
		s.indicator.CueError(context.Background())
	} else {
		s.indicator.CueStop(context.Background())
	}
}

func (s *Session) open(ctx context.Context, r *run) error {
	if err := r.stream.Start(ctx); err != nil {
		return err
	}

	transcriptionOnly := r.opts.Mode.TranscriptionOnly()
	setup := live.Setup{
		Model:               s.cfg.Model,
		Instruction:         Instruction(r.opts.Mode, r.opts.Locale),
		Modalities:          []string{"AUDIO"},
		InputTranscription:  true,
		OutputTranscription: !transcriptionOnly,
	}
	if !transcriptionOnly {
		setup.Voice = s.cfg.Voice
	}

	dialCtx := ctx
	if s.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.cfg.DialTimeout)
		defer cancel()
	}
	if s.cfg.Dialer == nil {
		return errors.New("no live dialer configured")
	}
	conn, err := s.cfg.Dialer.Dial(dialCtx, setup)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	r.live = conn
	r.conn.Store(&connRef{conn: conn})

	if !transcriptionOnly && s.cfg.OpenOutput != nil {
		out, err := s.cfg.OpenOutput(s.cfg.OutputRate)
		if err != nil {
			return fmt.Errorf("open output: %w", err)
		}
		s.mu.Lock()
		r.output = out
		r.scheduler = playback.NewScheduler(out, out)
		s.mu.Unlock()
	}

	if r.closing.Load() {
		return errStoppedWhileStarting
	}
	r.stream.Attach(s.sendFunc(r))
	return nil
}

func (s *Session) markActive(r *run) error {
	s.mu.Lock()
	if r.closing.Load() {
		s.mu.Unlock()
		return errStoppedWhileStarting
	}
	if err := s.transitionLocked(fsm.EventOpened); err != nil {
		s.mu.Unlock()
		return err
	}
	r.active = true
	s.mu.Unlock()

	ctx := context.Background()
	s.metrics.RecordSessionStart(ctx, "ok")
	s.metrics.SessionActive(ctx, 1)
	s.indicator.CueStart(ctx)
	s.logger.Info("session active",
		"mode", string(r.opts.Mode),
		"locale", r.opts.Locale,
		"session_id", s.ledgerID(),
	)
	return nil
}

// loop dispatches inbound messages in arrival order until stop or transport loss.
func (s *Session) loop(r *run) {
	messages := r.live.Messages()
	for {
		select {
		case <-r.stopCh:
			return
		case msg, ok := <-messages:
			if !ok {
				s.transportFailed(r, r.live.Err())
				return
			}
			if msg.Err != nil {
				s.transportFailed(r, msg.Err)
				return
			}
			s.dispatch(r, msg)
		}
	}
}

func (s *Session) transportFailed(r *run, cause error) {
	if r.closing.Load() {
		return
	}
	if cause == nil {
		cause = errors.New("connection closed by remote")
	}
	r.endErr = fmt.Errorf("%w: %w", ErrTransportError, cause)
	s.metrics.RecordTransportError(context.Background())
	s.logger.Error("live connection lost", "state", string(s.State()), "error", cause.Error())
	s.requestStop(r, fsm.EventFail)
}

// dispatch applies one message as text, then interruption, then audio, then
// turn completion, so audio arriving with an interruption belongs to the new
// response and is not cut.
func (s *Session) dispatch(r *run, msg live.Message) {
	if msg.InputText != "" {
		r.aggregator.AppendDelta(transcript.RoleUser, msg.InputText)
	}
	if msg.OutputText != "" {
		r.aggregator.AppendDelta(transcript.RoleAssistant, msg.OutputText)
	}
	if msg.Interrupted {
		s.interrupt(r)
	}
	for _, audio := range msg.Audio {
		s.play(r, audio)
	}
	if msg.TurnComplete {
		s.commit(r, r.aggregator.OnTurnComplete())
	}
}

func (s *Session) interrupt(r *run) {
	s.mu.Lock()
	scheduler := r.scheduler
	s.mu.Unlock()
	if scheduler == nil {
		return
	}
	stopped := scheduler.Interrupt()
	s.metrics.RecordInterruption(context.Background())
	s.logger.Debug("playback interrupted", "stopped", stopped)
}

func (s *Session) play(r *run, audio live.InlineAudio) {
	ctx := context.Background()
	s.mu.Lock()
	scheduler := r.scheduler
	s.mu.Unlock()
	if r.opts.Mode.TranscriptionOnly() || scheduler == nil {
		s.metrics.RecordPlayback(ctx, "suppressed")
		return
	}

	raw, err := pcm.DecodeBase64(audio.Data)
	if err == nil {
		var buf pcm.Buffer
		buf, err = pcm.DecodeFrame(raw, pcm.ParseRate(audio.MIMEType, s.cfg.OutputRate), 1)
		if err == nil {
			if _, err := scheduler.Enqueue(buf); err != nil {
				s.metrics.RecordPlayback(ctx, "failed")
				s.logger.Warn("response audio dropped", "error", err.Error())
				return
			}
			s.metrics.RecordPlayback(ctx, "scheduled")
			return
		}
	}
	s.metrics.RecordPlayback(ctx, "malformed")
	s.logger.Warn("malformed response audio dropped", "mime_type", audio.MIMEType, "error", err.Error())
}

// commit appends turns to the ledger and forwards user text to the summarizer.
func (s *Session) commit(r *run, turns []transcript.Turn) {
	ctx := context.Background()
	for _, turn := range turns {
		if turn.Role == transcript.RoleAssistant && r.opts.Mode.TranscriptionOnly() {
			continue
		}
		s.metrics.RecordTurn(ctx, string(turn.Role))
		if s.cfg.Ledger != nil {
			if err := s.cfg.Ledger.AppendTurn(ctx, turn); err != nil {
				s.logger.Error("append turn failed", "role", string(turn.Role), "error", err.Error())
			}
		}
		if turn.Role == transcript.RoleUser && s.cfg.Summarizer != nil {
			if !s.cfg.Summarizer.Submit(s.ledgerID(), turn.Text, r.opts.Locale) {
				s.logger.Warn("summary update skipped", "session_id", s.ledgerID())
			}
		}
	}
}

// shutdown releases every resource of r in a fixed order. Each step runs
// even if an earlier one failed.
func (s *Session) shutdown(r *run) {
	steps := []struct {
		name string
		fn   func()
	}{
		{"mark closing", func() { r.closing.Store(true) }},
		{"detach capture", r.stream.Detach},
		{"clear connection", func() { r.conn.Store(nil) }},
		{"release microphone", func() {
			if err := r.stream.Stop(); err != nil {
				s.logger.Warn("release microphone failed", "error", err.Error())
			}
		}},
		{"close output", func() {
			s.mu.Lock()
			out := r.output
			s.mu.Unlock()
			if out == nil {
				return
			}
			if err := out.Close(); err != nil {
				s.logger.Warn("close output failed", "error", err.Error())
			}
		}},
		{"close connection", func() {
			if r.live == nil {
				return
			}
			if err := r.live.Close(); err != nil {
				s.logger.Debug("close live connection", "error", err.Error())
			}
		}},
		{"stop playback", func() {
			s.mu.Lock()
			scheduler := r.scheduler
			s.mu.Unlock()
			if scheduler != nil {
				scheduler.Shutdown()
			}
		}},
		{"flush and release", func() {
			s.commit(r, r.aggregator.Flush())
			s.finish(r)
		}},
	}

	for i, step := range steps {
		step.fn()
		s.logger.Debug("teardown step", "step", i+1, "name", step.name)
		if s.stepHook != nil {
			s.stepHook(i+1, step.name)
		}
	}
}

// finish returns to Idle so a new session may start.
func (s *Session) finish(r *run) {
	s.mu.Lock()
	if err := s.transitionLocked(fsm.EventDrained); err != nil {
		s.logger.Error("drain transition rejected", "state", string(s.state), "error", err.Error())
		s.state = fsm.StateIdle
	}
	s.run = nil
	s.lastErr = r.startErr
	if s.lastErr == nil {
		s.lastErr = r.endErr
	}
	s.mu.Unlock()

	if r.active {
		s.metrics.SessionActive(context.Background(), -1)
	}
	s.logger.Info("session stopped",
		"frames_sent", r.stream.FramesSent(),
		"frames_dropped", r.stream.FramesDropped(),
	)
}

func (s *Session) sendFunc(r *run) capture.SendFunc {
	return func(frame pcm.Frame) {
		if r.closing.Load() {
			return
		}
		ref := r.conn.Load()
		if ref == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
		defer cancel()
		if err := ref.conn.SendAudio(ctx, frame); err != nil {
			if r.closing.Load() {
				return
			}
			s.metrics.RecordFrameDropped(ctx, "send_error")
			s.logger.Debug("send audio frame failed", "error", err.Error())
			return
		}
		s.metrics.RecordFrameSent(ctx)
	}
}

func (s *Session) ledgerID() string {
	if s.cfg.Ledger == nil {
		return ""
	}
	return s.cfg.Ledger.Current().ID
}

func (s *Session) transitionLocked(event fsm.Event) error {
	next, err := fsm.Transition(s.state, event)
	if err != nil {
		return err
	}
	s.state = next
	return nil
}
