package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/brainlive/internal/audio"
	"github.com/rbright/brainlive/internal/cli"
	"github.com/rbright/brainlive/internal/config"
	"github.com/rbright/brainlive/internal/fsm"
	"github.com/rbright/brainlive/internal/indicator"
	"github.com/rbright/brainlive/internal/ipc"
	"github.com/rbright/brainlive/internal/ledger"
	"github.com/rbright/brainlive/internal/observe"
	"github.com/rbright/brainlive/internal/session"
	"github.com/rbright/brainlive/internal/version"
)

const summaryDrainTimeout = 30 * time.Second

func (r Runner) commandToggle(ctx context.Context, cfg config.Config, logPath string, logger *slog.Logger) int {
	resp, handled, err := forward(ctx, ipc.Request{Command: "toggle"})
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.Message != "" {
			fmt.Fprintln(r.Stdout, resp.Message)
		}
		return 0
	}

	return r.runOwner(ctx, cfg, logPath, logger, func() int {
		return r.forwardOrFail(ctx, ipc.Request{Command: "toggle"})
	})
}

func (r Runner) commandStart(ctx context.Context, cfg config.Config, logPath string, logger *slog.Logger) int {
	return r.runOwner(ctx, cfg, logPath, logger, func() int {
		fmt.Fprintln(r.Stderr, "error: a brainlive session is already running")
		return 1
	})
}

// runOwner makes this process the session owner: it holds the IPC socket,
// runs one live session to completion and serves metrics and summaries
// alongside it. busy runs instead when another owner holds the socket.
func (r Runner) runOwner(ctx context.Context, cfg config.Config, logPath string, logger *slog.Logger, busy func() int) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			return busy()
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	metrics, shutdownTelemetry, err := observe.InitProvider(ctx, version.Version)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err.Error())
	} else {
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	lh, err := openLedger(ctx, cfg.Ledger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer lh.close()

	dialer, wireDump, err := newDialer(cfg, logger, debugDir(logPath))
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = wireDump.Close() }()

	var summarizer session.Summarizer
	worker, err := newSummaryWorker(cfg.Summary, lh.ledger, metrics, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: summaries disabled: %v\n", err)
		logger.Warn("summaries disabled", "error", err.Error())
	} else if worker != nil {
		summarizer = worker
	}

	cues := indicator.New(cfg.Indicator, logger)
	defer cues.Wait()

	audioDumpDir := ""
	if cfg.Debug.EnableAudioDump {
		audioDumpDir = debugDir(logPath)
	}

	sess := session.New(session.Config{
		Dialer: dialer,
		Microphone: audio.Microphone{
			Input:      cfg.Audio.Input,
			Fallback:   cfg.Audio.Fallback,
			SampleRate: cfg.Live.InputRate,
			Logger:     logger,
		},
		OpenOutput:     openAudioOutput,
		Ledger:         lh.ledger,
		Summarizer:     summarizer,
		Indicator:      cues,
		Metrics:        metrics,
		Logger:         logger,
		Model:          cfg.Live.Model,
		Voice:          cfg.Live.Voice,
		InputRate:      cfg.Live.InputRate,
		OutputRate:     cfg.Live.OutputRate,
		QuantumSamples: cfg.Audio.QuantumSamples,
		DialTimeout:    time.Duration(cfg.Live.DialTimeoutMS) * time.Millisecond,
		AudioDumpDir:   audioDumpDir,
	})

	serveCtx, stopServing := context.WithCancel(context.Background())
	defer stopServing()
	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error {
		return ipc.Serve(gctx, listener, ownerHandler(sess, lh.ledger))
	})
	if cfg.Metrics.Listen != "" {
		g.Go(func() error {
			return observe.Serve(gctx, cfg.Metrics.Listen, logger)
		})
	}
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	if worker != nil {
		g.Go(func() error {
			return worker.Run(workerCtx)
		})
	}

	mode, _ := session.ParseMode(cfg.Session.Mode)
	runErr := sess.Start(ctx, session.Options{Mode: mode, Locale: cfg.Session.Locale})
	if runErr == nil {
		current := lh.ledger.Current()
		fmt.Fprintf(r.Stdout, "recording into %s (%s)\n", current.ID, mode)
		runErr = r.awaitSession(ctx, gctx, sess)
	}

	if worker != nil {
		worker.Close()
		drain := time.AfterFunc(summaryDrainTimeout, cancelWorker)
		defer drain.Stop()
	}
	stopServing()
	serveErr := g.Wait()

	current := lh.ledger.Current()
	logger.Info("session finished",
		"session_id", current.ID,
		"turns", len(current.Turns),
		"error", errString(runErr),
	)

	if runErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", runErr)
		return 1
	}
	if serveErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", serveErr)
		return 1
	}
	fmt.Fprintf(r.Stdout, "saved %s: %s (%d turns)\n", current.ID, current.Title, len(current.Turns))
	return 0
}

// awaitSession blocks until the session ends on its own, the process is
// interrupted, or a sidecar server fails. The last two stop the session.
func (r Runner) awaitSession(ctx context.Context, serving context.Context, sess *session.Session) error {
	ended := make(chan error, 1)
	go func() { ended <- sess.Wait(context.Background()) }()

	select {
	case err := <-ended:
		return err
	case <-ctx.Done():
	case <-serving.Done():
	}
	_ = sess.Stop(context.Background())
	return <-ended
}

// ownerHandler routes ledger commands to the ledger and everything else to
// the session. Commands that move the current-session pointer are refused
// while the session is recording into it.
func ownerHandler(sess *session.Session, l *ledger.Ledger) ipc.HandlerFunc {
	return func(ctx context.Context, req ipc.Request) ipc.Response {
		cmd := cli.Command(req.Command)
		if !cmd.IsLedgerCommand() {
			return sess.Handle(ctx, req)
		}
		if fsm.Live(sess.State()) && movesCurrent(cmd, req.Args, l.Current().ID) {
			return ipc.Response{
				OK:    false,
				State: string(sess.State()),
				Error: fmt.Sprintf("stop the running session before %s", cmd),
			}
		}
		return handleLedger(ctx, l, req)
	}
}

func movesCurrent(cmd cli.Command, args []string, currentID string) bool {
	switch cmd {
	case cli.CommandNew, cli.CommandSwitch:
		return true
	case cli.CommandDelete:
		return len(args) > 0 && args[0] == currentID
	default:
		return false
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
