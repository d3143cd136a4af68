package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rbright/brainlive/internal/audio"
	"github.com/rbright/brainlive/internal/cli"
	"github.com/rbright/brainlive/internal/config"
	"github.com/rbright/brainlive/internal/doctor"
	"github.com/rbright/brainlive/internal/fsm"
	"github.com/rbright/brainlive/internal/ipc"
	"github.com/rbright/brainlive/internal/logging"
	"github.com/rbright/brainlive/internal/output"
	"github.com/rbright/brainlive/internal/session"
	"github.com/rbright/brainlive/internal/version"
)

const (
	binaryName     = "brainlive"
	forwardTimeout = 220 * time.Millisecond
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	// ExportDir receives JSON exports. Empty means the working directory.
	ExportDir string
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	cfg := cfgLoaded.Config
	if parsed.Mode != "" {
		cfg.Session.Mode = parsed.Mode
	}
	if parsed.Locale != "" {
		cfg.Session.Locale = parsed.Locale
	}

	logRuntime, err := logging.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch {
	case parsed.Command == cli.CommandDoctor:
		cfgLoaded.Config = cfg
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case parsed.Command == cli.CommandDevices:
		return r.commandDevices(ctx)
	case parsed.Command == cli.CommandStatus:
		return r.commandStatus(ctx, parsed.JSON)
	case parsed.Command == cli.CommandLevel:
		return r.forwardOrFail(ctx, ipc.Request{Command: "level"})
	case parsed.Command == cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.Request{Command: "stop"})
	case parsed.Command == cli.CommandToggle:
		return r.commandToggle(ctx, cfg, logRuntime.Path, logger)
	case parsed.Command == cli.CommandStart:
		return r.commandStart(ctx, cfg, logRuntime.Path, logger)
	case parsed.Command.IsLedgerCommand():
		return r.commandLedger(ctx, parsed, cfg)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}

	return 0
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func (r Runner) commandStatus(ctx context.Context, asJSON bool) int {
	resp, handled, err := forward(ctx, ipc.Request{Command: "status"})
	if handled && err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	var st session.Status
	if handled && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &st); err != nil {
			fmt.Fprintf(r.Stderr, "error: decode status: %v\n", err)
			return 1
		}
	}
	if st.State == "" {
		st.State = fsm.StateIdle
		if resp.State != "" {
			st.State = fsm.State(resp.State)
		}
	}

	if asJSON {
		data, _ := json.Marshal(st)
		fmt.Fprintln(r.Stdout, string(data))
		return 0
	}
	if st.Mode == "" {
		fmt.Fprintln(r.Stdout, st.State)
		return 0
	}
	fmt.Fprintf(r.Stdout, "%s mode=%s locale=%s level=%.4f frames=%d pending=%d\n",
		st.State, st.Mode, st.Locale, st.Level, st.FramesSent, st.Pending)
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, req ipc.Request) int {
	resp, handled, err := forward(ctx, req)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: %v\n", errNoOwner)
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandLedger runs a ledger command in the owner process when one is
// running and against the store directly otherwise.
func (r Runner) commandLedger(ctx context.Context, parsed cli.Parsed, cfg config.Config) int {
	req := ipc.Request{Command: string(parsed.Command), Args: parsed.Args}

	resp, handled, err := forward(ctx, req)
	if handled && err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if !handled {
		lh, err := openLedger(ctx, cfg.Ledger)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		resp = handleLedger(ctx, lh.ledger, req)
		lh.close()
		if !resp.OK {
			fmt.Fprintf(r.Stderr, "error: %s\n", resp.Error)
			return 1
		}
	}

	switch parsed.Command {
	case cli.CommandSessions:
		if err := printSessions(r.Stdout, resp.Data); err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	case cli.CommandExport:
		return r.export(ctx, cfg, resp.Data, parsed.JSON)
	default:
		fmt.Fprintln(r.Stdout, resp.Message)
		return 0
	}
}

func (r Runner) export(ctx context.Context, cfg config.Config, data json.RawMessage, asJSON bool) int {
	s, err := decodeSession(data)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if asJSON {
		payload, err := output.JSON(s)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		path := filepath.Join(r.ExportDir, output.FileName(s.ID, time.Now()))
		if err := os.WriteFile(path, payload, 0o600); err != nil {
			fmt.Fprintf(r.Stderr, "error: write export: %v\n", err)
			return 1
		}
		fmt.Fprintln(r.Stdout, path)
		return 0
	}

	md := output.Markdown(s, cfg.Session.Locale)
	fmt.Fprint(r.Stdout, md)
	if err := output.NewClipboard(cfg.Export.Clipboard.Argv).Copy(ctx, md); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// forward sends req to the running owner. handled is false when no owner
// is listening.
func forward(ctx context.Context, req ipc.Request) (ipc.Response, bool, error) {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return ipc.Response{}, false, nil
	}
	return tryForward(ctx, socketPath, req)
}

func tryForward(ctx context.Context, socketPath string, req ipc.Request) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, req, forwardTimeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) || isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}
	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", req.Command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
