// Package doctor runs readiness diagnostics for config, credentials, audio,
// the live endpoint and the session ledger.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/brainlive/internal/audio"
	"github.com/rbright/brainlive/internal/config"
	"github.com/rbright/brainlive/internal/ledger"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", status, check.Name, check.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

var endpointClient = &http.Client{Timeout: 3 * time.Second}

// Run executes environment, config and runtime checks for a loaded config.
func Run(ctx context.Context, loaded config.Loaded) Report {
	cfg := loaded.Config

	checks := []Check{configCheck(loaded)}
	checks = append(checks, checkKey("live.api_key_env", cfg.Live.APIKeyEnv))
	if cfg.Summary.Enable && cfg.Summary.Provider != "ollama" {
		checks = append(checks, checkKey("summary.api_key_env", cfg.Summary.APIKeyEnv))
	}
	checks = append(checks, checkAudioSelection(ctx, cfg.Audio))
	checks = append(checks, checkEndpoint(ctx, cfg.Live.BaseURL))
	checks = append(checks, checkLedger(ctx, cfg.Ledger))
	if len(cfg.Export.Clipboard.Argv) > 0 {
		checks = append(checks, checkCommand(cfg.Export.Clipboard.Argv, "export.clipboard_cmd"))
	}

	return Report{Checks: checks}
}

func configCheck(loaded config.Loaded) Check {
	if !loaded.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("no file at %q, using defaults", loaded.Path)}
	}
	msg := fmt.Sprintf("loaded %q", loaded.Path)
	if n := len(loaded.Warnings); n > 0 {
		msg = fmt.Sprintf("%s with %d warning(s)", msg, n)
	}
	return Check{Name: "config", Pass: true, Message: msg}
}

// checkKey reports whether the named environment variable holds a credential.
// The value itself is never echoed.
func checkKey(name string, envVar string) Check {
	if strings.TrimSpace(os.Getenv(envVar)) == "" {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s is not set", envVar)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s is set", envVar)}
}

// checkCommand validates that argv names a binary on PATH.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", argv[0])}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("found at %s", path)}
}

// checkAudioSelection runs live device selection to surface fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.AudioConfig) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Input, cfg.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkEndpoint confirms the live endpoint host answers HTTP. Any status
// counts: the WebSocket path rejects plain GETs but still proves reachability.
func checkEndpoint(ctx context.Context, baseURL string) Check {
	target, err := httpForm(baseURL)
	if err != nil {
		return Check{Name: "live.endpoint", Pass: false, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Check{Name: "live.endpoint", Pass: false, Message: err.Error()}
	}
	resp, err := endpointClient.Do(req)
	if err != nil {
		return Check{Name: "live.endpoint", Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	_ = resp.Body.Close()
	return Check{Name: "live.endpoint", Pass: true, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, target)}
}

func httpForm(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid live.base_url: %w", err)
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported live.base_url scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// checkLedger opens the configured backend and loads it without writing.
func checkLedger(ctx context.Context, cfg config.LedgerConfig) Check {
	if cfg.Backend == config.BackendPostgres {
		pool, err := ledger.Connect(ctx, cfg.DSN)
		if err != nil {
			return Check{Name: "ledger", Pass: false, Message: err.Error()}
		}
		defer pool.Close()
		return Check{Name: "ledger", Pass: true, Message: "postgres reachable"}
	}

	dir, err := ledger.ResolveDir(cfg.Dir)
	if err != nil {
		return Check{Name: "ledger", Pass: false, Message: err.Error()}
	}
	store, err := ledger.NewFileStore(dir)
	if err != nil {
		return Check{Name: "ledger", Pass: false, Message: err.Error()}
	}
	sessions, _, err := store.Load(ctx)
	if err != nil {
		return Check{Name: "ledger", Pass: false, Message: err.Error()}
	}
	return Check{Name: "ledger", Pass: true, Message: fmt.Sprintf("%d session(s) in %s", len(sessions), dir)}
}
