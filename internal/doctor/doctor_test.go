package doctor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/brainlive/internal/config"
)

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestCheckKeyNeverEchoesValue(t *testing.T) {
	t.Setenv("BRAINLIVE_TEST_KEY", "secret-value")
	check := checkKey("live.api_key_env", "BRAINLIVE_TEST_KEY")
	require.True(t, check.Pass)
	require.NotContains(t, check.Message, "secret-value")

	t.Setenv("BRAINLIVE_TEST_KEY", " ")
	check = checkKey("live.api_key_env", "BRAINLIVE_TEST_KEY")
	require.False(t, check.Pass)
	require.Equal(t, "BRAINLIVE_TEST_KEY is not set", check.Message)
}

func TestCheckCommand(t *testing.T) {
	require.False(t, checkCommand(nil, "export.clipboard_cmd").Pass)

	missing := checkCommand([]string{"definitely-not-a-real-binary"}, "export.clipboard_cmd")
	require.False(t, missing.Pass)
	require.Contains(t, missing.Message, "binary not found")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fake-copy"), []byte("#!/bin/sh\nexit 0\n"), 0o755))
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))

	found := checkCommand([]string{"fake-copy", "--primary"}, "export.clipboard_cmd")
	require.True(t, found.Pass)
	require.Contains(t, found.Message, filepath.Join(dir, "fake-copy"))
}

func TestHTTPForm(t *testing.T) {
	got, err := httpForm("wss://example.com/ws")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/ws", got)

	got, err = httpForm("ws://127.0.0.1:9000/live")
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:9000/live", got)

	_, err = httpForm("ftp://example.com")
	require.ErrorContains(t, err, "unsupported")
}

func TestCheckEndpointAcceptsAnyStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ws", r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	check := checkEndpoint(context.Background(), "ws://"+strings.TrimPrefix(server.URL, "http://")+"/ws")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "HTTP 400")
}

func TestCheckEndpointUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(server.URL, "http://")
	server.Close()

	check := checkEndpoint(context.Background(), "ws://"+addr+"/ws")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "request failed")
}

func TestCheckLedgerFileBackend(t *testing.T) {
	dir := t.TempDir()
	check := checkLedger(context.Background(), config.LedgerConfig{Backend: config.BackendFile, Dir: dir})
	require.True(t, check.Pass)
	require.Equal(t, "0 session(s) in "+dir, check.Message)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "sessions", "broken.json"), []byte("{"), 0o600))
	check = checkLedger(context.Background(), config.LedgerConfig{Backend: config.BackendFile, Dir: dir})
	require.False(t, check.Pass)
}

func TestCheckLedgerPostgresBadDSN(t *testing.T) {
	check := checkLedger(context.Background(), config.LedgerConfig{Backend: config.BackendPostgres, DSN: "postgres://%zz"})
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "ledger:")
}

func TestRunIncludesSummaryKeyOnlyForHostedProviders(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	t.Setenv("GEMINI_API_KEY", "")

	cfg := config.Default()
	cfg.Live.BaseURL = "ws://127.0.0.1:1/ws"
	cfg.Ledger.Dir = t.TempDir()

	report := Run(context.Background(), config.Loaded{Path: "/tmp/none.jsonc", Config: cfg})
	require.False(t, report.OK())
	require.Contains(t, report.String(), "[OK] config: no file at")
	require.Contains(t, report.String(), "[FAIL] live.api_key_env: GEMINI_API_KEY is not set")
	require.Contains(t, report.String(), "summary.api_key_env")
	require.Contains(t, report.String(), "[OK] ledger:")

	cfg.Summary.Provider = "ollama"
	report = Run(context.Background(), config.Loaded{Path: "/tmp/none.jsonc", Config: cfg})
	require.NotContains(t, report.String(), "summary.api_key_env")
	require.NotContains(t, report.String(), "export.clipboard_cmd")
}
