package config

import (
	"fmt"
	"net/url"
	"strings"
)

var (
	validModes     = []string{"transcribe", "assistant"}
	validLocales   = []string{"en", "fr"}
	validProviders = []string{"gemini", "openai", "anthropic", "ollama"}
	validLevels    = []string{"debug", "info", "warn", "error"}
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	base, err := url.Parse(strings.TrimSpace(cfg.Live.BaseURL))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("live.base_url must be an absolute URL")
	}
	if base.Scheme != "ws" && base.Scheme != "wss" {
		return nil, fmt.Errorf("live.base_url must use ws or wss")
	}
	if base.Scheme == "ws" {
		warnings = append(warnings, Warning{Message: "live.base_url uses plaintext ws; the API key is sent in the URL"})
	}
	if strings.TrimSpace(cfg.Live.Model) == "" {
		return nil, fmt.Errorf("live.model must not be empty")
	}
	if strings.TrimSpace(cfg.Live.APIKeyEnv) == "" {
		return nil, fmt.Errorf("live.api_key_env must not be empty")
	}
	if cfg.Live.InputRate <= 0 || cfg.Live.OutputRate <= 0 {
		return nil, fmt.Errorf("live.input_rate and live.output_rate must be > 0")
	}
	if cfg.Live.DialTimeoutMS < 0 {
		return nil, fmt.Errorf("live.dial_timeout_ms must be >= 0")
	}
	if cfg.Audio.QuantumSamples <= 0 {
		return nil, fmt.Errorf("audio.quantum_samples must be > 0")
	}
	if cfg.Audio.QuantumSamples&(cfg.Audio.QuantumSamples-1) != 0 {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("audio.quantum_samples=%d is not a power of two", cfg.Audio.QuantumSamples)})
	}

	if err := oneOf("session.mode", cfg.Session.Mode, validModes); err != nil {
		return nil, err
	}
	if err := oneOf("session.locale", cfg.Session.Locale, validLocales); err != nil {
		return nil, err
	}

	if cfg.Summary.Enable {
		if err := oneOf("summary.provider", cfg.Summary.Provider, validProviders); err != nil {
			return nil, err
		}
		if strings.TrimSpace(cfg.Summary.Model) == "" {
			return nil, fmt.Errorf("summary.model must not be empty when summary.enable=true")
		}
	}

	switch cfg.Ledger.Backend {
	case BackendFile:
	case BackendPostgres:
		if strings.TrimSpace(cfg.Ledger.DSN) == "" {
			return nil, fmt.Errorf("ledger.dsn must not be empty when ledger.backend=postgres")
		}
	default:
		return nil, fmt.Errorf("ledger.backend must be one of: file, postgres")
	}

	if err := oneOf("log.level", cfg.Log.Level, validLevels); err != nil {
		return nil, err
	}

	if cfg.Export.Clipboard.Raw != "" && len(cfg.Export.Clipboard.Argv) == 0 {
		return nil, fmt.Errorf("export.clipboard_cmd is configured but empty")
	}

	return warnings, nil
}

func oneOf(key string, value string, allowed []string) error {
	for _, candidate := range allowed {
		if value == candidate {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of: %s", key, strings.Join(allowed, ", "))
}
