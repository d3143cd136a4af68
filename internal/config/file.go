package config

import (
	"fmt"
	"strings"
)

// fileConfig is the on-disk shape shared by the JSONC and YAML formats.
// Pointer fields distinguish "unset" from zero values.
type fileConfig struct {
	Live      *fileLive      `json:"live" yaml:"live"`
	Audio     *fileAudio     `json:"audio" yaml:"audio"`
	Session   *fileSession   `json:"session" yaml:"session"`
	Summary   *fileSummary   `json:"summary" yaml:"summary"`
	Ledger    *fileLedger    `json:"ledger" yaml:"ledger"`
	Metrics   *fileMetrics   `json:"metrics" yaml:"metrics"`
	Indicator *fileIndicator `json:"indicator" yaml:"indicator"`
	Export    *fileExport    `json:"export" yaml:"export"`
	Log       *fileLog       `json:"log" yaml:"log"`
	Debug     *fileDebug     `json:"debug" yaml:"debug"`
}

type fileLive struct {
	BaseURL       *string `json:"base_url" yaml:"base_url"`
	Model         *string `json:"model" yaml:"model"`
	APIKeyEnv     *string `json:"api_key_env" yaml:"api_key_env"`
	Voice         *string `json:"voice" yaml:"voice"`
	InputRate     *int    `json:"input_rate" yaml:"input_rate"`
	OutputRate    *int    `json:"output_rate" yaml:"output_rate"`
	DialTimeoutMS *int    `json:"dial_timeout_ms" yaml:"dial_timeout_ms"`
}

type fileAudio struct {
	Input          *string `json:"input" yaml:"input"`
	Fallback       *string `json:"fallback" yaml:"fallback"`
	QuantumSamples *int    `json:"quantum_samples" yaml:"quantum_samples"`
}

type fileSession struct {
	Mode   *string `json:"mode" yaml:"mode"`
	Locale *string `json:"locale" yaml:"locale"`
}

type fileSummary struct {
	Enable    *bool   `json:"enable" yaml:"enable"`
	Provider  *string `json:"provider" yaml:"provider"`
	Model     *string `json:"model" yaml:"model"`
	APIKeyEnv *string `json:"api_key_env" yaml:"api_key_env"`
}

type fileLedger struct {
	Backend *string `json:"backend" yaml:"backend"`
	Dir     *string `json:"dir" yaml:"dir"`
	DSN     *string `json:"dsn" yaml:"dsn"`
}

type fileMetrics struct {
	Listen *string `json:"listen" yaml:"listen"`
}

type fileIndicator struct {
	SoundEnable *bool `json:"sound_enable" yaml:"sound_enable"`
}

type fileExport struct {
	ClipboardCmd *string `json:"clipboard_cmd" yaml:"clipboard_cmd"`
}

type fileLog struct {
	Level *string `json:"level" yaml:"level"`
}

type fileDebug struct {
	AudioDump *bool `json:"audio_dump" yaml:"audio_dump"`
	WireDump  *bool `json:"wire_dump" yaml:"wire_dump"`
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func (payload fileConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if l := payload.Live; l != nil {
		setString(&cfg.Live.BaseURL, l.BaseURL)
		setString(&cfg.Live.Model, l.Model)
		setString(&cfg.Live.APIKeyEnv, l.APIKeyEnv)
		setString(&cfg.Live.Voice, l.Voice)
		setInt(&cfg.Live.InputRate, l.InputRate)
		setInt(&cfg.Live.OutputRate, l.OutputRate)
		setInt(&cfg.Live.DialTimeoutMS, l.DialTimeoutMS)
	}

	if a := payload.Audio; a != nil {
		if a.Input != nil {
			cfg.Audio.Input = *a.Input
		}
		if a.Fallback != nil {
			cfg.Audio.Fallback = *a.Fallback
		}
		setInt(&cfg.Audio.QuantumSamples, a.QuantumSamples)
	}

	if s := payload.Session; s != nil {
		setString(&cfg.Session.Mode, s.Mode)
		setString(&cfg.Session.Locale, s.Locale)
		cfg.Session.Mode = strings.ToLower(cfg.Session.Mode)
		cfg.Session.Locale = strings.ToLower(cfg.Session.Locale)
	}

	if s := payload.Summary; s != nil {
		setBool(&cfg.Summary.Enable, s.Enable)
		setString(&cfg.Summary.Provider, s.Provider)
		setString(&cfg.Summary.Model, s.Model)
		setString(&cfg.Summary.APIKeyEnv, s.APIKeyEnv)
	}

	if l := payload.Ledger; l != nil {
		setString(&cfg.Ledger.Backend, l.Backend)
		setString(&cfg.Ledger.Dir, l.Dir)
		setString(&cfg.Ledger.DSN, l.DSN)
		cfg.Ledger.Backend = strings.ToLower(cfg.Ledger.Backend)
	}

	if m := payload.Metrics; m != nil {
		setString(&cfg.Metrics.Listen, m.Listen)
	}

	if i := payload.Indicator; i != nil {
		setBool(&cfg.Indicator.SoundEnable, i.SoundEnable)
	}

	if e := payload.Export; e != nil && e.ClipboardCmd != nil {
		raw := *e.ClipboardCmd
		argv, err := parseArgv(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid export.clipboard_cmd: %w", err)
		}
		cfg.Export.Clipboard = CommandConfig{Raw: raw, Argv: argv}
	}

	if l := payload.Log; l != nil {
		setString(&cfg.Log.Level, l.Level)
		cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	}

	if d := payload.Debug; d != nil {
		setBool(&cfg.Debug.EnableAudioDump, d.AudioDump)
		setBool(&cfg.Debug.EnableWireDump, d.WireDump)
	}

	return warnings, nil
}
