// Package config resolves, parses, validates, and defaults brainlive configuration.
package config

// Config is the fully materialized runtime configuration used by brainlive.
type Config struct {
	Live      LiveConfig
	Audio     AudioConfig
	Session   SessionConfig
	Summary   SummaryConfig
	Ledger    LedgerConfig
	Metrics   MetricsConfig
	Indicator IndicatorConfig
	Export    ExportConfig
	Log       LogConfig
	Debug     DebugConfig
}

// LiveConfig points at the realtime endpoint.
type LiveConfig struct {
	BaseURL    string
	Model      string
	APIKeyEnv  string
	Voice      string
	InputRate  int
	OutputRate int

	// DialTimeoutMS bounds connection setup. Zero waits until stop.
	DialTimeoutMS int
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input          string
	Fallback       string
	QuantumSamples int
}

// SessionConfig holds the per-start defaults.
type SessionConfig struct {
	Mode   string
	Locale string
}

// SummaryConfig controls the structured summary updater.
type SummaryConfig struct {
	Enable    bool
	Provider  string
	Model     string
	APIKeyEnv string
}

// LedgerConfig selects where sessions are persisted.
type LedgerConfig struct {
	Backend string
	Dir     string
	DSN     string
}

// MetricsConfig controls the Prometheus listener. Empty Listen disables it.
type MetricsConfig struct {
	Listen string
}

// IndicatorConfig controls audio cue behavior.
type IndicatorConfig struct {
	SoundEnable bool
}

// ExportConfig controls where exported sessions are copied.
type ExportConfig struct {
	Clipboard CommandConfig
}

type LogConfig struct {
	Level string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
	EnableWireDump  bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
