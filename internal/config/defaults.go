package config

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Live: LiveConfig{
			BaseURL:       "wss://generativelanguage.googleapis.com/ws",
			Model:         "gemini-2.5-flash-native-audio-preview-12-2025",
			APIKeyEnv:     "GEMINI_API_KEY",
			Voice:         "Kore",
			InputRate:     16000,
			OutputRate:    24000,
			DialTimeoutMS: 0,
		},
		Audio: AudioConfig{
			Input:          "default",
			Fallback:       "default",
			QuantumSamples: 4096,
		},
		Session: SessionConfig{
			Mode:   "transcribe",
			Locale: "fr",
		},
		Summary: SummaryConfig{
			Enable:    true,
			Provider:  "gemini",
			Model:     "gemini-2.0-flash",
			APIKeyEnv: "GEMINI_API_KEY",
		},
		Ledger:    LedgerConfig{Backend: BackendFile},
		Indicator: IndicatorConfig{SoundEnable: true},
		Log:       LogConfig{Level: "info"},
	}
}
