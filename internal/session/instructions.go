package session

import "strings"

// Mode selects how the remote model behaves during a session.
type Mode string

const (
	// ModeTranscribe keeps the model silent; only user speech is recorded.
	ModeTranscribe Mode = "transcribe"
	// ModeAssistant lets the model answer aloud.
	ModeAssistant Mode = "assistant"
)

// ParseMode maps a configuration or flag value onto a Mode.
func ParseMode(value string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeTranscribe:
		return ModeTranscribe, true
	case ModeAssistant:
		return ModeAssistant, true
	default:
		return "", false
	}
}

// TranscriptionOnly reports whether response audio and assistant turns are suppressed.
func (m Mode) TranscriptionOnly() bool {
	return m != ModeAssistant
}

var instructions = map[Mode]map[string]string{
	ModeAssistant: {
		"en": "You are a cognitive assistant. Be brief and structured.",
		"fr": "Vous êtes un assistant cognitif. Soyez bref et structuré.",
	},
	ModeTranscribe: {
		"en": "You are a silent transcriber. Do not answer or comment; stay silent while the user speaks.",
		"fr": "Vous êtes un transcripteur silencieux. Ne répondez pas et ne commentez pas ; restez silencieux pendant que l'utilisateur parle.",
	},
}

// Instruction returns the behavior instruction for mode and locale. Unknown
// locales fall back to English.
func Instruction(mode Mode, locale string) string {
	byLocale, ok := instructions[mode]
	if !ok {
		byLocale = instructions[ModeTranscribe]
	}
	if text, ok := byLocale[normalizeLocale(locale)]; ok {
		return text
	}
	return byLocale["en"]
}

func normalizeLocale(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if base, _, ok := strings.Cut(locale, "-"); ok {
		return base
	}
	if base, _, ok := strings.Cut(locale, "_"); ok {
		return base
	}
	return locale
}
