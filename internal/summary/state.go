// Package summary keeps the structured running summary of a recording
// session up to date from finalized user turns.
package summary

import (
	"errors"
	"time"
	"unicode/utf8"
)

// ErrInvalidSummary is returned when the updater reply is not a summary object.
var ErrInvalidSummary = errors.New("invalid summary response")

const titleRunes = 50

// State is the structured summary. JSON keys match the stored format.
type State struct {
	Summary       string   `json:"résumé"`
	KeyIdeas      []string `json:"idées_clés"`
	Decisions     []string `json:"décisions"`
	ActionItems   []string `json:"actions_à_faire"`
	OpenQuestions []string `json:"questions_ouvertes"`
}

// Empty returns a state with empty, non-nil lists.
func Empty() State {
	return State{
		KeyIdeas:      []string{},
		Decisions:     []string{},
		ActionItems:   []string{},
		OpenQuestions: []string{},
	}
}

// IsZero reports whether the state carries no content.
func (s State) IsZero() bool {
	return s.Summary == "" && len(s.KeyIdeas) == 0 && len(s.Decisions) == 0 &&
		len(s.ActionItems) == 0 && len(s.OpenQuestions) == 0
}

// Normalized replaces nil lists with empty ones.
func (s State) Normalized() State {
	if s.KeyIdeas == nil {
		s.KeyIdeas = []string{}
	}
	if s.Decisions == nil {
		s.Decisions = []string{}
	}
	if s.ActionItems == nil {
		s.ActionItems = []string{}
	}
	if s.OpenQuestions == nil {
		s.OpenQuestions = []string{}
	}
	return s
}

// Title derives a session title: the summary cut at 50 runes with an
// ellipsis, else the first key idea, else the date of at.
func (s State) Title(at time.Time) string {
	if s.Summary != "" {
		if utf8.RuneCountInString(s.Summary) > titleRunes {
			return string([]rune(s.Summary)[:titleRunes]) + "..."
		}
		return s.Summary
	}
	if len(s.KeyIdeas) > 0 && s.KeyIdeas[0] != "" {
		idea := []rune(s.KeyIdeas[0])
		if len(idea) > titleRunes {
			idea = idea[:titleRunes]
		}
		return string(idea)
	}
	return at.Format("2006-01-02")
}
