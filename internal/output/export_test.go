package output

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rbright/brainlive/internal/ledger"
	"github.com/rbright/brainlive/internal/summary"
	"github.com/rbright/brainlive/internal/transcript"
	"github.com/stretchr/testify/require"
)

func sampleSession() ledger.Session {
	created := time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC)
	return ledger.Session{
		ID:    "abc",
		Title: "Planning",
		Turns: []transcript.Turn{
			{Role: transcript.RoleUser, Text: "ship the beta friday", Timestamp: created.Add(time.Minute)},
			{Role: transcript.RoleAssistant, Text: "noted", Timestamp: created.Add(2 * time.Minute)},
		},
		State: summary.State{
			Summary:     "Beta planning",
			KeyIdeas:    []string{"beta on friday"},
			ActionItems: []string{"write release notes"},
		},
		CreatedAt: created,
		UpdatedAt: created.Add(2 * time.Minute),
	}
}

func TestMarkdownEnglish(t *testing.T) {
	got := Markdown(sampleSession(), "en")

	require.Contains(t, got, "# Planning\n")
	require.Contains(t, got, "## Summary\n\nBeta planning\n")
	require.Contains(t, got, "## Key ideas\n\n- beta on friday\n")
	require.Contains(t, got, "## Action items\n\n- [ ] write release notes\n")
	require.NotContains(t, got, "## Decisions")
	require.NotContains(t, got, "## Open questions")
	require.Contains(t, got, "**You** (09:31:00): ship the beta friday")
	require.Contains(t, got, "**Assistant** (09:32:00): noted")
	require.True(t, got[len(got)-1] == '\n' && got[len(got)-2] != '\n')
}

func TestMarkdownFrenchAndFallback(t *testing.T) {
	fr := Markdown(sampleSession(), "fr")
	require.Contains(t, fr, "## Résumé")
	require.Contains(t, fr, "## Idées clés")
	require.Contains(t, fr, "**Vous**")

	require.Contains(t, Markdown(sampleSession(), "de"), "## Summary")
}

func TestMarkdownEmptySession(t *testing.T) {
	s := ledger.Session{ID: "x", Title: ledger.DefaultTitle}
	got := Markdown(s, "fr")
	require.Contains(t, got, "# Nouvelle session")
	require.NotContains(t, got, "##")
}

func TestJSONNormalizesLists(t *testing.T) {
	data, err := JSON(sampleSession())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "abc", decoded["id"])
	state := decoded["state"].(map[string]any)
	require.Equal(t, []any{}, state["décisions"])
	require.Equal(t, "Beta planning", state["résumé"])
}

func TestFileName(t *testing.T) {
	at := time.UnixMilli(1771061400123)
	require.Equal(t, "session-abc-1771061400123.json", FileName("abc", at))
	require.Equal(t, "session-export-1771061400123.json", FileName(" ", at))
}
