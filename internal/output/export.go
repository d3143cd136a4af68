package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rbright/brainlive/internal/ledger"
	"github.com/rbright/brainlive/internal/transcript"
)

type headings struct {
	summary, keyIdeas, decisions, actions, questions, transcript string
	user, assistant                                              string
	created                                                      string
}

var localized = map[string]headings{
	"en": {
		summary: "Summary", keyIdeas: "Key ideas", decisions: "Decisions",
		actions: "Action items", questions: "Open questions", transcript: "Transcript",
		user: "You", assistant: "Assistant", created: "Created",
	},
	"fr": {
		summary: "Résumé", keyIdeas: "Idées clés", decisions: "Décisions",
		actions: "Actions à faire", questions: "Questions ouvertes", transcript: "Transcription",
		user: "Vous", assistant: "Assistant", created: "Créée le",
	},
}

// Markdown renders a session with its summary sections followed by the
// transcript. Empty sections are omitted. Unknown locales use English.
func Markdown(s ledger.Session, locale string) string {
	h, ok := localized[locale]
	if !ok {
		h = localized["en"]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Title)
	fmt.Fprintf(&b, "_%s %s_\n", h.created, s.CreatedAt.Format(time.RFC3339))

	if text := strings.TrimSpace(s.State.Summary); text != "" {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", h.summary, text)
	}
	writeList(&b, h.keyIdeas, s.State.KeyIdeas, "- ")
	writeList(&b, h.decisions, s.State.Decisions, "- ")
	writeList(&b, h.actions, s.State.ActionItems, "- [ ] ")
	writeList(&b, h.questions, s.State.OpenQuestions, "- ")

	if len(s.Turns) > 0 {
		fmt.Fprintf(&b, "\n## %s\n\n", h.transcript)
		for _, turn := range s.Turns {
			speaker := h.user
			if turn.Role == transcript.RoleAssistant {
				speaker = h.assistant
			}
			fmt.Fprintf(&b, "**%s** (%s): %s\n\n", speaker, turn.Timestamp.Format("15:04:05"), turn.Text)
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeList(b *strings.Builder, heading string, items []string, bullet string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", heading)
	for _, item := range items {
		fmt.Fprintf(b, "%s%s\n", bullet, item)
	}
}

// JSON renders the full session document, indented.
func JSON(s ledger.Session) ([]byte, error) {
	s.State = s.State.Normalized()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return append(data, '\n'), nil
}

// FileName is the default export file name for a session at a point in time.
func FileName(id string, at time.Time) string {
	if strings.TrimSpace(id) == "" {
		id = "export"
	}
	return fmt.Sprintf("session-%s-%d.json", id, at.UnixMilli())
}
