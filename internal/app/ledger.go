package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rbright/brainlive/internal/ipc"
	"github.com/rbright/brainlive/internal/ledger"
)

// sessionInfo is one row of the sessions listing.
type sessionInfo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Turns     int       `json:"turns"`
	Current   bool      `json:"current"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func infoOf(s ledger.Session, currentID string) sessionInfo {
	return sessionInfo{
		ID:        s.ID,
		Title:     s.Title,
		Turns:     len(s.Turns),
		Current:   s.ID == currentID,
		UpdatedAt: s.UpdatedAt,
	}
}

// handleLedger serves ledger commands. It runs in the owner process while a
// live session exists and in the CLI process otherwise, so the ledger only
// ever has one writer.
func handleLedger(ctx context.Context, l *ledger.Ledger, req ipc.Request) ipc.Response {
	arg := ""
	if len(req.Args) > 0 {
		arg = req.Args[0]
	}

	switch req.Command {
	case "sessions":
		currentID := l.Current().ID
		rows := make([]sessionInfo, 0)
		for _, s := range l.List() {
			rows = append(rows, infoOf(s, currentID))
		}
		return dataResponse(rows, "")
	case "new":
		s, err := l.Create(ctx)
		if err != nil {
			return errorResponse(err)
		}
		return dataResponse(infoOf(s, s.ID), "created "+s.ID)
	case "switch":
		s, err := l.SwitchTo(ctx, arg)
		if err != nil {
			return errorResponse(err)
		}
		return dataResponse(infoOf(s, s.ID), "switched to "+s.ID)
	case "delete":
		next, err := l.Delete(ctx, arg)
		if err != nil {
			return errorResponse(err)
		}
		return dataResponse(infoOf(next, next.ID), fmt.Sprintf("deleted %s; current is %s", arg, next.ID))
	case "export":
		s := l.Current()
		if arg != "" {
			var err error
			if s, err = l.Get(arg); err != nil {
				return errorResponse(err)
			}
		}
		return dataResponse(s, "")
	default:
		return ipc.Response{OK: false, Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func dataResponse(v any, message string) ipc.Response {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResponse(err)
	}
	return ipc.Response{OK: true, Message: message, Data: data}
}

func errorResponse(err error) ipc.Response {
	return ipc.Response{OK: false, Error: err.Error()}
}

// printSessions renders a sessions listing, newest first, marking the current one.
func printSessions(w io.Writer, data json.RawMessage) error {
	var rows []sessionInfo
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("decode sessions: %w", err)
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "no sessions")
		return nil
	}
	for _, row := range rows {
		mark := " "
		if row.Current {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %s | %s | turns=%d | updated=%s\n",
			mark, row.ID, row.Title, row.Turns, row.UpdatedAt.Local().Format(time.DateTime))
	}
	return nil
}

func decodeSession(data json.RawMessage) (ledger.Session, error) {
	var s ledger.Session
	if len(data) == 0 {
		return s, errors.New("empty session payload")
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}
