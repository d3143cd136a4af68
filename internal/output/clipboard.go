// Package output renders recorded sessions for export and hands the result
// to the configured clipboard command.
package output

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const clipboardTimeout = 2 * time.Second

// Clipboard pipes text into a configured command such as wl-copy.
type Clipboard struct {
	argv []string
}

// NewClipboard returns nil when argv is empty; a nil Clipboard is a no-op.
func NewClipboard(argv []string) *Clipboard {
	if len(argv) == 0 {
		return nil
	}
	return &Clipboard{argv: append([]string(nil), argv...)}
}

// Copy writes text to the clipboard command's stdin.
func (c *Clipboard) Copy(ctx context.Context, text string) error {
	if c == nil || text == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, clipboardTimeout)
	defer cancel()
	if err := runCommandWithInput(ctx, c.argv, text); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}
	return nil
}

func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	var stderr strings.Builder
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(input)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("run %s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("run %s: %w", argv[0], err)
	}
	return nil
}
