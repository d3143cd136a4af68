package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandStart    Command = "start"
	CommandToggle   Command = "toggle"
	CommandStop     Command = "stop"
	CommandStatus   Command = "status"
	CommandLevel    Command = "level"
	CommandSessions Command = "sessions"
	CommandNew      Command = "new"
	CommandSwitch   Command = "switch"
	CommandDelete   Command = "delete"
	CommandExport   Command = "export"
	CommandDevices  Command = "devices"
	CommandDoctor   Command = "doctor"
	CommandVersion  Command = "version"
	CommandHelp     Command = "help"
)

// arity is the accepted positional argument range after a command.
type arity struct{ min, max int }

var validCommands = map[Command]arity{
	CommandStart:    {},
	CommandToggle:   {},
	CommandStop:     {},
	CommandStatus:   {},
	CommandLevel:    {},
	CommandSessions: {},
	CommandNew:      {},
	CommandSwitch:   {min: 1, max: 1},
	CommandDelete:   {min: 1, max: 1},
	CommandExport:   {max: 1},
	CommandDevices:  {},
	CommandDoctor:   {},
	CommandVersion:  {},
	CommandHelp:     {},
}

// IsLedgerCommand reports whether the command reads or mutates the session ledger.
func (c Command) IsLedgerCommand() bool {
	switch c {
	case CommandSessions, CommandNew, CommandSwitch, CommandDelete, CommandExport:
		return true
	default:
		return false
	}
}

type Parsed struct {
	Command    Command
	Args       []string
	ConfigPath string
	Mode       string
	Locale     string
	JSON       bool
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}
	seenCommand := false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--json":
			parsed.JSON = true
		case "--config", "--mode", "--locale":
			i++
			if i >= len(args) || strings.HasPrefix(args[i], "-") {
				return Parsed{}, fmt.Errorf("%s requires a value", arg)
			}
			value := args[i]
			switch arg {
			case "--config":
				parsed.ConfigPath = value
			case "--mode":
				value = strings.ToLower(value)
				if value != "transcribe" && value != "assistant" {
					return Parsed{}, fmt.Errorf("--mode must be transcribe or assistant")
				}
				parsed.Mode = value
			case "--locale":
				value = strings.ToLower(value)
				if value != "en" && value != "fr" {
					return Parsed{}, fmt.Errorf("--locale must be en or fr")
				}
				parsed.Locale = value
			}
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}
			if seenCommand {
				parsed.Args = append(parsed.Args, arg)
				continue
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}
			seenCommand = true
			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
		}
	}

	if seenCommand {
		want := validCommands[parsed.Command]
		switch n := len(parsed.Args); {
		case n < want.min:
			return Parsed{}, fmt.Errorf("command %q requires a session id", parsed.Command)
		case n > want.max:
			return Parsed{}, fmt.Errorf("unexpected arguments after command %q", parsed.Command)
		}
	}
	if parsed.JSON && parsed.Command != CommandExport && parsed.Command != CommandStatus {
		return Parsed{}, errors.New("--json only applies to export and status")
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [flags] <command> [arg]

Commands:
  start       Run a live session in the foreground until stopped
  toggle      Start a session, or stop the running one
  stop        Stop the running session
  status      Print session state
  level       Print the current microphone level
  sessions    List recorded sessions, newest first
  new         Create and select an empty session
  switch ID   Select an existing session
  delete ID   Delete a session
  export [ID] Print a session as Markdown (current session by default)
  devices     List available input devices
  doctor      Run configuration and environment checks
  version     Print version information
  help        Show this help

Flags:
  --config PATH      Config file path (default: $XDG_CONFIG_HOME/brainlive/config.jsonc)
  --mode MODE        transcribe or assistant (overrides session.mode)
  --locale LOCALE    en or fr (overrides session.locale)
  --json             Emit JSON for export and status
  -h, --help         Show help
  --version          Show version
`, binaryName)
}
