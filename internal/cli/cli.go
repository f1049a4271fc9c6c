package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRun      Command = "run"
	CommandSOS      Command = "sos"
	CommandCancel   Command = "cancel"
	CommandStatus   Command = "status"
	CommandKeyword  Command = "keyword"
	CommandMonitor  Command = "monitor"
	CommandContacts Command = "contacts"
	CommandDevices  Command = "devices"
	CommandDoctor   Command = "doctor"
	CommandVersion  Command = "version"
	CommandHelp     Command = "help"
)

// argRule bounds how many positional arguments a command takes.
type argRule struct {
	min, max int
}

var validCommands = map[Command]argRule{
	CommandRun:      {},
	CommandSOS:      {},
	CommandCancel:   {},
	CommandStatus:   {},
	CommandKeyword:  {max: 1},
	CommandMonitor:  {min: 1, max: 1},
	CommandContacts: {},
	CommandDevices:  {},
	CommandDoctor:   {},
	CommandVersion:  {},
	CommandHelp:     {},
}

type Parsed struct {
	Command    Command
	Arg        string
	ConfigPath string
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			rule, ok := validCommands[cmd]
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			rest := args[i+1:]
			if len(rest) > rule.max {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
			if len(rest) < rule.min {
				return Parsed{}, fmt.Errorf("command %q requires an argument", arg)
			}
			if len(rest) == 1 {
				if strings.HasPrefix(rest[0], "-") {
					return Parsed{}, fmt.Errorf("unexpected flag after command %q: %s", arg, rest[0])
				}
				parsed.Arg = rest[0]
			}
			if cmd == CommandMonitor && parsed.Arg != "on" && parsed.Arg != "off" {
				return Parsed{}, fmt.Errorf("monitor expects on or off, got %q", parsed.Arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			return parsed, nil
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [ARG]

Commands:
  run           Run the daemon (keyword listening, location, control panel)
  sos           Start the emergency countdown now
  cancel        Cancel a pending emergency countdown
  status        Print current state
  keyword [W]   Print the keyword, or set it to W
  monitor on|off
                Turn keyword listening and location updates on or off
  contacts      List emergency contacts from the backend
  devices       List available input devices
  doctor        Run configuration and environment checks
  version       Print version information
  help          Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/safeword/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
