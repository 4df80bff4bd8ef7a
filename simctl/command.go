// Package simctl builds and runs invocations of the simulator control tool.
// Commands are argument vectors and are never passed through a shell.
package simctl

import (
	"strings"

	"github.com/jeffwatkins/Pterodactyl/domain"
)

// DefaultToolPath is the launcher used to reach simctl.
const DefaultToolPath = "xcrun"

// Command is a program path plus its arguments.
type Command struct {
	Path string
	Args []string
}

// Argv returns the full argument vector including the program.
func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// String renders the command in shell-quoted form. It is used for logs and
// confirmations only; execution never parses it.
func (c Command) String() string {
	argv := c.Argv()
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = shellQuote(a)
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("-_./:=@+,%", r):
		default:
			safe = false
		}
		if !safe {
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Tool builds commands for a simctl launcher.
type Tool struct {
	Path string
}

func (t Tool) path() string {
	if t.Path == "" {
		return DefaultToolPath
	}
	return t.Path
}

// Push delivers the payload stored in file to app on the simulator.
func (t Tool) Push(simulatorID, appBundleID, file string) Command {
	return Command{Path: t.path(), Args: []string{"simctl", "push", simulatorID, appBundleID, file}}
}

// WriteDefault stores one preference value in the app's defaults domain.
func (t Tool) WriteDefault(simulatorID, appBundleID, key string, v domain.Value) Command {
	args := []string{"simctl", "spawn", simulatorID, "defaults", "write", appBundleID, key}
	args = append(args, FlagArgs(v)...)
	return Command{Path: t.path(), Args: args}
}

// DeleteDefault removes one preference key from the app's defaults domain.
func (t Tool) DeleteDefault(simulatorID, appBundleID, key string) Command {
	return Command{Path: t.path(), Args: []string{"simctl", "spawn", simulatorID, "defaults", "delete", appBundleID, key}}
}

// ReadDefault prints one preference value.
func (t Tool) ReadDefault(simulatorID, appBundleID, key string) Command {
	return Command{Path: t.path(), Args: []string{"simctl", "spawn", simulatorID, "defaults", "read", appBundleID, key}}
}

// FlagArgs renders v as the type flag and value accepted by `defaults write`.
func FlagArgs(v domain.Value) []string {
	return []string{"-" + v.Kind().String(), v.Text()}
}
