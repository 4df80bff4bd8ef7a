// Package simctltest provides a recording simctl.Runner for tests. It keeps
// an in-memory defaults database so writes, deletes and reads behave like the
// real tool from the caller's point of view.
package simctltest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/jeffwatkins/Pterodactyl/simctl"
)

// Push is a recorded push invocation with the payload file contents as they
// were when the command ran.
type Push struct {
	SimulatorID string
	AppBundleID string
	File        string
	Payload     []byte
}

// Recorder is a concurrency-safe fake runner.
type Recorder struct {
	// Respond, when set, decides the outcome of a command. Returning false
	// falls through to the built-in behaviour.
	Respond func(cmd simctl.Command) (simctl.Outcome, bool)

	mu       sync.Mutex
	commands []simctl.Command
	pushes   []Push
	defaults map[string]map[string]string
}

func New() *Recorder {
	return &Recorder{defaults: make(map[string]map[string]string)}
}

func (r *Recorder) Run(_ context.Context, cmd simctl.Command) simctl.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defaults == nil {
		r.defaults = make(map[string]map[string]string)
	}
	r.commands = append(r.commands, simctl.Command{Path: cmd.Path, Args: append([]string(nil), cmd.Args...)})

	if r.Respond != nil {
		if out, ok := r.Respond(cmd); ok {
			return out
		}
	}
	return r.apply(cmd.Args)
}

func (r *Recorder) apply(args []string) simctl.Outcome {
	switch {
	case len(args) == 5 && args[0] == "simctl" && args[1] == "push":
		data, err := os.ReadFile(args[4])
		if err != nil {
			return simctl.Outcome{ExitCode: 1, Stderr: err.Error()}
		}
		r.pushes = append(r.pushes, Push{SimulatorID: args[2], AppBundleID: args[3], File: args[4], Payload: data})
		return simctl.Outcome{}
	case len(args) >= 7 && args[0] == "simctl" && args[1] == "spawn" && args[3] == "defaults":
		domainKey := args[2] + "/" + args[5]
		key := args[6]
		switch args[4] {
		case "write":
			if len(args) != 9 {
				return simctl.Outcome{ExitCode: 1, Stderr: "Unexpected argument count"}
			}
			if r.defaults[domainKey] == nil {
				r.defaults[domainKey] = make(map[string]string)
			}
			r.defaults[domainKey][key] = args[8]
			return simctl.Outcome{}
		case "delete":
			if _, ok := r.defaults[domainKey][key]; !ok {
				return simctl.Outcome{ExitCode: 1, Stderr: fmt.Sprintf("Domain (%s) not found.\nDefaults have not been changed.", args[5])}
			}
			delete(r.defaults[domainKey], key)
			return simctl.Outcome{}
		case "read":
			v, ok := r.defaults[domainKey][key]
			if !ok {
				return simctl.Outcome{ExitCode: 1, Stderr: fmt.Sprintf("The domain/default pair of (%s, %s) does not exist", args[5], key)}
			}
			return simctl.Outcome{Stdout: v + "\n"}
		}
	}
	return simctl.Outcome{ExitCode: 64, Stderr: "usage error"}
}

// Commands returns a copy of every command run so far.
func (r *Recorder) Commands() []simctl.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]simctl.Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// CommandsWith returns the recorded commands whose arguments contain verb at
// the defaults sub-command position, or the push verb.
func (r *Recorder) CommandsWith(verb string) []simctl.Command {
	var out []simctl.Command
	for _, c := range r.Commands() {
		switch {
		case len(c.Args) > 1 && c.Args[1] == verb:
			out = append(out, c)
		case len(c.Args) > 4 && c.Args[3] == "defaults" && c.Args[4] == verb:
			out = append(out, c)
		}
	}
	return out
}

func (r *Recorder) Pushes() []Push {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Push, len(r.pushes))
	copy(out, r.pushes)
	return out
}

// Default reads a stored value the way `defaults read` would.
func (r *Recorder) Default(simulatorID, appBundleID, key string) (string, bool) {
	out := r.Run(context.Background(), simctl.Tool{}.ReadDefault(simulatorID, appBundleID, key))
	if !out.Succeeded() {
		return "", false
	}
	return strings.TrimSuffix(out.Stdout, "\n"), true
}
