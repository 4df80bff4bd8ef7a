package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/jeffwatkins/Pterodactyl/client"
	"github.com/jeffwatkins/Pterodactyl/domain"
)

const (
	exitOK          = 0
	exitFailed      = 1
	exitUsage       = 2
	exitUnreachable = 3
)

type runner struct {
	out    io.Writer
	errOut io.Writer
	stdin  io.Reader
	opts   []client.Option
}

func newRunner(out, errOut io.Writer) *runner {
	return &runner{out: out, errOut: errOut, stdin: os.Stdin}
}

func (r *runner) Run(ctx context.Context, args []string) int {
	global := flag.NewFlagSet("pterodactyl", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	host := global.String("host", "", "relay host (default $PTERODACTYL_HOST or localhost)")
	port := global.Int("port", 0, "relay port (default $PTERODACTYL_PORT or 8081)")
	timeout := global.Duration("timeout", client.DefaultTimeout, "request timeout")
	compress := global.Bool("gzip", false, "gzip request bodies")
	debug := global.Bool("debug", false, "debug logging")
	if err := global.Parse(args); err != nil {
		return r.usageErr(err)
	}

	logger := log.New()
	logger.SetOutput(r.errOut)
	if *debug {
		logger.SetLevel(log.DebugLevel)
	}
	opts := append([]client.Option{
		client.WithTimeout(*timeout),
		client.WithGzip(*compress),
		client.WithLogger(logger),
	}, r.opts...)
	if *host != "" {
		opts = append(opts, client.WithHost(*host))
	}
	if *port != 0 {
		opts = append(opts, client.WithPort(*port))
	}

	rest := global.Args()
	if len(rest) == 0 {
		r.printUsage()
		return exitUsage
	}
	switch rest[0] {
	case "push":
		return r.runPush(ctx, rest[1:], opts)
	case "set":
		return r.runSet(ctx, rest[1:], opts)
	case "delete":
		return r.runDelete(ctx, rest[1:], opts)
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", rest[0])
		r.printUsage()
		return exitUsage
	}
}

func (r *runner) runPush(ctx context.Context, args []string, opts []client.Option) int {
	fs := flag.NewFlagSet("push", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	app := fs.String("app", "", "application bundle id")
	message := fs.String("message", "", "alert text")
	extra := fs.String("extra", "", "JSON object merged into aps")
	payloadFile := fs.String("payload", "", "file holding the full payload, - for stdin")
	if err := fs.Parse(args); err != nil {
		return r.usageErr(err)
	}
	if *app == "" {
		return r.usageErr(errors.New("push: -app is required"))
	}
	if (*message == "") == (*payloadFile == "") {
		return r.usageErr(errors.New("push: exactly one of -message or -payload is required"))
	}

	c := client.New(*app, opts...)
	if *payloadFile != "" {
		payload, err := r.readObject(*payloadFile)
		if err != nil {
			return r.usageErr(fmt.Errorf("push: %w", err))
		}
		return r.report(c.TriggerNotificationPayload(ctx, payload), "Delivered push")
	}

	var fields map[string]any
	if *extra != "" {
		if err := sonic.ConfigStd.UnmarshalFromString(*extra, &fields); err != nil {
			return r.usageErr(fmt.Errorf("push: -extra: %w", err))
		}
	}
	return r.report(c.TriggerNotification(ctx, *message, fields), "Delivered push")
}

func (r *runner) runSet(ctx context.Context, args []string, opts []client.Option) int {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	app := fs.String("app", "", "application bundle id")
	if err := fs.Parse(args); err != nil {
		return r.usageErr(err)
	}
	if *app == "" || fs.NArg() == 0 {
		return r.usageErr(errors.New("usage: pterodactyl set -app ID key=kind:value..."))
	}

	prefs := make(map[string]domain.Value, fs.NArg())
	for _, arg := range fs.Args() {
		key, value, err := parseAssignment(arg)
		if err != nil {
			return r.usageErr(err)
		}
		prefs[key] = value
	}
	return r.report(client.New(*app, opts...).SetPreferences(ctx, prefs), "Updated defaults")
}

func (r *runner) runDelete(ctx context.Context, args []string, opts []client.Option) int {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	app := fs.String("app", "", "application bundle id")
	if err := fs.Parse(args); err != nil {
		return r.usageErr(err)
	}
	if *app == "" || fs.NArg() == 0 {
		return r.usageErr(errors.New("usage: pterodactyl delete -app ID key..."))
	}
	return r.report(client.New(*app, opts...).DeletePreferences(ctx, fs.Args()), "Deleted defaults")
}

// parseAssignment splits "key=kind:value", e.g. "Count=int:5".
func parseAssignment(arg string) (string, domain.Value, error) {
	key, rhs, ok := strings.Cut(arg, "=")
	if !ok || key == "" {
		return "", domain.Value{}, fmt.Errorf("expected key=kind:value, got %q", arg)
	}
	tag, text, ok := strings.Cut(rhs, ":")
	if !ok {
		return "", domain.Value{}, fmt.Errorf("%s: expected kind:value, got %q", key, rhs)
	}
	kind, ok := domain.KindFromTag(tag)
	if !ok {
		return "", domain.Value{}, fmt.Errorf("%s: unknown kind %q", key, tag)
	}
	v, err := domain.ParseValue(kind, text)
	if err != nil {
		return "", domain.Value{}, fmt.Errorf("%s: %w", key, err)
	}
	return key, v, nil
}

func (r *runner) readObject(path string) (map[string]any, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(r.stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := sonic.ConfigStd.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	return obj, nil
}

func (r *runner) report(err error, success string) int {
	if err == nil {
		_, _ = fmt.Fprintln(r.out, success)
		return exitOK
	}
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	var execErr *client.CommandExecutionError
	if errors.As(err, &execErr) {
		for _, res := range execErr.Results {
			status := "ok"
			if !res.Succeeded {
				status = fmt.Sprintf("exit %d", res.ExitCode)
				if res.TimedOut {
					status = "timed out"
				}
			}
			_, _ = fmt.Fprintf(r.errOut, "  %s: %s\n", res.Command, status)
		}
	}
	if errors.Is(err, client.ErrServerNotFound) {
		return exitUnreachable
	}
	return exitFailed
}

func (r *runner) usageErr(err error) int {
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return exitUsage
}

func (r *runner) printUsage() {
	_, _ = fmt.Fprint(r.errOut, `usage: pterodactyl [-host H] [-port P] [-timeout D] [-gzip] [-debug] <command>

commands:
  push   -app ID (-message TEXT [-extra JSON] | -payload FILE)
  set    -app ID key=kind:value...   kinds: string int float bool date
  delete -app ID key...
`)
}
