package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/jeffwatkins/Pterodactyl/domain"
	"github.com/jeffwatkins/Pterodactyl/simctl"
)

// Messages `defaults delete` prints for an absent domain or key.
var missingDefaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`Domain \(.*\) not found`),
	regexp.MustCompile(`The domain/default pair of \(.*\) does not exist`),
}

func simulatorPush(opts Options) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := beginRequest(c, opts.Logger, domain.EndpointPush)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		var req domain.PushRequest
		if decodeErr := decodeRequest(c, metrics, &req); decodeErr != nil {
			err = rejectBody(c, decodeErr)
			return err
		}
		metrics.SetTarget(req.SimulatorID, req.AppBundleID)

		file, writeErr := writePushFile(opts.PushDir, req.PushPayload)
		if writeErr != nil {
			metrics.SetErrorStage("push_file")
			opts.Logger.Errorf("error writing temporary push file: %v", writeErr)
			err = c.String(http.StatusInternalServerError, "could not prepare push payload")
			return err
		}
		defer func() {
			if rmErr := os.Remove(file); rmErr != nil {
				opts.Logger.Errorf("error removing push file %s: %v", file, rmErr)
			}
		}()

		cmd := opts.Tool.Push(req.SimulatorID, req.AppBundleID, file)
		res, _ := runCommand(ctx, opts, metrics, domain.EndpointPush, req.SimulatorID, req.AppBundleID, "", cmd)
		if !res.Succeeded {
			err = commandFailure(c, metrics, []domain.CommandResult{res})
			return err
		}
		err = c.String(http.StatusOK, ranCommandPrefix+cmd.String())
		return err
	}
}

func updateDefaults(opts Options) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := beginRequest(c, opts.Logger, domain.EndpointUpdateDefaults)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		var req domain.UpdateDefaultsRequest
		if decodeErr := decodeRequest(c, metrics, &req); decodeErr != nil {
			err = rejectBody(c, decodeErr)
			return err
		}
		metrics.SetTarget(req.SimulatorID, req.AppBundleID)

		keys := make([]string, 0, len(req.Defaults))
		for k := range req.Defaults {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		results := make([]domain.CommandResult, 0, len(keys))
		failed := false
		for _, key := range keys {
			value := req.Defaults[key]
			opts.Logger.Infof("setting %s = %s %s", key, value.Kind(), value.Text())
			cmd := opts.Tool.WriteDefault(req.SimulatorID, req.AppBundleID, key, value)
			res, _ := runCommand(ctx, opts, metrics, domain.EndpointUpdateDefaults, req.SimulatorID, req.AppBundleID, key, cmd)
			failed = failed || !res.Succeeded
			results = append(results, res)
		}
		if failed {
			err = commandFailure(c, metrics, results)
			return err
		}
		err = c.String(http.StatusOK, updatedDefaultsText)
		return err
	}
}

func deleteDefaults(opts Options) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := beginRequest(c, opts.Logger, domain.EndpointDeleteDefaults)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		var req domain.DeleteDefaultsRequest
		if decodeErr := decodeRequest(c, metrics, &req); decodeErr != nil {
			err = rejectBody(c, decodeErr)
			return err
		}
		metrics.SetTarget(req.SimulatorID, req.AppBundleID)

		keys := req.DistinctKeys()
		results := make([]domain.CommandResult, 0, len(keys))
		failed := false
		for _, key := range keys {
			opts.Logger.Infof("deleting %s", key)
			cmd := opts.Tool.DeleteDefault(req.SimulatorID, req.AppBundleID, key)
			res, out := runCommand(ctx, opts, metrics, domain.EndpointDeleteDefaults, req.SimulatorID, req.AppBundleID, key, cmd)
			if !res.Succeeded && alreadyAbsent(out) {
				opts.Logger.Debugf("%s was not set", key)
				res.Succeeded = true
			}
			failed = failed || !res.Succeeded
			results = append(results, res)
		}
		if failed {
			err = commandFailure(c, metrics, results)
			return err
		}
		err = c.String(http.StatusOK, deletedDefaultsText)
		return err
	}
}

// beginRequest starts the request span. The returned context is detached
// from cancellation so a departing caller cannot interrupt a command half
// way; the runner applies its own timeout.
func beginRequest(c echo.Context, logger *log.Logger, endpoint domain.Endpoint) (*requestMetrics, context.Context) {
	metrics, spanCtx := newRequestMetrics(c.Request().Context(), logger, endpoint)
	c.SetRequest(c.Request().WithContext(spanCtx))
	return metrics, context.WithoutCancel(spanCtx)
}

func decodeRequest(c echo.Context, metrics *requestMetrics, dst validatable) error {
	start := time.Now()
	defer func() { metrics.ObserveDecode(time.Since(start)) }()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		metrics.SetErrorStage("read_body")
		return err
	}
	if err := sonic.ConfigStd.Unmarshal(body, dst); err != nil {
		metrics.SetErrorStage("decode")
		return err
	}
	if err := dst.Validate(); err != nil {
		metrics.SetErrorStage("validate")
		return err
	}
	return nil
}

// rejectBody answers a body that could not be read or decoded. Oversized
// bodies get 413, everything else 400.
func rejectBody(c echo.Context, err error) error {
	status := http.StatusBadRequest
	var tooLarge *http.MaxBytesError
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &tooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.As(err, &httpErr):
		status = httpErr.Code
	}
	return c.String(status, "invalid body: "+err.Error())
}

func runCommand(ctx context.Context, opts Options, metrics *requestMetrics, endpoint domain.Endpoint, simulatorID, appBundleID, key string, cmd simctl.Command) (domain.CommandResult, simctl.Outcome) {
	out := opts.Runner.Run(ctx, cmd)
	metrics.ObserveCommand(out)
	opts.Journal.Publish(ctx, newInvocation(endpoint, simulatorID, appBundleID, key, cmd, out))
	return domain.CommandResult{
		Key:       key,
		Command:   cmd.String(),
		Succeeded: out.Succeeded(),
		ExitCode:  out.ExitCode,
		TimedOut:  out.TimedOut,
		Output:    out.Output(),
	}, out
}

// commandFailure answers 502 when a command failed, or 504 when one timed out.
func commandFailure(c echo.Context, metrics *requestMetrics, results []domain.CommandResult) error {
	resp := domain.FailureResponse{Results: results}
	failed := resp.Failed()
	status := http.StatusBadGateway
	for _, r := range failed {
		if r.TimedOut {
			status = http.StatusGatewayTimeout
			break
		}
	}
	resp.Error = fmt.Sprintf("%d of %d commands failed", len(failed), len(results))
	metrics.SetErrorStage("command")
	return c.JSON(status, resp)
}

func writePushFile(dir string, payload []byte) (string, error) {
	path := filepath.Join(dir, uuid.NewString()+pushFileSuffix)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// alreadyAbsent reports whether a failed delete only failed because the key
// or domain did not exist. Launch failures and timeouts never qualify.
func alreadyAbsent(out simctl.Outcome) bool {
	if out.Err != nil || out.TimedOut || out.ExitCode <= 0 {
		return false
	}
	text := out.Stdout + out.Stderr
	for _, re := range missingDefaultPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
