package client

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/jeffwatkins/Pterodactyl/domain"
)

type capture struct {
	mu      sync.Mutex
	paths   []string
	headers []http.Header
	bodies  [][]byte
	respond func(path string) (int, string)
}

func (c *capture) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var reader io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				t.Errorf("gzip reader: %v", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			reader = zr
		}
		body, _ := io.ReadAll(reader)

		c.mu.Lock()
		c.paths = append(c.paths, r.URL.Path)
		c.headers = append(c.headers, r.Header.Clone())
		c.bodies = append(c.bodies, body)
		respond := c.respond
		c.mu.Unlock()

		status, text := http.StatusOK, "ok"
		if respond != nil {
			status, text = respond(r.URL.Path)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, text)
	}
}

func (c *capture) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func newCaptureServer(t *testing.T) (*capture, []Option) {
	t.Helper()
	c := &capture{}
	srv := httptest.NewServer(c.handler(t))
	t.Cleanup(srv.Close)
	logger, _ := test.NewNullLogger()
	return c, append(targetOptions(t, srv.URL), WithLogger(logger))
}

func targetOptions(t *testing.T, rawURL string) []Option {
	t.Helper()
	host, port, err := net.SplitHostPort(strings.TrimPrefix(rawURL, "http://"))
	if err != nil {
		t.Fatalf("failed to split %s: %v", rawURL, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		t.Fatalf("invalid port %s: %v", port, err)
	}
	return []Option{WithHost(host), WithPort(p)}
}

func decodeBody(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := sonic.Unmarshal(body, &out); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	return out
}

func expectPaths(t *testing.T, srv *capture, want ...string) {
	t.Helper()
	if got := srv.Paths(); !slices.Equal(got, want) {
		t.Fatalf("unexpected requests: got %q want %q", got, want)
	}
}

func TestSetPreferencesPostsTaggedValues(t *testing.T) {
	t.Setenv("SIMULATOR_UDID", "")
	srv, opts := newCaptureServer(t)
	c := New("com.example.App", opts...)

	err := c.SetPreferences(context.Background(), map[string]domain.Value{
		"Test":  domain.String("abc-123"),
		"Count": domain.Int(5),
	})
	if err != nil {
		t.Fatalf("SetPreferences returned error: %v", err)
	}

	expectPaths(t, srv, "/updateDefaults")
	if ct := srv.headers[0].Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type: %s", ct)
	}
	body := decodeBody(t, srv.bodies[0])
	if body["simulatorId"] != "booted" || body["appBundleId"] != "com.example.App" {
		t.Fatalf("unexpected target: %v %v", body["simulatorId"], body["appBundleId"])
	}
	want := map[string]any{
		"Test":  map[string]any{"string": "abc-123"},
		"Count": map[string]any{"int": float64(5)},
	}
	if !reflect.DeepEqual(body["defaults"], want) {
		t.Fatalf("unexpected defaults: %#v", body["defaults"])
	}
}

func TestSimulatorEnvSelectsInstance(t *testing.T) {
	t.Setenv("SIMULATOR_UDID", "5A1B-77")
	srv, opts := newCaptureServer(t)
	c := New("com.example.App", opts...)

	if err := c.DeletePreferences(context.Background(), []string{"Test"}); err != nil {
		t.Fatalf("DeletePreferences returned error: %v", err)
	}
	body := decodeBody(t, srv.bodies[0])
	if body["simulatorId"] != "5A1B-77" {
		t.Fatalf("unexpected simulator: %v", body["simulatorId"])
	}
	if !reflect.DeepEqual(body["keys"], []any{"Test"}) {
		t.Fatalf("unexpected keys: %#v", body["keys"])
	}
}

func TestTriggerNotificationMergesExtraFields(t *testing.T) {
	srv, opts := newCaptureServer(t)
	c := New("com.example.App", opts...)

	err := c.TriggerNotification(context.Background(), "hello", map[string]any{"badge": 3, "sound": "default"})
	if err != nil {
		t.Fatalf("TriggerNotification returned error: %v", err)
	}

	expectPaths(t, srv, "/simulatorPush")
	body := decodeBody(t, srv.bodies[0])
	want := map[string]any{
		"aps": map[string]any{"alert": "hello", "badge": float64(3), "sound": "default"},
	}
	if !reflect.DeepEqual(body["pushPayload"], want) {
		t.Fatalf("unexpected payload: %#v", body["pushPayload"])
	}
}

func TestTriggerNotificationPayloadEncodingFailure(t *testing.T) {
	srv, opts := newCaptureServer(t)
	c := New("com.example.App", opts...)

	err := c.TriggerNotificationPayload(context.Background(), map[string]any{"bad": make(chan int)})
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
	expectPaths(t, srv)
}

func TestGzipOptionCompressesBody(t *testing.T) {
	srv, opts := newCaptureServer(t)
	c := New("com.example.App", append(opts, WithGzip(true))...)

	if err := c.DeletePreferences(context.Background(), []string{"Test"}); err != nil {
		t.Fatalf("DeletePreferences returned error: %v", err)
	}
	if enc := srv.headers[0].Get("Content-Encoding"); enc != "gzip" {
		t.Fatalf("unexpected content encoding: %q", enc)
	}
	if keys := decodeBody(t, srv.bodies[0])["keys"]; !reflect.DeepEqual(keys, []any{"Test"}) {
		t.Fatalf("unexpected keys: %#v", keys)
	}
}

func TestNon200IsRequestFailed(t *testing.T) {
	srv, opts := newCaptureServer(t)
	srv.respond = func(string) (int, string) {
		return http.StatusBadRequest, "invalid body: appBundleId: is required"
	}
	c := New("com.example.App", opts...)

	err := c.SetPreferences(context.Background(), map[string]domain.Value{"Test": domain.Bool(true)})
	if !errors.Is(err, ErrRequestFailed) || errors.Is(err, ErrServerNotFound) {
		t.Fatalf("expected only ErrRequestFailed, got %v", err)
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %T", err)
	}
	if reqErr.Status != http.StatusBadRequest || reqErr.Endpoint != domain.EndpointUpdateDefaults {
		t.Fatalf("unexpected error fields: %+v", reqErr)
	}
	if !strings.Contains(reqErr.Body, "appBundleId") {
		t.Fatalf("unexpected body: %q", reqErr.Body)
	}
}

func TestTruncatedResponseIsRequestFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "short")
	}))
	t.Cleanup(srv.Close)
	logger, _ := test.NewNullLogger()
	c := New("com.example.App", append(targetOptions(t, srv.URL), WithLogger(logger))...)

	err := c.DeletePreferences(context.Background(), []string{"Test"})
	if !errors.Is(err, ErrRequestFailed) || errors.Is(err, ErrServerNotFound) {
		t.Fatalf("expected only ErrRequestFailed, got %v", err)
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected status 500 to be kept, got %v", err)
	}
}

func TestBadGatewayWithResultsIsCommandExecutionError(t *testing.T) {
	srv, opts := newCaptureServer(t)
	srv.respond = func(string) (int, string) {
		body, _ := sonic.Marshal(domain.FailureResponse{
			Error: "1 of 1 commands failed",
			Results: []domain.CommandResult{{
				Key: "Test", Command: "xcrun simctl spawn booted defaults delete com.example.App Test",
				ExitCode: 1, Output: "Invalid device: booted",
			}},
		})
		return http.StatusBadGateway, string(body)
	}
	c := New("com.example.App", opts...)

	err := c.DeletePreferences(context.Background(), []string{"Test"})
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}

	var execErr *CommandExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected CommandExecutionError, got %T", err)
	}
	if execErr.Status != http.StatusBadGateway {
		t.Fatalf("unexpected status: %d", execErr.Status)
	}
	if len(execErr.Results) != 1 || execErr.Results[0].Key != "Test" {
		t.Fatalf("unexpected results: %+v", execErr.Results)
	}
	if execErr.TimedOut() {
		t.Fatal("did not expect a timeout")
	}
	if !strings.Contains(err.Error(), "Invalid device") {
		t.Fatalf("error does not carry command output: %v", err)
	}
}

func TestBadGatewayWithoutResultsIsRequestFailed(t *testing.T) {
	srv, opts := newCaptureServer(t)
	srv.respond = func(string) (int, string) { return http.StatusBadGateway, "upstream proxy error" }
	c := New("com.example.App", opts...)

	err := c.DeletePreferences(context.Background(), []string{"Test"})
	var execErr *CommandExecutionError
	if errors.As(err, &execErr) {
		t.Fatalf("did not expect CommandExecutionError: %v", err)
	}
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
}

func TestUnreachableRelayIsServerNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	opts := targetOptions(t, srv.URL)
	srv.Close()

	logger, _ := test.NewNullLogger()
	c := New("com.example.App", append(opts, WithLogger(logger))...)

	err := c.TriggerNotification(context.Background(), "hello", nil)
	if !errors.Is(err, ErrServerNotFound) || errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected only ErrServerNotFound, got %v", err)
	}
}

func TestSlowRelayIsServerNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	logger, _ := test.NewNullLogger()
	c := New("com.example.App", append(targetOptions(t, srv.URL), WithLogger(logger), WithTimeout(50*time.Millisecond))...)

	start := time.Now()
	err := c.DeletePreferences(context.Background(), []string{"Test"})
	if !errors.Is(err, ErrServerNotFound) {
		t.Fatalf("expected ErrServerNotFound, got %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 2*time.Second {
		t.Fatalf("timeout not applied, took %s", elapsed)
	}
}

func TestAddressFromEnvironment(t *testing.T) {
	srv, _ := newCaptureServer(t)
	// newCaptureServer already started a server; point the env at a second one
	other := httptest.NewServer(srv.handler(t))
	t.Cleanup(other.Close)
	host, port, err := net.SplitHostPort(other.Listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to split listener address: %v", err)
	}
	t.Setenv("PTERODACTYL_HOST", host)
	t.Setenv("PTERODACTYL_PORT", port)

	logger, _ := test.NewNullLogger()
	c := New("com.example.App", WithLogger(logger))
	if want := "http://" + net.JoinHostPort(host, port); c.baseURL != want {
		t.Fatalf("unexpected base URL: got %s want %s", c.baseURL, want)
	}
	if err := c.DeletePreferences(context.Background(), []string{"Test"}); err != nil {
		t.Fatalf("DeletePreferences returned error: %v", err)
	}
	expectPaths(t, srv, "/deleteDefaults")
}

func TestInvalidPortEnvironmentFallsBack(t *testing.T) {
	t.Setenv("PTERODACTYL_HOST", "")
	t.Setenv("PTERODACTYL_PORT", "not-a-port")

	logger, hook := test.NewNullLogger()
	c := New("com.example.App", WithLogger(logger))

	if c.baseURL != "http://localhost:8081" {
		t.Fatalf("unexpected base URL: %s", c.baseURL)
	}
	entry := hook.LastEntry()
	if entry == nil || !strings.Contains(entry.Message, "ignoring relay address") {
		t.Fatalf("expected a warning about the ignored address, got %v", entry)
	}
}

func TestEndpointURLCoversEveryEndpoint(t *testing.T) {
	c := New("com.example.App", WithHost("127.0.0.1"), WithPort(9000))
	for _, endpoint := range domain.Endpoints() {
		if got, want := c.endpointURL(endpoint), "http://127.0.0.1:9000/"+endpoint.Path(); got != want {
			t.Fatalf("unexpected URL for %s: got %s want %s", endpoint, got, want)
		}
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown endpoint")
		}
	}()
	c.endpointURL(domain.Endpoint(99))
}

func TestWithPreferencesCleansUpAfterBody(t *testing.T) {
	srv, opts := newCaptureServer(t)
	c := New("com.example.App", opts...)

	ran := false
	err := c.WithPreferences(context.Background(), map[string]domain.Value{"B": domain.Int(2), "A": domain.Int(1)}, func() error {
		ran = true
		if got := srv.Paths(); !slices.Equal(got, []string{"/updateDefaults"}) {
			t.Errorf("unexpected requests inside body: %q", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithPreferences returned error: %v", err)
	}
	if !ran {
		t.Fatal("body did not run")
	}
	expectPaths(t, srv, "/updateDefaults", "/deleteDefaults")
	if keys := decodeBody(t, srv.bodies[1])["keys"]; !reflect.DeepEqual(keys, []any{"A", "B"}) {
		t.Fatalf("unexpected cleanup keys: %#v", keys)
	}
}

func TestWithPreferencesReturnsBodyError(t *testing.T) {
	srv, opts := newCaptureServer(t)
	c := New("com.example.App", opts...)

	boom := errors.New("assertion failed")
	err := c.WithPreferences(context.Background(), map[string]domain.Value{"A": domain.Int(1)}, func() error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected body error, got %v", err)
	}
	expectPaths(t, srv, "/updateDefaults", "/deleteDefaults")
}

func TestWithPreferencesSkipsBodyWhenSetFails(t *testing.T) {
	srv, opts := newCaptureServer(t)
	srv.respond = func(string) (int, string) { return http.StatusInternalServerError, "nope" }
	c := New("com.example.App", opts...)

	ran := false
	err := c.WithPreferences(context.Background(), map[string]domain.Value{"A": domain.Int(1)}, func() error {
		ran = true
		return nil
	})
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
	if ran {
		t.Fatal("body ran after a failed set")
	}
	expectPaths(t, srv, "/updateDefaults")
}

func TestWithPreferencesCleansUpAfterFailedWrites(t *testing.T) {
	srv, opts := newCaptureServer(t)
	srv.respond = func(path string) (int, string) {
		if path != "/updateDefaults" {
			return http.StatusOK, "Deleted defaults"
		}
		body, _ := sonic.Marshal(domain.FailureResponse{
			Error: "1 of 2 commands failed",
			Results: []domain.CommandResult{
				{Key: "A", Succeeded: true},
				{Key: "B", ExitCode: 1, Output: "Could not write domain"},
			},
		})
		return http.StatusBadGateway, string(body)
	}
	c := New("com.example.App", opts...)

	ran := false
	err := c.WithPreferences(context.Background(), map[string]domain.Value{"B": domain.Int(2), "A": domain.Int(1)}, func() error {
		ran = true
		return nil
	})
	var execErr *CommandExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected the set error, got %v", err)
	}
	if ran {
		t.Fatal("body ran after a failed set")
	}
	expectPaths(t, srv, "/updateDefaults", "/deleteDefaults")
	if keys := decodeBody(t, srv.bodies[1])["keys"]; !reflect.DeepEqual(keys, []any{"A", "B"}) {
		t.Fatalf("unexpected cleanup keys: %#v", keys)
	}
}

func TestWithPreferencesDiscardsCleanupFailure(t *testing.T) {
	srv := &capture{}
	srv.respond = func(path string) (int, string) {
		if path == "/deleteDefaults" {
			return http.StatusInternalServerError, "cleanup broke"
		}
		return http.StatusOK, "Updated defaults"
	}
	server := httptest.NewServer(srv.handler(t))
	t.Cleanup(server.Close)
	logger, hook := test.NewNullLogger()
	c := New("com.example.App", append(targetOptions(t, server.URL), WithLogger(logger))...)

	err := c.WithPreferences(context.Background(), map[string]domain.Value{"A": domain.Int(1)}, func() error { return nil })
	if err != nil {
		t.Fatalf("cleanup failure leaked into the result: %v", err)
	}
	expectPaths(t, srv, "/updateDefaults", "/deleteDefaults")
	entry := hook.LastEntry()
	if entry == nil || !strings.Contains(entry.Message, "error removing preferences A") {
		t.Fatalf("expected cleanup failure to be logged, got %v", entry)
	}
}
