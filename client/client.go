// Package client is the test-side driver: it asks a relay running on the
// host to deliver pushes and edit preferences inside a simulator.
package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/jeffwatkins/Pterodactyl/config"
	"github.com/jeffwatkins/Pterodactyl/domain"
)

const maxResponseSize = 1 << 20

// Client sends requests for a single application. It is safe for concurrent
// use, though calls against the same simulator are best kept sequential.
type Client struct {
	appBundleID string
	baseURL     string
	http        *http.Client
	timeout     time.Duration
	logger      *log.Logger
	gzip        bool
}

// New creates a client for appBundleID. Host and port come from
// PTERODACTYL_HOST and PTERODACTYL_PORT unless overridden by options;
// unusable values fall back to localhost:8081 with a warning.
func New(appBundleID string, opts ...Option) *Client {
	cfg, cfgErr := config.LoadClient()
	s := settings{
		host:    cfg.Host,
		port:    cfg.Port,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = log.StandardLogger()
	}
	if cfgErr != nil {
		s.logger.Warnf("ignoring relay address from environment: %v", cfgErr)
	}
	if s.host == "" {
		s.host = "localhost"
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{}
	}

	return &Client{
		appBundleID: appBundleID,
		baseURL:     "http://" + net.JoinHostPort(s.host, strconv.Itoa(s.port)),
		http:        s.httpClient,
		timeout:     s.timeout,
		logger:      s.logger,
		gzip:        s.gzip,
	}
}

// AppBundleID returns the application every request targets.
func (c *Client) AppBundleID() string { return c.appBundleID }

// TriggerNotification delivers {"aps": {"alert": message, ...extra}}.
func (c *Client) TriggerNotification(ctx context.Context, message string, extra map[string]any) error {
	return c.TriggerNotificationPayload(ctx, domain.AlertPayload(message, extra))
}

// TriggerNotificationPayload delivers payload verbatim.
func (c *Client) TriggerNotificationPayload(ctx context.Context, payload map[string]any) error {
	req, err := domain.NewPushRequest(simulatorID(), c.appBundleID, payload)
	if err != nil {
		return &RequestError{Kind: ErrRequestFailed, Endpoint: domain.EndpointPush, Err: err}
	}
	return c.send(ctx, domain.EndpointPush, req)
}

// SetPreferences writes every entry of prefs into the app's defaults.
func (c *Client) SetPreferences(ctx context.Context, prefs map[string]domain.Value) error {
	req := domain.NewUpdateDefaultsRequest(simulatorID(), c.appBundleID, prefs)
	return c.send(ctx, domain.EndpointUpdateDefaults, req)
}

// DeletePreferences removes keys from the app's defaults. Absent keys are
// not an error.
func (c *Client) DeletePreferences(ctx context.Context, keys []string) error {
	req := domain.NewDeleteDefaultsRequest(simulatorID(), c.appBundleID, keys)
	return c.send(ctx, domain.EndpointDeleteDefaults, req)
}

// WithPreferences sets prefs, runs body, then deletes the same keys. When the
// set fails body is skipped and the set error returned; if the relay ran the
// writes and some of them failed, the keys are still deleted since the rest
// may have been stored. Cleanup failures are logged and dropped; body's error
// is returned.
func (c *Client) WithPreferences(ctx context.Context, prefs map[string]domain.Value, body func() error) error {
	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	cleanup := func() {
		if err := c.DeletePreferences(context.WithoutCancel(ctx), keys); err != nil {
			c.logger.Errorf("error removing preferences %s: %v", strings.Join(keys, ", "), err)
		}
	}

	if err := c.SetPreferences(ctx, prefs); err != nil {
		var execErr *CommandExecutionError
		if errors.As(err, &execErr) {
			cleanup()
		}
		return err
	}
	defer cleanup()

	return body()
}

func simulatorID() string {
	if id := os.Getenv(config.SimulatorEnv); id != "" {
		return id
	}
	return domain.BootedSimulator
}

func (c *Client) endpointURL(endpoint domain.Endpoint) string {
	switch endpoint {
	case domain.EndpointPush, domain.EndpointUpdateDefaults, domain.EndpointDeleteDefaults:
		return c.baseURL + "/" + endpoint.Path()
	default:
		panic(fmt.Sprintf("client: no route for endpoint %s", endpoint))
	}
}

func (c *Client) encode(body any) (io.Reader, error) {
	data, err := sonic.ConfigStd.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if !c.gzip {
		return bytes.NewReader(data), nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compress request: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress request: %w", err)
	}
	return &buf, nil
}

func (c *Client) send(ctx context.Context, endpoint domain.Endpoint, body any) error {
	url := c.endpointURL(endpoint)
	reader, err := c.encode(body)
	if err != nil {
		return &RequestError{Kind: ErrRequestFailed, Endpoint: endpoint, Err: err}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return &RequestError{Kind: ErrRequestFailed, Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	c.logger.Debugf("sending %s request to %s", endpoint, url)
	resp, err := c.http.Do(req)
	if err != nil {
		return &RequestError{Kind: ErrServerNotFound, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	text, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if readErr != nil {
		// the status line arrived, so the relay did answer
		if resp.StatusCode == http.StatusOK {
			c.logger.Warnf("%s succeeded but the confirmation could not be read: %v", endpoint, readErr)
			return nil
		}
		return &RequestError{Kind: ErrRequestFailed, Endpoint: endpoint, Status: resp.StatusCode, Err: readErr}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		c.logger.Debugf("%s: %s", endpoint, text)
		return nil
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		var failure domain.FailureResponse
		if err := sonic.ConfigStd.Unmarshal(text, &failure); err == nil && len(failure.Results) > 0 {
			return &CommandExecutionError{
				Endpoint: endpoint,
				Status:   resp.StatusCode,
				Message:  failure.Error,
				Results:  failure.Results,
			}
		}
	}
	return &RequestError{
		Kind:     ErrRequestFailed,
		Endpoint: endpoint,
		Status:   resp.StatusCode,
		Body:     strings.TrimSpace(string(text)),
	}
}
