package client

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultTimeout bounds one request, including the relay's command run.
const DefaultTimeout = 30 * time.Second

type settings struct {
	host       string
	port       int
	httpClient *http.Client
	timeout    time.Duration
	logger     *log.Logger
	gzip       bool
}

// Option customises a Client.
type Option func(*settings)

// WithHost overrides PTERODACTYL_HOST.
func WithHost(host string) Option {
	return func(s *settings) { s.host = host }
}

// WithPort overrides PTERODACTYL_PORT.
func WithPort(port int) Option {
	return func(s *settings) { s.port = port }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// WithTimeout sets the per-request deadline. Zero waits indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

func WithLogger(l *log.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithGzip compresses request bodies.
func WithGzip(enabled bool) Option {
	return func(s *settings) { s.gzip = enabled }
}
