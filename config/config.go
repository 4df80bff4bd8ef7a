// Package config loads relay and client settings from the environment and,
// for the relay, an optional YAML file.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	// DefaultPort is shared by the relay listener and the client target.
	DefaultPort = 8081
	// SimulatorEnv carries the instance id injected by the test harness.
	SimulatorEnv = "SIMULATOR_UDID"
	PortEnv      = "PTERODACTYL_PORT"
	HostEnv      = "PTERODACTYL_HOST"
)

// Relay configures the relay binary.
type Relay struct {
	Debug          bool          `yaml:"debug" env:"DEBUG" env-default:"false"`
	ListenHost     string        `yaml:"listen_host" env:"PTERODACTYL_LISTEN_HOST" env-default:"127.0.0.1"`
	Port           int           `yaml:"port" env:"PTERODACTYL_PORT" env-default:"8081"`
	ToolPath       string        `yaml:"tool_path" env:"PTERODACTYL_TOOL" env-default:"xcrun"`
	CommandTimeout time.Duration `yaml:"command_timeout" env:"PTERODACTYL_COMMAND_TIMEOUT" env-default:"30s"`
	PushDir        string        `yaml:"push_dir" env:"PTERODACTYL_PUSH_DIR"`
	BodyLimit      string        `yaml:"body_limit" env:"PTERODACTYL_BODY_LIMIT" env-default:"1M"`
	Redis          string        `yaml:"redis" env:"REDIS_CONNECTION_STRING"`
	JournalChannel string        `yaml:"journal_channel" env:"JOURNAL_CHANNEL" env-default:"pterodactyl.invocations"`
	OTLPEndpoint   string        `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// LoadRelay reads the relay configuration. When path is set the file is read
// first and environment variables override it.
func LoadRelay(path string) (Relay, error) {
	var cfg Relay
	var err error
	if path == "" {
		err = cleanenv.ReadEnv(&cfg)
	} else {
		err = cleanenv.ReadConfig(path, &cfg)
	}
	if err != nil {
		return Relay{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Relay{}, err
	}
	return cfg, nil
}

// Validate checks ranges and that the listener stays on loopback.
func (c Relay) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if !IsLoopback(c.ListenHost) {
		return fmt.Errorf("listen host %q is not a loopback address", c.ListenHost)
	}
	if c.CommandTimeout < 0 {
		return fmt.Errorf("invalid command timeout %v", c.CommandTimeout)
	}
	if strings.TrimSpace(c.ToolPath) == "" {
		return fmt.Errorf("tool path is required")
	}
	return nil
}

// Addr is the host:port the relay listens on.
func (c Relay) Addr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.Port))
}

// IsLoopback accepts "localhost" and loopback IP literals.
func IsLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Client configures where the driver sends requests.
type Client struct {
	Host string `env:"PTERODACTYL_HOST" env-default:"localhost"`
	Port int    `env:"PTERODACTYL_PORT" env-default:"8081"`
}

// LoadClient reads the client target from the environment. On malformed
// values it returns the defaults together with the error.
func LoadClient() (Client, error) {
	var cfg Client
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Client{Host: "localhost", Port: DefaultPort}, fmt.Errorf("config error: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Client{Host: cfg.Host, Port: DefaultPort}, fmt.Errorf("invalid %s %d", PortEnv, cfg.Port)
	}
	return cfg, nil
}
