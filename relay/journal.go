package relay

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/jeffwatkins/Pterodactyl/domain"
	"github.com/jeffwatkins/Pterodactyl/simctl"
)

const publishTimeout = 2 * time.Second

// Invocation describes one executed command.
type Invocation struct {
	Endpoint    string    `json:"endpoint"`
	SimulatorID string    `json:"simulatorId"`
	AppBundleID string    `json:"appBundleId"`
	Key         string    `json:"key,omitempty"`
	Argv        []string  `json:"argv"`
	Succeeded   bool      `json:"succeeded"`
	ExitCode    int       `json:"exitCode"`
	TimedOut    bool      `json:"timedOut,omitempty"`
	DurationMs  float64   `json:"durationMs"`
	Time        time.Time `json:"time"`
}

func newInvocation(endpoint domain.Endpoint, simulatorID, appBundleID, key string, cmd simctl.Command, out simctl.Outcome) Invocation {
	return Invocation{
		Endpoint:    endpoint.Path(),
		SimulatorID: simulatorID,
		AppBundleID: appBundleID,
		Key:         key,
		Argv:        cmd.Argv(),
		Succeeded:   out.Succeeded(),
		ExitCode:    out.ExitCode,
		TimedOut:    out.TimedOut,
		DurationMs:  durationToMillis(out.Duration),
		Time:        time.Now().UTC(),
	}
}

// NopJournal drops every invocation.
type NopJournal struct{}

func (NopJournal) Publish(context.Context, Invocation) {}

// RedisJournal publishes invocations on a Redis pub/sub channel so test
// harnesses can observe what the relay ran. Nothing is stored.
type RedisJournal struct {
	client  *redis.Client
	channel string
	logger  *log.Logger
}

// NewRedisJournal creates a journal publishing on channel.
func NewRedisJournal(client *redis.Client, channel string, logger *log.Logger) *RedisJournal {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisJournal{client: client, channel: channel, logger: logger}
}

func (j *RedisJournal) Publish(ctx context.Context, inv Invocation) {
	payload, err := sonic.ConfigStd.Marshal(inv)
	if err != nil {
		j.logger.Errorf("encode invocation for %s: %v", inv.Endpoint, err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := j.client.Publish(ctx, j.channel, payload).Err(); err != nil {
		j.logger.Errorf("unable to publish invocation for %s to %s: %v", inv.Endpoint, j.channel, err)
	}
}

// ParseRedisConnection accepts either a redis:// URL or the
// "host:port,password=...,ssl=true" form.
func ParseRedisConnection(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
