package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/jeffwatkins/Pterodactyl/config"
	"github.com/jeffwatkins/Pterodactyl/relay"
	"github.com/jeffwatkins/Pterodactyl/simctl"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.LoadRelay(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := setupTracing(ctx)
		if err != nil {
			logger.Fatalf("tracing: %v", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Errorf("tracer shutdown: %v", err)
			}
		}()
	}

	var journal relay.Journal = relay.NopJournal{}
	if cfg.Redis != "" {
		rc := redis.NewClient(relay.ParseRedisConnection(cfg.Redis))
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Warnf("redis unreachable, journal publishes will fail: %v", err)
		}
		journal = relay.NewRedisJournal(rc, cfg.JournalChannel, logger)
		logger.Infof("publishing invocations to %s", cfg.JournalChannel)
	}

	e := relay.New(relay.Options{
		Runner:    simctl.NewExecRunner(cfg.CommandTimeout, logger),
		Tool:      simctl.Tool{Path: cfg.ToolPath},
		Journal:   journal,
		Logger:    logger,
		PushDir:   cfg.PushDir,
		BodyLimit: cfg.BodyLimit,
	})

	go func() {
		logger.Infof("relay listening on %s", cfg.Addr())
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

// setupTracing installs a batching OTLP/HTTP exporter. The endpoint and
// headers are taken from the standard OTEL_EXPORTER_OTLP_* variables.
func setupTracing(ctx context.Context) (func(context.Context) error, error) {
	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "pterodactyl-relay"))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
