package relay

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeffwatkins/Pterodactyl/domain"
	"github.com/jeffwatkins/Pterodactyl/simctl"
)

const (
	tracerName         = "github.com/jeffwatkins/Pterodactyl/relay"
	relayEventName     = "relay.request"
	relayEventDomain   = "pterodactyl.relay"
	observabilityEvent = "observability.event"
)

type requestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	endpoint       domain.Endpoint
	start          time.Time
	decodeDuration time.Duration
	execDuration   time.Duration
	commandsRun    int
	commandsFailed int
	simulatorID    string
	appBundleID    string
	errorStage     string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, endpoint domain.Endpoint) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName(endpoint), trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger:   logger,
		span:     span,
		endpoint: endpoint,
		start:    time.Now(),
	}, ctx
}

func spanName(endpoint domain.Endpoint) string {
	return "relay." + endpoint.Path()
}

func (m *requestMetrics) ObserveDecode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.decodeDuration = duration
}

func (m *requestMetrics) ObserveCommand(out simctl.Outcome) {
	m.commandsRun++
	if !out.Succeeded() {
		m.commandsFailed++
	}
	if out.Duration > 0 {
		m.execDuration += out.Duration
	}
}

func (m *requestMetrics) SetTarget(simulatorID, appBundleID string) {
	m.simulatorID = simulatorID
	m.appBundleID = appBundleID
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) attributes(status int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.route", "/"+m.endpoint.Path()),
		attribute.Int("http.status_code", status),
		attribute.Float64("pterodactyl.relay.total_ms", durationToMillis(time.Since(m.start))),
		attribute.Int("pterodactyl.relay.commands_run", m.commandsRun),
		attribute.Int("pterodactyl.relay.commands_failed", m.commandsFailed),
	}
	if m.simulatorID != "" {
		attrs = append(attrs, attribute.String("pterodactyl.relay.simulator_id", m.simulatorID))
	}
	if m.appBundleID != "" {
		attrs = append(attrs, attribute.String("pterodactyl.relay.app_bundle_id", m.appBundleID))
	}
	if m.decodeDuration > 0 {
		attrs = append(attrs, attribute.Float64("pterodactyl.relay.decode_ms", durationToMillis(m.decodeDuration)))
	}
	if m.execDuration > 0 {
		attrs = append(attrs, attribute.Float64("pterodactyl.relay.exec_ms", durationToMillis(m.execDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("pterodactyl.relay.error_stage", m.errorStage))
	}
	return attrs
}

// Log ends the request span and emits one structured log entry describing
// the request.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	attrs := m.attributes(status)
	severityText, severityNumber := severityForStatus(status, err)

	m.span.SetAttributes(attrs...)
	switch {
	case err != nil:
		m.span.RecordError(err)
		m.span.SetStatus(codes.Error, err.Error())
	case status >= http.StatusInternalServerError:
		m.span.SetStatus(codes.Error, http.StatusText(status))
	default:
		m.span.SetStatus(codes.Ok, "")
	}

	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", relayEventName),
		attribute.String("event.domain", relayEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)
	if err != nil {
		eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
	}
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))

	if m.logger != nil {
		logged := make(map[string]any, len(attrs))
		for _, kv := range attrs {
			logged[string(kv.Key)] = kv.Value.AsInterface()
		}
		fields := log.Fields{
			"event.name":      relayEventName,
			"event.domain":    relayEventDomain,
			"severity_text":   severityText,
			"severity_number": severityNumber,
			"attributes":      logged,
		}
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		m.logger.WithFields(fields).Log(levelForSeverity(severityText), observabilityEvent)
	}

	m.span.End()
}

// severityForStatus maps a response onto OpenTelemetry log severities.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func levelForSeverity(text string) log.Level {
	switch text {
	case "ERROR":
		return log.ErrorLevel
	case "WARN":
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
