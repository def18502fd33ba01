package observability

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var (
	MessagesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_hub_bus_messages_total",
			Help: "Bus messages handled, by topic kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	ReadingsPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_hub_readings_persisted_total",
			Help: "Readings written to the store.",
		},
	)
	EventsBroadcast = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_hub_events_broadcast_total",
			Help: "Events handed to the push broadcaster, by event type.",
		},
		[]string{"event"},
	)
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_hub_http_requests_total",
			Help: "HTTP requests by endpoint and method.",
		},
		[]string{"endpoint", "method"},
	)
)

func init() {
	prometheus.MustRegister(MessagesIngested, ReadingsPersisted, EventsBroadcast, RequestCounter)
}

// RegisterClientGauge exposes the broadcaster's live connection count.
func RegisterClientGauge(count func() int) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "telemetry_hub_ws_clients",
			Help: "Currently connected WebSocket clients.",
		},
		func() float64 { return float64(count()) },
	))
}

// Setup wires the otel meter provider to the prometheus registry and
// installs a tracer provider. Spans are exported over OTLP/HTTP when
// otlpEndpoint (host:port) is set; with no endpoint tracing stays
// in-process only. Returns the /metrics handler.
func Setup(serviceName, otlpEndpoint string) (shutdown func(), promHandler http.Handler, tracer oteltrace.Tracer) {
	promExporter, err := otelprom.New()
	if err != nil {
		slog.Error("prometheus exporter init failed", "error", err)
	} else {
		meterProvider := otelmetric.NewMeterProvider(otelmetric.WithReader(promExporter))
		otel.SetMeterProvider(meterProvider)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		slog.Error("otel resource init failed", "error", err)
	}

	tpOpts := []trace.TracerProviderOption{trace.WithResource(res)}
	if otlpEndpoint != "" {
		exp, err := otlptracehttp.New(context.Background(),
			otlptracehttp.WithEndpoint(otlpEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			slog.Error("otlp trace exporter init failed", "endpoint", otlpEndpoint, "error", err)
		} else {
			tpOpts = append(tpOpts, trace.WithBatcher(exp))
			slog.Info("otlp trace export enabled", "endpoint", otlpEndpoint)
		}
	}

	tp := trace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	shutdown = func() {
		_ = tp.Shutdown(context.Background())
	}
	return shutdown, promhttp.Handler(), otel.Tracer(serviceName)
}

// Middleware counts requests per endpoint and opens a span per request.
func Middleware(tracer oteltrace.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			RequestCounter.WithLabelValues(r.URL.Path, r.Method).Inc()

			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
			span.SetAttributes(
				semconv.HTTPMethod(r.Method),
				semconv.HTTPTarget(r.URL.Path),
			)
			next.ServeHTTP(rw, r.WithContext(ctx))
			span.SetAttributes(semconv.HTTPStatusCode(rw.status))
			span.End()
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
