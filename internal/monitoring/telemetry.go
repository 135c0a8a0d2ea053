package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"secretsanta/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
)

type Telemetry interface {
	RecordGameCreated(ctx context.Context, participants int)
	RecordReassignment(ctx context.Context, approved bool)
	RecordFullReshuffle(ctx context.Context)
	Logger() *slog.Logger
	Shutdown(ctx context.Context) error
}

type OpenTelemetry struct {
	tracerProvider *trace.TracerProvider
	loggerProvider *sdklog.LoggerProvider
	meterProvider  *sdkmetric.MeterProvider
	config         config.TelemetryConfig

	// Metrics instruments
	gamesCreated   metric.Int64Counter
	reassignments  metric.Int64Counter
	fullReshuffles metric.Int64Counter
}

// NewOpenTelemetry creates a telemetry instance with OTLP gRPC exporters for
// traces, logs, and metrics. With telemetry disabled all recorders are no-ops.
func NewOpenTelemetry(cfg config.TelemetryConfig) (Telemetry, error) {
	if !cfg.Enabled || cfg.ExporterURL == "" {
		slog.Info("Telemetry disabled or no exporter URL provided")
		return &OpenTelemetry{config: cfg}, nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	traceExporter, err := createTraceExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	logExporter, err := createLogExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}

	metricExporter, err := createMetricExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(traceExporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(cfg.SamplingRatio)),
	)

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		sdklog.WithResource(res),
	)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(10*time.Second))),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tel := &OpenTelemetry{
		tracerProvider: tp,
		loggerProvider: lp,
		meterProvider:  mp,
		config:         cfg,
	}

	if err := tel.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	slog.Info("Telemetry initialized successfully",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"environment", cfg.Environment,
		"endpoint", cfg.ExporterURL,
		"sampling_ratio", cfg.SamplingRatio,
	)

	return tel, nil
}

func createTraceExporter(cfg config.TelemetryConfig) (trace.SpanExporter, error) {
	return otlptracegrpc.New(context.Background(), []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.ExporterURL),
		otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()),
	}...)
}

func createLogExporter(cfg config.TelemetryConfig) (sdklog.Exporter, error) {
	return otlploggrpc.New(context.Background(), []otlploggrpc.Option{
		otlploggrpc.WithEndpoint(cfg.ExporterURL),
		otlploggrpc.WithTLSCredentials(insecure.NewCredentials()),
	}...)
}

func createMetricExporter(cfg config.TelemetryConfig) (sdkmetric.Exporter, error) {
	return otlpmetricgrpc.New(context.Background(), []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.ExporterURL),
		otlpmetricgrpc.WithTLSCredentials(insecure.NewCredentials()),
	}...)
}

func (t *OpenTelemetry) initMetrics() error {
	if !t.IsEnabled() {
		return nil
	}

	meter := otel.Meter("secretsanta")

	var err error

	t.gamesCreated, err = meter.Int64Counter(
		"secretsanta_games_created_total",
		metric.WithDescription("Total number of games created"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create games counter: %w", err)
	}

	t.reassignments, err = meter.Int64Counter(
		"secretsanta_reassignments_total",
		metric.WithDescription("Total number of reassignment approvals attempted"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create reassignments counter: %w", err)
	}

	t.fullReshuffles, err = meter.Int64Counter(
		"secretsanta_full_reshuffles_total",
		metric.WithDescription("Total number of full assignment regenerations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create reshuffles counter: %w", err)
	}

	return nil
}

func (t *OpenTelemetry) RecordGameCreated(ctx context.Context, participants int) {
	if t.gamesCreated == nil {
		return
	}
	t.gamesCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("participants", participants),
	))
}

func (t *OpenTelemetry) RecordReassignment(ctx context.Context, approved bool) {
	if t.reassignments == nil {
		return
	}
	t.reassignments.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("approved", approved),
	))
}

func (t *OpenTelemetry) RecordFullReshuffle(ctx context.Context) {
	if t.fullReshuffles == nil {
		return
	}
	t.fullReshuffles.Add(ctx, 1)
}

// Shutdown gracefully shuts down the telemetry
func (t *OpenTelemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}

	if t.loggerProvider != nil {
		if err := t.loggerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("log provider shutdown: %w", err))
		}
	}

	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %v", errs)
	}

	return nil
}

// Tracer returns a tracer for the given name
func (t *OpenTelemetry) Tracer(name string) oteltrace.Tracer {
	return otel.Tracer(name)
}

// Logger returns a slog.Logger that sends logs to OpenTelemetry if enabled,
// otherwise to stderr.
func (t *OpenTelemetry) Logger() *slog.Logger {
	if t.IsEnabled() {
		return slog.New(NewOTelHandler(&slog.HandlerOptions{AddSource: true}))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{AddSource: true, Level: slog.LevelDebug}))
}

// IsEnabled returns whether telemetry is enabled
func (t *OpenTelemetry) IsEnabled() bool {
	return t.config.Enabled && t.tracerProvider != nil
}

// OTelHandler is a slog.Handler that sends logs to OpenTelemetry
type OTelHandler struct {
	logger log.Logger
	opts   *slog.HandlerOptions
}

func NewOTelHandler(opts *slog.HandlerOptions) *OTelHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}

	return &OTelHandler{
		logger: global.GetLoggerProvider().Logger("secretsanta.slog"),
		opts:   opts,
	}
}

func (h *OTelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.opts.Level != nil {
		return level >= h.opts.Level.Level()
	}
	return level >= slog.LevelInfo
}

func (h *OTelHandler) Handle(ctx context.Context, record slog.Record) error {
	otelLevel := convertSlogLevel(record.Level)

	logRecord := log.Record{}
	logRecord.SetTimestamp(record.Time)
	logRecord.SetBody(log.StringValue(record.Message))
	logRecord.SetSeverity(otelLevel)
	logRecord.SetSeverityText(record.Level.String())

	// Add trace context if available
	if span := oteltrace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		spanCtx := span.SpanContext()
		logRecord.AddAttributes(
			log.String("trace_id", spanCtx.TraceID().String()),
			log.String("span_id", spanCtx.SpanID().String()),
			log.String("trace_flags", spanCtx.TraceFlags().String()),
		)
	}

	if h.opts.AddSource {
		fs := runtime.CallersFrames([]uintptr{record.PC})
		f, _ := fs.Next()
		if f.File != "" {
			logRecord.AddAttributes(
				log.String("code.filepath", f.File),
				log.String("code.function", f.Function),
				log.Int("code.lineno", f.Line),
			)
		}
	}

	record.Attrs(func(attr slog.Attr) bool {
		logRecord.AddAttributes(convertSlogAttr(attr))
		return true
	})

	h.logger.Emit(ctx, logRecord)

	return nil
}

func (h *OTelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &OTelHandler{
		logger: h.logger,
		opts:   h.opts,
	}
}

func (h *OTelHandler) WithGroup(name string) slog.Handler {
	return &OTelHandler{
		logger: h.logger,
		opts:   h.opts,
	}
}

func convertSlogLevel(level slog.Level) log.Severity {
	switch {
	case level >= slog.LevelError:
		return log.SeverityError
	case level >= slog.LevelWarn:
		return log.SeverityWarn
	case level >= slog.LevelInfo:
		return log.SeverityInfo
	default:
		return log.SeverityDebug
	}
}

func convertSlogAttr(attr slog.Attr) log.KeyValue {
	switch attr.Value.Kind() {
	case slog.KindString:
		return log.String(attr.Key, attr.Value.String())
	case slog.KindInt64:
		return log.Int64(attr.Key, attr.Value.Int64())
	case slog.KindBool:
		return log.Bool(attr.Key, attr.Value.Bool())
	case slog.KindFloat64:
		return log.Float64(attr.Key, attr.Value.Float64())
	default:
		return log.String(attr.Key, attr.Value.String())
	}
}

// NoopTelemetry satisfies Telemetry for tests.
type NoopTelemetry struct{}

func (NoopTelemetry) RecordGameCreated(context.Context, int) {}
func (NoopTelemetry) RecordReassignment(context.Context, bool) {
}
func (NoopTelemetry) RecordFullReshuffle(context.Context) {}
func (NoopTelemetry) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
func (NoopTelemetry) Shutdown(context.Context) error { return nil }
