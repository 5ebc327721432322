package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type Level = slog.Level

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelFatal   = slog.Level(12)
)

var levelNames = map[string]slog.Level{
	"TRACE":   LevelTrace,
	"DEBUG":   LevelDebug,
	"INFO":    LevelInfo,
	"WARN":    LevelWarning,
	"WARNING": LevelWarning,
	"ERROR":   LevelError,
	"FATAL":   LevelFatal,
}

// Format selects the log handler
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
	FormatOTLP Format = "otlp"
)

// Options configures the package logger
type Options struct {
	Level       slog.Level
	Format      Format
	ServiceName string
	// SampleEvery keeps one warning or error out of every SampleEvery
	SampleEvery int
	// Output receives json and text records, stdout when nil
	Output io.Writer
}

var (
	Logger   *slog.Logger
	level    = new(slog.LevelVar)
	every    atomic.Int64
	sampled  atomic.Int64
	flushLog func(context.Context) error
)

// Counters are incremented regardless of sampling
var (
	TotalErrors         atomic.Int64
	TotalWarnings       atomic.Int64
	EvaluationFailures  atomic.Int64
	ConfigurationErrors atomic.Int64
)

func init() {
	opts := OptionsFromEnv()
	if err := Setup(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "otlp log export unavailable, logging json to stdout: %v\n", err)
		opts.Format = FormatJSON
		_ = Setup(context.Background(), opts)
	}
}

// OptionsFromEnv reads LOG_LEVEL, LOG_FORMAT, ERROR_SAMPLE_RATE,
// OTEL_ENABLED and OTEL_SERVICE_NAME
func OptionsFromEnv() Options {
	opts := Options{
		Level:       LevelInfo,
		Format:      FormatJSON,
		ServiceName: "simpleexpr",
		SampleEvery: 1,
	}

	if lvl, err := ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		opts.Level = lvl
	}
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), string(FormatText)) {
		opts.Format = FormatText
	}
	if strings.EqualFold(os.Getenv("OTEL_ENABLED"), "true") {
		opts.Format = FormatOTLP
	}
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		opts.ServiceName = name
	}
	if n, err := strconv.Atoi(os.Getenv("ERROR_SAMPLE_RATE")); err == nil && n > 0 {
		opts.SampleEvery = n
	}
	return opts
}

// Setup replaces the package logger. Records from an earlier OTLP setup
// are flushed by Shutdown, not here.
func Setup(ctx context.Context, opts Options) error {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var handler slog.Handler
	switch opts.Format {
	case FormatOTLP:
		h, flush, err := otlpHandler(ctx, opts.ServiceName)
		if err != nil {
			return err
		}
		handler = h
		flushLog = flush
	case FormatText:
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level, ReplaceAttr: levelName})
	default:
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level, ReplaceAttr: levelName})
	}

	level.Set(opts.Level)
	SetSampleRate(opts.SampleEvery)
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
	return nil
}

// levelName spells the trace and fatal levels out instead of DEBUG-4 / ERROR+4
func levelName(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	lvl, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	switch lvl {
	case LevelTrace:
		a.Value = slog.StringValue("TRACE")
	case LevelFatal:
		a.Value = slog.StringValue("FATAL")
	}
	return a
}

// otlpHandler exports records through the OTLP gRPC log exporter, which
// reads its endpoint from the standard OTEL_EXPORTER_OTLP_* variables
func otlpHandler(ctx context.Context, service string) (slog.Handler, func(context.Context) error, error) {
	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("otlp log exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(service),
			semconv.ServiceVersion("1.0.0"),
		)),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	bridge := otelslog.NewHandler("github.com/liamcoop/simpleexpr",
		otelslog.WithLoggerProvider(provider),
	)
	return minLevel{Handler: bridge, min: level}, provider.Shutdown, nil
}

// minLevel drops records below min before they reach the OTLP bridge
type minLevel struct {
	slog.Handler
	min slog.Leveler
}

func (h minLevel) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.min.Level() && h.Handler.Enabled(ctx, l)
}

func (h minLevel) WithAttrs(attrs []slog.Attr) slog.Handler {
	return minLevel{Handler: h.Handler.WithAttrs(attrs), min: h.min}
}

func (h minLevel) WithGroup(name string) slog.Handler {
	return minLevel{Handler: h.Handler.WithGroup(name), min: h.min}
}

// Shutdown flushes pending OTLP records; a no-op for stdout handlers
func Shutdown(ctx context.Context) error {
	if flushLog == nil {
		return nil
	}
	return flushLog(ctx)
}

func SetLevel(l slog.Level) {
	level.Set(l)
}

func GetLevel() slog.Level {
	return level.Level()
}

// ParseLevel accepts the names TRACE through FATAL in any case
func ParseLevel(name string) (slog.Level, error) {
	if l, ok := levelNames[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return l, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// SetSampleRate logs the first warning or error and then every rate-th one
func SetSampleRate(rate int) {
	if rate < 1 {
		rate = 1
	}
	every.Store(int64(rate))
	sampled.Store(0)
}

func keep() bool {
	n := every.Load()
	if n <= 1 {
		return true
	}
	return (sampled.Add(1)-1)%n == 0
}

func Trace(msg string, args ...any) {
	Logger.Log(context.Background(), LevelTrace, msg, args...)
}

func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn is sampled; TotalWarnings is not
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if keep() {
		Logger.Warn(msg, args...)
	}
}

// Error is sampled; TotalErrors is not
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if keep() {
		Logger.Error(msg, args...)
	}
}

// Fatal logs, flushes any exporter and exits with status 1
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	_ = Shutdown(context.Background())
	os.Exit(1)
}

// ErrorEvaluation records an asset whose expression could not be evaluated
func ErrorEvaluation(asset string, err error) {
	EvaluationFailures.Add(1)
	Error("asset evaluation failed", "asset", asset, "error", err)
}

// ErrorConfiguration records a rejected rule configuration
func ErrorConfiguration(op string, err error) {
	ConfigurationErrors.Add(1)
	Error("rule configuration rejected", "op", op, "error", err)
}
