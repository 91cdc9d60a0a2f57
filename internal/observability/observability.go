// Package observability installs the process-wide slog logger.
//
// Logs go either to a local slog handler (text or JSON on stderr) or through
// the OpenTelemetry log SDK to an exporter. OTLP exporters are configured with
// the standard OTEL_EXPORTER_OTLP_* environment variables.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const instrumentationName = "github.com/canyapan/fxsync"

// Exporter selects where log records are sent.
type Exporter string

const (
	ExporterNone     Exporter = "none"
	ExporterStdout   Exporter = "stdout"
	ExporterOTLPHTTP Exporter = "otlp-http"
	ExporterOTLPGRPC Exporter = "otlp-grpc"
)

// Config controls logger setup.
type Config struct {
	Level    slog.Level
	Format   string // text or json, used when Exporter is none
	Exporter Exporter
	Output   io.Writer // defaults to os.Stderr
}

// ShutdownFunc flushes and releases logging resources.
type ShutdownFunc func(context.Context) error

// Instrument builds a logger from cfg and makes it the slog default.
func Instrument(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	logger, shutdown, err := NewLogger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return shutdown, nil
}

// NewLogger builds a logger from cfg without installing it.
func NewLogger(ctx context.Context, cfg Config) (*slog.Logger, ShutdownFunc, error) {
	switch cfg.Exporter {
	case ExporterNone, "":
		handler, err := newLocalHandler(cfg)
		if err != nil {
			return nil, nil, err
		}
		return slog.New(handler), func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating %s log exporter: %w", cfg.Exporter, err)
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severityFor(cfg.Level))
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))

	handler := otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))
	return slog.New(handler), provider.Shutdown, nil
}

func newLocalHandler(cfg Config) (slog.Handler, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}

	switch cfg.Format {
	case "json":
		return slog.NewJSONHandler(out, opts), nil
	case "text", "":
		return slog.NewTextHandler(out, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}
}

func newExporter(ctx context.Context, cfg Config) (sdklog.Exporter, error) {
	switch cfg.Exporter {
	case ExporterStdout:
		opts := []stdoutlog.Option{}
		if cfg.Output != nil {
			opts = append(opts, stdoutlog.WithWriter(cfg.Output))
		}
		return stdoutlog.New(opts...)
	case ExporterOTLPHTTP:
		return otlploghttp.New(ctx)
	case ExporterOTLPGRPC:
		return otlploggrpc.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported log exporter: %s", cfg.Exporter)
	}
}

// severityFor maps a slog level to the minimum OpenTelemetry severity.
func severityFor(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
