package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/osrs-friend-monitor/friend-monitor-server/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ProvideLogger builds the process logger. The level follows the config file at runtime.
func ProvideLogger(lc fx.Lifecycle, cfg *config.Config) (*slog.Logger, error) {
	level := new(slog.LevelVar)
	l, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	level.Set(l)

	var out io.Writer = os.Stdout
	if cfg.Log.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return rotator.Close() },
		})
		out = rotator
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler).With(
		"service", ServiceName,
		"version", version,
	)
	slog.SetDefault(logger)

	config.Watch(cfg, level, logger)
	return logger, nil
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.With("component", "watermill"))
}

// ProvideTracer installs the global tracer provider. Spans are sampled only when
// tracing is enabled; trace context is always propagated.
func ProvideTracer(lc fx.Lifecycle, cfg *config.Config) *sdktrace.TracerProvider {
	sampler := sdktrace.NeverSample()
	if cfg.Tracing.Enabled {
		sampler = sdktrace.ParentBased(sdktrace.AlwaysSample())
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", ServiceName),
			attribute.String("service.namespace", ServiceNamespace),
			attribute.String("service.version", version),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	lc.Append(fx.Hook{
		OnStop: tp.Shutdown,
	})
	return tp
}
