// Package telemetry wires tracing and the Prometheus metrics endpoint for a
// friday process.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config selects what Setup enables.
type Config struct {
	// ServiceVersion is recorded on every span.
	ServiceVersion string
	// TracePath receives spans as JSON. Empty disables tracing.
	TracePath string
	// MetricsAddr is the host:port for /metrics. Empty disables the endpoint.
	MetricsAddr string
}

// ShutdownFunc flushes exporters and stops the metrics server.
type ShutdownFunc func(ctx context.Context) error

// TracePath returns the default span file for a working directory.
func TracePath(workDir string) string {
	return filepath.Join(workDir, ".friday", "logs", "trace.json")
}

// Setup installs the global tracer provider and starts the metrics server
// as configured. The returned func is never nil.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	var shutdownFuncs []ShutdownFunc

	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(shutdownFuncs) - 1; i >= 0; i-- {
			if err := shutdownFuncs[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	if cfg.TracePath != "" {
		tp, closeFile, err := initTracer(cfg)
		if err != nil {
			return shutdown, fmt.Errorf("init tracer: %w", err)
		}
		otel.SetTracerProvider(tp)
		shutdownFuncs = append(shutdownFuncs, func(ctx context.Context) error {
			err := tp.Shutdown(ctx)
			return errors.Join(err, closeFile())
		})
	}

	if cfg.MetricsAddr != "" {
		srv, err := serveMetrics(cfg.MetricsAddr)
		if err != nil {
			shutdown(ctx)
			return func(context.Context) error { return nil }, fmt.Errorf("serve metrics: %w", err)
		}
		shutdownFuncs = append(shutdownFuncs, srv.Shutdown)
	}

	return shutdown, nil
}

func initTracer(cfg Config) (*sdktrace.TracerProvider, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.TracePath), 0755); err != nil {
		return nil, nil, fmt.Errorf("create trace directory: %w", err)
	}
	f, err := os.OpenFile(cfg.TracePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open trace file: %w", err)
	}

	exporter, err := newExporter(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("create exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", "friday"),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	return tp, f.Close, nil
}

func newExporter(w io.Writer) (sdktrace.SpanExporter, error) {
	return stdouttrace.New(stdouttrace.WithWriter(w))
}

// serveMetrics binds addr before returning so a bad address fails fast.
func serveMetrics(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[telemetry] metrics server: %v", err)
		}
	}()
	log.Printf("[telemetry] serving metrics on http://%s/metrics", ln.Addr())
	return srv, nil
}
