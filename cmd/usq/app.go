package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"usqutils/internal/adapters/export"
	"usqutils/internal/blob"
	"usqutils/internal/bundle"
	"usqutils/internal/classifier/precomputed"
	"usqutils/internal/config"
	"usqutils/internal/core"
	"usqutils/internal/logger"
	"usqutils/pkg/domain"
)

// app holds everything a command needs, built once per invocation.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	blobs    blob.Store
	bundle   *bundle.Bundle
	service  *core.Service
	exporter *export.Exporter
	registry *prometheus.Registry
	closers  []io.Closer
}

// openApp is replaced in tests.
var openApp = newApp

func newApp(ctx context.Context, opts rootOptions) (_ *app, err error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.blobs, err = blob.Open(ctx, cfg.BlobStoreConfig()); err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	loader := bundle.NewLoader(a.blobs, cfg.Bundle.Prefix, bundle.WithConcurrency(cfg.Bundle.Concurrency))
	if a.bundle, err = loader.Load(ctx); err != nil {
		return nil, fmt.Errorf("load bundle %s: %w", cfg.Bundle.Prefix, err)
	}
	log.Debug("loaded bundle", "version", a.bundle.Manifest.Version, "matrices", len(a.bundle.Manifest.Expressions))

	persist, err := core.OpenChangeLogStore(ctx, cfg.StorageConfig())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, persist)

	svcOpts := []core.ServiceOption{
		core.WithLogger(log.With("bundle_version", a.bundle.Manifest.Version)),
		core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(a.registry)),
		core.WithChangeLogStore(persist),
		core.WithAuditRecorder(core.NewLogAuditRecorder(log)),
	}
	if opts.tracePath != "" {
		f, err := os.OpenFile(opts.tracePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		a.closers = append(a.closers, f)
		svcOpts = append(svcOpts, core.WithTracer(core.NewJSONTracer(f)))
	}
	if a.bundle.Predictions != nil {
		clf, err := precomputed.FromBundle(a.bundle)
		if err != nil {
			return nil, err
		}
		svcOpts = append(svcOpts, core.WithClassifier(clf))
	}
	a.service = core.NewService(a.bundle.Store, svcOpts...)
	if err := a.service.Restore(ctx); err != nil {
		return nil, err
	}
	a.exporter = export.NewExporter(a.service, a.blobs,
		export.WithLogger(log),
		export.WithAudit(export.NewLogAudit(log)),
	)
	return a, nil
}

// Close releases the change log store and flushes the logger.
func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	if a.log != nil {
		a.log.Sync()
	}
	return errors.Join(errs...)
}

// writeMetrics dumps the registry in the Prometheus text format. Only the
// service's usq_* families are registered.
func (a *app) writeMetrics(w io.Writer) error {
	families, err := a.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func configError(parameter, value, reason string) error {
	return domain.ConfigurationError{Parameter: parameter, Value: value, Reason: reason}
}
