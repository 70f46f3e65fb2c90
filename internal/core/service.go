package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"usqutils/pkg/classifier"
	"usqutils/pkg/domain"
	"usqutils/pkg/table"
)

// Service is the session context around a MetadataStore. It owns the session
// change log, persists it after every edit and reports each operation to the
// configured logger, metrics recorder, tracer and audit recorder.
type Service struct {
	store      *MetadataStore
	classifier classifier.Classifier
	session    *domain.ChangeLog
	persist    domain.ChangeLogStore
	persistMu  sync.Mutex // serialises edits and saves

	clock   Clock
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithClassifier sets the subtype classifier used for predictions.
func WithClassifier(c classifier.Classifier) ServiceOption {
	return func(s *Service) { s.classifier = c }
}

// WithChangeLogStore persists the session log after every edit.
func WithChangeLogStore(store domain.ChangeLogStore) ServiceOption {
	return func(s *Service) { s.persist = store }
}

// WithSessionLog continues an existing session log instead of a fresh one.
func WithSessionLog(log *domain.ChangeLog) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.session = log
		}
	}
}

// NewService builds a service over store.
func NewService(store *MetadataStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		session: domain.NewChangeLog(),
		clock:   systemClock{},
		logger:  noopLogger{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		audit:   noopAuditRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the metadata store.
func (s *Service) Store() *MetadataStore { return s.store }

// ChangeLog returns a snapshot of the session log.
func (s *Service) ChangeLog() domain.ChangeLogSnapshot { return s.session.Snapshot() }

// Now returns the service clock reading.
func (s *Service) Now() time.Time { return s.clock.Now() }

// Restore replaces the session log with the persisted one. It is meant to be
// called once, before any edit.
func (s *Service) Restore(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	return s.run(ctx, "restore_change_log", func(ctx context.Context) error {
		snap, err := s.persist.Load(ctx)
		if err != nil {
			return fmt.Errorf("load change log: %w", err)
		}
		s.session = domain.NewChangeLogFrom(snap)
		s.logger.Info("restored change log", "entries", snap.Len())
		return nil
	})
}

// GetMetadata runs the metadata accessor against the service store.
func (s *Service) GetMetadata(ctx context.Context, req Request) (Response, error) {
	var res Response
	err := s.run(ctx, "get_metadata", func(ctx context.Context) error {
		acc := &Accessor{Store: s.store, Classifier: s.classifier, Session: s.session, Logger: s.logger}
		var err error
		res, err = acc.GetMetadata(ctx, req)
		return err
	})
	if err == nil {
		if obs, ok := s.metrics.(samplesKeptObserver); ok {
			obs.ObserveSamplesKept(res.Diagnostics.Kept)
		}
	}
	return res, err
}

// LoadExpressions returns one expression matrix from the service store.
func (s *Service) LoadExpressions(ctx context.Context, tier domain.QualityTier, scheme domain.GeneIDScheme) (*table.Matrix, error) {
	var m *table.Matrix
	err := s.run(ctx, "load_expressions", func(context.Context) error {
		var err error
		m, err = LoadExpressions(s.store, tier, scheme)
		return err
	})
	return m, err
}

// NormalizeColumn applies spec to t, recording the change in the session log.
func (s *Service) NormalizeColumn(ctx context.Context, t *table.Table, spec ColumnSpec) (*table.Table, error) {
	var out *table.Table
	err := s.run(ctx, "normalize_column", func(ctx context.Context) error {
		return s.commit(ctx, func(log *domain.ChangeLog) error {
			var err error
			out, err = NormalizeColumn(t, spec, log, s.clock.Now())
			if err == nil {
				s.logger.Debug("normalized column", "column", spec.Column, "new_name", spec.NewName, "type", spec.Type)
			}
			return err
		})
	})
	return out, err
}

// UpdateCell applies edit to t, recording the correction in the session log.
func (s *Service) UpdateCell(ctx context.Context, t *table.Table, edit CellEdit) (CellEditResult, error) {
	var res CellEditResult
	err := s.run(ctx, "update_cell", func(ctx context.Context) error {
		return s.commit(ctx, func(log *domain.ChangeLog) error {
			var err error
			res, err = UpdateCell(t, edit, log, s.clock.Now())
			if err != nil {
				return err
			}
			for _, w := range res.Warnings {
				s.logger.Warn(w, "column", edit.Column, "id", edit.ID)
			}
			s.logger.Info("updated cell", "key", res.Entry.Key, "rows", len(res.Rows))
			return nil
		})
	})
	return res, err
}

// ResolvePADs maps PAD identifiers to sample identifiers in t.
func (s *Service) ResolvePADs(ctx context.Context, pads []string, t *table.Table, opts PADOptions) (PADResult, error) {
	var res PADResult
	err := s.run(ctx, "resolve_pads", func(context.Context) error {
		var err error
		res, err = ResolvePADs(pads, t, opts)
		if err == nil {
			s.logger.Info("resolved PAD identifiers", "requested", res.RequestedPADs, "matched", res.MatchedSamples)
		}
		return err
	})
	return res, err
}

// commit runs apply against a staged copy of the session log and persists the
// result. The session log only grows once the store has accepted the entries,
// so a failed save leaves both unchanged.
func (s *Service) commit(ctx context.Context, apply func(*domain.ChangeLog) error) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	before := s.session.Snapshot()
	stage := domain.NewChangeLogFrom(before)
	if err := apply(stage); err != nil {
		return err
	}
	next := stage.Snapshot()
	if next.Len() == before.Len() {
		return nil
	}
	if s.persist != nil {
		if err := s.persist.Save(ctx, next); err != nil {
			return fmt.Errorf("persist change log: %w", err)
		}
	}
	for _, c := range next.ColumnChanges[len(before.ColumnChanges):] {
		s.session.AppendColumnChange(c)
	}
	for _, u := range next.CellUpdates[len(before.CellUpdates):] {
		s.session.AppendCellUpdate(u)
	}
	return nil
}

// run wraps one operation with tracing, metrics, audit and error logging.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) (err error) {
	started := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	defer func() {
		finished := s.clock.Now()
		duration := finished.Sub(started)
		span.End(err)
		s.metrics.Observe(ctx, op, err == nil, duration)
		entry := AuditEntry{Operation: op, Status: AuditStatusSuccess, StartedAt: started, FinishedAt: finished, Duration: duration}
		if err != nil {
			entry.Status = AuditStatusError
			entry.Error = err.Error()
			s.logger.Error("operation failed", "operation", op, "error", err)
		}
		s.audit.Record(ctx, entry)
	}()
	if err = ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
