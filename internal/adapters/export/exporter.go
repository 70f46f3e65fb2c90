// Package export renders accessor responses into stored artifacts.
package export

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"usqutils/internal/blob"
	"usqutils/internal/core"
	"usqutils/pkg/domain"
)

// Status describes the lifecycle stage of an export request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// KeyPrefix is the blob prefix under which artifacts are stored.
const KeyPrefix = "exports"

// Artifact captures one stored rendering.
type Artifact struct {
	ID          string            `json:"id"`
	Key         string            `json:"key"`
	Format      Format            `json:"format"`
	ContentType string            `json:"content_type"`
	SizeBytes   int64             `json:"size_bytes"`
	URL         string            `json:"url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Record tracks an export request and its artifacts.
type Record struct {
	ID          string             `json:"id"`
	Title       string             `json:"title,omitempty"`
	Shape       domain.ReturnShape `json:"return_shape"`
	Formats     []Format           `json:"formats"`
	Status      Status             `json:"status"`
	Error       string             `json:"error,omitempty"`
	Rows        int                `json:"rows"`
	Artifacts   []Artifact         `json:"artifacts,omitempty"`
	RequestedBy string             `json:"requested_by,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// Input is an export request.
type Input struct {
	Request     core.Request
	Formats     []Format
	Title       string
	RequestedBy string
	Reason      string
}

// MetadataSource answers accessor requests. *core.Service satisfies it.
type MetadataSource interface {
	GetMetadata(ctx context.Context, req core.Request) (core.Response, error)
}

// AuditLogger records export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures one export state transition.
type AuditEntry struct {
	ID         string             `json:"id"`
	ExportID   string             `json:"export_id"`
	Action     string             `json:"action"`
	Actor      string             `json:"actor,omitempty"`
	Shape      domain.ReturnShape `json:"return_shape"`
	Status     Status             `json:"status"`
	Reason     string             `json:"reason,omitempty"`
	Metadata   map[string]string  `json:"metadata,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithAudit sets the audit logger.
func WithAudit(audit AuditLogger) Option {
	return func(e *Exporter) { e.audit = audit }
}

// WithLogger sets the logger used for failures.
func WithLogger(logger core.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Exporter renders accessor results and stores them as artifacts, keeping a
// record of every export it ran.
type Exporter struct {
	source MetadataSource
	store  blob.Store
	audit  AuditLogger
	logger core.Logger

	mu   sync.RWMutex
	jobs map[string]*Record
}

// NewExporter constructs an exporter reading from source and storing
// artifacts in store. A nil store keeps artifacts unstored; only their
// descriptors are recorded.
func NewExporter(source MetadataSource, store blob.Store, opts ...Option) *Exporter {
	e := &Exporter{
		source: source,
		store:  store,
		logger: core.NewNoopLogger(),
		jobs:   make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export runs an export and returns the final record. A failed export is
// returned together with its error.
func (ex *Exporter) Export(ctx context.Context, input Input) (Record, error) {
	record, err := ex.register(ctx, input)
	if err != nil {
		return Record{}, err
	}
	ex.process(ctx, record.ID, input)
	final, _ := ex.Get(record.ID)
	if final.Status == StatusFailed {
		return final, errors.New(final.Error)
	}
	return final, nil
}

// Get returns a snapshot of the export record.
func (ex *Exporter) Get(id string) (Record, bool) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	record, ok := ex.jobs[id]
	if !ok {
		return Record{}, false
	}
	return record.copy(), true
}

func (ex *Exporter) register(ctx context.Context, input Input) (Record, error) {
	if ex.source == nil {
		return Record{}, fmt.Errorf("export source not configured")
	}
	shape := input.Request.Shape
	if shape == "" {
		shape = domain.ShapeTidy
	}
	if !Exportable(shape) {
		return Record{}, domain.ConfigurationError{Parameter: "return_shape", Value: string(shape), Reason: "cannot be exported as a table"}
	}
	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	for _, f := range formats {
		if _, err := ParseFormat(string(f)); err != nil {
			return Record{}, err
		}
		if !slices.Contains(uniq, f) {
			uniq = append(uniq, f)
		}
	}

	now := time.Now().UTC()
	record := Record{
		ID:          uuid.NewString(),
		Title:       input.Title,
		Shape:       shape,
		Formats:     uniq,
		Status:      StatusPending,
		RequestedBy: input.RequestedBy,
		Reason:      input.Reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ex.mu.Lock()
	ex.jobs[record.ID] = &record
	snapshot := record.copy()
	ex.mu.Unlock()
	ex.record(ctx, record.ID, StatusPending, nil)
	return snapshot, nil
}

func (ex *Exporter) process(ctx context.Context, id string, input Input) {
	record, ok := ex.Get(id)
	if !ok {
		return
	}
	ex.updateStatus(ctx, id, StatusRunning)

	resp, err := ex.source.GetMetadata(ctx, input.Request)
	if err != nil {
		ex.fail(ctx, id, fmt.Sprintf("get metadata: %v", err))
		return
	}
	tbl, err := Tabulate(resp)
	if err != nil {
		ex.fail(ctx, id, err.Error())
		return
	}

	artifacts := make([]Artifact, 0, len(record.Formats))
	for _, format := range record.Formats {
		payload, err := Render(format, record.Title, tbl)
		if err != nil {
			ex.fail(ctx, id, err.Error())
			return
		}
		artifactID := uuid.NewString()
		artifact := Artifact{
			ID:          artifactID,
			Key:         path.Join(KeyPrefix, record.ID, artifactID+"."+string(format)),
			Format:      format,
			ContentType: format.ContentType(),
			SizeBytes:   int64(len(payload)),
			Metadata: map[string]string{
				"rows":          strconv.Itoa(tbl.NumRows()),
				"return_shape":  string(record.Shape),
				"store_version": resp.Config.StoreVersion,
			},
			CreatedAt: time.Now().UTC(),
		}
		if ex.store != nil {
			info, err := blob.PutBytes(ctx, ex.store, artifact.Key, payload, artifact.ContentType, artifact.Metadata)
			if err != nil {
				ex.fail(ctx, id, fmt.Sprintf("store artifact failed: %v", err))
				return
			}
			if info.Size > 0 {
				artifact.SizeBytes = info.Size
			}
			if url, err := ex.store.PresignURL(ctx, artifact.Key, blob.PresignOptions{}); err == nil {
				artifact.URL = url
			}
		}
		artifacts = append(artifacts, artifact)
	}
	ex.complete(ctx, id, tbl.NumRows(), artifacts)
}

func (ex *Exporter) updateStatus(ctx context.Context, id string, status Status) {
	ex.mu.Lock()
	if record, ok := ex.jobs[id]; ok {
		record.Status = status
		record.UpdatedAt = time.Now().UTC()
	}
	ex.mu.Unlock()
	ex.record(ctx, id, status, nil)
}

func (ex *Exporter) complete(ctx context.Context, id string, rows int, artifacts []Artifact) {
	now := time.Now().UTC()
	ex.mu.Lock()
	if record, ok := ex.jobs[id]; ok {
		record.Status = StatusSucceeded
		record.Error = ""
		record.Rows = rows
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	ex.mu.Unlock()
	ex.record(ctx, id, StatusSucceeded, map[string]string{"artifacts": strconv.Itoa(len(artifacts))})
}

func (ex *Exporter) fail(ctx context.Context, id, reason string) {
	now := time.Now().UTC()
	ex.mu.Lock()
	if record, ok := ex.jobs[id]; ok {
		record.Status = StatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	ex.mu.Unlock()
	ex.logger.Error("export failed", "export_id", id, "error", reason)
	ex.record(ctx, id, StatusFailed, map[string]string{"error": reason})
}

func (ex *Exporter) record(ctx context.Context, id string, status Status, metadata map[string]string) {
	if ex.audit == nil {
		return
	}
	ex.mu.RLock()
	var actor, reason string
	var shape domain.ReturnShape
	if record, ok := ex.jobs[id]; ok {
		actor, reason, shape = record.RequestedBy, record.Reason, record.Shape
	}
	ex.mu.RUnlock()
	ex.audit.Record(ctx, AuditEntry{
		ID:         uuid.NewString(),
		ExportID:   id,
		Action:     "metadata_export",
		Actor:      actor,
		Shape:      shape,
		Status:     status,
		Reason:     reason,
		Metadata:   metadata,
		OccurredAt: time.Now().UTC(),
	})
}

func (r Record) copy() Record {
	dup := r
	dup.Formats = slices.Clone(r.Formats)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = slices.Clone(r.Artifacts)
	}
	return dup
}

// NewLogAudit returns an AuditLogger writing every export transition to
// logger. Failures are logged at warn level.
func NewLogAudit(logger core.Logger) AuditLogger {
	if logger == nil {
		logger = core.NewNoopLogger()
	}
	return logAudit{logger: logger}
}

type logAudit struct{ logger core.Logger }

func (l logAudit) Record(_ context.Context, e AuditEntry) {
	args := []any{"export_id", e.ExportID, "status", string(e.Status), "return_shape", string(e.Shape)}
	if e.Actor != "" {
		args = append(args, "actor", e.Actor)
	}
	if e.Reason != "" {
		args = append(args, "reason", e.Reason)
	}
	for _, k := range slices.Sorted(maps.Keys(e.Metadata)) {
		args = append(args, k, e.Metadata[k])
	}
	if e.Status == StatusFailed {
		l.logger.Warn(e.Action, args...)
		return
	}
	l.logger.Info(e.Action, args...)
}
