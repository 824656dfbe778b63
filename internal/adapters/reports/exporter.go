// Package reports renders asset register snapshots asynchronously and stores
// them as blob artifacts.
package reports

import (
	"assetcore/internal/blob"
	"assetcore/internal/core"
	"assetcore/pkg/domain"
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status describes the lifecycle stage of a report request.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Format names a rendered artifact encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ErrQueueFull is returned when the worker cannot accept more requests.
var ErrQueueFull = errors.New("reports: queue full")

// Artifact describes a stored report file.
type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Rows        int       `json:"rows"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
}

// Filter narrows the exported assets.
type Filter struct {
	Status   domain.AssetStatus `json:"status,omitempty"`
	Category string             `json:"category,omitempty"`
}

func (f Filter) conditions() []domain.Condition {
	var conds []domain.Condition
	if f.Status != "" {
		conds = append(conds, domain.Where("status", domain.OpEqual, string(f.Status)))
	}
	if f.Category != "" {
		conds = append(conds, domain.Where("category", domain.OpEqual, f.Category))
	}
	return conds
}

// Record tracks a report request and its artifacts.
type Record struct {
	ID          string     `json:"id"`
	Filter      Filter     `json:"filter"`
	Formats     []Format   `json:"formats"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	RequestedBy string     `json:"requested_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Input is an enqueue request.
type Input struct {
	Filter      Filter
	Formats     []Format
	RequestedBy string
}

// Scheduler queues report requests and exposes their status.
type Scheduler interface {
	Enqueue(ctx context.Context, input Input) (Record, error)
	Get(id string) (Record, bool)
	List() []Record
}

// Source lists assets for a report; *core.Service satisfies it.
type Source interface {
	ListAssets(ctx context.Context, conds ...domain.Condition) ([]domain.Asset, error)
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger routes worker failures to logger.
func WithLogger(logger core.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.log = logger
		}
	}
}

// WithAuditRecorder records request and completion entries.
func WithAuditRecorder(audit core.AuditRecorder) Option {
	return func(w *Worker) {
		if audit != nil {
			w.audit = audit
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock core.Clock) Option {
	return func(w *Worker) {
		if clock != nil {
			w.now = clock.Now
		}
	}
}

// WithQueueSize sets the pending request capacity.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queue = make(chan string, n)
		}
	}
}

// Worker executes report requests asynchronously.
type Worker struct {
	source Source
	store  blob.Store
	log    core.Logger
	audit  core.AuditRecorder
	now    func() time.Time

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Scheduler = (*Worker)(nil)

// NewWorker constructs a worker reading from source and writing to store.
func NewWorker(source Source, store blob.Store, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		source: source,
		store:  store,
		log:    nopLogger{},
		audit:  nopAudit{},
		now:    time.Now,
		queue:  make(chan string, 32),
		jobs:   make(map[string]*Record),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins processing requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for the current job.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue validates input and schedules a report.
func (w *Worker) Enqueue(ctx context.Context, input Input) (Record, error) {
	if w.source == nil || w.store == nil {
		return Record{}, errors.New("reports: worker not configured")
	}
	if strings.TrimSpace(input.RequestedBy) == "" {
		return Record{}, domain.Invalidf("requester required")
	}
	if input.Filter.Status != "" && !input.Filter.Status.Valid() {
		return Record{}, domain.Invalidf("unknown asset status %q", input.Filter.Status)
	}
	formats, err := normalizeFormats(input.Formats)
	if err != nil {
		return Record{}, err
	}

	now := w.now().UTC()
	record := Record{
		ID:          uuid.NewString(),
		Filter:      input.Filter,
		Formats:     formats,
		Status:      StatusQueued,
		RequestedBy: input.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[record.ID] = &record
	queued := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- record.ID:
	default:
		w.mu.Lock()
		delete(w.jobs, record.ID)
		w.mu.Unlock()
		return Record{}, ErrQueueFull
	}

	w.audit.Record(ctx, core.AuditEntry{
		Operation: "reports.enqueue",
		Entity:    domain.EntityAsset,
		EntityID:  record.ID,
		Actor:     record.RequestedBy,
		Status:    core.AuditStatusSuccess,
		Timestamp: now,
	})
	return queued, nil
}

// Get returns a snapshot of the record.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return record.copy(), true
}

// List returns every known record, newest first.
func (w *Worker) List() []Record {
	w.mu.RLock()
	out := make([]Record, 0, len(w.jobs))
	for _, record := range w.jobs {
		out = append(out, record.copy())
	}
	w.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (w *Worker) process(id string) {
	record, ok := w.Get(id)
	if !ok {
		return
	}
	start := w.now()
	w.setStatus(id, StatusRunning)

	assets, err := w.source.ListAssets(w.ctx, record.Filter.conditions()...)
	if err != nil {
		w.fail(id, start, fmt.Sprintf("list assets: %v", err))
		return
	}

	artifacts := make([]Artifact, 0, len(record.Formats))
	for _, format := range record.Formats {
		payload, contentType, err := render(format, record, assets, start.UTC())
		if err != nil {
			w.fail(id, start, err.Error())
			return
		}
		key := ArtifactKey(id, format)
		info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: contentType,
			Metadata:    map[string]string{"report": id, "rows": fmt.Sprint(len(assets))},
		})
		if err != nil {
			w.fail(id, start, fmt.Sprintf("store %s: %v", format, err))
			return
		}
		artifacts = append(artifacts, Artifact{
			Key:         key,
			Format:      format,
			ContentType: contentType,
			SizeBytes:   int64(len(payload)),
			Rows:        len(assets),
			URL:         info.URL,
			CreatedAt:   w.now().UTC(),
		})
	}
	w.complete(id, start, artifacts)
}

func (w *Worker) setStatus(id string, status Status) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.UpdatedAt = w.now().UTC()
	}
}

func (w *Worker) complete(id string, start time.Time, artifacts []Artifact) {
	now := w.now().UTC()
	w.mu.Lock()
	record, ok := w.jobs[id]
	if ok {
		record.Status = StatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	actor := ""
	if ok {
		actor = record.RequestedBy
	}
	w.mu.Unlock()
	w.log.Info("report exported", "report_id", id, "artifacts", len(artifacts))
	w.audit.Record(w.ctx, core.AuditEntry{
		Operation: "reports.export",
		Entity:    domain.EntityAsset,
		EntityID:  id,
		Actor:     actor,
		Status:    core.AuditStatusSuccess,
		Duration:  now.Sub(start.UTC()),
		Timestamp: now,
	})
}

func (w *Worker) fail(id string, start time.Time, reason string) {
	now := w.now().UTC()
	w.mu.Lock()
	record, ok := w.jobs[id]
	actor := ""
	if ok {
		record.Status = StatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
		actor = record.RequestedBy
	}
	w.mu.Unlock()
	w.log.Error("report export failed", "report_id", id, "error", reason)
	w.audit.Record(w.ctx, core.AuditEntry{
		Operation: "reports.export",
		Entity:    domain.EntityAsset,
		EntityID:  id,
		Actor:     actor,
		Status:    core.AuditStatusError,
		Error:     reason,
		Duration:  now.Sub(start.UTC()),
		Timestamp: now,
	})
}

// ArtifactKey is the blob key of a report artifact.
func ArtifactKey(id string, format Format) string {
	return fmt.Sprintf("reports/%s/assets.%s", id, format)
}

func normalizeFormats(formats []Format) ([]Format, error) {
	if len(formats) == 0 {
		return []Format{FormatJSON, FormatCSV}, nil
	}
	out := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{}, len(formats))
	for _, raw := range formats {
		format := Format(strings.ToLower(strings.TrimSpace(string(raw))))
		if format != FormatJSON && format != FormatCSV {
			return nil, domain.Invalidf("unsupported report format %q", raw)
		}
		if _, dup := seen[format]; dup {
			continue
		}
		seen[format] = struct{}{}
		out = append(out, format)
	}
	return out, nil
}

func (r Record) copy() Record {
	dup := r
	dup.Formats = append([]Format(nil), r.Formats...)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = append([]Artifact(nil), r.Artifacts...)
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		dup.CompletedAt = &at
	}
	return dup
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type nopAudit struct{}

func (nopAudit) Record(context.Context, core.AuditEntry) {}
