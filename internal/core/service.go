package core

import (
	"assetcore/internal/infra/persistence/memory"
	"assetcore/pkg/domain"
	"context"
	"errors"
	"time"
)

// Logger is the structured logging surface used by the service. Keys and
// values alternate in kv.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies timestamps for history entries and audit records.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock. A nil ClockFunc reports the current
// time. Returned times are always UTC.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

// MetricsRecorder observes the outcome and latency of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// Tracer starts a span around each service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation error, if any.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// AuditStatus marks whether an audited operation succeeded.
type AuditStatus string

// Audit statuses.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one completed service operation.
type AuditEntry struct {
	Operation string
	Entity    EntityType
	Action    Action
	EntityID  string
	Actor     string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives an entry for every service operation.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	files   *FileStore
}

// WithLogger sets the service logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the clock used when the store does not supply one.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithAuditRecorder sets the audit recorder.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithFileStore enables attachment, image and cleanup operations.
func WithFileStore(files *FileStore) ServiceOption {
	return func(o *serviceOptions) {
		if files != nil {
			o.files = files
		}
	}
}

func applyServiceOptions(opts []ServiceOption) serviceOptions {
	o := serviceOptions{
		logger:  noopLogger{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		audit:   noopAuditRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Service runs the asset lifecycle operations. Every mutating operation
// executes its writes in a single store transaction.
type Service struct {
	store    domain.PersistentStore
	engine   *RulesEngine
	now      func() time.Time
	files    *FileStore
	logger   Logger
	metrics  MetricsRecorder
	tracer   Tracer
	audit    AuditRecorder
	inFlight *inFlightRegistry
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	return newService(store, applyServiceOptions(opts))
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	o := applyServiceOptions(opts)
	var storeOpts []memory.Option
	if o.clock != nil {
		storeOpts = append(storeOpts, memory.WithClock(o.clock.Now))
	}
	return newService(memory.NewStore(engine, storeOpts...), o)
}

func newService(store domain.PersistentStore, o serviceOptions) *Service {
	return &Service{
		store:    store,
		engine:   extractRulesEngine(store),
		now:      selectNowFunc(store, o.clock),
		files:    o.files,
		logger:   o.logger,
		metrics:  o.metrics,
		tracer:   o.tracer,
		audit:    o.audit,
		inFlight: newInFlightRegistry(),
	}
}

type rulesEngineProvider interface {
	RulesEngine() *RulesEngine
}

type nowFuncProvider interface {
	NowFunc() func() time.Time
}

func extractRulesEngine(store domain.PersistentStore) *RulesEngine {
	if provider, ok := store.(rulesEngineProvider); ok {
		return provider.RulesEngine()
	}
	return nil
}

// selectNowFunc prefers the store's clock so records and history share one
// time source, then the configured clock, then wall time.
func selectNowFunc(store domain.PersistentStore, clock Clock) func() time.Time {
	if provider, ok := store.(nowFuncProvider); ok {
		if fn := provider.NowFunc(); fn != nil {
			return func() time.Time { return fn().UTC() }
		}
	}
	if clock != nil {
		return clock.Now
	}
	return ClockFunc(nil).Now
}

// Store returns the underlying record store.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// RulesEngine returns the engine of the underlying store, if it exposes one.
func (s *Service) RulesEngine() *RulesEngine {
	return s.engine
}

// Files returns the configured file store, or nil.
func (s *Service) Files() *FileStore {
	return s.files
}

// op describes one service invocation for run.
type op struct {
	name    string
	entity  EntityType
	action  Action
	target  string
	session Session
}

// run executes fn under the in-flight guard with tracing, metrics, audit and
// logging. fn returns the id of the record it acted on.
func (s *Service) run(ctx context.Context, o op, fn func(ctx context.Context) (string, error)) error {
	release, err := s.inFlight.acquire(o.name, o.target)
	if err != nil {
		s.logger.Warn("operation rejected", "operation", o.name, "target", o.target, "error", err)
		return err
	}
	defer release()

	ctx, span := s.tracer.Start(ctx, o.name)
	started := time.Now()
	id, err := fn(ctx)
	err = classifyError(o.name, err)
	elapsed := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, o.name, err == nil, elapsed)

	if id == "" {
		id = o.target
	}
	entry := AuditEntry{
		Operation: o.name,
		Entity:    o.entity,
		Action:    o.action,
		EntityID:  id,
		Actor:     o.session.Actor(),
		Status:    AuditStatusSuccess,
		Duration:  elapsed,
		Timestamp: s.now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.logger.Error("operation failed", "operation", o.name, "entity", o.entity, "id", id, "error", err)
	} else {
		s.logger.Debug("operation committed", "operation", o.name, "entity", o.entity, "id", id, "duration", elapsed)
	}
	s.audit.Record(ctx, entry)
	return err
}

// classifyError passes typed domain errors through and wraps everything else
// once as a StoreError.
func classifyError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var (
		lv *domain.LifecycleViolation
		nf *domain.NotFoundError
		se *domain.StoreError
	)
	switch {
	case errors.As(err, &lv), errors.As(err, &nf), errors.As(err, &se):
		return err
	case errors.Is(err, ErrOperationInFlight), errors.Is(err, domain.ErrInvalidInput):
		return err
	}
	return &domain.StoreError{Op: operation, Err: err}
}

func requireSession(session Session) error {
	if !session.Valid() {
		return domain.Invalidf("session required")
	}
	return nil
}
