package syncer

import (
	"context"
	"errors"
	"fmt"
	"ms-roster/internal/apperr"
	"ms-roster/internal/commerce"
	"ms-roster/internal/config"
	"ms-roster/internal/kafka"
	"ms-roster/internal/logger"
	"ms-roster/internal/models"
	"ms-roster/internal/syncer/lock"
	"ms-roster/internal/validation"
	"time"

	"github.com/cenkalti/backoff/v4"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Store interface {
	UpsertOrder(ctx context.Context, in models.OrderRecord) (models.OrderRecord, models.UpsertResult, error)
	UpsertEventFromSync(ctx context.Context, s models.EventSync) (bool, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	LatestOrderDate(ctx context.Context) (*time.Time, error)
}

type Commerce interface {
	ListOrders(ctx context.Context, q commerce.OrderQuery) (*commerce.OrderPage, error)
	ListProducts(ctx context.Context, q commerce.ProductQuery) (*commerce.ProductPage, error)
	GetOrder(ctx context.Context, id string) (*commerce.Order, error)
	GetProduct(ctx context.Context, id string) (*commerce.Product, error)
}

type FieldRegistrar interface {
	RegisterFields(ctx context.Context, eventID string, fields map[string]string, at time.Time) error
}

// Broadcaster receives every progress event of every run, for observers.
type Broadcaster interface {
	Emit(p models.SyncProgress)
}

type Deps struct {
	Store       Store
	Commerce    Commerce
	Fields      FieldRegistrar
	Normalizer  *commerce.Normalizer
	Guard       lock.Guard
	Publisher   kafka.Publisher
	Broadcaster Broadcaster
	Logger      *logger.Logger
}

type Orchestrator struct {
	store       Store
	api         Commerce
	fields      FieldRegistrar
	normalizer  *commerce.Normalizer
	guard       lock.Guard
	publisher   kafka.Publisher
	broadcaster Broadcaster
	logger      *logger.Logger
	validate    *validatorv10.Validate

	cfg        config.SyncConfig
	pageSize   int
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithBackOff replaces the exponential policy between page retries. The attempt limit still applies.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(o *Orchestrator) { o.newBackOff = f }
}

func WithPageSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

func NewOrchestrator(deps Deps, cfg config.SyncConfig, opts ...Option) *Orchestrator {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.IncrementalDays <= 0 {
		cfg.IncrementalDays = 30
	}
	o := &Orchestrator{
		store:       deps.Store,
		api:         deps.Commerce,
		fields:      deps.Fields,
		normalizer:  deps.Normalizer,
		guard:       deps.Guard,
		publisher:   deps.Publisher,
		broadcaster: deps.Broadcaster,
		logger:      deps.Logger,
		validate:    validation.New(),
		cfg:         cfg,
		pageSize:    50,
		now:         time.Now,
	}
	if o.normalizer == nil {
		o.normalizer = commerce.NewNormalizer(nil)
	}
	if o.guard == nil {
		o.guard = lock.NewLocalGuard()
	}
	if o.publisher == nil {
		o.publisher = kafka.NopPublisher{}
	}
	o.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		if cfg.RetryInitial > 0 {
			b.InitialInterval = cfg.RetryInitial
		}
		b.MaxElapsedTime = 0
		return b
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start validates the request, claims the run's scope and runs it in the background. The returned channel
// carries the progress of this run and is closed after its terminal event. Cancelling ctx stops the run
// before its next page.
func (o *Orchestrator) Start(ctx context.Context, req models.SyncRequest) (<-chan models.SyncProgress, error) {
	release, err := o.claim(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(chan models.SyncProgress, 64)
	r := o.newRun(ctx, req, out)
	go func() {
		defer close(out)
		defer release()
		o.execute(r)
	}()
	return out, nil
}

// Run executes a request synchronously. Progress only reaches the broadcaster.
func (o *Orchestrator) Run(ctx context.Context, req models.SyncRequest) (*models.SyncResult, error) {
	release, err := o.claim(ctx, req)
	if err != nil {
		return nil, err
	}
	defer release()
	r := o.newRun(ctx, req, nil)
	return o.execute(r)
}

func (o *Orchestrator) claim(ctx context.Context, req models.SyncRequest) (func(), error) {
	if err := validation.Struct(o.validate, req); err != nil {
		return nil, err
	}
	release, err := o.guard.Acquire(ctx, req.Scope())
	if err != nil {
		if errors.Is(err, apperr.ErrSyncInProgress) {
			o.logger.Info("SYNC", fmt.Sprintf("Rejected %s sync: scope %s is busy", req.Mode, req.Scope()))
		}
		return nil, err
	}
	return release, nil
}

// execute always ends with exactly one terminal event.
func (o *Orchestrator) execute(r *run) (*models.SyncResult, error) {
	started := o.now()
	o.logger.LogSync(r.id, "start", fmt.Sprintf("mode=%s scope=%s", r.req.Mode, r.scope))
	r.info("start", fmt.Sprintf("%s sync started", r.req.Mode))

	err := o.sync(r)
	if err == nil && r.ctx.Err() != nil {
		err = r.ctx.Err()
	}
	res := r.snapshot()

	if err != nil {
		msg := o.failureMessage(r, err)
		o.logger.Error("SYNC", fmt.Sprintf("[%s] %s", r.id, msg))
		r.terminal(models.SyncProgress{Status: models.ProgressError, Phase: "error", Message: msg, Result: &res})
		o.publishCompleted(r, res, msg)
		return &res, err
	}

	msg := fmt.Sprintf("%d orders processed, %d updated, %d skipped in %s",
		res.Processed, len(res.UpdatedIDs), res.Skipped, o.now().Sub(started).Round(time.Millisecond))
	o.logger.LogSync(r.id, "done", msg)
	r.terminal(models.SyncProgress{Status: models.ProgressDone, Phase: "done", Message: msg, Result: &res})
	o.publishCompleted(r, res, "")
	return &res, nil
}

func (o *Orchestrator) failureMessage(r *run, err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("sync cancelled after %d orders", r.result.Processed)
	}
	var ue *apperr.UpstreamError
	if errors.As(err, &ue) {
		return ue.Error()
	}
	return fmt.Sprintf("%d orders processed before failure: %v", r.result.Processed, err)
}

func (o *Orchestrator) publishCompleted(r *run, res models.SyncResult, failure string) {
	status := string(models.ProgressDone)
	if failure != "" {
		status = string(models.ProgressError)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := o.publisher.PublishSyncCompleted(ctx, kafka.SyncCompleted{
		RunID:      r.id,
		Mode:       string(r.req.Mode),
		Scope:      r.scope,
		Status:     status,
		Processed:  res.Processed,
		UpdatedIDs: res.UpdatedIDs,
		Skipped:    res.Skipped,
		Conflicts:  res.Conflicts,
		Error:      failure,
		FinishedAt: o.now(),
	})
	if err != nil {
		o.logger.Warn("SYNC", fmt.Sprintf("[%s] failed to publish completion: %v", r.id, err))
	}
}

func (o *Orchestrator) newRun(ctx context.Context, req models.SyncRequest, out chan<- models.SyncProgress) *run {
	return &run{
		id:          uuid.NewString(),
		req:         req,
		scope:       req.Scope(),
		ctx:         ctx,
		out:         out,
		broadcaster: o.broadcaster,
		now:         o.now,
		updated:     make(map[string]bool),
		knownEvents: make(map[string]bool),
		lastBooking: make(map[string]time.Time),
		result:      models.SyncResult{UpdatedIDs: []string{}},
	}
}
