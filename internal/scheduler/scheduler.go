package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/usageledger/internal/clock"
	"github.com/smallbiznis/usageledger/internal/config"
	eventdomain "github.com/smallbiznis/usageledger/internal/events/domain"
	obsmetrics "github.com/smallbiznis/usageledger/internal/observability/metrics"
	"github.com/smallbiznis/usageledger/pkg/rls"
	"github.com/smallbiznis/usageledger/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobOutboxDispatch = "outbox_dispatch"
	JobLeaseRecovery  = "lease_recovery"

	maxLastErrorLength = 1024
)

var (
	ErrInvalidConfig    = errors.New("invalid_scheduler_config")
	ErrUnknownEventType = errors.New("unknown_event_type")

	errClaimLost = errors.New("claim_lost")
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     eventdomain.Repository
	Registry *Registry
	Config   *config.DispatcherConfigHolder `optional:"true"`
	Metrics  *obsmetrics.DispatcherMetrics  `optional:"true"`
}

// Scheduler relays outbox rows to their handlers. Any number of instances
// may run against the same database; row claims keep them disjoint.
type Scheduler struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     eventdomain.Repository
	registry *Registry
	cfg      *config.DispatcherConfigHolder
	metrics  *obsmetrics.DispatcherMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Repo == nil || p.Registry == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config
	if cfg == nil {
		cfg = config.NewStaticDispatcherConfigHolder(config.DefaultDispatcherConfig())
	}
	return &Scheduler{
		db:       p.DB,
		log:      p.Log.Named("scheduler").With(zap.String("component", "dispatcher")),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		registry: p.Registry,
		cfg:      cfg,
		metrics:  p.Metrics,
	}, nil
}

func (s *Scheduler) config() config.DispatcherConfig {
	return s.cfg.Get()
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.Errors() == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// Deadlines are soft: unfinished rows stay claimable for the next tick.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	s.metrics.IncJobError(name, err)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce performs a single tick: recover expired leases, then relay due rows.
func (s *Scheduler) RunOnce(parent context.Context) error {
	cfg := s.config()
	jobTimeout := cfg.RunInterval + cfg.RowTimeout

	var err error
	err = errors.Join(err, s.runJob(parent, JobLeaseRecovery, cfg.BatchSize, jobTimeout, func(ctx context.Context) error {
		_, err := s.RecoverExpiredLeases(ctx)
		return err
	}))
	err = errors.Join(err, s.runJob(parent, JobOutboxDispatch, cfg.BatchSize, jobTimeout, func(ctx context.Context) error {
		_, err := s.ProcessDueOutboxEvents(ctx, cfg.BatchSize)
		return err
	}))
	return err
}

// RunForever ticks until ctx is cancelled. The interval is re-read every
// tick so config reloads take effect without a restart.
func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.config().RunInterval
	nextRun := time.Now().Add(interval)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		if lag := time.Since(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		interval = s.config().RunInterval
		nextRun = time.Now().Add(interval)
		timer.Reset(interval)

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// ProcessDueOutboxEvents claims and relays due rows for every tenant that
// has any, up to batchSize rows per tenant. It returns the number of rows
// that reached an outcome (done, retry or failed). Safe to call repeatedly
// and from concurrent workers.
func (s *Scheduler) ProcessDueOutboxEvents(ctx context.Context, batchSize int) (int, error) {
	cfg := s.config()
	if batchSize <= 0 {
		batchSize = cfg.BatchSize
	}
	ctx, run, owner := s.ensureJobRun(ctx, JobOutboxDispatch, batchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	tenants, err := s.repo.DueTenants(ctx, s.db, s.clock.Now(), cfg.TenantLimit)
	if err != nil {
		s.logSchedulerError(ctx, run, "outbox.tenants.load.failed", 0, err)
		return 0, err
	}

	var (
		processed int
		jobErr    error
	)
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			return processed, errors.Join(jobErr, err)
		}
		n, err := s.processTenant(ctx, run, tenantID, batchSize)
		processed += n
		jobErr = errors.Join(jobErr, err)
	}
	run.AddProcessed(processed)
	return processed, jobErr
}

func (s *Scheduler) processTenant(ctx context.Context, run *jobRun, tenantID snowflake.ID, batchSize int) (int, error) {
	cfg := s.config()
	now := s.clock.Now()
	claimToken := s.genID.Generate().Int64()

	claimed, err := s.repo.Claim(ctx, s.db, eventdomain.ClaimRequest{
		TenantID:   tenantID,
		Now:        now,
		Limit:      batchSize,
		ClaimToken: claimToken,
		LeaseUntil: now.Add(cfg.LeaseDuration),
	})
	if err != nil {
		s.logSchedulerError(ctx, run, "outbox.claim.failed", tenantID, err)
		return 0, err
	}
	s.metrics.AddClaimed(len(claimed))

	var (
		processed int
		jobErr    error
	)
	for _, event := range claimed {
		// Rows left unprocessed here keep their lease and are recovered later.
		if err := ctx.Err(); err != nil {
			return processed, errors.Join(jobErr, err)
		}
		handled, err := s.processEvent(ctx, event, claimToken, cfg.RowTimeout)
		if err != nil {
			s.logSchedulerError(ctx, run, "outbox.event.outcome.failed", tenantID, err,
				zap.String("event_id", event.ID.String()),
			)
			jobErr = errors.Join(jobErr, err)
		}
		if handled {
			processed++
		}
	}
	return processed, jobErr
}

// processEvent runs one claimed row in its own transaction. The tenant
// scope is asserted at the start of every transaction since it does not
// outlive a commit. Handler errors are recorded on the row; only failures
// to record an outcome are returned.
func (s *Scheduler) processEvent(ctx context.Context, event *eventdomain.RelayEvent, claimToken int64, rowTimeout time.Duration) (bool, error) {
	start := time.Now()
	evCtx := s.withLogContext(correlation.ContextFromPayload(ctx, event.Payload), event.TenantID)
	rowCtx, cancel := context.WithTimeout(evCtx, rowTimeout)
	defer cancel()

	var afterCommit eventdomain.AfterCommit
	done := eventdomain.Outcome{
		Status:        eventdomain.StatusDone,
		AttemptCount:  event.AttemptCount,
		NextAttemptAt: event.NextAttemptAt,
	}
	err := s.db.WithContext(rowCtx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, event.TenantID); err != nil {
			return err
		}
		handler, ok := s.registry.Lookup(event.EventType)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownEventType, event.EventType)
		}
		hook, err := handler.Handle(rowCtx, tx, event)
		if err != nil {
			return err
		}

		done.Now = s.clock.Now()
		updated, err := s.repo.Complete(rowCtx, tx, event.TenantID, event.ID, claimToken, done)
		if err != nil {
			return err
		}
		if !updated {
			return errClaimLost
		}
		afterCommit = hook
		return nil
	})

	if err == nil {
		s.metrics.ObserveEvent(event.EventType, obsmetrics.OutcomeDone, time.Since(start))
		s.logEventOutcome(evCtx, event, done, nil)
		if afterCommit != nil {
			afterCommit(evCtx)
		}
		return true, nil
	}
	if errors.Is(err, errClaimLost) {
		// The lease expired and another worker owns the row now.
		s.metrics.ObserveEvent(event.EventType, obsmetrics.OutcomeSkipped, time.Since(start))
		s.logger(evCtx).Warn("outbox.event.claim_lost", zap.String("event_id", event.ID.String()))
		return false, nil
	}

	outcome := failureOutcome(event.AttemptCount+1, err, s.clock.Now(), event.NextAttemptAt)
	updated, recordErr := s.complete(ctx, event, claimToken, outcome)
	if recordErr != nil {
		return false, recordErr
	}
	if !updated {
		s.metrics.ObserveEvent(event.EventType, obsmetrics.OutcomeSkipped, time.Since(start))
		return false, nil
	}
	s.metrics.ObserveEvent(event.EventType, string(outcome.Status), time.Since(start))
	s.logEventOutcome(evCtx, event, outcome, err)
	return true, nil
}

func (s *Scheduler) complete(ctx context.Context, event *eventdomain.RelayEvent, claimToken int64, outcome eventdomain.Outcome) (bool, error) {
	var updated bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, event.TenantID); err != nil {
			return err
		}
		var err error
		updated, err = s.repo.Complete(ctx, tx, event.TenantID, event.ID, claimToken, outcome)
		return err
	})
	return updated, err
}

// failureOutcome applies the retry policy to a failed attempt. A failed row
// keeps its previous next_attempt_at.
func failureOutcome(attempt int, cause error, now, previousNext time.Time) eventdomain.Outcome {
	msg := cause.Error()
	if len(msg) > maxLastErrorLength {
		msg = msg[:maxLastErrorLength]
	}
	outcome := eventdomain.Outcome{
		AttemptCount: attempt,
		LastError:    &msg,
		Now:          now,
	}
	if Exhausted(attempt) {
		outcome.Status = eventdomain.StatusFailed
		outcome.NextAttemptAt = previousNext
		return outcome
	}
	outcome.Status = eventdomain.StatusRetry
	outcome.NextAttemptAt = now.Add(Backoff(attempt))
	return outcome
}
