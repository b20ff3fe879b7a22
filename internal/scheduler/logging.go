package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/usageledger/internal/events/domain"
	obscontext "github.com/smallbiznis/usageledger/internal/observability/context"
	obslogger "github.com/smallbiznis/usageledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/usageledger/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun tallies one job invocation. Nested jobs (dispatch inside RunOnce)
// share the outermost run so a tick produces a single summary line.
type jobRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time
	processed atomic.Int64
	errors    atomic.Int64
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(count int) {
	if r != nil && count > 0 {
		r.processed.Add(int64(count))
	}
}

func (r *jobRun) IncError() {
	if r != nil {
		r.errors.Add(1)
	}
}

func (r *jobRun) Errors() int64 {
	if r == nil {
		return 0
	}
	return r.errors.Load()
}

func (r *jobRun) fields() []zap.Field {
	return []zap.Field{
		zap.String("job", r.job),
		zap.String("run_id", r.runID),
	}
}

// ensureJobRun reuses a run already on ctx; owner reports whether this
// call created it and is responsible for the summary.
func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if run := jobRunFromContext(ctx); run != nil {
		return ctx, run, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	return s.withLogContext(ctx, 0), run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

// withLogContext marks work as dispatcher-initiated and, when known, scoped
// to one tenant.
func (s *Scheduler) withLogContext(ctx context.Context, tenantID snowflake.ID) context.Context {
	ctx = obscontext.WithActor(ctx, "system", "dispatcher")
	if tenantID != 0 {
		ctx = obscontext.WithTenantID(ctx, tenantID.String())
	}
	return ctx
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Debug("scheduler.job.start", append(run.fields(), zap.Int("batch_size", run.batchSize))...)
}

// logJobFinish is quiet for idle ticks and loud when anything failed.
func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	processed, failed := run.processed.Load(), run.errors.Load()
	fields := append(run.fields(),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int64("processed_count", processed),
		zap.Int64("error_count", failed),
	)
	log := s.logger(ctx)
	switch {
	case failed > 0:
		log.Warn("scheduler.job.finish", fields...)
	case processed > 0:
		log.Info("scheduler.job.finish", fields...)
	default:
		log.Debug("scheduler.job.finish", fields...)
	}
}

func (s *Scheduler) logSchedulerError(ctx context.Context, run *jobRun, msg string, tenantID snowflake.ID, err error, extra ...zap.Field) {
	if err == nil {
		return
	}
	run.IncError()
	fields := []zap.Field{
		zap.Error(err),
		zap.String("error_type", obsmetrics.ClassifyJobReason(err)),
		zap.Bool("retryable", obsmetrics.IsRetryable(err)),
	}
	if run != nil {
		fields = append(fields, run.fields()...)
	}
	s.logger(s.withLogContext(ctx, tenantID)).Error(msg, append(fields, extra...)...)
}

// logEventOutcome records the terminal state a relay row reached this
// attempt. Retries warn; exhausted rows are errors for operators.
func (s *Scheduler) logEventOutcome(ctx context.Context, event *eventdomain.RelayEvent, outcome eventdomain.Outcome, cause error) {
	fields := []zap.Field{
		zap.Stringer("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.String("dedupe_key", event.DedupeKey),
		zap.Int("attempt_count", outcome.AttemptCount),
	}
	log := s.logger(ctx)
	switch outcome.Status {
	case eventdomain.StatusDone:
		log.Debug("outbox.event.done", fields...)
	case eventdomain.StatusRetry:
		log.Warn("outbox.event.retry", append(fields, zap.Time("next_attempt_at", outcome.NextAttemptAt), zap.Error(cause))...)
	case eventdomain.StatusFailed:
		log.Error("outbox.event.failed", append(fields, zap.Error(cause))...)
	}
}
