package scheduler

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/usageledger/internal/events/domain"
	"go.uber.org/zap"
)

var errLeaseExpired = errors.New("lease_expired")

// RecoverExpiredLeases returns processing rows whose claim lease ran out to
// the retry path. The lost attempt counts towards MaxAttempts.
func (s *Scheduler) RecoverExpiredLeases(ctx context.Context) (int, error) {
	cfg := s.config()
	ctx, run, owner := s.ensureJobRun(ctx, JobLeaseRecovery, cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	expired, err := s.repo.ExpiredLeases(ctx, s.db, s.clock.Now(), cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "outbox.lease.load.failed", 0, err)
		return 0, err
	}

	var (
		recovered int
		jobErr    error
	)
	for _, event := range expired {
		if event.ClaimToken == nil {
			continue
		}
		outcome := failureOutcome(event.AttemptCount+1, errLeaseExpired, s.clock.Now(), event.NextAttemptAt)
		updated, err := s.complete(ctx, event, *event.ClaimToken, outcome)
		if err != nil {
			s.logSchedulerError(ctx, run, "outbox.lease.recover.failed", event.TenantID, err,
				zap.String("event_id", event.ID.String()),
			)
			jobErr = errors.Join(jobErr, err)
			continue
		}
		if !updated {
			continue
		}
		recovered++
		s.logEventOutcome(s.withLogContext(ctx, event.TenantID), event, outcome, errLeaseExpired)
	}

	s.metrics.AddLeasesRecovered(recovered)
	run.AddProcessed(recovered)
	return recovered, jobErr
}

// ListFailed returns a tenant's parked rows, newest first.
func (s *Scheduler) ListFailed(ctx context.Context, tenantID snowflake.ID, limit int) ([]*eventdomain.RelayEvent, error) {
	if tenantID == 0 {
		return nil, eventdomain.ErrInvalidTenant
	}
	if limit <= 0 || limit > 250 {
		limit = 50
	}
	return s.repo.ListByStatus(ctx, s.db, tenantID, eventdomain.StatusFailed, limit)
}

// Requeue moves a failed row back to retry with a fresh attempt budget.
func (s *Scheduler) Requeue(ctx context.Context, tenantID, id snowflake.ID) (*eventdomain.RelayEvent, error) {
	if tenantID == 0 {
		return nil, eventdomain.ErrInvalidTenant
	}
	now := s.clock.Now()
	updated, err := s.repo.Requeue(ctx, s.db, tenantID, id, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, eventdomain.ErrNotFound
	}
	s.logger(s.withLogContext(ctx, tenantID)).Info("outbox.event.requeued",
		zap.String("event_id", id.String()),
		zap.Time("next_attempt_at", now),
	)
	return s.repo.FindByID(ctx, s.db, tenantID, id)
}
