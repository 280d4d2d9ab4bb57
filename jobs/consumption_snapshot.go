package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/sitepro/sitepro-erp/internal/jobs"
	"github.com/sitepro/sitepro-erp/internal/platform/cache"
	"github.com/sitepro/sitepro-erp/internal/shared"
)

// Snapshotter recomputes and persists consumption rows.
type Snapshotter interface {
	Snapshot(ctx context.Context) (int, error)
}

// Locker hands out distributed locks.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// ConsumptionSnapshotJob runs the nightly snapshot on a single worker.
type ConsumptionSnapshotJob struct {
	Service Snapshotter
	Locker  Locker
	LockTTL time.Duration
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewConsumptionSnapshotJob constructs the job handler.
func NewConsumptionSnapshotJob(service Snapshotter, locker Locker, lockTTL time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *ConsumptionSnapshotJob {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &ConsumptionSnapshotJob{
		Service: service,
		Locker:  locker,
		LockTTL: lockTTL,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the snapshot. A run that finds the lock taken returns nil
// so asynq does not retry it.
func (j *ConsumptionSnapshotJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("consumption snapshot: dependencies not configured")
	}
	var payload ConsumptionSnapshotPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("decode %s payload: %v: %w", TaskConsumptionSnapshot, err, asynq.SkipRetry)
		}
	}

	if j.Locker != nil {
		release, lockErr := j.Locker.Acquire(ctx, shared.ConsumptionSnapshotLockKey(payload.Scope), j.LockTTL)
		if errors.Is(lockErr, cache.ErrLockHeld) {
			j.log().Info("snapshot already running elsewhere")
			return nil
		}
		if lockErr != nil {
			return lockErr
		}
		defer func() {
			if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
				j.log().Warn("release snapshot lock", slog.Any("error", relErr))
			}
		}()
	}

	tracker := j.metrics().Track(TaskConsumptionSnapshot)
	defer func() { err = tracker.End(err) }()

	start := j.now()
	rows, err := j.Service.Snapshot(ctx)
	if err != nil {
		j.log().Error("consumption snapshot", slog.Any("error", err))
		return err
	}
	j.metrics().SetSnapshotRows(rows)
	j.log().Info("consumption snapshot stored", slog.Int("rows", rows), slog.Duration("duration", j.now().Sub(start)))
	return nil
}

func (j *ConsumptionSnapshotJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ConsumptionSnapshotJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskConsumptionSnapshot))
	}
	return slog.Default().With(slog.String("job", TaskConsumptionSnapshot))
}

func (j *ConsumptionSnapshotJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *ConsumptionSnapshotJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
