package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// AgingRefresher recomputes persisted document statuses and aging buckets.
type AgingRefresher interface {
	RefreshAging(ctx context.Context) (int, error)
}

// AgingRefreshJob keeps stored document statuses in step with the calendar so
// overdue invoices and bills show up without waiting for the next mutation.
type AgingRefreshJob struct {
	Service AgingRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAgingRefreshJob constructs the job handler.
func NewAgingRefreshJob(service AgingRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *AgingRefreshJob {
	return &AgingRefreshJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes the refresh.
func (j *AgingRefreshJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("aging refresh: dependencies not configured")
	}
	var payload AgingRefreshPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.Metrics.Track(TaskAgingRefresh)
	start := time.Now()
	changed, err := j.Service.RefreshAging(ctx)
	if err != nil {
		j.logger().Error("aging refresh failed", slog.Any("error", err), slog.String("requested_by", payload.RequestedBy))
		return tracker.End(err)
	}
	j.Metrics.AddRefreshed(changed)
	j.logger().Info("aging refresh completed",
		slog.Int("documents_changed", changed),
		slog.String("requested_by", payload.RequestedBy),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func (j *AgingRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
