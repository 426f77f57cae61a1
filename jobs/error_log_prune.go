package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgconn"

	jobmetrics "github.com/odyssey-erp/posync/internal/jobs"
)

// Execer runs a statement; satisfied by pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ErrorLogPruneJob removes error log entries older than the retention window.
type ErrorLogPruneJob struct {
	DB      Execer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewErrorLogPruneJob initialises the prune handler.
func NewErrorLogPruneJob(db Execer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ErrorLogPruneJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorLogPruneJob{DB: db, Logger: logger, Metrics: metrics, clock: func() time.Time { return time.Now().UTC() }}
}

// Handle deletes expired rows.
func (j *ErrorLogPruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ErrorLogPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetentionDays <= 0 {
		payload.RetentionDays = 90
	}
	tracker := j.Metrics.Track(TaskErrorLogPrune)
	cutoff := j.clock().AddDate(0, 0, -payload.RetentionDays)
	tag, err := j.DB.Exec(ctx, `DELETE FROM error_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		j.Logger.Error("prune error logs", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Logger.Info("pruned error logs",
		slog.Int64("deleted", tag.RowsAffected()),
		slog.Time("cutoff", cutoff),
	)
	return tracker.End(nil)
}
