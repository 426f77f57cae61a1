package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/posync/internal/jobs"
	"github.com/odyssey-erp/posync/internal/posync"
)

// ExportRunner is the part of posync.Service the export job needs.
type ExportRunner interface {
	ExportOrder(ctx context.Context, name string) (posync.Result, error)
}

// SyncExportJob runs queued manual exports.
type SyncExportJob struct {
	Service ExportRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSyncExportJob initialises the export handler.
func NewSyncExportJob(service ExportRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *SyncExportJob {
	return &SyncExportJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes one export.
func (j *SyncExportJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("sync export: handler not configured")
	}
	var payload SyncExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.POName == "" {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskSyncExport)
	logger := j.logger().With(slog.String("po", payload.POName))

	res, err := j.Service.ExportOrder(ctx, payload.POName)
	if err != nil {
		logger.Error("queued export failed",
			slog.String("kind", posync.Kind(err)),
			slog.String("error_log", res.ErrorLogID),
			slog.Any("error", err),
		)
		return tracker.End(fmt.Errorf("export %s: %v: %w", payload.POName, err, asynq.SkipRetry))
	}
	logger.Info("queued export finished",
		slog.String("status", string(res.Outcome)),
		slog.String("sales_order", res.RemoteOrderID),
		slog.String("message", res.Message),
	)
	return tracker.End(nil)
}

func (j *SyncExportJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
