package jobs

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/posync/internal/posync"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSyncExport creates the remote sales order of one purchase order.
	TaskSyncExport = "posync:export"
	// TaskSyncFailureNotify mails operators about a failed sync.
	TaskSyncFailureNotify = "posync:notify-failure"
	// TaskErrorLogPrune drops old error log entries.
	TaskErrorLogPrune = "posync:error-log-prune"
)

// SyncExportPayload names the purchase order to export.
type SyncExportPayload struct {
	POName string `json:"po_name"`
}

// NewSyncExportTask builds an export task. Remote calls are never retried by the queue.
func NewSyncExportTask(poName string) (*asynq.Task, error) {
	poName = strings.TrimSpace(poName)
	if poName == "" {
		return nil, errors.New("jobs: purchase order name required")
	}
	body, err := json.Marshal(SyncExportPayload{POName: poName})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSyncExport, body, asynq.Queue(QueueDefault), asynq.MaxRetry(0)), nil
}

// NewSyncFailureTask builds a notification task for failure.
func NewSyncFailureTask(failure posync.SyncFailure) (*asynq.Task, error) {
	body, err := json.Marshal(failure)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSyncFailureNotify, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// ErrorLogPrunePayload contains options for the prune job.
type ErrorLogPrunePayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewErrorLogPruneTask builds a prune task.
func NewErrorLogPruneTask(retentionDays int) (*asynq.Task, error) {
	body, err := json.Marshal(ErrorLogPrunePayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskErrorLogPrune, body, asynq.Queue(QueueDefault)), nil
}
