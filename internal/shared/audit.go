package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool Execer
}

// NewAuditLogger returns a new AuditLogger. Pass a transaction to write inside it.
func NewAuditLogger(pool Execer) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.Actor, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

// ErrorLogStore persists operator-facing error entries in error_logs.
type ErrorLogStore struct {
	pool Execer
}

// NewErrorLogStore constructs the store.
func NewErrorLogStore(pool Execer) *ErrorLogStore {
	return &ErrorLogStore{pool: pool}
}

// LogError stores an entry and returns its id.
func (s *ErrorLogStore) LogError(ctx context.Context, title, message string) (string, error) {
	if s == nil || s.pool == nil {
		return "", errors.New("error log store not initialised")
	}
	if title == "" {
		return "", errors.New("error log requires a title")
	}
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `INSERT INTO error_logs (id, title, message, created_at) VALUES ($1, $2, $3, NOW())`, id, title, message)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
