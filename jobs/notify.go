package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/posync/internal/jobs"
	"github.com/odyssey-erp/posync/internal/posync"
)

// Mailer delivers plain-text mail.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// SMTPMailer sends through an unauthenticated SMTP relay such as Mailpit or a local MTA.
type SMTPMailer struct {
	Addr string
	From string
}

// NewSMTPMailer builds a mailer for host:port.
func NewSMTPMailer(host string, port int, from string) *SMTPMailer {
	return &SMTPMailer{Addr: net.JoinHostPort(host, strconv.Itoa(port)), From: from}
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return errors.New("mailer: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)
	return smtp.SendMail(m.Addr, nil, m.From, to, []byte(msg.String()))
}

// SyncFailureNotifyJob mails sync failures to the operators.
type SyncFailureNotifyJob struct {
	Mailer     Mailer
	Recipients []string
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewSyncFailureNotifyJob initialises the notification handler. recipients is a
// comma separated list; when empty failures are only logged.
func NewSyncFailureNotifyJob(mailer Mailer, recipients string, logger *slog.Logger, metrics *jobmetrics.Metrics) *SyncFailureNotifyJob {
	var to []string
	for _, r := range strings.Split(recipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, r)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncFailureNotifyJob{Mailer: mailer, Recipients: to, Logger: logger, Metrics: metrics}
}

// Handle sends one notification.
func (j *SyncFailureNotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	var failure posync.SyncFailure
	if err := json.Unmarshal(t.Payload(), &failure); err != nil {
		return asynq.SkipRetry
	}
	logger := j.Logger.With(
		slog.String("po", failure.Order),
		slog.String("operation", string(failure.Operation)),
		slog.String("kind", failure.Kind),
	)
	if j.Mailer == nil || len(j.Recipients) == 0 {
		logger.Warn("sync failure", slog.String("message", failure.Message))
		return nil
	}
	tracker := j.Metrics.Track(TaskSyncFailureNotify)
	subject, body := failureMail(failure)
	if err := j.Mailer.Send(ctx, j.Recipients, subject, body); err != nil {
		logger.Error("send failure notification", slog.Any("error", err))
		return tracker.End(err)
	}
	return tracker.End(nil)
}

func failureMail(f posync.SyncFailure) (string, string) {
	subject := fmt.Sprintf("[posync] %s failed for %s", f.Operation, f.Order)
	var b strings.Builder
	fmt.Fprintf(&b, "Purchase Order: %s\n", f.Order)
	fmt.Fprintf(&b, "Operation: %s\n", f.Operation)
	fmt.Fprintf(&b, "Error kind: %s\n", f.Kind)
	if f.ErrorLogID != "" {
		fmt.Fprintf(&b, "Error log: %s\n", f.ErrorLogID)
	}
	fmt.Fprintf(&b, "\n%s\n", f.Message)
	return subject, b.String()
}
