package posync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/odyssey-erp/posync/internal/remote"
	"github.com/odyssey-erp/posync/internal/shared"
)

// DefaultTriggerSupplier is the supplier whose orders are mirrored remotely.
const DefaultTriggerSupplier = "Proman Infrastructure Services Private Limited"

// DefaultElevatedRole may cancel and amend synced orders.
const DefaultElevatedRole = "System Manager"

// RepositoryPort describes persistence used by Service.
type RepositoryPort interface {
	GetOrder(ctx context.Context, name string) (Order, error)
	SetRemoteLink(ctx context.Context, name, remoteOrderID string, status LinkStatus) error
	FindItemByPartNumber(ctx context.Context, poName, supplierPartNo string) (ItemCodeMatch, error)
}

// RemotePort is the counterpart sales order API.
type RemotePort interface {
	CreateSalesOrder(ctx context.Context, ep remote.Endpoint, req remote.CreateRequest) (string, error)
	AmendSalesOrder(ctx context.Context, ep remote.Endpoint, req remote.AmendRequest) (string, error)
	CancelSalesOrder(ctx context.Context, ep remote.Endpoint, req remote.CancelRequest) (string, error)
}

// ErrorLogPort stores operator-facing failures.
type ErrorLogPort interface {
	LogError(ctx context.Context, title, message string) (string, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LockPort serialises operations on one order.
type LockPort interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// MetricsPort observes operation outcomes.
type MetricsPort interface {
	ObserveSync(operation, outcome string, elapsed time.Duration)
}

// SyncFailure is published for operator notification.
type SyncFailure struct {
	Operation  remote.Operation `json:"operation"`
	Order      string           `json:"order"`
	Kind       string           `json:"kind"`
	Message    string           `json:"message"`
	ErrorLogID string           `json:"error_log_id,omitempty"`
}

// NotifierPort publishes sync failures.
type NotifierPort interface {
	NotifySyncFailure(ctx context.Context, failure SyncFailure) error
}

// ServiceConfig carries policy knobs.
type ServiceConfig struct {
	TriggerSupplier   string
	ElevatedRole      string
	MissingItemPolicy MissingItemPolicy
}

// Deps groups optional collaborators; nil members are skipped.
type Deps struct {
	ErrorLog ErrorLogPort
	Audit    AuditPort
	Locker   LockPort
	Metrics  MetricsPort
	Notifier NotifierPort
	Logger   *slog.Logger
}

// Service orchestrates the purchase order → sales order lifecycle.
type Service struct {
	repo     RepositoryPort
	remote   RemotePort
	endpoint EndpointSource
	builder  *PayloadBuilder
	cfg      ServiceConfig
	deps     Deps
}

// NewService constructs the orchestrator.
func NewService(repo RepositoryPort, remote RemotePort, endpoint EndpointSource, resolver PartNumberResolver, cfg ServiceConfig, deps Deps) *Service {
	if cfg.TriggerSupplier == "" {
		cfg.TriggerSupplier = DefaultTriggerSupplier
	}
	if cfg.ElevatedRole == "" {
		cfg.ElevatedRole = DefaultElevatedRole
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		remote:   remote,
		endpoint: endpoint,
		builder:  NewPayloadBuilder(resolver, cfg.MissingItemPolicy, deps.Logger),
		cfg:      cfg,
		deps:     deps,
	}
}

// InScope reports whether supplier is the configured trigger supplier.
func (s *Service) InScope(supplier string) bool {
	return foldName(supplier) == foldName(s.cfg.TriggerSupplier)
}

// foldName normalises a party name for comparison. Casers are not safe for concurrent use.
func foldName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// ExportOrder creates the remote sales order for an unsynced order.
func (s *Service) ExportOrder(ctx context.Context, name string) (Result, error) {
	res := Result{Operation: remote.OpCreate, Order: name}
	start := time.Now()
	release, err := s.lock(ctx, name)
	if err != nil {
		return s.finish(res, start, err)
	}
	defer release()

	order, err := s.repo.GetOrder(ctx, name)
	if err != nil {
		return s.finish(res, start, err)
	}
	if !s.InScope(order.Supplier) {
		return s.skip(res, start, fmt.Sprintf("Supplier %s is not synced", order.Supplier))
	}
	if order.Linked() {
		res.RemoteOrderID = order.RemoteOrderID
		return s.skip(res, start, fmt.Sprintf("Purchase Order %s is already linked to Sales Order %s", name, order.RemoteOrderID))
	}
	if order.LinkStatus == LinkCancelled {
		res.RemoteOrderID = order.RemoteOrderID
		return s.skip(res, start, fmt.Sprintf("Purchase Order %s was cancelled; its Sales Order %s is not re-created", name, order.RemoteOrderID))
	}

	payload, err := s.builder.BuildCreatePayload(ctx, order)
	if err != nil {
		return s.fail(ctx, res, start, "SO Creation Error", err)
	}
	ep, err := s.endpoint.Endpoint(ctx)
	if err != nil {
		return s.fail(ctx, res, start, "SO Creation Error", err)
	}
	soID, err := s.remote.CreateSalesOrder(ctx, ep, payload)
	if err != nil {
		return s.fail(ctx, res, start, "SO Creation Error", err)
	}
	if err := s.repo.SetRemoteLink(ctx, name, soID, LinkSynced); err != nil {
		return s.fail(ctx, res, start, "SO Creation Error", fmt.Errorf("posync: store sales order %s on %s: %w", soID, name, err))
	}

	res.Outcome = OutcomeSuccess
	res.RemoteOrderID = soID
	res.Message = fmt.Sprintf("Sales Order %s created for PO %s", soID, name)
	s.audit(ctx, "", "SO_CREATE", name, map[string]any{"sales_order": soID})
	return s.finish(res, start, nil)
}

// SyncAmendment replaces the predecessor's remote sales order with one for the amended order.
func (s *Service) SyncAmendment(ctx context.Context, actor shared.Actor, name string) (Result, error) {
	res := Result{Operation: remote.OpAmend, Order: name}
	start := time.Now()
	release, err := s.lock(ctx, name)
	if err != nil {
		return s.finish(res, start, err)
	}
	defer release()

	order, err := s.repo.GetOrder(ctx, name)
	if err != nil {
		return s.finish(res, start, err)
	}
	if order.AmendedFrom == "" {
		return s.skip(res, start, fmt.Sprintf("Purchase Order %s is not an amendment", name))
	}
	if !s.InScope(order.Supplier) {
		return s.skip(res, start, fmt.Sprintf("Supplier %s is not synced", order.Supplier))
	}
	if err := s.authorize(actor); err != nil {
		return s.finish(res, start, err)
	}
	if order.Linked() {
		res.RemoteOrderID = order.RemoteOrderID
		return s.skip(res, start, fmt.Sprintf("Purchase Order %s is already linked to Sales Order %s", name, order.RemoteOrderID))
	}

	prev, err := s.repo.GetOrder(ctx, order.AmendedFrom)
	if err != nil {
		return s.finish(res, start, err)
	}
	if prev.RemoteOrderID == "" {
		return s.skip(res, start, "No linked Sales Order found to amend")
	}

	payload, err := s.builder.BuildAmendPayload(ctx, order, prev.RemoteOrderID)
	if err != nil {
		return s.fail(ctx, res, start, "PO Amend Error", err)
	}
	ep, err := s.endpoint.Endpoint(ctx)
	if err != nil {
		return s.fail(ctx, res, start, "PO Amend Error", err)
	}
	soID, err := s.remote.AmendSalesOrder(ctx, ep, payload)
	if err != nil {
		return s.fail(ctx, res, start, "PO Amend Error", err)
	}
	if soID == prev.RemoteOrderID {
		err = &remote.Error{Op: remote.OpAmend, Kind: remote.ErrInvalidResponse, Message: fmt.Sprintf("amend returned superseded sales order %s", soID)}
		return s.fail(ctx, res, start, "PO Amend Error", err)
	}
	if err := s.repo.SetRemoteLink(ctx, name, soID, LinkSynced); err != nil {
		return s.fail(ctx, res, start, "PO Amend Error", fmt.Errorf("posync: store sales order %s on %s: %w", soID, name, err))
	}

	res.Outcome = OutcomeSuccess
	res.RemoteOrderID = soID
	res.Message = fmt.Sprintf("Sales Order %s amended as %s", prev.RemoteOrderID, soID)
	s.audit(ctx, actor.User, "SO_AMEND", name, map[string]any{"sales_order": soID, "replaces": prev.RemoteOrderID, "amended_from": prev.Name})
	return s.finish(res, start, nil)
}

// CancelOrder cancels the remote sales order linked to a cancelled purchase order.
func (s *Service) CancelOrder(ctx context.Context, actor shared.Actor, name string) (Result, error) {
	res := Result{Operation: remote.OpCancel, Order: name}
	start := time.Now()
	release, err := s.lock(ctx, name)
	if err != nil {
		return s.finish(res, start, err)
	}
	defer release()

	order, err := s.repo.GetOrder(ctx, name)
	if err != nil {
		return s.finish(res, start, err)
	}
	if !s.InScope(order.Supplier) {
		return s.skip(res, start, fmt.Sprintf("Supplier %s is not synced", order.Supplier))
	}
	if err := s.authorize(actor); err != nil {
		return s.finish(res, start, err)
	}
	if !order.Linked() {
		return s.skip(res, start, fmt.Sprintf("Purchase Order %s has no linked Sales Order", name))
	}

	ep, err := s.endpoint.Endpoint(ctx)
	if err != nil {
		return s.fail(ctx, res, start, "SO Cancel Error", err)
	}
	msg, err := s.remote.CancelSalesOrder(ctx, ep, remote.CancelRequest{SalesOrder: order.RemoteOrderID})
	if err != nil {
		return s.fail(ctx, res, start, "SO Cancel Error", err)
	}
	if err := s.repo.SetRemoteLink(ctx, name, order.RemoteOrderID, LinkCancelled); err != nil {
		return s.fail(ctx, res, start, "SO Cancel Error", fmt.Errorf("posync: mark %s cancelled: %w", name, err))
	}

	res.Outcome = OutcomeSuccess
	res.RemoteOrderID = order.RemoteOrderID
	res.Message = msg
	s.audit(ctx, actor.User, "SO_CANCEL", name, map[string]any{"sales_order": order.RemoteOrderID})
	return s.finish(res, start, nil)
}

// HandleSubmit routes the submit hook: amendments are amended remotely, others created.
func (s *Service) HandleSubmit(ctx context.Context, actor shared.Actor, name string) (Result, error) {
	order, err := s.repo.GetOrder(ctx, name)
	if err != nil {
		return Result{Operation: remote.OpCreate, Order: name, Outcome: OutcomeError, Message: err.Error()}, err
	}
	if order.AmendedFrom != "" {
		return s.SyncAmendment(ctx, actor, name)
	}
	return s.ExportOrder(ctx, name)
}

// ValidateOrder checks that every line of an in-scope order maps to a remote item.
// Under the skip policy missing items are only logged.
func (s *Service) ValidateOrder(ctx context.Context, name string) (Result, error) {
	res := Result{Operation: remote.OpCreate, Order: name}
	order, err := s.repo.GetOrder(ctx, name)
	if err != nil {
		res.Outcome = OutcomeError
		res.Message = err.Error()
		return res, err
	}
	if !s.InScope(order.Supplier) {
		res.Outcome = OutcomeSkipped
		res.Message = fmt.Sprintf("Supplier %s is not synced", order.Supplier)
		return res, nil
	}
	missing, err := s.builder.MissingPartNumbers(ctx, order)
	if err != nil {
		res.Outcome = OutcomeError
		res.Message = err.Error()
		return res, err
	}
	if len(missing) == 0 {
		res.Outcome = OutcomeSuccess
		res.Message = "All items carry supplier part numbers"
		return res, nil
	}
	verr := &ValidationError{Order: name, MissingItems: missing}
	if s.builder.Policy() == PolicySkip {
		s.deps.Logger.Warn("items without supplier part number will be skipped",
			slog.String("po", name), slog.Any("items", missing))
		res.Outcome = OutcomeSuccess
		res.Message = verr.Error()
		return res, nil
	}
	res.Outcome = OutcomeError
	res.Message = verr.Error()
	res.ErrorLogID = s.logError(ctx, "Supplier Part Number missing", verr.Error())
	return res, verr
}

// LookupItemCode resolves a supplier part number on a purchase order back to the local item.
func (s *Service) LookupItemCode(ctx context.Context, poName, supplierPartNo string) (ItemCodeMatch, error) {
	if poName == "" || supplierPartNo == "" {
		return ItemCodeMatch{}, &ValidationError{Order: poName, Reason: "po_no and supplier_part_no are required"}
	}
	match, err := s.repo.FindItemByPartNumber(ctx, poName, supplierPartNo)
	if errors.Is(err, ErrNotFound) {
		return ItemCodeMatch{}, nil
	}
	return match, err
}

func (s *Service) authorize(actor shared.Actor) error {
	if actor.HasRole(s.cfg.ElevatedRole) {
		return nil
	}
	return &PermissionError{User: actor.User, Role: s.cfg.ElevatedRole}
}

func (s *Service) lock(ctx context.Context, name string) (func(), error) {
	if s.deps.Locker == nil {
		return func() {}, nil
	}
	release, err := s.deps.Locker.Acquire(ctx, shared.OrderLockKey(name))
	if err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			return nil, fmt.Errorf("%w: %s", ErrOrderLocked, name)
		}
		return nil, err
	}
	return release, nil
}

func (s *Service) skip(res Result, start time.Time, msg string) (Result, error) {
	res.Outcome = OutcomeSkipped
	res.Message = msg
	return s.finish(res, start, nil)
}

// fail records a failed operation to the error log and the notifier.
func (s *Service) fail(ctx context.Context, res Result, start time.Time, title string, err error) (Result, error) {
	msg := failureMessage(res, err)
	res.ErrorLogID = s.logError(ctx, title, fmt.Sprintf("%s: %v", res.Order, err))
	s.deps.Logger.Error("sales order sync failed",
		slog.String("operation", string(res.Operation)),
		slog.String("po", res.Order),
		slog.String("kind", Kind(err)),
		slog.Any("error", err),
	)
	if s.deps.Notifier != nil {
		failure := SyncFailure{Operation: res.Operation, Order: res.Order, Kind: Kind(err), Message: msg, ErrorLogID: res.ErrorLogID}
		if nerr := s.deps.Notifier.NotifySyncFailure(ctx, failure); nerr != nil {
			s.deps.Logger.Warn("notify sync failure", slog.String("po", res.Order), slog.Any("error", nerr))
		}
	}
	res.Message = msg
	return s.finish(res, start, err)
}

func (s *Service) finish(res Result, start time.Time, err error) (Result, error) {
	if err != nil {
		res.Outcome = OutcomeError
		if res.Message == "" {
			res.Message = err.Error()
		}
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveSync(string(res.Operation), outcomeLabel(res.Outcome, err), time.Since(start))
	}
	return res, err
}

func (s *Service) logError(ctx context.Context, title, message string) string {
	if s.deps.ErrorLog == nil {
		return ""
	}
	id, err := s.deps.ErrorLog.LogError(ctx, title, message)
	if err != nil {
		s.deps.Logger.Warn("write error log", slog.String("title", title), slog.Any("error", err))
		return ""
	}
	return id
}

func (s *Service) audit(ctx context.Context, actor, action, order string, meta map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.Record(ctx, shared.AuditLog{Actor: actor, Action: action, Entity: "purchase_order", EntityID: order, Meta: meta}); err != nil {
		s.deps.Logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

// failureMessage is the text shown to the user for a failed operation.
func failureMessage(res Result, err error) string {
	var remoteErr *remote.Error
	switch {
	case errors.Is(err, ErrConnectivity):
		return "Could not connect to the sales order site. Please ensure the site is running and try again."
	case errors.Is(err, ErrMalformedResponse):
		return "Invalid response format from the sales order site"
	case errors.As(err, &remoteErr) && remoteErr.Message != "":
		return remoteErr.Message
	default:
		return err.Error()
	}
}

// Kind names the error class of err for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrConnectivity):
		return "connectivity"
	case errors.Is(err, ErrRemoteRejection):
		return "remote_rejection"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrOrderLocked):
		return "locked"
	case errors.Is(err, ErrEndpointNotConfigured):
		return "configuration"
	default:
		return "internal"
	}
}

func outcomeLabel(outcome Outcome, err error) string {
	if err != nil {
		return Kind(err)
	}
	return string(outcome)
}
