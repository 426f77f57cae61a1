package posync

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/posync/internal/remote"
)

// LinkStatus tracks the state of an order's remote sales order reference.
type LinkStatus string

const (
	LinkUnsynced  LinkStatus = "UNSYNCED"
	LinkSynced    LinkStatus = "SYNCED"
	LinkCancelled LinkStatus = "CANCELLED"
)

// Order is a local purchase order.
type Order struct {
	Name            string
	Supplier        string
	TransactionDate time.Time
	ScheduleDate    time.Time
	AmendedFrom     string
	RemoteOrderID   string
	LinkStatus      LinkStatus
	Items           []LineItem
	Taxes           []TaxLine
}

// Linked reports whether the order points at a live remote sales order.
func (o Order) Linked() bool {
	return o.RemoteOrderID != "" && o.LinkStatus == LinkSynced
}

// LineItem is a purchase order line.
type LineItem struct {
	ItemCode       string
	SupplierPartNo string
	Qty            decimal.Decimal
	Rate           decimal.Decimal
	ScheduleDate   time.Time
}

// TaxLine is a purchase taxes and charges row.
type TaxLine struct {
	ChargeType  string
	AccountHead string
	Rate        decimal.Decimal
}

// MissingItemPolicy decides what happens to lines without a remote item code.
type MissingItemPolicy string

const (
	PolicyReject MissingItemPolicy = "reject"
	PolicySkip   MissingItemPolicy = "skip"
)

// ParseMissingItemPolicy validates a configured policy name.
func ParseMissingItemPolicy(raw string) (MissingItemPolicy, error) {
	switch MissingItemPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyReject:
		return PolicyReject, nil
	case PolicySkip:
		return PolicySkip, nil
	default:
		return "", fmt.Errorf("posync: unknown missing item policy %q", raw)
	}
}

// Outcome classifies a lifecycle operation result.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// Result is returned by every lifecycle operation.
type Result struct {
	Operation     remote.Operation `json:"operation"`
	Order         string           `json:"order"`
	Outcome       Outcome          `json:"status"`
	RemoteOrderID string           `json:"sales_order,omitempty"`
	Message       string           `json:"message"`
	ErrorLogID    string           `json:"error_log,omitempty"`
}

// ItemCodeMatch answers a reverse lookup from a supplier part number.
type ItemCodeMatch struct {
	ItemCode     *string `json:"item_code"`
	DeliveryDate *string `json:"delivery_date"`
}

var (
	// ErrNotFound indicates a missing order.
	ErrNotFound = errors.New("posync: not found")
	// ErrValidation indicates the order cannot be mapped to the remote shape.
	ErrValidation = errors.New("posync: validation failed")
	// ErrPermission indicates the caller lacks the elevated role.
	ErrPermission = errors.New("posync: permission denied")
	// ErrOrderLocked indicates another operation holds the order.
	ErrOrderLocked = errors.New("posync: order is being synced")

	// Remote failure kinds, shared with the remote client.
	ErrConnectivity      = remote.ErrUnreachable
	ErrRemoteRejection   = remote.ErrRejected
	ErrMalformedResponse = remote.ErrInvalidResponse
)

// ValidationError lists the items that blocked a sync.
type ValidationError struct {
	Order        string
	MissingItems []string
	Reason       string
}

func (e *ValidationError) Error() string {
	if len(e.MissingItems) > 0 {
		return fmt.Sprintf("Missing Supplier Part Numbers in: %s", strings.Join(e.MissingItems, ", "))
	}
	return fmt.Sprintf("posync: order %s: %s", e.Order, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PermissionError reports a rejected caller.
type PermissionError struct {
	User string
	Role string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("You do not have permission to cancel or amend this Purchase Order. Only %s users can change POs of this supplier.", e.Role)
}

func (e *PermissionError) Is(target error) bool {
	return target == ErrPermission
}

const dateLayout = "2006-01-02"

func formatDate(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}
