package posync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/posync/internal/remote"
	"github.com/odyssey-erp/posync/internal/shared"
)

const testSupplier = DefaultTriggerSupplier

type memoryRepo struct {
	mu       sync.Mutex
	orders   map[string]Order
	partNos  map[string]string
	setCalls int
}

func newMemoryRepo(orders ...Order) *memoryRepo {
	repo := &memoryRepo{orders: make(map[string]Order), partNos: make(map[string]string)}
	for _, o := range orders {
		repo.orders[o.Name] = o
	}
	return repo
}

func (r *memoryRepo) GetOrder(ctx context.Context, name string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[name]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (r *memoryRepo) SetRemoteLink(ctx context.Context, name, remoteOrderID string, status LinkStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[name]
	if !ok {
		return ErrNotFound
	}
	o.RemoteOrderID = remoteOrderID
	o.LinkStatus = status
	r.orders[name] = o
	r.setCalls++
	return nil
}

func (r *memoryRepo) FindItemByPartNumber(ctx context.Context, poName, supplierPartNo string) (ItemCodeMatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[poName]
	if !ok {
		return ItemCodeMatch{}, ErrNotFound
	}
	for _, line := range o.Items {
		if line.SupplierPartNo == supplierPartNo {
			code := line.ItemCode
			return ItemCodeMatch{ItemCode: &code, DeliveryDate: formatDate(line.ScheduleDate)}, nil
		}
	}
	return ItemCodeMatch{}, ErrNotFound
}

func (r *memoryRepo) SupplierPartNo(ctx context.Context, itemCode, supplier string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.partNos[itemCode+"|"+supplier], nil
}

func (r *memoryRepo) order(name string) Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[name]
}

type memoryErrorLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *memoryErrorLog) LogError(ctx context.Context, title, message string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, title+": "+message)
	return fmt.Sprintf("ERR-%04d", len(l.entries)), nil
}

type memoryNotifier struct {
	mu       sync.Mutex
	failures []SyncFailure
}

func (n *memoryNotifier) NotifySyncFailure(ctx context.Context, failure SyncFailure) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, failure)
	return nil
}

type countingMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *countingMetrics) ObserveSync(operation, outcome string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, operation+":"+outcome)
}

// fakeRemote is an httptest counterpart that records every method call.
type fakeRemote struct {
	server *httptest.Server
	calls  atomic.Int32
	mu     sync.Mutex
	bodies map[string][]byte
	reply  func(method string, body []byte) (int, string)
}

func newFakeRemote(t *testing.T, reply func(method string, body []byte) (int, string)) *fakeRemote {
	t.Helper()
	f := &fakeRemote{bodies: make(map[string][]byte), reply: reply}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		method := r.URL.Path[strings.LastIndex(r.URL.Path, ".")+1:]
		f.mu.Lock()
		f.bodies[method] = body
		f.mu.Unlock()
		status, text := f.reply(method, body)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, text)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRemote) endpoint() StaticEndpoint {
	return StaticEndpoint{BaseURL: f.server.URL, APIKey: "key", APISecret: "secret"}
}

func (f *fakeRemote) body(t *testing.T, method string, target any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NoError(t, json.Unmarshal(f.bodies[method], target))
}

type harness struct {
	repo     *memoryRepo
	remote   *fakeRemote
	errLog   *memoryErrorLog
	notifier *memoryNotifier
	metrics  *countingMetrics
	service  *Service
}

func newHarness(t *testing.T, policy MissingItemPolicy, reply func(string, []byte) (int, string), orders ...Order) *harness {
	t.Helper()
	h := &harness{
		repo:     newMemoryRepo(orders...),
		remote:   newFakeRemote(t, reply),
		errLog:   &memoryErrorLog{},
		notifier: &memoryNotifier{},
		metrics:  &countingMetrics{},
	}
	h.service = NewService(h.repo, remote.NewClient("", 2*time.Second), h.remote.endpoint(), h.repo,
		ServiceConfig{MissingItemPolicy: policy},
		Deps{ErrorLog: h.errLog, Notifier: h.notifier, Metrics: h.metrics})
	return h
}

func okReply(message string) func(string, []byte) (int, string) {
	return func(string, []byte) (int, string) {
		return http.StatusOK, `{"message":` + message + `}`
	}
}

func date(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}

func sampleOrder(name string) Order {
	return Order{
		Name:            name,
		Supplier:        testSupplier,
		TransactionDate: date("2024-03-01"),
		ScheduleDate:    date("2024-03-15"),
		LinkStatus:      LinkUnsynced,
		Items: []LineItem{
			{ItemCode: "ITM-A", SupplierPartNo: "SP-A", Qty: decimal.RequireFromString("10"), Rate: decimal.RequireFromString("12.5"), ScheduleDate: date("2024-03-10")},
			{ItemCode: "ITM-B", SupplierPartNo: "SP-B", Qty: decimal.RequireFromString("2"), Rate: decimal.RequireFromString("100")},
		},
		Taxes: []TaxLine{{ChargeType: "On Net Total", AccountHead: "GST - P", Rate: decimal.RequireFromString("18")}},
	}
}

var manager = shared.Actor{User: "admin@example.com", Roles: []string{"System Manager"}}

func TestExportOrderCreatesAndLinks(t *testing.T) {
	h := newHarness(t, PolicyReject, okReply(`{"sales_order_id":"SO-100"}`), sampleOrder("PO-1"))

	res, err := h.service.ExportOrder(context.Background(), "PO-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.Equal(t, "SO-100", res.RemoteOrderID)

	stored := h.repo.order("PO-1")
	require.Equal(t, "SO-100", stored.RemoteOrderID)
	require.Equal(t, LinkSynced, stored.LinkStatus)

	var body remote.CreateRequest
	h.remote.body(t, "create_sales_order", &body)
	require.Equal(t, "PO-1", body.PONumber)
	require.Len(t, body.Items, 2)
	require.Equal(t, "SP-A", body.Items[0].ItemCode)
	require.Equal(t, "ITM-A", body.Items[0].SourceItemCode)
	require.Equal(t, "12.5", body.Items[0].Rate.String())
	require.Equal(t, "2024-03-10", *body.Items[0].DeliveryDate)
	require.Nil(t, body.Items[1].DeliveryDate)
	require.Equal(t, "2024-03-01", *body.TransactionDate)
	require.Len(t, body.Taxes, 1)
	require.Equal(t, []string{"create:success"}, h.metrics.outcomes)
}

func TestExportOrderSkipsOtherSuppliersAndLinkedOrders(t *testing.T) {
	other := sampleOrder("PO-2")
	other.Supplier = "Somebody Else"
	linked := sampleOrder("PO-3")
	linked.RemoteOrderID = "SO-9"
	linked.LinkStatus = LinkSynced
	h := newHarness(t, PolicyReject, okReply(`{"sales_order_id":"SO-100"}`), other, linked)

	res, err := h.service.ExportOrder(context.Background(), "PO-2")
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, res.Outcome)

	res, err = h.service.ExportOrder(context.Background(), "PO-3")
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, res.Outcome)
	require.Equal(t, "SO-9", res.RemoteOrderID)

	require.Zero(t, h.remote.calls.Load())
	require.Zero(t, h.repo.setCalls)
}

func TestExportOrderKeepsCancelledLink(t *testing.T) {
	cancelled := sampleOrder("PO-C")
	cancelled.RemoteOrderID = "SO-900"
	cancelled.LinkStatus = LinkCancelled
	h := newHarness(t, PolicyReject, okReply(`{"sales_order_id":"SO-901"}`), cancelled)

	res, err := h.service.ExportOrder(context.Background(), "PO-C")
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, res.Outcome)
	require.Equal(t, "SO-900", res.RemoteOrderID)
	require.Contains(t, res.Message, "was cancelled")

	require.Zero(t, h.remote.calls.Load())
	stored, err := h.repo.GetOrder(context.Background(), "PO-C")
	require.NoError(t, err)
	require.Equal(t, "SO-900", stored.RemoteOrderID)
	require.Equal(t, LinkCancelled, stored.LinkStatus)
}

func TestSupplierMatchIgnoresCaseAndSpacing(t *testing.T) {
	h := newHarness(t, PolicyReject, okReply(`{}`))
	require.True(t, h.service.InScope("  PROMAN infrastructure services private limited "))
	require.False(t, h.service.InScope("Proman"))
}

func TestMissingPartNumberPolicy(t *testing.T) {
	order := sampleOrder("PO-4")
	order.Items[1].SupplierPartNo = ""

	t.Run("reject", func(t *testing.T) {
		h := newHarness(t, PolicyReject, okReply(`{"sales_order_id":"SO-1"}`), order)
		res, err := h.service.ExportOrder(context.Background(), "PO-4")
		require.ErrorIs(t, err, ErrValidation)
		require.Equal(t, OutcomeError, res.Outcome)
		require.Contains(t, res.Message, "ITM-B")
		require.Zero(t, h.remote.calls.Load())
		require.Empty(t, h.repo.order("PO-4").RemoteOrderID)

		_, err = h.service.ValidateOrder(context.Background(), "PO-4")
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("skip", func(t *testing.T) {
		h := newHarness(t, PolicySkip, okReply(`{"sales_order_id":"SO-1"}`), order)
		res, err := h.service.ValidateOrder(context.Background(), "PO-4")
		require.NoError(t, err)
		require.Equal(t, OutcomeSuccess, res.Outcome)

		res, err = h.service.ExportOrder(context.Background(), "PO-4")
		require.NoError(t, err)
		require.Equal(t, "SO-1", res.RemoteOrderID)

		var body remote.CreateRequest
		h.remote.body(t, "create_sales_order", &body)
		require.Len(t, body.Items, 1)
		require.Equal(t, "SP-A", body.Items[0].ItemCode)
	})

	t.Run("resolver fallback", func(t *testing.T) {
		h := newHarness(t, PolicyReject, okReply(`{"sales_order_id":"SO-2"}`), order)
		h.repo.partNos["ITM-B|"+testSupplier] = "SP-B-MASTER"
		_, err := h.service.ExportOrder(context.Background(), "PO-4")
		require.NoError(t, err)

		var body remote.CreateRequest
		h.remote.body(t, "create_sales_order", &body)
		require.Equal(t, "SP-B-MASTER", body.Items[1].ItemCode)
	})
}

func TestSyncAmendmentReplacesSalesOrder(t *testing.T) {
	prev := sampleOrder("PO-5")
	prev.RemoteOrderID = "SO-100"
	prev.LinkStatus = LinkCancelled
	amended := sampleOrder("PO-5-1")
	amended.AmendedFrom = "PO-5"
	h := newHarness(t, PolicyReject, okReply(`{"new_sales_order_id":"SO-101"}`), prev, amended)

	res, err := h.service.SyncAmendment(context.Background(), manager, "PO-5-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.Equal(t, "SO-101", h.repo.order("PO-5-1").RemoteOrderID)
	require.Equal(t, LinkSynced, h.repo.order("PO-5-1").LinkStatus)

	var body remote.AmendRequest
	h.remote.body(t, "amend_sales_order", &body)
	require.Equal(t, "SO-100", body.OldSalesOrder)
	require.Equal(t, "PO-5-1", body.NewPONumber)
	require.Empty(t, body.Items[0].SourceItemCode)
}

func TestSyncAmendmentRejectsSameIdentifier(t *testing.T) {
	prev := sampleOrder("PO-6")
	prev.RemoteOrderID = "SO-100"
	amended := sampleOrder("PO-6-1")
	amended.AmendedFrom = "PO-6"
	h := newHarness(t, PolicyReject, okReply(`{"new_sales_order_id":"SO-100"}`), prev, amended)

	_, err := h.service.SyncAmendment(context.Background(), manager, "PO-6-1")
	require.ErrorIs(t, err, ErrMalformedResponse)
	require.Empty(t, h.repo.order("PO-6-1").RemoteOrderID)
}

func TestSyncAmendmentWithoutPredecessorLink(t *testing.T) {
	prev := sampleOrder("PO-7")
	amended := sampleOrder("PO-7-1")
	amended.AmendedFrom = "PO-7"
	h := newHarness(t, PolicyReject, okReply(`{"new_sales_order_id":"SO-1"}`), prev, amended)

	res, err := h.service.SyncAmendment(context.Background(), manager, "PO-7-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, res.Outcome)
	require.Equal(t, "No linked Sales Order found to amend", res.Message)
	require.Zero(t, h.remote.calls.Load())
}

func TestCancelOrder(t *testing.T) {
	linked := sampleOrder("PO-8")
	linked.RemoteOrderID = "SO-200"
	linked.LinkStatus = LinkSynced
	unlinked := sampleOrder("PO-9")
	h := newHarness(t, PolicyReject, okReply(`{"message":"Sales Order SO-200 cancelled successfully"}`), linked, unlinked)

	res, err := h.service.CancelOrder(context.Background(), manager, "PO-9")
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, res.Outcome)
	require.Zero(t, h.remote.calls.Load())

	res, err = h.service.CancelOrder(context.Background(), manager, "PO-8")
	require.NoError(t, err)
	require.Equal(t, "Sales Order SO-200 cancelled successfully", res.Message)
	stored := h.repo.order("PO-8")
	require.Equal(t, "SO-200", stored.RemoteOrderID)
	require.Equal(t, LinkCancelled, stored.LinkStatus)

	var body remote.CancelRequest
	h.remote.body(t, "cancel_sales_order", &body)
	require.Equal(t, "SO-200", body.SalesOrder)

	// a cancelled link is no longer live
	res, err = h.service.CancelOrder(context.Background(), manager, "PO-8")
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, res.Outcome)
	require.Equal(t, int32(1), h.remote.calls.Load())
}

func TestElevatedRoleRequired(t *testing.T) {
	linked := sampleOrder("PO-10")
	linked.RemoteOrderID = "SO-300"
	linked.LinkStatus = LinkSynced
	prev := sampleOrder("PO-11")
	prev.RemoteOrderID = "SO-301"
	amended := sampleOrder("PO-11-1")
	amended.AmendedFrom = "PO-11"
	h := newHarness(t, PolicyReject, okReply(`{}`), linked, prev, amended)
	clerk := shared.Actor{User: "clerk@example.com", Roles: []string{"Purchase User"}}

	_, err := h.service.CancelOrder(context.Background(), clerk, "PO-10")
	require.ErrorIs(t, err, ErrPermission)
	require.Contains(t, err.Error(), "System Manager")

	_, err = h.service.SyncAmendment(context.Background(), clerk, "PO-11-1")
	require.ErrorIs(t, err, ErrPermission)

	require.Zero(t, h.remote.calls.Load())
	require.Equal(t, LinkSynced, h.repo.order("PO-10").LinkStatus)
	require.Empty(t, h.errLog.entries)
}

func TestRemoteRejectionSurfacesMessage(t *testing.T) {
	reply := func(string, []byte) (int, string) {
		return http.StatusInternalServerError, `{"message":{"error":"bad request"}}`
	}
	h := newHarness(t, PolicyReject, reply, sampleOrder("PO-12"))

	res, err := h.service.ExportOrder(context.Background(), "PO-12")
	require.ErrorIs(t, err, ErrRemoteRejection)
	require.Equal(t, OutcomeError, res.Outcome)
	require.Equal(t, "bad request", res.Message)
	require.NotEmpty(t, res.ErrorLogID)
	require.Empty(t, h.repo.order("PO-12").RemoteOrderID)
	require.Len(t, h.notifier.failures, 1)
	require.Equal(t, "remote_rejection", h.notifier.failures[0].Kind)
}

func TestMalformedSuccessResponse(t *testing.T) {
	reply := func(string, []byte) (int, string) {
		return http.StatusOK, `<html>maintenance</html>`
	}
	h := newHarness(t, PolicyReject, reply, sampleOrder("PO-13"))

	res, err := h.service.ExportOrder(context.Background(), "PO-13")
	require.ErrorIs(t, err, ErrMalformedResponse)
	require.NotErrorIs(t, err, ErrRemoteRejection)
	require.Equal(t, "Invalid response format from the sales order site", res.Message)
	require.Empty(t, h.repo.order("PO-13").RemoteOrderID)
}

func TestConnectivityFailureLeavesLinkUnchanged(t *testing.T) {
	linked := sampleOrder("PO-14")
	linked.RemoteOrderID = "SO-400"
	linked.LinkStatus = LinkSynced
	h := newHarness(t, PolicyReject, okReply(`{}`), sampleOrder("PO-15"), linked)
	h.remote.server.Close()

	_, err := h.service.ExportOrder(context.Background(), "PO-15")
	require.ErrorIs(t, err, ErrConnectivity)
	require.Empty(t, h.repo.order("PO-15").RemoteOrderID)

	res, err := h.service.CancelOrder(context.Background(), manager, "PO-14")
	require.ErrorIs(t, err, ErrConnectivity)
	require.Contains(t, res.Message, "Could not connect")
	require.Equal(t, LinkSynced, h.repo.order("PO-14").LinkStatus)
	require.Zero(t, h.repo.setCalls)
}

func TestHandleSubmitDispatches(t *testing.T) {
	prev := sampleOrder("PO-16")
	prev.RemoteOrderID = "SO-500"
	amended := sampleOrder("PO-16-1")
	amended.AmendedFrom = "PO-16"
	reply := func(method string, _ []byte) (int, string) {
		if method == "amend_sales_order" {
			return http.StatusOK, `{"message":{"new_sales_order_id":"SO-501"}}`
		}
		return http.StatusOK, `{"message":{"sales_order_id":"SO-600"}}`
	}
	h := newHarness(t, PolicyReject, reply, prev, amended, sampleOrder("PO-17"))

	res, err := h.service.HandleSubmit(context.Background(), manager, "PO-16-1")
	require.NoError(t, err)
	require.Equal(t, remote.OpAmend, res.Operation)
	require.Equal(t, "SO-501", res.RemoteOrderID)

	res, err = h.service.HandleSubmit(context.Background(), shared.Actor{}, "PO-17")
	require.NoError(t, err)
	require.Equal(t, remote.OpCreate, res.Operation)
	require.Equal(t, "SO-600", res.RemoteOrderID)

	_, err = h.service.HandleSubmit(context.Background(), manager, "PO-404")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLookupItemCode(t *testing.T) {
	h := newHarness(t, PolicyReject, okReply(`{}`), sampleOrder("PO-18"))

	match, err := h.service.LookupItemCode(context.Background(), "PO-18", "SP-A")
	require.NoError(t, err)
	require.Equal(t, "ITM-A", *match.ItemCode)
	require.Equal(t, "2024-03-10", *match.DeliveryDate)

	match, err = h.service.LookupItemCode(context.Background(), "PO-18", "SP-X")
	require.NoError(t, err)
	require.Nil(t, match.ItemCode)
	require.Nil(t, match.DeliveryDate)

	_, err = h.service.LookupItemCode(context.Background(), "", "SP-A")
	require.ErrorIs(t, err, ErrValidation)
}

func TestConcurrentOperationsAreSerialised(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := shared.NewRedisLocker(client, time.Minute)

	h := newHarness(t, PolicyReject, okReply(`{"sales_order_id":"SO-700"}`), sampleOrder("PO-19"))
	h.service.deps.Locker = locker

	release, err := locker.Acquire(context.Background(), shared.OrderLockKey("PO-19"))
	require.NoError(t, err)
	_, err = h.service.ExportOrder(context.Background(), "PO-19")
	require.ErrorIs(t, err, ErrOrderLocked)
	require.Zero(t, h.remote.calls.Load())
	release()

	_, err = h.service.ExportOrder(context.Background(), "PO-19")
	require.NoError(t, err)
	require.False(t, mr.Exists(shared.OrderLockKey("PO-19")))
}
