package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEndpoint(url string) Endpoint {
	return Endpoint{BaseURL: url, APIKey: "key", APISecret: "secret"}
}

func TestCreateSalesOrderSendsAuthorizedPayload(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":{"sales_order_id":"SO-100"}}`))
	}))
	defer srv.Close()

	date := "2024-05-01"
	client := NewClient("", time.Second)
	id, err := client.CreateSalesOrder(context.Background(), newTestEndpoint(srv.URL+"/"), CreateRequest{
		PONumber: "PO-0001",
		Items:    []Item{{ItemCode: "SP-1", Qty: "2", Rate: "10.50", DeliveryDate: &date, SourceItemCode: "ITEM-1"}},
		Taxes:    []Tax{},
	})
	require.NoError(t, err)
	assert.Equal(t, "SO-100", id)
	assert.Equal(t, "/api/method/proman.proman.utils.sales_order.create_sales_order", gotPath)
	assert.Equal(t, "token key:secret", gotAuth)
	assert.Equal(t, "PO-0001", gotBody["po_name"])
	assert.Nil(t, gotBody["transaction_date"])
	items := gotBody["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "SP-1", item["item_code"])
	assert.Equal(t, 10.5, item["rate"])
	assert.Equal(t, "2024-05-01", item["delivery_date"])
}

func TestRejectionMessageExtraction(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "nested error", body: `{"message":{"error":"Item SP-9 not found"}}`, want: "Item SP-9 not found"},
		{name: "plain message", body: `{"message":"bad request"}`, want: "bad request"},
		{name: "no message", body: `{"exc_type":"ValidationError"}`, want: unknownError},
		{name: "raw text", body: "Internal Server Error\n", want: "Internal Server Error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient("", time.Second).CreateSalesOrder(context.Background(), newTestEndpoint(srv.URL), CreateRequest{PONumber: "PO-1"})
			require.Error(t, err)
			require.ErrorIs(t, err, ErrRejected)
			var remoteErr *Error
			require.True(t, errors.As(err, &remoteErr))
			assert.Equal(t, tc.want, remoteErr.Message)
			assert.Equal(t, http.StatusInternalServerError, remoteErr.StatusCode)
		})
	}
}

func TestNonJSONSuccessIsInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	_, err := NewClient("", time.Second).CreateSalesOrder(context.Background(), newTestEndpoint(srv.URL), CreateRequest{PONumber: "PO-1"})
	require.ErrorIs(t, err, ErrInvalidResponse)
	assert.False(t, errors.Is(err, ErrRejected))
}

func TestMissingIdentifierIsInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{}}`))
	}))
	defer srv.Close()

	_, err := NewClient("", time.Second).AmendSalesOrder(context.Background(), newTestEndpoint(srv.URL), AmendRequest{OldSalesOrder: "SO-1", NewPONumber: "PO-1-1"})
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestConnectionRefusedIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient("", time.Second).CancelSalesOrder(context.Background(), newTestEndpoint(url), CancelRequest{SalesOrder: "SO-1"})
	require.ErrorIs(t, err, ErrUnreachable)
}

func TestTimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewClient("", 50*time.Millisecond).CreateSalesOrder(context.Background(), newTestEndpoint(srv.URL), CreateRequest{PONumber: "PO-1"})
	require.ErrorIs(t, err, ErrUnreachable)
}

func TestCancelSalesOrderMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body CancelRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.SalesOrder != "SO-7" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"message":{"message":"Sales Order SO-7 cancelled successfully"}}`))
	}))
	defer srv.Close()

	msg, err := NewClient("", time.Second).CancelSalesOrder(context.Background(), newTestEndpoint(srv.URL), CancelRequest{SalesOrder: "SO-7"})
	require.NoError(t, err)
	assert.Equal(t, "Sales Order SO-7 cancelled successfully", msg)
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 10))
	require.Equal(t, "ab", truncate("abcdef", 2))
	// "é" is two bytes; cutting inside it drops the partial character
	require.Equal(t, "a", truncate("aé", 2))
	require.Equal(t, "", truncate("€", 2))
}

func TestLongNonJSONRejectionIsValidUTF8(t *testing.T) {
	body := strings.Repeat("x", 2047) + "ñandú"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	_, err := NewClient("", time.Second).CreateSalesOrder(context.Background(), newTestEndpoint(srv.URL), CreateRequest{PONumber: "PO-1"})
	var remoteErr *Error
	require.True(t, errors.As(err, &remoteErr))
	require.True(t, utf8.ValidString(remoteErr.Message))
	require.Equal(t, strings.Repeat("x", 2047), remoteErr.Message)
}
