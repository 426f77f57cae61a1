// Package remote talks to the counterpart ERP instance that owns sales orders.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultNamespace is the dotted module path of the remote sales order methods.
const DefaultNamespace = "proman.proman.utils.sales_order"

const unknownError = "Unknown error occurred"

// Client wraps the remote method API.
type Client struct {
	namespace  string
	httpClient *http.Client
}

// NewClient constructs a client. A non-positive timeout falls back to 30s.
func NewClient(namespace string, timeout time.Duration) *Client {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		namespace:  namespace,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateSalesOrder creates a sales order mirroring a purchase order and returns its name.
func (c *Client) CreateSalesOrder(ctx context.Context, ep Endpoint, req CreateRequest) (string, error) {
	raw, err := c.call(ctx, ep, OpCreate, "create_sales_order", req)
	if err != nil {
		return "", err
	}
	var res createResult
	if err := json.Unmarshal(raw, &res); err != nil || res.SalesOrderID == "" {
		return "", &Error{Op: OpCreate, Kind: ErrInvalidResponse, Message: "sales_order_id missing"}
	}
	return res.SalesOrderID, nil
}

// AmendSalesOrder replaces a cancelled sales order and returns the new name.
func (c *Client) AmendSalesOrder(ctx context.Context, ep Endpoint, req AmendRequest) (string, error) {
	raw, err := c.call(ctx, ep, OpAmend, "amend_sales_order", req)
	if err != nil {
		return "", err
	}
	var res amendResult
	if err := json.Unmarshal(raw, &res); err != nil || res.NewSalesOrderID == "" {
		return "", &Error{Op: OpAmend, Kind: ErrInvalidResponse, Message: "new_sales_order_id missing"}
	}
	return res.NewSalesOrderID, nil
}

// CancelSalesOrder cancels a sales order and returns the remote display message.
func (c *Client) CancelSalesOrder(ctx context.Context, ep Endpoint, req CancelRequest) (string, error) {
	raw, err := c.call(ctx, ep, OpCancel, "cancel_sales_order", req)
	if err != nil {
		return "", err
	}
	var res cancelResult
	if len(raw) > 0 {
		// The display text is informational only; an odd shape is not a failure.
		_ = json.Unmarshal(raw, &res)
	}
	if res.Message == "" {
		res.Message = fmt.Sprintf("Sales Order %s cancelled", req.SalesOrder)
	}
	return res.Message, nil
}

// MethodURL returns the full URL of a remote method.
func (c *Client) MethodURL(ep Endpoint, method string) string {
	return fmt.Sprintf("%s/api/method/%s.%s", strings.TrimRight(ep.BaseURL, "/"), c.namespace, method)
}

// call posts body to method and returns the raw "message" member of a 200 answer.
func (c *Client) call(ctx context.Context, ep Endpoint, op Operation, method string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("remote: encode %s payload: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.MethodURL(ep, method), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("remote: build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", ep.APIKey, ep.APISecret))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrUnreachable, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrUnreachable, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Op: op, Kind: ErrRejected, StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &Error{Op: op, Kind: ErrInvalidResponse, StatusCode: resp.StatusCode, Message: truncate(string(data), 512), Err: err}
	}
	return env.Message, nil
}

// errorMessage extracts message.error, then a string message, then the raw text.
func errorMessage(data []byte) string {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		text := strings.TrimSpace(string(data))
		if text == "" {
			return unknownError
		}
		return truncate(text, 2048)
	}
	if len(env.Message) == 0 {
		return unknownError
	}
	var nested errorResult
	if err := json.Unmarshal(env.Message, &nested); err == nil && nested.Error != "" {
		return nested.Error
	}
	var plain string
	if err := json.Unmarshal(env.Message, &plain); err == nil && plain != "" {
		return plain
	}
	return unknownError
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
