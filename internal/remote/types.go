package remote

import "encoding/json"

// Endpoint holds the connection details of the counterpart instance.
type Endpoint struct {
	BaseURL   string `validate:"required,url"`
	APIKey    string `validate:"required"`
	APISecret string `validate:"required"`
}

// Item is a sales order line as the remote expects it.
type Item struct {
	ItemCode       string      `json:"item_code"`
	Qty            json.Number `json:"qty"`
	Rate           json.Number `json:"rate"`
	DeliveryDate   *string     `json:"delivery_date"`
	SourceItemCode string      `json:"acepl_item_code,omitempty"`
}

// Tax is a sales taxes and charges row.
type Tax struct {
	ChargeType  string      `json:"charge_type"`
	AccountHead string      `json:"account_head"`
	Rate        json.Number `json:"rate"`
}

// CreateRequest is the body of create_sales_order.
type CreateRequest struct {
	PONumber        string  `json:"po_name"`
	Items           []Item  `json:"items"`
	Taxes           []Tax   `json:"taxes"`
	TransactionDate *string `json:"transaction_date"`
	DeliveryDate    *string `json:"delivery_date"`
}

// AmendRequest is the body of amend_sales_order.
type AmendRequest struct {
	OldSalesOrder   string  `json:"old_so_name"`
	NewPONumber     string  `json:"new_po_name"`
	Items           []Item  `json:"items"`
	Taxes           []Tax   `json:"taxes"`
	TransactionDate *string `json:"transaction_date"`
	DeliveryDate    *string `json:"delivery_date"`
}

// CancelRequest is the body of cancel_sales_order.
type CancelRequest struct {
	SalesOrder string `json:"sales_order_name"`
}

type envelope struct {
	Message json.RawMessage `json:"message"`
}

type createResult struct {
	SalesOrderID string `json:"sales_order_id"`
}

type amendResult struct {
	NewSalesOrderID string `json:"new_sales_order_id"`
}

type cancelResult struct {
	Message string `json:"message"`
}

type errorResult struct {
	Error string `json:"error"`
}
