package posync

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/posync/internal/remote"
)

// PartNumberResolver finds the supplier-assigned part number for a local item.
type PartNumberResolver interface {
	SupplierPartNo(ctx context.Context, itemCode, supplier string) (string, error)
}

// PayloadBuilder maps local orders onto remote request shapes.
type PayloadBuilder struct {
	resolver PartNumberResolver
	policy   MissingItemPolicy
	logger   *slog.Logger
}

// NewPayloadBuilder constructs a builder. A nil resolver only uses the part numbers on the lines.
func NewPayloadBuilder(resolver PartNumberResolver, policy MissingItemPolicy, logger *slog.Logger) *PayloadBuilder {
	if policy == "" {
		policy = PolicyReject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PayloadBuilder{resolver: resolver, policy: policy, logger: logger}
}

// Policy returns the missing item policy in force.
func (b *PayloadBuilder) Policy() MissingItemPolicy {
	return b.policy
}

// BuildCreatePayload maps an order onto create_sales_order.
func (b *PayloadBuilder) BuildCreatePayload(ctx context.Context, order Order) (remote.CreateRequest, error) {
	items, err := b.items(ctx, order, true)
	if err != nil {
		return remote.CreateRequest{}, err
	}
	return remote.CreateRequest{
		PONumber:        order.Name,
		Items:           items,
		Taxes:           taxes(order.Taxes),
		TransactionDate: formatDate(order.TransactionDate),
		DeliveryDate:    formatDate(order.ScheduleDate),
	}, nil
}

// BuildAmendPayload maps an amended order onto amend_sales_order.
func (b *PayloadBuilder) BuildAmendPayload(ctx context.Context, order Order, oldSalesOrder string) (remote.AmendRequest, error) {
	items, err := b.items(ctx, order, false)
	if err != nil {
		return remote.AmendRequest{}, err
	}
	return remote.AmendRequest{
		OldSalesOrder:   oldSalesOrder,
		NewPONumber:     order.Name,
		Items:           items,
		Taxes:           taxes(order.Taxes),
		TransactionDate: formatDate(order.TransactionDate),
		DeliveryDate:    formatDate(order.ScheduleDate),
	}, nil
}

// MissingPartNumbers returns the item codes that resolve to no remote item code.
func (b *PayloadBuilder) MissingPartNumbers(ctx context.Context, order Order) ([]string, error) {
	var missing []string
	for _, line := range order.Items {
		code, err := b.resolve(ctx, order.Supplier, line)
		if err != nil {
			return nil, err
		}
		if code == "" {
			missing = append(missing, line.ItemCode)
		}
	}
	return missing, nil
}

func (b *PayloadBuilder) items(ctx context.Context, order Order, withSource bool) ([]remote.Item, error) {
	if len(order.Items) == 0 {
		return nil, &ValidationError{Order: order.Name, Reason: "order has no items"}
	}
	items := make([]remote.Item, 0, len(order.Items))
	var missing []string
	for _, line := range order.Items {
		code, err := b.resolve(ctx, order.Supplier, line)
		if err != nil {
			return nil, err
		}
		if code == "" {
			missing = append(missing, line.ItemCode)
			continue
		}
		item := remote.Item{
			ItemCode:     code,
			Qty:          number(line.Qty),
			Rate:         number(line.Rate),
			DeliveryDate: formatDate(line.ScheduleDate),
		}
		if withSource {
			item.SourceItemCode = line.ItemCode
		}
		items = append(items, item)
	}
	if len(missing) == 0 {
		return items, nil
	}
	if b.policy == PolicyReject {
		return nil, &ValidationError{Order: order.Name, MissingItems: missing}
	}
	b.logger.Warn("skipping items without supplier part number",
		slog.String("po", order.Name),
		slog.Any("items", missing),
	)
	if len(items) == 0 {
		return nil, &ValidationError{Order: order.Name, MissingItems: missing}
	}
	return items, nil
}

func (b *PayloadBuilder) resolve(ctx context.Context, supplier string, line LineItem) (string, error) {
	if line.SupplierPartNo != "" {
		return line.SupplierPartNo, nil
	}
	if b.resolver == nil {
		return "", nil
	}
	return b.resolver.SupplierPartNo(ctx, line.ItemCode, supplier)
}

func taxes(lines []TaxLine) []remote.Tax {
	out := make([]remote.Tax, 0, len(lines))
	for _, tax := range lines {
		out = append(out, remote.Tax{
			ChargeType:  tax.ChargeType,
			AccountHead: tax.AccountHead,
			Rate:        number(tax.Rate),
		})
	}
	return out
}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
