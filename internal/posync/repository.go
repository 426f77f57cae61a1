package posync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	db dbtx
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx pgx.Tx) *Repository {
	return &Repository{db: tx}
}

const orderColumns = `name, supplier, transaction_date, schedule_date, COALESCE(amended_from, ''), COALESCE(so_name, ''), so_link_status`

// GetOrder returns a purchase order with its items and taxes.
func (r *Repository) GetOrder(ctx context.Context, name string) (Order, error) {
	var (
		o               Order
		transactionDate pgtype.Date
		scheduleDate    pgtype.Date
		status          string
	)
	err := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE name = $1`, name).
		Scan(&o.Name, &o.Supplier, &transactionDate, &scheduleDate, &o.AmendedFrom, &o.RemoteOrderID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, fmt.Errorf("%w: purchase order %s", ErrNotFound, name)
		}
		return Order{}, err
	}
	o.TransactionDate = dateValue(transactionDate)
	o.ScheduleDate = dateValue(scheduleDate)
	o.LinkStatus = LinkStatus(status)

	items, err := r.orderItems(ctx, name)
	if err != nil {
		return Order{}, err
	}
	o.Items = items
	taxes, err := r.orderTaxes(ctx, name)
	if err != nil {
		return Order{}, err
	}
	o.Taxes = taxes
	return o, nil
}

func (r *Repository) orderItems(ctx context.Context, name string) ([]LineItem, error) {
	rows, err := r.db.Query(ctx, `SELECT item_code, COALESCE(supplier_part_no, ''), qty, rate, schedule_date
		FROM purchase_order_items WHERE po_name = $1 ORDER BY idx`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LineItem
	for rows.Next() {
		var (
			item     LineItem
			schedule pgtype.Date
		)
		if err := rows.Scan(&item.ItemCode, &item.SupplierPartNo, &item.Qty, &item.Rate, &schedule); err != nil {
			return nil, err
		}
		item.ScheduleDate = dateValue(schedule)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *Repository) orderTaxes(ctx context.Context, name string) ([]TaxLine, error) {
	rows, err := r.db.Query(ctx, `SELECT charge_type, account_head, rate
		FROM purchase_order_taxes WHERE po_name = $1 ORDER BY idx`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var taxes []TaxLine
	for rows.Next() {
		var tax TaxLine
		if err := rows.Scan(&tax.ChargeType, &tax.AccountHead, &tax.Rate); err != nil {
			return nil, err
		}
		taxes = append(taxes, tax)
	}
	return taxes, rows.Err()
}

// SetRemoteLink stores the remote sales order reference on an order.
func (r *Repository) SetRemoteLink(ctx context.Context, name, remoteOrderID string, status LinkStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE purchase_orders SET so_name = NULLIF($2, ''), so_link_status = $3, updated_at = NOW() WHERE name = $1`, name, remoteOrderID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: purchase order %s", ErrNotFound, name)
	}
	return nil
}

// SupplierPartNo looks up the item-supplier master.
func (r *Repository) SupplierPartNo(ctx context.Context, itemCode, supplier string) (string, error) {
	var partNo string
	err := r.db.QueryRow(ctx, `SELECT supplier_part_no FROM item_suppliers WHERE item_code = $1 AND supplier = $2 AND supplier_part_no <> '' LIMIT 1`, itemCode, supplier).Scan(&partNo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return partNo, nil
}

// FindItemByPartNumber finds the local item behind a supplier part number on an order.
func (r *Repository) FindItemByPartNumber(ctx context.Context, poName, supplierPartNo string) (ItemCodeMatch, error) {
	var (
		itemCode string
		schedule pgtype.Date
	)
	err := r.db.QueryRow(ctx, `SELECT item_code, schedule_date FROM purchase_order_items
		WHERE po_name = $1 AND supplier_part_no = $2 ORDER BY idx LIMIT 1`, poName, supplierPartNo).Scan(&itemCode, &schedule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ItemCodeMatch{}, ErrNotFound
		}
		return ItemCodeMatch{}, err
	}
	match := ItemCodeMatch{DeliveryDate: formatDate(dateValue(schedule))}
	if itemCode != "" {
		match.ItemCode = &itemCode
	}
	return match, nil
}

// LoadEndpoint reads the singleton endpoint configuration row.
func (r *Repository) LoadEndpoint(ctx context.Context) (SealedEndpoint, error) {
	var ep SealedEndpoint
	err := r.db.QueryRow(ctx, `SELECT base_url, api_key, api_secret_sealed FROM remote_endpoint_config WHERE id = 1`).
		Scan(&ep.BaseURL, &ep.APIKey, &ep.SealedSecret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SealedEndpoint{}, ErrNotFound
		}
		return SealedEndpoint{}, err
	}
	return ep, nil
}

// SaveEndpoint upserts the singleton endpoint configuration row.
func (r *Repository) SaveEndpoint(ctx context.Context, ep SealedEndpoint) error {
	_, err := r.db.Exec(ctx, `INSERT INTO remote_endpoint_config (id, base_url, api_key, api_secret_sealed, updated_at)
		VALUES (1, $1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET base_url = EXCLUDED.base_url, api_key = EXCLUDED.api_key,
			api_secret_sealed = EXCLUDED.api_secret_sealed, updated_at = NOW()`, ep.BaseURL, ep.APIKey, ep.SealedSecret)
	return err
}

func dateValue(d pgtype.Date) time.Time {
	if !d.Valid {
		return time.Time{}
	}
	return d.Time
}

var (
	_ RepositoryPort     = (*Repository)(nil)
	_ PartNumberResolver = (*Repository)(nil)
	_ EndpointStore      = (*Repository)(nil)
)
