package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

type orderRepository struct {
	db querier
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

const orderColumns = `
	id, number, business_id, customer_id, status, payment_status, payment_method, coupon_code,
	subtotal, discount, shipping, tax, total, total_refunded,
	shipping_address, billing_address, tracking_number, carrier, notes,
	confirmed_at, processing_at, shipped_at, delivered_at, cancelled_at, returned_at, refunded_at,
	version, created_at, updated_at`

// noteRow и refundItemRow задают JSON-представление вложенных структур в JSONB-колонках.
type noteRow struct {
	Text    string    `json:"text"`
	AddedBy string    `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
}

type refundItemRow struct {
	ProductID string `json:"product_id"`
	Qty       int32  `json:"qty"`
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	shipping, billing, notes, err := encodeOrderJSON(order)
	if err != nil {
		return err
	}

	return runTx(ctx, r.db, func(tx querier) error {
		ts := order.Timestamps
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,
			        $20,$21,$22,$23,$24,$25,$26,$27,$28,$29)
		`,
			order.ID, order.Number, order.BusinessID, order.CustomerID,
			string(order.Status), string(order.PaymentStatus), order.PaymentMethod, order.CouponCode,
			order.Pricing.Subtotal, order.Pricing.Discount, order.Pricing.Shipping, order.Pricing.Tax,
			order.Pricing.Total, order.Refunds.TotalRefunded,
			shipping, billing, order.Tracking.Number, order.Tracking.Carrier, notes,
			ts.ConfirmedAt, ts.ProcessingAt, ts.ShippedAt, ts.DeliveredAt, ts.CancelledAt, ts.ReturnedAt, ts.RefundedAt,
			order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderExists
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i, item := range order.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (
					order_id, line_no, product_id, name, sku, qty, unit_price, total, refunded_qty
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`,
				order.ID, i, item.ProductID, item.Name, item.SKU, item.Qty, item.UnitPrice, item.Total, item.RefundedQty,
			); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		return insertRefunds(ctx, tx, order.ID, order.Refunds.History, 0)
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.getBy(ctx, "id", id)
}

func (r *orderRepository) GetByNumber(ctx context.Context, number string) (domain.Order, error) {
	return r.getBy(ctx, "number", number)
}

func (r *orderRepository) getBy(ctx context.Context, column, value string) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+column+` = $1`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	if err := r.loadChildren(ctx, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// List возвращает страницу заказов от новых к старым и общее количество.
func (r *orderRepository) List(ctx context.Context, q domain.OrderQuery) ([]domain.Order, int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	where, args := buildOrderFilter(q)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	query := `SELECT ` + orderColumns + ` FROM orders` + where + ` ORDER BY created_at DESC, id DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	orders, err := r.queryOrders(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListByBusiness возвращает заказы магазина в интервале от старых к новым.
func (r *orderRepository) ListByBusiness(ctx context.Context, businessID string, from, to time.Time) ([]domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return r.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE business_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at ASC, number ASC
	`, businessID, from, to)
}

// Save применяет обновления к заказу с учётом optimistic locking.
// Позиции меняются только в refunded_qty, возвраты только дописываются.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	shipping, billing, notes, err := encodeOrderJSON(order)
	if err != nil {
		return err
	}

	return runTx(ctx, r.db, func(tx querier) error {
		ts := order.Timestamps
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1,
			    payment_status = $2,
			    total_refunded = $3,
			    shipping_address = $4,
			    billing_address = $5,
			    tracking_number = $6,
			    carrier = $7,
			    notes = $8,
			    confirmed_at = $9,
			    processing_at = $10,
			    shipped_at = $11,
			    delivered_at = $12,
			    cancelled_at = $13,
			    returned_at = $14,
			    refunded_at = $15,
			    version = version + 1,
			    updated_at = $16
			WHERE id = $17
			  AND version = $18
		`,
			string(order.Status), string(order.PaymentStatus), order.Refunds.TotalRefunded,
			shipping, billing, order.Tracking.Number, order.Tracking.Carrier, notes,
			ts.ConfirmedAt, ts.ProcessingAt, ts.ShippedAt, ts.DeliveredAt, ts.CancelledAt, ts.ReturnedAt, ts.RefundedAt,
			order.UpdatedAt, order.ID, order.Version,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			exists, err := orderExistsTx(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			if !exists {
				return domain.ErrOrderNotFound
			}
			return domain.ErrOrderVersionConflict
		}

		for i, item := range order.Items {
			if _, err := tx.ExecContext(ctx, `
				UPDATE order_items SET refunded_qty = $1 WHERE order_id = $2 AND line_no = $3
			`, item.RefundedQty, order.ID, i); err != nil {
				return fmt.Errorf("update order item: %w", err)
			}
		}

		var stored int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_refunds WHERE order_id = $1`, order.ID).Scan(&stored); err != nil {
			return fmt.Errorf("count refunds: %w", err)
		}
		if stored > len(order.Refunds.History) {
			return domain.ErrOrderVersionConflict
		}
		return insertRefunds(ctx, tx, order.ID, order.Refunds.History[stored:], stored)
	})
}

func (r *orderRepository) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		if err := r.loadChildren(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *orderRepository) loadChildren(ctx context.Context, order *domain.Order) error {
	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return err
	}
	order.Items = items

	history, err := r.loadRefunds(ctx, order.ID)
	if err != nil {
		return err
	}
	order.Refunds.History = history
	return nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, name, sku, qty, unit_price, total, refunded_qty
		FROM order_items
		WHERE order_id = $1
		ORDER BY line_no ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.SKU, &item.Qty, &item.UnitPrice, &item.Total, &item.RefundedQty); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func (r *orderRepository) loadRefunds(ctx context.Context, orderID string) ([]domain.RefundRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, amount, reason, items, processed_by, processed_at
		FROM order_refunds
		WHERE order_id = $1
		ORDER BY seq ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load refunds: %w", err)
	}
	defer rows.Close()

	history := make([]domain.RefundRecord, 0)
	for rows.Next() {
		var (
			rec      domain.RefundRecord
			rawItems []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Amount, &rec.Reason, &rawItems, &rec.ProcessedBy, &rec.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		var items []refundItemRow
		if err := json.Unmarshal(rawItems, &items); err != nil {
			return nil, fmt.Errorf("decode refund items: %w", err)
		}
		for _, it := range items {
			rec.Items = append(rec.Items, domain.RefundItem{ProductID: it.ProductID, Qty: it.Qty})
		}
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refunds: %w", err)
	}
	return history, nil
}

func insertRefunds(ctx context.Context, tx querier, orderID string, records []domain.RefundRecord, firstSeq int) error {
	for i, rec := range records {
		items := make([]refundItemRow, 0, len(rec.Items))
		for _, it := range rec.Items {
			items = append(items, refundItemRow{ProductID: it.ProductID, Qty: it.Qty})
		}
		raw, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("encode refund items: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_refunds (id, order_id, seq, amount, reason, items, processed_by, processed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, rec.ID, orderID, firstSeq+i, rec.Amount, rec.Reason, raw, rec.ProcessedBy, rec.ProcessedAt); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderVersionConflict
			}
			return fmt.Errorf("insert refund: %w", err)
		}
	}
	return nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o                        domain.Order
		status, payment          string
		shipping, billing, notes []byte
	)
	ts := &o.Timestamps
	err := row.Scan(
		&o.ID, &o.Number, &o.BusinessID, &o.CustomerID, &status, &payment, &o.PaymentMethod, &o.CouponCode,
		&o.Pricing.Subtotal, &o.Pricing.Discount, &o.Pricing.Shipping, &o.Pricing.Tax, &o.Pricing.Total,
		&o.Refunds.TotalRefunded,
		&shipping, &billing, &o.Tracking.Number, &o.Tracking.Carrier, &notes,
		&ts.ConfirmedAt, &ts.ProcessingAt, &ts.ShippedAt, &ts.DeliveredAt, &ts.CancelledAt, &ts.ReturnedAt, &ts.RefundedAt,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	o.PaymentStatus = domain.PaymentStatus(payment)

	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(billing, &o.BillingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("decode billing address: %w", err)
	}
	var rows []noteRow
	if err := json.Unmarshal(notes, &rows); err != nil {
		return domain.Order{}, fmt.Errorf("decode notes: %w", err)
	}
	for _, n := range rows {
		o.Notes = append(o.Notes, domain.Note{Text: n.Text, AddedBy: n.AddedBy, AddedAt: n.AddedAt})
	}
	return o, nil
}

func encodeOrderJSON(order domain.Order) (shipping, billing, notes []byte, err error) {
	if shipping, err = json.Marshal(order.ShippingAddress); err != nil {
		return nil, nil, nil, fmt.Errorf("encode shipping address: %w", err)
	}
	if billing, err = json.Marshal(order.BillingAddress); err != nil {
		return nil, nil, nil, fmt.Errorf("encode billing address: %w", err)
	}
	rows := make([]noteRow, 0, len(order.Notes))
	for _, n := range order.Notes {
		rows = append(rows, noteRow{Text: n.Text, AddedBy: n.AddedBy, AddedAt: n.AddedAt})
	}
	if notes, err = json.Marshal(rows); err != nil {
		return nil, nil, nil, fmt.Errorf("encode notes: %w", err)
	}
	return shipping, billing, notes, nil
}

func buildOrderFilter(q domain.OrderQuery) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.CustomerID != "" {
		add("customer_id = $%d", q.CustomerID)
	}
	if q.BusinessID != "" {
		add("business_id = $%d", q.BusinessID)
	}
	if q.Status != "" {
		add("status = $%d", string(q.Status))
	}
	if q.PaymentStatus != "" {
		add("payment_status = $%d", string(q.PaymentStatus))
	}
	if q.From != nil {
		add("created_at >= $%d", *q.From)
	}
	if q.To != nil {
		add("created_at <= $%d", *q.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderExistsTx(ctx context.Context, tx querier, orderID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ domain.OrderRepository = (*orderRepository)(nil)
