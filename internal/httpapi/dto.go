package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
	ordersvc "github.com/vladislavdragonenkov/settlement/internal/service/order"
)

// Денежные суммы в ответах передаются строками с двумя знаками.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type orderItemResponse struct {
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	SKU         string `json:"sku,omitempty"`
	Qty         int32  `json:"qty"`
	UnitPrice   string `json:"unit_price"`
	Total       string `json:"total"`
	RefundedQty int32  `json:"refunded_qty"`
}

type pricingResponse struct {
	Subtotal string `json:"subtotal"`
	Discount string `json:"discount"`
	Shipping string `json:"shipping"`
	Tax      string `json:"tax"`
	Total    string `json:"total"`
}

type noteResponse struct {
	Text    string    `json:"text"`
	AddedBy string    `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
}

type refundResponse struct {
	ID          string              `json:"id"`
	Amount      string              `json:"amount"`
	Reason      string              `json:"reason"`
	Items       []domain.RefundItem `json:"items,omitempty"`
	ProcessedBy string              `json:"processed_by"`
	ProcessedAt time.Time           `json:"processed_at"`
}

type timestampsResponse struct {
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	ProcessingAt *time.Time `json:"processing_at,omitempty"`
	ShippedAt    *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	ReturnedAt   *time.Time `json:"returned_at,omitempty"`
	RefundedAt   *time.Time `json:"refunded_at,omitempty"`
}

type orderResponse struct {
	ID              string               `json:"id"`
	Number          string               `json:"order_number"`
	BusinessID      string               `json:"business_id"`
	CustomerID      string               `json:"customer_id"`
	Status          domain.OrderStatus   `json:"status"`
	PaymentStatus   domain.PaymentStatus `json:"payment_status"`
	PaymentMethod   string               `json:"payment_method"`
	CouponCode      string               `json:"coupon_code,omitempty"`
	Items           []orderItemResponse  `json:"items"`
	Pricing         pricingResponse      `json:"pricing"`
	ShippingAddress domain.Address       `json:"shipping_address"`
	BillingAddress  domain.Address       `json:"billing_address"`
	TrackingNumber  string               `json:"tracking_number,omitempty"`
	Carrier         string               `json:"carrier,omitempty"`
	Notes           []noteResponse       `json:"notes"`
	TotalRefunded   string               `json:"total_refunded"`
	Refunds         []refundResponse     `json:"refunds"`
	Timestamps      timestampsResponse   `json:"timestamps"`
	Version         int64                `json:"version"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

func toOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			ProductID:   it.ProductID,
			Name:        it.Name,
			SKU:         it.SKU,
			Qty:         it.Qty,
			UnitPrice:   money(it.UnitPrice),
			Total:       money(it.Total),
			RefundedQty: it.RefundedQty,
		})
	}
	notes := make([]noteResponse, 0, len(o.Notes))
	for _, n := range o.Notes {
		notes = append(notes, noteResponse{Text: n.Text, AddedBy: n.AddedBy, AddedAt: n.AddedAt})
	}
	refunds := make([]refundResponse, 0, len(o.Refunds.History))
	for _, r := range o.Refunds.History {
		refunds = append(refunds, refundResponse{
			ID:          r.ID,
			Amount:      money(r.Amount),
			Reason:      r.Reason,
			Items:       r.Items,
			ProcessedBy: r.ProcessedBy,
			ProcessedAt: r.ProcessedAt,
		})
	}

	ts := o.Timestamps
	return orderResponse{
		ID:            o.ID,
		Number:        o.Number,
		BusinessID:    o.BusinessID,
		CustomerID:    o.CustomerID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
		CouponCode:    o.CouponCode,
		Items:         items,
		Pricing: pricingResponse{
			Subtotal: money(o.Pricing.Subtotal),
			Discount: money(o.Pricing.Discount),
			Shipping: money(o.Pricing.Shipping),
			Tax:      money(o.Pricing.Tax),
			Total:    money(o.Pricing.Total),
		},
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		TrackingNumber:  o.Tracking.Number,
		Carrier:         o.Tracking.Carrier,
		Notes:           notes,
		TotalRefunded:   money(o.Refunds.TotalRefunded),
		Refunds:         refunds,
		Timestamps: timestampsResponse{
			ConfirmedAt:  ts.ConfirmedAt,
			ProcessingAt: ts.ProcessingAt,
			ShippedAt:    ts.ShippedAt,
			DeliveredAt:  ts.DeliveredAt,
			CancelledAt:  ts.CancelledAt,
			ReturnedAt:   ts.ReturnedAt,
			RefundedAt:   ts.RefundedAt,
		},
		Version:   o.Version,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

type pageResponse struct {
	Items []orderResponse `json:"items"`
	Total int             `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
	Pages int             `json:"pages"`
}

func toPageResponse(p ordersvc.Page) pageResponse {
	items := make([]orderResponse, 0, len(p.Items))
	for _, o := range p.Items {
		items = append(items, toOrderResponse(o))
	}
	return pageResponse{Items: items, Total: p.Total, Page: p.Page, Limit: p.Limit, Pages: p.Pages}
}

type refundRequest struct {
	Amount string              `json:"amount"`
	Reason string              `json:"reason"`
	Items  []domain.RefundItem `json:"items,omitempty"`
}

type productSalesResponse struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	SKU       string `json:"sku,omitempty"`
	Quantity  int64  `json:"quantity"`
	Revenue   string `json:"revenue"`
}

type dailyTrendResponse struct {
	Date    string `json:"date"`
	Orders  int    `json:"orders"`
	Revenue string `json:"revenue"`
}

type summaryResponse struct {
	TotalOrders       int                        `json:"total_orders"`
	TotalRevenue      string                     `json:"total_revenue"`
	AverageOrderValue string                     `json:"average_order_value"`
	StatusCounts      map[domain.OrderStatus]int `json:"status_counts"`
}

type analyticsResponse struct {
	BusinessID  string                 `json:"business_id"`
	From        time.Time              `json:"from"`
	To          time.Time              `json:"to"`
	Summary     summaryResponse        `json:"summary"`
	TopProducts []productSalesResponse `json:"top_products"`
	DailyTrends []dailyTrendResponse   `json:"daily_trends"`
}

func toAnalyticsResponse(a domain.Analytics) analyticsResponse {
	top := make([]productSalesResponse, 0, len(a.TopProducts))
	for _, p := range a.TopProducts {
		top = append(top, productSalesResponse{
			ProductID: p.ProductID,
			Name:      p.Name,
			SKU:       p.SKU,
			Quantity:  p.Quantity,
			Revenue:   money(p.Revenue),
		})
	}
	trends := make([]dailyTrendResponse, 0, len(a.DailyTrends))
	for _, d := range a.DailyTrends {
		trends = append(trends, dailyTrendResponse{Date: d.Date, Orders: d.Orders, Revenue: money(d.Revenue)})
	}
	return analyticsResponse{
		BusinessID: a.BusinessID,
		From:       a.From,
		To:         a.To,
		Summary: summaryResponse{
			TotalOrders:       a.Summary.TotalOrders,
			TotalRevenue:      money(a.Summary.TotalRevenue),
			AverageOrderValue: money(a.Summary.AverageOrderValue),
			StatusCounts:      a.Summary.StatusCounts,
		},
		TopProducts: top,
		DailyTrends: trends,
	}
}
