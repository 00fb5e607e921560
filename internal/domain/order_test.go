package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

// helper для создания базового заказа с двумя позициями.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:            "order-1",
		Number:        "ORD-00000001",
		BusinessID:    "biz-1",
		CustomerID:    "customer-1",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Items: []domain.OrderItem{
			{ProductID: "p-1", Qty: 3, UnitPrice: decimal.RequireFromString("100"), Total: decimal.RequireFromString("300")},
			{ProductID: "p-2", Qty: 2, UnitPrice: decimal.RequireFromString("9.99"), Total: decimal.RequireFromString("19.98")},
		},
		Pricing: domain.Pricing{
			Subtotal: decimal.RequireFromString("319.98"),
			Discount: decimal.RequireFromString("19.98"),
			Shipping: decimal.RequireFromString("7.50"),
			Tax:      decimal.RequireFromString("24.00"),
			Total:    decimal.RequireFromString("331.50"),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{
			name: "no business",
			mut: func(o *domain.Order) {
				o.BusinessID = ""
			},
		},
		{
			name: "no customer",
			mut: func(o *domain.Order) {
				o.CustomerID = ""
			},
		},
		{
			name: "no items",
			mut: func(o *domain.Order) {
				o.Items = nil
			},
		},
		{
			name: "qty invalid",
			mut: func(o *domain.Order) {
				o.Items[0].Qty = 0
			},
		},
		{
			name: "line total mismatch",
			mut: func(o *domain.Order) {
				o.Items[1].Total = decimal.RequireFromString("20")
			},
		},
		{
			name: "subtotal mismatch",
			mut: func(o *domain.Order) {
				o.Pricing.Subtotal = decimal.RequireFromString("320")
			},
		},
		{
			name: "total mismatch",
			mut: func(o *domain.Order) {
				o.Pricing.Total = decimal.RequireFromString("1")
			},
		},
		{
			name: "over refunded",
			mut: func(o *domain.Order) {
				o.Refunds.TotalRefunded = decimal.RequireFromString("331.51")
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)

			if len(order.ValidateInvariants()) == 0 {
				t.Fatalf("expected validation errors for case %s", tc.name)
			}
		})
	}
}

func TestOrderRefundHelpers(t *testing.T) {
	order := makeOrder()
	if !order.MaxRefundable().Equal(order.Pricing.Total) {
		t.Fatalf("expected full total refundable, got %s", order.MaxRefundable())
	}

	order.Refunds.Append(domain.RefundRecord{ID: "REF-1", Amount: decimal.RequireFromString("331.50")})
	if !order.FullyRefunded() {
		t.Fatal("expected order to be fully refunded")
	}
	if !order.MaxRefundable().IsZero() {
		t.Fatalf("expected nothing left to refund, got %s", order.MaxRefundable())
	}
}

func TestOrderCloneIsDeep(t *testing.T) {
	order := makeOrder()
	at := time.Now().UTC()
	order.Timestamps.Stamp(domain.OrderStatusConfirmed, at)
	order.Refunds.Append(domain.RefundRecord{ID: "REF-1", Amount: decimal.NewFromInt(1), Items: []domain.RefundItem{{ProductID: "p-1", Qty: 1}}})

	clone := order.Clone()
	clone.Items[0].Qty = 99
	clone.Refunds.History[0].Items[0].Qty = 99
	*clone.Timestamps.ConfirmedAt = at.Add(time.Hour)

	if order.Items[0].Qty != 3 {
		t.Fatal("clone shares items with original")
	}
	if order.Refunds.History[0].Items[0].Qty != 1 {
		t.Fatal("clone shares refund items with original")
	}
	if !order.Timestamps.ConfirmedAt.Equal(at) {
		t.Fatal("clone shares timestamps with original")
	}
}

func TestOrderAddNoteSkipsEmpty(t *testing.T) {
	order := makeOrder()
	order.AddNote("", "u-1", time.Now())
	order.AddNote("packed", "u-1", time.Now())
	if len(order.Notes) != 1 || order.Notes[0].Text != "packed" {
		t.Fatalf("unexpected notes %+v", order.Notes)
	}
}

func TestProductUnitPrice(t *testing.T) {
	p := domain.Product{Price: decimal.RequireFromString("100")}
	if !p.UnitPrice().Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected regular price, got %s", p.UnitPrice())
	}
	p.SalePrice = decimal.NewNullDecimal(decimal.RequireFromString("80"))
	if !p.UnitPrice().Equal(decimal.RequireFromString("80")) {
		t.Fatalf("expected sale price, got %s", p.UnitPrice())
	}
}
