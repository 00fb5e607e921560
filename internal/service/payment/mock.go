package payment

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

// MockGateway подменяет PaymentGateway настраиваемыми ответами. Используется по умолчанию,
// пока реальная интеграция с провайдером не подключена.
type MockGateway struct {
	mu sync.Mutex

	CaptureStatus domain.PaymentStatus
	CaptureErr    error
	RefundErr     error

	CaptureCalls int
	RefundCalls  int
	Refunded     map[string]decimal.Decimal
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		CaptureStatus: domain.PaymentStatusPaid,
		Refunded:      make(map[string]decimal.Decimal),
	}
}

// Capture возвращает заранее настроенный результат и считает вызовы.
func (m *MockGateway) Capture(ctx context.Context, orderID, method string, amount decimal.Decimal) (domain.PaymentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CaptureCalls++
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.CaptureStatus, m.CaptureErr
}

// Refund возвращает настроенную ошибку, считает вызовы и накапливает сумму по заказу.
func (m *MockGateway) Refund(ctx context.Context, orderID string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RefundCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.RefundErr != nil {
		return m.RefundErr
	}
	if m.Refunded == nil {
		m.Refunded = make(map[string]decimal.Decimal)
	}
	m.Refunded[orderID] = m.Refunded[orderID].Add(amount)
	return nil
}

// Calls возвращает счётчики вызовов.
func (m *MockGateway) Calls() (capture, refund int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CaptureCalls, m.RefundCalls
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
