package inventory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

// Call — зафиксированный вызов складской операции.
type Call struct {
	Op        string
	ProductID string
	Qty       int64
}

// RecordingLedger пропускает вызовы в next, записывает их и умеет подменять ошибку
// для конкретной операции и товара. Используется в тестах сервисов и нагрузочном прогоне.
type RecordingLedger struct {
	next domain.StockLedger

	mu    sync.Mutex
	calls []Call
	fail  map[Call]error
}

// NewRecordingLedger оборачивает next.
func NewRecordingLedger(next domain.StockLedger) *RecordingLedger {
	return &RecordingLedger{next: next, fail: make(map[Call]error)}
}

// FailOn заставляет операцию op над productID вернуть err без обращения к next.
func (l *RecordingLedger) FailOn(op, productID string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail[Call{Op: op, ProductID: productID}] = err
}

// Calls возвращает копию журнала вызовов.
func (l *RecordingLedger) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

// CallsOf возвращает вызовы одной операции.
func (l *RecordingLedger) CallsOf(op string) []Call {
	var out []Call
	for _, c := range l.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset очищает журнал и подменённые ошибки.
func (l *RecordingLedger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
	l.fail = make(map[Call]error)
}

func (l *RecordingLedger) Reserve(ctx context.Context, productID string, qty int64) error {
	return l.do(ctx, "reserve", productID, qty, l.next.Reserve)
}

func (l *RecordingLedger) Release(ctx context.Context, productID string, qty int64) error {
	return l.do(ctx, "release", productID, qty, l.next.Release)
}

func (l *RecordingLedger) Consume(ctx context.Context, productID string, qty int64) error {
	return l.do(ctx, "consume", productID, qty, l.next.Consume)
}

func (l *RecordingLedger) Restock(ctx context.Context, productID string, qty int64) error {
	return l.do(ctx, "restock", productID, qty, l.next.Restock)
}

func (l *RecordingLedger) do(ctx context.Context, op, productID string, qty int64, fn func(context.Context, string, int64) error) error {
	l.mu.Lock()
	l.calls = append(l.calls, Call{Op: op, ProductID: productID, Qty: qty})
	injected := l.fail[Call{Op: op, ProductID: productID}]
	l.mu.Unlock()

	if injected != nil {
		return injected
	}
	return fn(ctx, productID, qty)
}

var _ domain.StockLedger = (*RecordingLedger)(nil)
