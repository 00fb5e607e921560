package memory

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

// SequenceGenerator выдаёт номера из атомарного счётчика процесса.
type SequenceGenerator struct {
	next atomic.Int64
}

// NewSequenceGenerator начинает выдачу с start+1.
func NewSequenceGenerator(start int64) *SequenceGenerator {
	g := &SequenceGenerator{}
	g.next.Store(start)
	return g
}

// Next возвращает следующий номер.
func (g *SequenceGenerator) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf(domain.OrderNumberFormat, g.next.Add(1)), nil
}
