package engine

import (
	"sync"

	"perpbot/internal/domain"
)

// pendingExecutions buffers fills that arrived before the order ack that
// creates their Order. The execution handler appends, the order-update
// handler drains; it is the one piece of state mutated by two tasks, so
// access is mutually exclusive.
type pendingExecutions struct {
	mu      sync.Mutex
	byOrder map[string][]domain.Execution
}

func newPendingExecutions() *pendingExecutions {
	return &pendingExecutions{byOrder: make(map[string][]domain.Execution)}
}

// Add appends fills under their order uuid.
func (p *pendingExecutions) Add(execs ...domain.Execution) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range execs {
		p.byOrder[e.OrderUUID] = append(p.byOrder[e.OrderUUID], e)
	}
}

// Drain removes and returns exactly the fills buffered for one order.
func (p *pendingExecutions) Drain(orderUUID string) []domain.Execution {
	p.mu.Lock()
	defer p.mu.Unlock()
	execs := p.byOrder[orderUUID]
	delete(p.byOrder, orderUUID)
	return execs
}
