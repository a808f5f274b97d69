package orchestrator

import (
	"sync"

	"escrow-backend/core/escrow"

	"github.com/ethereum/go-ethereum/common"
)

type flightKey struct {
	signer common.Address
	target common.Address
}

// guard allows one in-flight write per (signer, target contract). It is the
// only lock held across signing, submission and confirmation.
type guard struct {
	mu      sync.Mutex
	flights map[flightKey]string
	metrics *Metrics
}

func newGuard(m *Metrics) *guard {
	return &guard{flights: make(map[flightKey]string), metrics: m}
}

// acquire claims the pair for op. The returned release must be called exactly
// once on every path.
func (g *guard) acquire(signer, target common.Address, op string) (func(), error) {
	key := flightKey{signer: signer, target: target}
	g.mu.Lock()
	if running, busy := g.flights[key]; busy {
		g.mu.Unlock()
		return nil, escrow.NewError(escrow.ErrOperationInProgress, op, running+" still pending for "+target.Hex(), nil)
	}
	g.flights[key] = op
	g.metrics.setInflight(len(g.flights))
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.flights, key)
			g.metrics.setInflight(len(g.flights))
			g.mu.Unlock()
		})
	}, nil
}

func (g *guard) busy(signer, target common.Address) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.flights[flightKey{signer: signer, target: target}]
	return ok
}
