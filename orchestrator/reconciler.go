package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"escrow-backend/core/escrow"
	"escrow-backend/ledger"

	"github.com/ethereum/go-ethereum/common"
)

// EventSource is the ledger log scan used by Watch.
type EventSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
	EscrowEvents(ctx context.Context, from, to uint64, escrows []common.Address) ([]ledger.Event, error)
}

type delivery struct {
	jobID uint64
	event ledger.Event
	done  chan struct{}
}

// Reconciler applies decoded ledger events to the registry one at a time.
// Events that do not fit the stored record trigger a full re-read of the job;
// consistency violations are logged and never merged.
type Reconciler struct {
	orch   *Orchestrator
	logger *slog.Logger

	mu     sync.Mutex
	queue  []delivery
	signal chan struct{}
}

func newReconciler(o *Orchestrator, logger *slog.Logger) *Reconciler {
	return &Reconciler{orch: o, logger: logger, signal: make(chan struct{}, 1)}
}

// Deliver queues ev for job jobID. It never blocks; the returned channel is
// closed once the event has been applied or rejected.
func (r *Reconciler) Deliver(jobID uint64, ev ledger.Event) <-chan struct{} {
	d := delivery{jobID: jobID, event: ev, done: make(chan struct{})}
	r.mu.Lock()
	r.queue = append(r.queue, d)
	r.mu.Unlock()
	select {
	case r.signal <- struct{}{}:
	default:
	}
	return d.done
}

// Run applies queued events until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("reconciler started")
	for {
		for {
			d, ok := r.next()
			if !ok {
				break
			}
			r.apply(ctx, d)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return ctx.Err()
		case <-r.signal:
		}
	}
}

func (r *Reconciler) next() (delivery, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return delivery{}, false
	}
	d := r.queue[0]
	r.queue = r.queue[1:]
	return d, true
}

func (r *Reconciler) apply(ctx context.Context, d delivery) {
	defer close(d.done)
	ev := d.event
	log := r.logger.With("job_id", d.jobID, "escrow", ev.Escrow.Hex(), "event", ev.Name, "tx", ev.TxHash.Hex())
	_, applied, err := r.orch.registry.Apply(ev.Escrow, ev.State())
	switch {
	case err == nil && applied:
		r.orch.metrics.reconcileResult("applied")
		log.Debug("event applied", "status", ev.Status)
	case err == nil:
		r.orch.metrics.reconcileResult("duplicate")
	case errors.Is(err, escrow.ErrConsistencyViolation):
		r.orch.metrics.reconcileResult("violation")
		log.Error("event contradicts registry", "err", err)
	default:
		// Unknown escrow or a skipped step: the registry is behind the ledger.
		log.Info("event does not fit registry, re-reading job", "reason", err)
		if _, _, rerr := r.orch.Reconcile(ctx, d.jobID); rerr != nil {
			r.orch.metrics.reconcileResult("violation")
			log.Error("re-read failed", "err", rerr)
			return
		}
		r.orch.metrics.reconcileResult("refetched")
	}
}

// Watch polls src for lifecycle events emitted by escrows the registry knows
// about, starting after the current head. Writes made by other processes reach
// the registry this way.
func (r *Reconciler) Watch(ctx context.Context, src EventSource, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	last, err := src.LatestBlock(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("watching escrow events", "from_block", last+1, "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		head, err := src.LatestBlock(ctx)
		if err != nil {
			r.logger.Warn("head poll failed", "err", err)
			continue
		}
		if head <= last {
			continue
		}
		if err := r.scan(ctx, src, last+1, head); err != nil {
			r.logger.Warn("event scan failed", "from", last+1, "to", head, "err", err)
			continue
		}
		last = head
	}
}

func (r *Reconciler) scan(ctx context.Context, src EventSource, from, to uint64) error {
	jobs := r.orch.registry.All()
	escrows := make([]common.Address, 0, len(jobs))
	for _, j := range jobs {
		if !j.Status().Terminal() {
			escrows = append(escrows, j.Escrow)
		}
	}
	if len(escrows) == 0 {
		return nil
	}
	events, err := src.EscrowEvents(ctx, from, to, escrows)
	if err != nil {
		return err
	}
	for _, ev := range events {
		job, ok := r.orch.registry.ByEscrow(ev.Escrow)
		if !ok {
			continue
		}
		r.Deliver(job.ID, ev)
	}
	return nil
}
