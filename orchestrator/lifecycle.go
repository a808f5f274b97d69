package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"escrow-backend/core/escrow"
	"escrow-backend/metadata"
	"escrow-backend/registry"

	"github.com/ethereum/go-ethereum/common"
)

func (o *Orchestrator) Accept(ctx context.Context, jobID uint64) (common.Hash, error) {
	return o.Transition(ctx, jobID, escrow.ActionAccept, "")
}

func (o *Orchestrator) Start(ctx context.Context, jobID uint64) (common.Hash, error) {
	return o.Transition(ctx, jobID, escrow.ActionStart, "")
}

// SubmitWork records workHash on the escrow. The hash must already resolve in
// the content store.
func (o *Orchestrator) SubmitWork(ctx context.Context, jobID uint64, workHash string) (common.Hash, error) {
	return o.Transition(ctx, jobID, escrow.ActionSubmit, workHash)
}

// SubmitFiles uploads files as a work manifest and submits the manifest hash.
func (o *Orchestrator) SubmitFiles(ctx context.Context, jobID uint64, note string, files []metadata.File) (common.Hash, string, error) {
	signer, err := o.sessions.Signer(ctx)
	if err != nil {
		return common.Hash{}, "", err
	}
	job, err := o.lookup(ctx, jobID)
	if err != nil {
		return common.Hash{}, "", err
	}
	if _, err := escrow.Next(job.Status(), escrow.ActionSubmit); err != nil {
		return common.Hash{}, "", err
	}
	hash, err := o.docs.PutWork(ctx, signer.Address.Hex(), note, files)
	if err != nil {
		return common.Hash{}, "", err
	}
	tx, err := o.Transition(ctx, jobID, escrow.ActionSubmit, hash)
	return tx, hash, err
}

func (o *Orchestrator) Approve(ctx context.Context, jobID uint64) (common.Hash, error) {
	return o.Transition(ctx, jobID, escrow.ActionApprove, "")
}

func (o *Orchestrator) Dispute(ctx context.Context, jobID uint64) (common.Hash, error) {
	return o.Transition(ctx, jobID, escrow.ActionDispute, "")
}

// Transition submits action against the job's escrow and waits for one
// confirmation. The decoded event is handed to the reconciler and Transition
// returns once it has been applied, so the next write sees the new status.
func (o *Orchestrator) Transition(ctx context.Context, jobID uint64, action escrow.Action, workHash string) (txHash common.Hash, err error) {
	op := string(action)
	started := time.Now()
	defer func() { o.metrics.observeWrite(op, started, err) }()

	signer, err := o.sessions.Signer(ctx)
	if err != nil {
		return txHash, err
	}
	job, err := o.lookup(ctx, jobID)
	if err != nil {
		return txHash, err
	}
	target, err := escrow.Next(job.Status(), action)
	if err != nil {
		return txHash, escrow.NewError(escrow.ErrInvalidTransition, op, fmt.Sprintf("job %d is %s", jobID, job.Status()), err)
	}
	workHash = strings.TrimSpace(workHash)
	if action == escrow.ActionSubmit && workHash == "" {
		return txHash, fmt.Errorf("%s: work hash is required", op)
	}

	release, err := o.guard.acquire(signer.Address, job.Escrow, op)
	if err != nil {
		return txHash, err
	}
	defer release()

	pendingID := o.registry.AddPending(registry.Pending{
		Action: op,
		JobID:  jobID,
		Escrow: job.Escrow,
		Signer: signer.Address,
		Target: target,
	})
	defer o.registry.ResolvePending(pendingID)

	log := o.logger.With("op", op, "job_id", jobID, "escrow", job.Escrow.Hex(), "signer", signer.Address.Hex())
	tx, err := o.ledger.Transition(ctx, signer, job.Escrow, action, workHash)
	if err != nil {
		log.Warn("transition not submitted", "err", err)
		return txHash, err
	}
	txHash = tx.Hash()
	o.registry.SetPendingTx(pendingID, txHash)
	log.Info("transition submitted", "tx", txHash.Hex())

	receipt, err := o.ledger.WaitConfirmed(ctx, tx)
	if err != nil {
		log.Warn("transition not confirmed", "tx", txHash.Hex(), "err", err)
		return txHash, err
	}
	ev, err := o.ledger.TransitionEvent(ctx, receipt, job.Escrow, action)
	if err != nil {
		log.Warn("transition confirmed without event", "tx", txHash.Hex(), "err", err)
		return txHash, err
	}
	applied := o.reconciler.Deliver(jobID, ev)
	log.Info("transition confirmed", "tx", txHash.Hex(), "status", ev.Status)
	select {
	case <-applied:
	case <-ctx.Done():
		log.Warn("registry update still queued", "tx", txHash.Hex(), "err", ctx.Err())
	}
	return txHash, nil
}

// lookup returns the registry record for id, reading it from the ledger when
// the registry has not observed it yet.
func (o *Orchestrator) lookup(ctx context.Context, id uint64) (escrow.Job, error) {
	if job, ok := o.registry.ByID(id); ok {
		return job, nil
	}
	job, found, err := o.Reconcile(ctx, id)
	if err != nil {
		return escrow.Job{}, err
	}
	if !found {
		return escrow.Job{}, escrow.NewError(escrow.ErrNotFound, "lookup", fmt.Sprintf("job %d", id), nil)
	}
	return job, nil
}
