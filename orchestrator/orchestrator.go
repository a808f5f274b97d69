// Package orchestrator drives the on-chain calls that move an escrow job
// through its lifecycle and feeds the confirmed results into the registry.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"escrow-backend/core/escrow"
	"escrow-backend/ledger"
	"escrow-backend/metadata"
	"escrow-backend/registry"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Ledger is the subset of the ledger binding the orchestrator needs.
type Ledger interface {
	Factory() common.Address
	CreationFee(ctx context.Context) (*big.Int, error)
	JobInfo(ctx context.Context, id uint64) (ledger.JobInfo, error)
	JobsForAddress(ctx context.Context, addr common.Address, role escrow.Role) ([]uint64, error)
	EscrowDetails(ctx context.Context, addr common.Address) (ledger.EscrowDetails, error)
	CreateEscrow(ctx context.Context, signer escrow.Signer, freelancer common.Address, metadataHash string, value *big.Int) (*types.Transaction, error)
	Transition(ctx context.Context, signer escrow.Signer, escrowAddr common.Address, action escrow.Action, workHash string) (*types.Transaction, error)
	WaitConfirmed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	Created(ctx context.Context, receipt *types.Receipt) (ledger.Created, error)
	TransitionEvent(ctx context.Context, receipt *types.Receipt, escrowAddr common.Address, action escrow.Action) (ledger.Event, error)
}

// Signers hands out the identity a write is attributed to.
type Signers interface {
	Signer(ctx context.Context) (escrow.Signer, error)
}

// Options carries the optional collaborators.
type Options struct {
	Metrics *Metrics
	Logger  *slog.Logger
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	ledger     Ledger
	sessions   Signers
	docs       *metadata.Documents
	registry   *registry.Registry
	reconciler *Reconciler
	guard      *guard
	metrics    *Metrics
	logger     *slog.Logger
}

// New wires an orchestrator. The returned orchestrator owns a Reconciler that
// must be started with Reconciler().Run.
func New(l Ledger, sessions Signers, docs *metadata.Documents, reg *registry.Registry, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		ledger:   l,
		sessions: sessions,
		docs:     docs,
		registry: reg,
		guard:    newGuard(opts.Metrics),
		metrics:  opts.Metrics,
		logger:   logger,
	}
	o.reconciler = newReconciler(o, logger)
	return o
}

// Reconciler returns the event applier owned by o.
func (o *Orchestrator) Reconciler() *Reconciler {
	return o.reconciler
}

// Registry returns the registry o writes into.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// CreateRequest describes a new job. Price is a decimal amount in ether.
type CreateRequest struct {
	Freelancer   common.Address
	Price        string
	Title        string
	Description  string
	Requirements []string
	Deliverables []string
}

// CreateResult is returned once the job is confirmed and registered.
type CreateResult struct {
	Job          escrow.Job
	TxHash       common.Hash
	MetadataHash string
	Fee          *big.Int
}

// CreationFee reads the factory's current fee.
func (o *Orchestrator) CreationFee(ctx context.Context) (*big.Int, error) {
	return o.ledger.CreationFee(ctx)
}

// CreateJob uploads the job specification, funds a new escrow with price plus
// the creation fee and registers the job from the confirmed JobCreated event.
// Nothing is registered unless the event is decoded.
func (o *Orchestrator) CreateJob(ctx context.Context, req CreateRequest) (res CreateResult, err error) {
	const op = "create"
	started := time.Now()
	defer func() { o.metrics.observeWrite(op, started, err) }()

	signer, err := o.sessions.Signer(ctx)
	if err != nil {
		return res, err
	}
	if req.Freelancer == (common.Address{}) {
		return res, fmt.Errorf("create: freelancer address is required")
	}
	if req.Freelancer == signer.Address {
		return res, fmt.Errorf("create: client and freelancer must differ")
	}
	amount, err := escrow.ParseAmount(req.Price)
	if err != nil {
		return res, fmt.Errorf("create: %w", err)
	}

	release, err := o.guard.acquire(signer.Address, o.ledger.Factory(), op)
	if err != nil {
		return res, err
	}
	defer release()

	hash, err := o.docs.PutJobSpec(ctx, metadata.JobSpec{
		Title:             req.Title,
		Description:       req.Description,
		Requirements:      req.Requirements,
		Deliverables:      req.Deliverables,
		Price:             req.Price,
		ClientAddress:     signer.Address.Hex(),
		FreelancerAddress: req.Freelancer.Hex(),
	})
	if err != nil {
		return res, err
	}
	res.MetadataHash = hash

	fee, err := o.ledger.CreationFee(ctx)
	if err != nil {
		return res, err
	}
	res.Fee = fee
	value := new(big.Int).Add(amount, fee)

	pendingID := o.registry.AddPending(registry.Pending{
		Action: op,
		Escrow: o.ledger.Factory(),
		Signer: signer.Address,
		Target: escrow.StatusFunded,
	})
	defer o.registry.ResolvePending(pendingID)

	log := o.logger.With("op", op, "signer", signer.Address.Hex())
	tx, err := o.ledger.CreateEscrow(ctx, signer, req.Freelancer, hash, value)
	if err != nil {
		return res, o.feeCheck(ctx, fee, err)
	}
	res.TxHash = tx.Hash()
	o.registry.SetPendingTx(pendingID, tx.Hash())
	log.Info("creation submitted", "tx", tx.Hash().Hex(), "value", value.String(), "fee", fee.String())

	receipt, err := o.ledger.WaitConfirmed(ctx, tx)
	if err != nil {
		return res, o.feeCheck(ctx, fee, err)
	}
	created, err := o.ledger.Created(ctx, receipt)
	if err != nil {
		log.Warn("creation confirmed without JobCreated", "tx", tx.Hash().Hex(), "err", err)
		return res, err
	}

	job, err := o.registry.Upsert(escrow.Job{
		ID:           created.JobID,
		Client:       created.Client,
		Freelancer:   created.Freelancer,
		Escrow:       created.Escrow,
		Amount:       created.Amount,
		MetadataHash: created.MetadataHash,
		CreatedAt:    created.At,
		State:        escrow.Funded{},
	})
	if err != nil {
		return res, err
	}
	res.Job = job
	log.Info("job created", "job_id", job.ID, "escrow", job.Escrow.Hex(), "tx", tx.Hash().Hex())
	return res, nil
}

// feeCheck turns a creation revert into FeeChanged when the fee moved between
// the read and the execution.
func (o *Orchestrator) feeCheck(ctx context.Context, used *big.Int, err error) error {
	if !errors.Is(err, escrow.ErrReverted) {
		return err
	}
	if ledger.FeeRelated(err) {
		return escrow.NewError(escrow.ErrFeeChanged, "create", "fee used "+used.String(), err)
	}
	current, feeErr := o.ledger.CreationFee(ctx)
	if feeErr != nil {
		return err
	}
	if current.Cmp(used) != 0 {
		return escrow.NewError(escrow.ErrFeeChanged, "create", "fee moved from "+used.String()+" to "+current.String(), err)
	}
	return err
}

// Reconcile re-reads job id from the ledger and merges it into the registry.
// found=false with a nil error confirms the ledger has no such job.
func (o *Orchestrator) Reconcile(ctx context.Context, id uint64) (escrow.Job, bool, error) {
	info, err := o.ledger.JobInfo(ctx, id)
	if errors.Is(err, escrow.ErrNotFound) {
		return escrow.Job{}, false, nil
	}
	if err != nil {
		return escrow.Job{}, false, err
	}
	details, err := o.ledger.EscrowDetails(ctx, info.Escrow)
	if err != nil {
		return escrow.Job{}, false, err
	}
	job, err := o.registry.Upsert(info.Job(details))
	if err != nil {
		o.logger.Error("reconcile rejected", "job_id", id, "err", err)
		return escrow.Job{}, true, err
	}
	return job, true, nil
}

// SyncAddress loads every job where addr holds role. Jobs that fail to load
// are skipped and their errors joined.
func (o *Orchestrator) SyncAddress(ctx context.Context, addr common.Address, role escrow.Role) ([]escrow.Job, error) {
	ids, err := o.ledger.JobsForAddress(ctx, addr, role)
	if err != nil {
		return nil, err
	}
	jobs := make([]escrow.Job, 0, len(ids))
	var errs []error
	for _, id := range ids {
		job, found, err := o.Reconcile(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %d: %w", id, err))
			continue
		}
		if found {
			jobs = append(jobs, job)
		}
	}
	return jobs, errors.Join(errs...)
}
