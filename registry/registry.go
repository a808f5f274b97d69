// Package registry holds the in-process view of known escrow jobs.
//
// The registry is not a source of truth: it only contains jobs that were
// observed through confirmed ledger events or reconciled ledger reads. Absence
// from the registry means "not observed yet", never "does not exist".
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"escrow-backend/core/escrow"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Change is delivered to subscribers after every accepted mutation.
type Change struct {
	Job      escrow.Job
	Previous escrow.Status
	Created  bool
}

// Pending is a provisional marker for a write that has been submitted but not
// confirmed. Pending markers never touch the authoritative job map.
type Pending struct {
	ID        string
	Action    string
	JobID     uint64
	Escrow    common.Address
	Signer    common.Address
	Target    escrow.Status
	TxHash    common.Hash
	StartedAt time.Time
}

// Registry is safe for concurrent use. Readers always see whole records.
type Registry struct {
	mu           sync.RWMutex
	jobs         map[uint64]escrow.Job
	byClient     map[common.Address]map[uint64]struct{}
	byFreelancer map[common.Address]map[uint64]struct{}
	byEscrow     map[common.Address]uint64
	pending      map[string]Pending

	sinksMu sync.Mutex
	sinks   map[int]func(Change)
	nextID  int

	logger *slog.Logger
}

// New returns an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		jobs:         make(map[uint64]escrow.Job),
		byClient:     make(map[common.Address]map[uint64]struct{}),
		byFreelancer: make(map[common.Address]map[uint64]struct{}),
		byEscrow:     make(map[common.Address]uint64),
		pending:      make(map[string]Pending),
		sinks:        make(map[int]func(Change)),
		logger:       logger,
	}
}

// Upsert merges job by id. Immutable fields must match the stored record and
// the status may only move forward along the lifecycle graph (or back to
// in_progress when the ledger reports rework). A new work hash on an open
// submission is taken as a rework cycle the registry missed. Anything else is
// a ConsistencyViolation and the stored record is left untouched.
func (r *Registry) Upsert(job escrow.Job) (escrow.Job, error) {
	r.mu.Lock()
	prev, exists := r.jobs[job.ID]
	var merged escrow.Job
	if !exists {
		if other, taken := r.byEscrow[job.Escrow]; taken && other != job.ID {
			r.mu.Unlock()
			return escrow.Job{}, escrow.Consistency(job.ID, "escrow_address", "job "+uintString(other), job.Escrow.Hex())
		}
		merged = job.Clone()
		if merged.State == nil {
			merged.State = escrow.Funded{}
		}
	} else {
		var err error
		merged, err = merge(prev, job)
		if err != nil {
			r.mu.Unlock()
			return escrow.Job{}, err
		}
	}
	r.store(merged)
	r.mu.Unlock()

	change := Change{Job: merged.Clone(), Created: !exists}
	if exists {
		change.Previous = prev.Status()
	}
	r.logger.Debug("registry upsert", "job_id", merged.ID, "status", merged.Status(), "created", !exists)
	r.publish(change)
	return merged.Clone(), nil
}

// Apply moves the job owning escrowAddr exactly one edge to state. A duplicate
// of the already-applied state is a no-op reported as applied=false.
func (r *Registry) Apply(escrowAddr common.Address, state escrow.State) (escrow.Job, bool, error) {
	r.mu.Lock()
	id, ok := r.byEscrow[escrowAddr]
	if !ok {
		r.mu.Unlock()
		return escrow.Job{}, false, escrow.NewError(escrow.ErrNotFound, "apply", "escrow "+escrowAddr.Hex()+" not observed", nil)
	}
	prev := r.jobs[id]
	from, to := prev.Status(), state.Status()

	if from == to {
		r.mu.Unlock()
		if sameWork(prev, state) {
			return prev.Clone(), false, nil
		}
		return escrow.Job{}, false, escrow.Consistency(id, "work_hash", activeWork(prev), stateWork(state))
	}
	if !escrow.Step(from, to) && !escrow.Rework(from, to) {
		r.mu.Unlock()
		return escrow.Job{}, false, escrow.NewError(escrow.ErrInvalidTransition, "apply", "job "+uintString(id)+" "+string(from)+" -> "+string(to), nil)
	}
	if workConflict(prev, state) {
		r.mu.Unlock()
		return escrow.Job{}, false, escrow.Consistency(id, "work_hash", activeWork(prev), stateWork(state))
	}

	next := prev.Clone()
	next.State = carryWork(prev, state)
	r.store(next)
	r.mu.Unlock()

	r.logger.Info("job transition", "job_id", id, "from", from, "to", to)
	r.publish(Change{Job: next.Clone(), Previous: from})
	return next.Clone(), true, nil
}

// ByID returns the known record for id. ok=false means unknown to this
// registry, not absent from the ledger.
func (r *Registry) ByID(id uint64) (escrow.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return escrow.Job{}, false
	}
	return job.Clone(), true
}

// ByEscrow looks a job up by its escrow instance address.
func (r *Registry) ByEscrow(addr common.Address) (escrow.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEscrow[addr]
	if !ok {
		return escrow.Job{}, false
	}
	return r.jobs[id].Clone(), true
}

// ForAddress returns the jobs where addr holds role, ordered by id.
func (r *Registry) ForAddress(addr common.Address, role escrow.Role) []escrow.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var idx map[uint64]struct{}
	switch role {
	case escrow.RoleClient:
		idx = r.byClient[addr]
	case escrow.RoleFreelancer:
		idx = r.byFreelancer[addr]
	}
	out := make([]escrow.Job, 0, len(idx))
	for id := range idx {
		out = append(out, r.jobs[id].Clone())
	}
	sortJobs(out)
	return out
}

// All returns every known job ordered by id.
func (r *Registry) All() []escrow.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]escrow.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.Clone())
	}
	sortJobs(out)
	return out
}

// Len returns the number of known jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// AddPending records a provisional marker and returns its id.
func (r *Registry) AddPending(p Pending) string {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.StartedAt.IsZero() {
		p.StartedAt = time.Now()
	}
	r.mu.Lock()
	r.pending[p.ID] = p
	r.mu.Unlock()
	return p.ID
}

// SetPendingTx attaches the submitted transaction hash to a marker.
func (r *Registry) SetPendingTx(id string, tx common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pending[id]; ok {
		p.TxHash = tx
		r.pending[id] = p
	}
}

// ResolvePending drops a marker, whether it was promoted or discarded.
func (r *Registry) ResolvePending(id string) (Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	delete(r.pending, id)
	return p, ok
}

// Pending lists provisional markers, oldest first.
func (r *Registry) Pending() []Pending {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Pending, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Subscribe registers fn for every accepted change. The returned func removes it.
func (r *Registry) Subscribe(fn func(Change)) func() {
	r.sinksMu.Lock()
	id := r.nextID
	r.nextID++
	r.sinks[id] = fn
	r.sinksMu.Unlock()
	return func() {
		r.sinksMu.Lock()
		delete(r.sinks, id)
		r.sinksMu.Unlock()
	}
}

func (r *Registry) publish(c Change) {
	r.sinksMu.Lock()
	sinks := make([]func(Change), 0, len(r.sinks))
	for _, s := range r.sinks {
		sinks = append(sinks, s)
	}
	r.sinksMu.Unlock()
	for _, s := range sinks {
		s(c)
	}
}

// store must be called with mu held.
func (r *Registry) store(job escrow.Job) {
	r.jobs[job.ID] = job
	r.byEscrow[job.Escrow] = job.ID
	index(r.byClient, job.Client, job.ID)
	index(r.byFreelancer, job.Freelancer, job.ID)
}

func index(m map[common.Address]map[uint64]struct{}, addr common.Address, id uint64) {
	set, ok := m[addr]
	if !ok {
		set = make(map[uint64]struct{})
		m[addr] = set
	}
	set[id] = struct{}{}
}

func sortJobs(jobs []escrow.Job) {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
}
