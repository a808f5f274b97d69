package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"escrow-backend/core/escrow"
	"escrow-backend/ledger"
	"escrow-backend/metadata"
	"escrow-backend/registry"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	alice   = common.HexToAddress("0x1234567890123456789012345678901234567890")
	bob     = common.HexToAddress("0x0987654321098765432109876543210987654321")
	carol   = common.HexToAddress("0x00000000000000000000000000000000000c4a01")
	factory = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

type sentTx struct {
	op     string
	signer common.Address
	escrow common.Address
	value  *big.Int
}

// fakeLedger executes writes immediately against an in-memory chain state.
type fakeLedger struct {
	mu sync.Mutex

	fee         *big.Int
	feeOnRevert *big.Int
	createErr   error
	transErr    error
	confirmErr  error
	dropEvent   bool
	hold        chan struct{}
	submitted   chan struct{}

	nonce   uint64
	nextID  uint64
	jobs    map[uint64]ledger.JobInfo
	details map[common.Address]ledger.EscrowDetails
	created map[common.Hash]ledger.Created
	events  map[common.Hash]ledger.Event
	sent    []sentTx
	calls   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		fee:     big.NewInt(1000),
		nextID:  1,
		jobs:    make(map[uint64]ledger.JobInfo),
		details: make(map[common.Address]ledger.EscrowDetails),
		created: make(map[common.Hash]ledger.Created),
		events:  make(map[common.Hash]ledger.Event),
	}
}

func (f *fakeLedger) Factory() common.Address { return factory }

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeLedger) CreationFee(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return new(big.Int).Set(f.fee), nil
}

func (f *fakeLedger) JobInfo(_ context.Context, id uint64) (ledger.JobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	info, ok := f.jobs[id]
	if !ok {
		return ledger.JobInfo{}, escrow.NewError(escrow.ErrNotFound, "job_info", fmt.Sprint(id), nil)
	}
	return info, nil
}

func (f *fakeLedger) JobsForAddress(_ context.Context, addr common.Address, role escrow.Role) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	ids := []uint64{}
	for id := uint64(1); id < f.nextID; id++ {
		info := f.jobs[id]
		if (role == escrow.RoleClient && info.Client == addr) || (role == escrow.RoleFreelancer && info.Freelancer == addr) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeLedger) EscrowDetails(_ context.Context, addr common.Address) (ledger.EscrowDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	d, ok := f.details[addr]
	if !ok {
		return ledger.EscrowDetails{}, escrow.NewError(escrow.ErrReverted, "escrow_details", "no code", nil)
	}
	return d, nil
}

func (f *fakeLedger) newTx(value *big.Int) *types.Transaction {
	f.nonce++
	return types.NewTx(&types.LegacyTx{Nonce: f.nonce, Gas: 21000, GasPrice: big.NewInt(1), Value: value})
}

func (f *fakeLedger) CreateEscrow(_ context.Context, signer escrow.Signer, freelancer common.Address, hash string, value *big.Int) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.createErr != nil {
		if f.feeOnRevert != nil {
			f.fee = f.feeOnRevert
		}
		return nil, f.createErr
	}
	tx := f.newTx(value)
	if _, err := signer.Sign(tx, big.NewInt(1)); err != nil {
		return nil, err
	}
	id := f.nextID
	f.nextID++
	escrowAddr := common.BigToAddress(new(big.Int).SetUint64(0xE5C0000 + id))
	amount := new(big.Int).Sub(value, f.fee)
	at := time.Unix(1_700_000_000+int64(id), 0).UTC()
	f.jobs[id] = ledger.JobInfo{ID: id, Escrow: escrowAddr, Client: signer.Address, Freelancer: freelancer, Amount: amount, MetadataHash: hash, Active: true, CreatedAt: at}
	f.details[escrowAddr] = ledger.EscrowDetails{Client: signer.Address, Freelancer: freelancer, Amount: amount, Status: escrow.StatusFunded, MetadataHash: hash, CreatedAt: at}
	f.created[tx.Hash()] = ledger.Created{JobID: id, Escrow: escrowAddr, Client: signer.Address, Freelancer: freelancer, Amount: amount, MetadataHash: hash, TxHash: tx.Hash(), At: at}
	f.sent = append(f.sent, sentTx{op: "create", signer: signer.Address, value: value})
	return tx, nil
}

func (f *fakeLedger) Transition(_ context.Context, signer escrow.Signer, escrowAddr common.Address, action escrow.Action, workHash string) (*types.Transaction, error) {
	f.mu.Lock()
	f.calls++
	if f.transErr != nil {
		err := f.transErr
		f.mu.Unlock()
		return nil, err
	}
	d := f.details[escrowAddr]
	next, err := escrow.Next(d.Status, action)
	if err != nil {
		f.mu.Unlock()
		return nil, escrow.NewError(escrow.ErrReverted, string(action), "Invalid status", nil)
	}
	tx := f.newTx(nil)
	if _, err := signer.Sign(tx, big.NewInt(1)); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	d.Status = next
	if action == escrow.ActionSubmit {
		d.WorkHash = workHash
	}
	f.details[escrowAddr] = d
	f.events[tx.Hash()] = ledger.Event{
		Name:   ledger.EventFor(action),
		Escrow: escrowAddr,
		Action: action,
		Status: next,
		WorkHash: func() string {
			if action == escrow.ActionSubmit {
				return workHash
			}
			return ""
		}(),
		TxHash: tx.Hash(),
	}
	f.sent = append(f.sent, sentTx{op: string(action), signer: signer.Address, escrow: escrowAddr})
	submitted := f.submitted
	f.mu.Unlock()
	if submitted != nil {
		submitted <- struct{}{}
	}
	return tx, nil
}

func (f *fakeLedger) WaitConfirmed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	f.mu.Lock()
	hold, err := f.hold, f.confirmErr
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, escrow.NewError(escrow.ErrNetwork, "confirm", "confirmation timeout", ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	return &types.Receipt{TxHash: tx.Hash(), Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)}, nil
}

func (f *fakeLedger) Created(_ context.Context, receipt *types.Receipt) (ledger.Created, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.created[receipt.TxHash]
	if !ok || f.dropEvent {
		return ledger.Created{}, escrow.NewError(escrow.ErrEventNotFound, "create", "JobCreated missing", nil)
	}
	return c, nil
}

func (f *fakeLedger) TransitionEvent(_ context.Context, receipt *types.Receipt, escrowAddr common.Address, action escrow.Action) (ledger.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[receipt.TxHash]
	if !ok || f.dropEvent || ev.Escrow != escrowAddr || ev.Action != action {
		return ledger.Event{}, escrow.NewError(escrow.ErrEventNotFound, string(action), "event missing", nil)
	}
	return ev, nil
}

func (f *fakeLedger) sentTxs() []sentTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentTx(nil), f.sent...)
}

func (f *fakeLedger) sentCount(op string) int {
	n := 0
	for _, tx := range f.sentTxs() {
		if tx.op == op {
			n++
		}
	}
	return n
}

// fakeSessions hands out snapshots of a switchable identity.
type fakeSessions struct {
	mu   sync.Mutex
	addr *common.Address
}

func (s *fakeSessions) use(a common.Address) {
	s.mu.Lock()
	s.addr = &a
	s.mu.Unlock()
}

func (s *fakeSessions) Signer(context.Context) (escrow.Signer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return escrow.Signer{}, escrow.NewError(escrow.ErrNoSigner, "signer", "", nil)
	}
	addr := *s.addr
	return escrow.Signer{
		Address: addr,
		Sign: func(tx *types.Transaction, _ *big.Int) (*types.Transaction, error) {
			return tx, nil
		},
	}, nil
}

type harness struct {
	orch     *Orchestrator
	ledger   *fakeLedger
	sessions *fakeSessions
	registry *registry.Registry
	cancel   context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	l := newFakeLedger()
	s := &fakeSessions{}
	reg := registry.New(nil)
	o := New(l, s, metadata.NewDocuments(metadata.NewMemoryStore()), reg, Options{Metrics: NewMetrics(nil)})
	ctx, cancel := context.WithCancel(context.Background())
	go o.Reconciler().Run(ctx)
	t.Cleanup(cancel)
	return &harness{orch: o, ledger: l, sessions: s, registry: reg, cancel: cancel}
}

func (h *harness) create(t *testing.T) escrow.Job {
	t.Helper()
	h.sessions.use(alice)
	res, err := h.orch.CreateJob(context.Background(), specRequest())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return res.Job
}

func specRequest() CreateRequest {
	return CreateRequest{
		Freelancer:   bob,
		Price:        "2.5",
		Title:        "Build React Dashboard",
		Description:  "Create a modern dashboard with charts and analytics",
		Requirements: []string{"React 18"},
		Deliverables: []string{"Source repository"},
	}
}

func waitStatus(t *testing.T, reg *registry.Registry, id uint64, want escrow.Status) escrow.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		job, ok := reg.ByID(id)
		if ok && job.Status() == want {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %d never reached %s (have %s)", id, want, job.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
