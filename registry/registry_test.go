package registry

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"escrow-backend/core/escrow"

	"github.com/ethereum/go-ethereum/common"
)

var (
	client     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	freelancer = common.HexToAddress("0x2222222222222222222222222222222222222222")
	outsider   = common.HexToAddress("0x9999999999999999999999999999999999999999")
)

func newJob(id uint64, escrowHex string) escrow.Job {
	return escrow.Job{
		ID:           id,
		Client:       client,
		Freelancer:   freelancer,
		Escrow:       common.HexToAddress(escrowHex),
		Amount:       big.NewInt(1000),
		MetadataHash: "bafyspec",
		CreatedAt:    time.Unix(1700000000, 0).UTC(),
		State:        escrow.Funded{},
	}
}

func TestUpsertInsertsAndIndexes(t *testing.T) {
	r := New(nil)
	job := newJob(1, "0xaaaa000000000000000000000000000000000001")

	if _, err := r.Upsert(job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := r.ByID(1)
	if !ok {
		t.Fatal("expected job to be known")
	}
	if got.Status() != escrow.StatusFunded {
		t.Errorf("expected funded, got %s", got.Status())
	}
	if _, ok := r.ByEscrow(job.Escrow); !ok {
		t.Error("expected escrow index entry")
	}
	if n := len(r.ForAddress(client, escrow.RoleClient)); n != 1 {
		t.Errorf("expected 1 client job, got %d", n)
	}
	if n := len(r.ForAddress(freelancer, escrow.RoleFreelancer)); n != 1 {
		t.Errorf("expected 1 freelancer job, got %d", n)
	}
	if n := len(r.ForAddress(client, escrow.RoleFreelancer)); n != 0 {
		t.Errorf("client is not a freelancer on any job, got %d", n)
	}
	if n := len(r.ForAddress(outsider, escrow.RoleClient)); n != 0 {
		t.Errorf("expected no jobs for outsider, got %d", n)
	}
	if _, ok := r.ByID(2); ok {
		t.Error("unknown id must report ok=false")
	}
}

func TestUpsertRejectsImmutableChanges(t *testing.T) {
	base := newJob(1, "0xaaaa000000000000000000000000000000000001")

	cases := map[string]func(j *escrow.Job){
		"amount":     func(j *escrow.Job) { j.Amount = big.NewInt(999) },
		"client":     func(j *escrow.Job) { j.Client = outsider },
		"freelancer": func(j *escrow.Job) { j.Freelancer = outsider },
		"escrow":     func(j *escrow.Job) { j.Escrow = common.HexToAddress("0xbbbb") },
		"metadata":   func(j *escrow.Job) { j.MetadataHash = "bafyother" },
		"created_at": func(j *escrow.Job) { j.CreatedAt = j.CreatedAt.Add(time.Second) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := New(nil)
			if _, err := r.Upsert(base); err != nil {
				t.Fatalf("seed failed: %v", err)
			}
			changed := base.Clone()
			mutate(&changed)
			_, err := r.Upsert(changed)
			if !errors.Is(err, escrow.ErrConsistencyViolation) {
				t.Fatalf("expected ConsistencyViolation, got %v", err)
			}
			stored, _ := r.ByID(1)
			if stored.Amount.Cmp(base.Amount) != 0 || stored.Client != base.Client || stored.MetadataHash != base.MetadataHash {
				t.Error("stored record must not change on violation")
			}
		})
	}
}

func TestUpsertEscrowIsOneToOne(t *testing.T) {
	r := New(nil)
	if _, err := r.Upsert(newJob(1, "0xaaaa000000000000000000000000000000000001")); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	_, err := r.Upsert(newJob(2, "0xaaaa000000000000000000000000000000000001"))
	if !errors.Is(err, escrow.ErrConsistencyViolation) {
		t.Fatalf("expected ConsistencyViolation for reused escrow, got %v", err)
	}
}

func TestUpsertStatusMonotonic(t *testing.T) {
	r := New(nil)
	job := newJob(1, "0xaaaa000000000000000000000000000000000001")
	job.State = escrow.Submitted{WorkHash: "bafywork"}
	if _, err := r.Upsert(job); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	t.Run("forward read is accepted and keeps work hash", func(t *testing.T) {
		next := job.Clone()
		next.State = escrow.Reviewing{}
		got, err := r.Upsert(next)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if h, _ := got.WorkHash(); h != "bafywork" {
			t.Errorf("expected carried work hash, got %q", h)
		}
	})

	t.Run("regression is a violation", func(t *testing.T) {
		back := job.Clone()
		back.State = escrow.Accepted{}
		if _, err := r.Upsert(back); !errors.Is(err, escrow.ErrConsistencyViolation) {
			t.Fatalf("expected ConsistencyViolation, got %v", err)
		}
	})

	t.Run("new work hash after a missed rework replaces the old one", func(t *testing.T) {
		r := New(nil)
		seed := newJob(2, "0xaaaa000000000000000000000000000000000002")
		seed.State = escrow.Submitted{WorkHash: "bafyA"}
		if _, err := r.Upsert(seed); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
		// submitted(A) -> in_progress -> submitted(B) happened between reads.
		read := seed.Clone()
		read.State = escrow.Submitted{WorkHash: "bafyB"}
		got, err := r.Upsert(read)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if h, _ := got.WorkHash(); h != "bafyB" {
			t.Errorf("expected bafyB, got %q", h)
		}
		read.State = escrow.Completed{WorkHash: "bafyC"}
		if got, err = r.Upsert(read); err != nil {
			t.Fatalf("completed after another rework: %v", err)
		}
		if h, _ := got.WorkHash(); h != "bafyC" {
			t.Errorf("expected bafyC, got %q", h)
		}

		// A closed job cannot have been reworked.
		read.State = escrow.Completed{WorkHash: "bafyD"}
		if _, err := r.Upsert(read); !errors.Is(err, escrow.ErrConsistencyViolation) {
			t.Fatalf("expected ConsistencyViolation for a terminal job, got %v", err)
		}
	})

	t.Run("rework clears work hash", func(t *testing.T) {
		rework := job.Clone()
		rework.State = escrow.InProgress{}
		got, err := r.Upsert(rework)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := got.WorkHash(); ok {
			t.Error("rework must clear the work hash")
		}
	})
}

func TestApplySingleStep(t *testing.T) {
	r := New(nil)
	job := newJob(1, "0xaaaa000000000000000000000000000000000001")
	if _, err := r.Upsert(job); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if _, _, err := r.Apply(job.Escrow, escrow.InProgress{}); !errors.Is(err, escrow.ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition for skipped state, got %v", err)
	}
	if got, _ := r.ByID(1); got.Status() != escrow.StatusFunded {
		t.Fatalf("status must be unchanged, got %s", got.Status())
	}

	got, applied, err := r.Apply(job.Escrow, escrow.Accepted{})
	if err != nil || !applied {
		t.Fatalf("expected transition to apply, got applied=%v err=%v", applied, err)
	}
	if got.Status() != escrow.StatusAccepted {
		t.Errorf("expected accepted, got %s", got.Status())
	}

	_, applied, err = r.Apply(job.Escrow, escrow.Accepted{})
	if err != nil || applied {
		t.Errorf("duplicate event must be a no-op, got applied=%v err=%v", applied, err)
	}

	if _, _, err := r.Apply(outsider, escrow.Accepted{}); !errors.Is(err, escrow.ErrNotFound) {
		t.Errorf("expected NotFound for unknown escrow, got %v", err)
	}
}

func TestSubscribeAndPending(t *testing.T) {
	r := New(nil)
	var mu sync.Mutex
	var changes []Change
	unsubscribe := r.Subscribe(func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	id := r.AddPending(Pending{Action: "create", Signer: client})
	if len(r.Pending()) != 1 {
		t.Fatal("expected one pending marker")
	}
	if r.Len() != 0 {
		t.Fatal("pending markers must not enter the job map")
	}

	job := newJob(1, "0xaaaa000000000000000000000000000000000001")
	if _, err := r.Upsert(job); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, ok := r.ResolvePending(id); !ok {
		t.Error("expected marker to resolve")
	}
	if len(r.Pending()) != 0 {
		t.Error("expected no pending markers")
	}

	unsubscribe()
	if _, _, err := r.Apply(job.Escrow, escrow.Accepted{}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 || !changes[0].Created {
		t.Errorf("expected exactly the creation change, got %+v", changes)
	}
}
