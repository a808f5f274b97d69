package session

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"escrow-backend/core/escrow"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	alice = common.HexToAddress("0x1234567890123456789012345678901234567890")
	bob   = common.HexToAddress("0x0987654321098765432109876543210987654321")
)

type fakeProvider struct {
	mu           sync.Mutex
	accounts     []common.Address
	requestErr   error
	subscribed   int
	unsubscribed int
	notify       func([]common.Address)
	signedBy     []common.Address
}

func (p *fakeProvider) RequestAccounts(context.Context) ([]common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.requestErr != nil {
		return nil, p.requestErr
	}
	return p.accounts, nil
}

func (p *fakeProvider) Accounts(context.Context) ([]common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accounts, nil
}

func (p *fakeProvider) SignTx(_ context.Context, account common.Address, tx *types.Transaction, _ *big.Int) (*types.Transaction, error) {
	p.mu.Lock()
	p.signedBy = append(p.signedBy, account)
	p.mu.Unlock()
	return tx, nil
}

func (p *fakeProvider) Subscribe(fn func([]common.Address)) func() {
	p.mu.Lock()
	p.subscribed++
	p.notify = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.unsubscribed++
		p.mu.Unlock()
	}
}

func (p *fakeProvider) emit(accts ...common.Address) {
	p.mu.Lock()
	p.accounts = accts
	fn := p.notify
	p.mu.Unlock()
	fn(accts)
}

type fakeBalances map[common.Address]*big.Int

func (b fakeBalances) BalanceAt(_ context.Context, a common.Address) (*big.Int, error) {
	if v, ok := b[a]; ok {
		return v, nil
	}
	return nil, errors.New("unknown account")
}

func TestConnectErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("no provider", func(t *testing.T) {
		m := NewManager(nil, nil, nil)
		if _, err := m.Connect(ctx); !errors.Is(err, escrow.ErrProviderUnavailable) {
			t.Fatalf("expected ProviderUnavailable, got %v", err)
		}
		if _, ok := m.Current(); ok {
			t.Error("expected no session")
		}
	})

	t.Run("user declines", func(t *testing.T) {
		m := NewManager(&fakeProvider{requestErr: errors.New("Request denied")}, nil, nil)
		if _, err := m.Connect(ctx); !errors.Is(err, escrow.ErrUserRejected) {
			t.Fatalf("expected UserRejected, got %v", err)
		}
	})

	t.Run("no accounts authorized", func(t *testing.T) {
		m := NewManager(&fakeProvider{}, nil, nil)
		if _, err := m.Connect(ctx); !errors.Is(err, escrow.ErrUserRejected) {
			t.Fatalf("expected UserRejected, got %v", err)
		}
	})
}

func TestConnectLoadsBalance(t *testing.T) {
	p := &fakeProvider{accounts: []common.Address{alice}}
	m := NewManager(p, fakeBalances{alice: big.NewInt(5)}, nil)
	defer m.Close()

	s, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if s.Address != alice || !s.IsConnected {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.Balance == nil || s.Balance.Int64() != 5 {
		t.Errorf("expected balance 5, got %v", s.Balance)
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{}
	m := NewManager(p, nil, nil)
	defer m.Close()

	if _, ok, err := m.Restore(ctx); ok || err != nil {
		t.Fatalf("expected nothing to restore, got %v %v", ok, err)
	}
	p.accounts = []common.Address{bob}
	s, ok, err := m.Restore(ctx)
	if err != nil || !ok || s.Address != bob {
		t.Fatalf("restore failed: %+v %v %v", s, ok, err)
	}
}

func TestDisconnectIsLocal(t *testing.T) {
	p := &fakeProvider{accounts: []common.Address{alice}}
	m := NewManager(p, nil, nil)
	defer m.Close()
	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.Disconnect()
	if _, ok := m.Current(); ok {
		t.Error("expected no session after disconnect")
	}
	if _, err := m.Signer(context.Background()); !errors.Is(err, escrow.ErrNoSigner) {
		t.Errorf("expected NoSigner, got %v", err)
	}
}

func TestAccountChanges(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{accounts: []common.Address{alice}}
	m := NewManager(p, fakeBalances{alice: big.NewInt(1), bob: big.NewInt(2)}, nil)

	var events []bool
	m.OnChange(func(_ escrow.Session, connected bool) { events = append(events, connected) })

	if _, err := m.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	t.Run("switch keeps the session", func(t *testing.T) {
		p.emit(bob)
		s, ok := m.Current()
		if !ok || s.Address != bob {
			t.Fatalf("expected switch to bob, got %+v %v", s, ok)
		}
		if s.Balance == nil || s.Balance.Int64() != 2 {
			t.Errorf("expected refreshed balance, got %v", s.Balance)
		}
	})

	t.Run("empty list disconnects", func(t *testing.T) {
		p.emit()
		if _, ok := m.Current(); ok {
			t.Error("expected forced disconnect")
		}
	})

	if len(events) != 3 || !events[0] || !events[1] || events[2] {
		t.Errorf("unexpected change events %v", events)
	}

	// Reconnecting must not add a second subscription.
	p.accounts = []common.Address{alice}
	if _, err := m.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	m.Close()
	m.Close()
	if p.subscribed != 1 || p.unsubscribed != 1 {
		t.Errorf("expected one subscription torn down once, got %d/%d", p.subscribed, p.unsubscribed)
	}
}

func TestSignerKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{accounts: []common.Address{alice}}
	m := NewManager(p, nil, nil)
	defer m.Close()
	if _, err := m.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	signer, err := m.Signer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	p.emit(bob)

	tx := types.NewTx(&types.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1)})
	if _, err := signer.Sign(tx, big.NewInt(1)); err != nil {
		t.Fatal(err)
	}
	if signer.Address != alice || len(p.signedBy) != 1 || p.signedBy[0] != alice {
		t.Errorf("expected signature attributed to alice, got %v", p.signedBy)
	}
	if s, _ := m.Current(); s.Address != bob {
		t.Errorf("expected session to follow bob, got %s", s.Address.Hex())
	}
}
