package session

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"escrow-backend/core/escrow"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Manager holds at most one live session. It subscribes to the provider once
// and keeps the session in step with the provider's account list: an empty
// list disconnects, a different first account switches identity in place.
type Manager struct {
	provider Provider
	balances BalanceReader
	logger   *slog.Logger

	mu      sync.RWMutex
	current *escrow.Session

	subscribeOnce sync.Once
	closeOnce     sync.Once
	unsubscribe   func()
	sinks         []func(escrow.Session, bool)
}

// NewManager creates a manager. provider may be nil, in which case Connect
// reports ProviderUnavailable. balances may be nil to skip balance refresh.
func NewManager(provider Provider, balances BalanceReader, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{provider: provider, balances: balances, logger: logger}
}

// Connect asks the provider for accounts, prompting if needed.
func (m *Manager) Connect(ctx context.Context) (escrow.Session, error) {
	if m.provider == nil {
		return escrow.Session{}, escrow.NewError(escrow.ErrProviderUnavailable, "connect", "no signing provider configured", nil)
	}
	accts, err := m.provider.RequestAccounts(ctx)
	if err != nil {
		return escrow.Session{}, providerError("connect", err)
	}
	if len(accts) == 0 {
		return escrow.Session{}, escrow.NewError(escrow.ErrUserRejected, "connect", "no accounts authorized", nil)
	}
	return m.establish(ctx, accts[0]), nil
}

// Restore reconnects silently when the provider already has an authorized
// account. It returns false when there is nothing to restore.
func (m *Manager) Restore(ctx context.Context) (escrow.Session, bool, error) {
	if m.provider == nil {
		return escrow.Session{}, false, nil
	}
	accts, err := m.provider.Accounts(ctx)
	if err != nil {
		return escrow.Session{}, false, providerError("restore", err)
	}
	if len(accts) == 0 {
		return escrow.Session{}, false, nil
	}
	return m.establish(ctx, accts[0]), true, nil
}

func (m *Manager) establish(ctx context.Context, addr common.Address) escrow.Session {
	m.subscribeOnce.Do(func() {
		m.unsubscribe = m.provider.Subscribe(m.accountsChanged)
	})
	m.mu.Lock()
	m.current = &escrow.Session{Address: addr, IsConnected: true}
	m.mu.Unlock()
	m.logger.Info("session connected", "signer", addr.Hex())
	m.refreshBalance(ctx, addr)
	s, _ := m.Current()
	m.publish(s, true)
	return s
}

// Disconnect clears local state. The provider is not contacted.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.mu.Unlock()
	if prev != nil {
		m.logger.Info("session disconnected", "signer", prev.Address.Hex())
		m.publish(escrow.Session{Address: prev.Address}, false)
	}
}

// Current returns a copy of the live session.
func (m *Manager) Current() (escrow.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return escrow.Session{}, false
	}
	s := *m.current
	if s.Balance != nil {
		s.Balance = new(big.Int).Set(s.Balance)
	}
	return s, true
}

// Signer captures the current identity. The returned signer always signs as
// that address, whatever the session does afterwards.
func (m *Manager) Signer(ctx context.Context) (escrow.Signer, error) {
	s, ok := m.Current()
	if !ok {
		return escrow.Signer{}, escrow.NewError(escrow.ErrNoSigner, "signer", "no connected session", nil)
	}
	addr := s.Address
	provider := m.provider
	return escrow.Signer{
		Address: addr,
		Sign: func(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
			signed, err := provider.SignTx(ctx, addr, tx, chainID)
			if err != nil {
				return nil, providerError("sign", err)
			}
			return signed, nil
		},
	}, nil
}

// OnChange registers fn for connect, switch and disconnect notifications.
func (m *Manager) OnChange(fn func(s escrow.Session, connected bool)) {
	m.mu.Lock()
	m.sinks = append(m.sinks, fn)
	m.mu.Unlock()
}

// Close tears down the provider subscription. Safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		// Claim the subscription slot so no later connect can subscribe.
		m.subscribeOnce.Do(func() {})
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
	})
}

func (m *Manager) accountsChanged(accts []common.Address) {
	if len(accts) == 0 {
		m.logger.Warn("provider reports no accounts")
		m.Disconnect()
		return
	}
	next := accts[0]
	m.mu.Lock()
	if m.current == nil || m.current.Address == next {
		m.mu.Unlock()
		return
	}
	prev := m.current.Address
	m.current.Address = next
	m.current.Balance = nil
	m.mu.Unlock()

	m.logger.Info("session account switched", "from", prev.Hex(), "to", next.Hex())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	m.refreshBalance(ctx, next)
	cancel()
	if s, ok := m.Current(); ok {
		m.publish(s, true)
	}
}

func (m *Manager) refreshBalance(ctx context.Context, addr common.Address) {
	if m.balances == nil {
		return
	}
	bal, err := m.balances.BalanceAt(ctx, addr)
	if err != nil {
		m.logger.Warn("balance refresh failed", "signer", addr.Hex(), "err", err)
		return
	}
	m.mu.Lock()
	if m.current != nil && m.current.Address == addr {
		m.current.Balance = bal
	}
	m.mu.Unlock()
}

func (m *Manager) publish(s escrow.Session, connected bool) {
	m.mu.RLock()
	sinks := append([]func(escrow.Session, bool){}, m.sinks...)
	m.mu.RUnlock()
	for _, fn := range sinks {
		fn(s, connected)
	}
}
