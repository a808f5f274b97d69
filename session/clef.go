package session

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/external"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// ClefProvider talks to a Clef instance over its external API. Clef has no push
// notifications, so account changes are found by polling account_list.
type ClefProvider struct {
	rpc      *rpc.Client
	signer   *external.ExternalSigner
	interval time.Duration
	logger   *slog.Logger
}

// DialClef connects to endpoint. An unreachable Clef is reported as
// ProviderUnavailable.
func DialClef(ctx context.Context, endpoint string, pollInterval time.Duration, logger *slog.Logger) (*ClefProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	client, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, providerError("dial", fmt.Errorf("dial clef %s: %w", endpoint, err))
	}
	signer, err := external.NewExternalSigner(endpoint)
	if err != nil {
		client.Close()
		return nil, providerError("dial", fmt.Errorf("clef signer %s: %w", endpoint, err))
	}
	return &ClefProvider{rpc: client, signer: signer, interval: pollInterval, logger: logger}, nil
}

func (p *ClefProvider) Close() {
	p.rpc.Close()
}

func (p *ClefProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return p.list(ctx, "request_accounts")
}

func (p *ClefProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	return p.list(ctx, "accounts")
}

func (p *ClefProvider) list(ctx context.Context, op string) ([]common.Address, error) {
	var res []common.Address
	if err := p.rpc.CallContext(ctx, &res, "account_list"); err != nil {
		return nil, providerError(op, err)
	}
	return res, nil
}

func (p *ClefProvider) SignTx(_ context.Context, account common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := p.signer.SignTx(accounts.Account{Address: account}, tx, chainID)
	if err != nil {
		return nil, providerError("sign", err)
	}
	return signed, nil
}

func (p *ClefProvider) Subscribe(fn func([]common.Address)) func() {
	done := make(chan struct{})
	var once sync.Once
	go p.poll(done, fn)
	return func() { once.Do(func() { close(done) }) }
}

func (p *ClefProvider) poll(done <-chan struct{}, fn func([]common.Address)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	var last []common.Address
	seeded := false
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.interval)
		accts, err := p.Accounts(ctx)
		cancel()
		if err != nil {
			p.logger.Warn("clef account poll failed", "err", err)
			continue
		}
		if seeded && sameAccounts(last, accts) {
			continue
		}
		last, seeded = accts, true
		fn(accts)
	}
}

func sameAccounts(a, b []common.Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
