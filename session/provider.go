// Package session owns the connection to the signing provider and the identity
// that lifecycle writes are attributed to.
package session

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"escrow-backend/core/escrow"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Provider is an external signer holding the user's keys.
type Provider interface {
	// RequestAccounts may prompt the human for approval.
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	// Accounts returns the currently authorized accounts without prompting.
	Accounts(ctx context.Context) ([]common.Address, error)
	SignTx(ctx context.Context, account common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	// Subscribe reports account list changes until the returned func is called.
	Subscribe(fn func([]common.Address)) (unsubscribe func())
}

// BalanceReader is the ledger read used to refresh the advisory balance.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}

// ErrRejected is returned by providers when the human declines a request.
var ErrRejected = errors.New("request rejected by user")

// providerError maps a provider failure onto the escrow error kinds.
func providerError(op string, err error) error {
	if err == nil {
		return nil
	}
	if escrow.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, ErrRejected) || rejected(err.Error()) {
		return escrow.NewError(escrow.ErrUserRejected, op, "", err)
	}
	return escrow.NewError(escrow.ErrProviderUnavailable, op, "", err)
}

func rejected(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "denied") || strings.Contains(m, "rejected") || strings.Contains(m, "declined")
}
