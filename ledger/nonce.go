package ledger

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// nonceSource reports the next nonce the node will accept from an account.
type nonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// nonces hands out transaction nonces per account. An account's slot is held
// from the nonce read until the signed transaction is sent or abandoned, so
// writes from one signer to different contracts never share a nonce.
type nonces struct {
	src nonceSource

	mu       sync.Mutex
	accounts map[common.Address]*accountNonce
}

type accountNonce struct {
	slot  chan struct{}
	next  uint64
	known bool
}

func newNonces(src nonceSource) *nonces {
	return &nonces{src: src, accounts: make(map[common.Address]*accountNonce)}
}

func (n *nonces) account(addr common.Address) *accountNonce {
	n.mu.Lock()
	defer n.mu.Unlock()
	a, ok := n.accounts[addr]
	if !ok {
		a = &accountNonce{slot: make(chan struct{}, 1)}
		n.accounts[addr] = a
	}
	return a
}

// reserve waits for addr's slot and returns the nonce to sign with. The
// caller must call done exactly once; sent reports whether the node accepted
// the transaction, and only then is the nonce consumed.
func (n *nonces) reserve(ctx context.Context, addr common.Address) (nonce uint64, done func(sent bool), err error) {
	a := n.account(addr)
	select {
	case a.slot <- struct{}{}:
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
	pending, err := n.src.PendingNonceAt(ctx, addr)
	if err != nil {
		<-a.slot
		return 0, nil, err
	}
	// The node's pool can lag behind a send it has just accepted.
	nonce = pending
	if a.known && a.next > nonce {
		nonce = a.next
	}
	var once sync.Once
	return nonce, func(sent bool) {
		once.Do(func() {
			if sent {
				a.next, a.known = nonce+1, true
			}
			<-a.slot
		})
	}, nil
}
