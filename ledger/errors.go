package ledger

import (
	"context"
	"errors"
	"strings"

	"escrow-backend/core/escrow"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// classify maps an RPC failure onto the escrow error kinds. Reverts carry the
// decoded Error(string) reason when the node returned revert data.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if escrow.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return escrow.NewError(escrow.ErrNetwork, op, "", err)
	}
	if reason, ok := RevertReason(err); ok {
		return escrow.NewError(escrow.ErrReverted, op, reason, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "execution reverted"), strings.Contains(msg, "revert"):
		return escrow.NewError(escrow.ErrReverted, op, "", err)
	case strings.Contains(msg, "insufficient funds"):
		return escrow.NewError(escrow.ErrReverted, op, "insufficient funds", err)
	}
	return escrow.NewError(escrow.ErrNetwork, op, "", err)
}

// RevertReason extracts the Error(string) reason from an RPC error that carries
// revert data.
func RevertReason(err error) (string, bool) {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return "", false
	}
	raw, ok := de.ErrorData().(string)
	if !ok {
		return "", false
	}
	data, decErr := hexutil.Decode(raw)
	if decErr != nil || len(data) < 4 {
		return "", false
	}
	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return "", false
	}
	return reason, true
}

// FeeRelated reports whether err is a revert whose reason points at the
// creation fee or the value sent with it.
func FeeRelated(err error) bool {
	var e *escrow.Error
	if !errors.As(err, &e) || e.Kind != escrow.ErrReverted {
		return false
	}
	r := strings.ToLower(e.Reason)
	return strings.Contains(r, "fee") || strings.Contains(r, "insufficient payment") || strings.Contains(r, "incorrect value")
}
