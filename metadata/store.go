// Package metadata stores the off-chain documents a job references by hash:
// the job specification and the work submission manifest.
package metadata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"escrow-backend/core/escrow"
	"escrow-backend/ipfs"
)

// Store is a content-addressed blob store. Put must never return a hash for a
// payload it did not durably accept.
type Store interface {
	Put(ctx context.Context, payload []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
}

// ContentID is the identifier used by the non-IPFS backends.
func ContentID(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "sha256-" + hex.EncodeToString(sum[:])
}

// classify maps transport and API failures onto the store error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if escrow.KindOf(err) != "" {
		return err
	}
	var se *ipfs.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden:
			return escrow.NewError(escrow.ErrUnauthorized, op, "", err)
		case se.Code == http.StatusNotFound:
			return escrow.NewError(escrow.ErrNotFound, op, "", err)
		case se.Code == http.StatusBadRequest && op == "get":
			return escrow.NewError(escrow.ErrNotFound, op, "unresolvable hash", err)
		case se.Code == http.StatusInternalServerError && op == "get" && unresolvable(se.Body):
			return escrow.NewError(escrow.ErrNotFound, op, "unresolvable hash", err)
		}
		return escrow.NewError(escrow.ErrStoreUnavailable, op, "", err)
	}
	// Transport failures, timeouts and malformed responses.
	return escrow.NewError(escrow.ErrStoreUnavailable, op, "", err)
}

func unresolvable(body string) bool {
	b := strings.ToLower(body)
	return strings.Contains(b, "not found") || strings.Contains(b, "invalid") || strings.Contains(b, "no link named")
}
