package metadata

import (
	"context"

	"escrow-backend/core/escrow"
	"escrow-backend/ipfs"
)

// IPFSStore pins payloads through the IPFS HTTP API. The CID is computed by the
// node with CIDv1, so identical payloads yield identical identifiers.
type IPFSStore struct {
	client      *ipfs.Client
	requireAuth bool
}

// NewIPFSStore wraps client. With requireAuth set, Put fails with Unauthorized
// before any request when no token is configured.
func NewIPFSStore(client *ipfs.Client, requireAuth bool) *IPFSStore {
	return &IPFSStore{client: client, requireAuth: requireAuth}
}

func (s *IPFSStore) Put(ctx context.Context, payload []byte) (string, error) {
	if s.requireAuth && !s.client.HasToken() {
		return "", escrow.NewError(escrow.ErrUnauthorized, "put", "ipfs token not configured", nil)
	}
	cid, err := s.client.AddBytes(ctx, "payload", payload)
	if err != nil {
		return "", classify("put", err)
	}
	return cid, nil
}

func (s *IPFSStore) Get(ctx context.Context, hash string) ([]byte, error) {
	data, err := s.client.Cat(ctx, hash)
	if err != nil {
		return nil, classify("get", err)
	}
	return data, nil
}
