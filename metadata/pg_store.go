package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"escrow-backend/core/escrow"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps content-addressed payloads in Postgres. It is a blob store
// only; job state is never written here.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects and initializes the content table.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS escrow_content (
  content_id TEXT PRIMARY KEY,
  payload BYTEA NOT NULL,
  size_bytes INT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PGStore) Close() {
	s.pool.Close()
}

func (s *PGStore) Put(ctx context.Context, payload []byte) (string, error) {
	id := ContentID(payload)
	_, err := s.pool.Exec(ctx, `
INSERT INTO escrow_content (content_id, payload, size_bytes)
VALUES ($1, $2, $3)
ON CONFLICT (content_id) DO NOTHING`, id, payload, len(payload))
	if err != nil {
		return "", pgError("put", err)
	}
	return id, nil
}

func (s *PGStore) Get(ctx context.Context, hash string) ([]byte, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM escrow_content WHERE content_id = $1`, hash).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, escrow.NewError(escrow.ErrNotFound, "get", hash, nil)
	}
	if err != nil {
		return nil, pgError("get", err)
	}
	return payload, nil
}

func pgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 28xxx: invalid authorization; 42501: insufficient privilege.
		if strings.HasPrefix(pgErr.Code, "28") || pgErr.Code == "42501" {
			return escrow.NewError(escrow.ErrUnauthorized, op, pgErr.Message, err)
		}
	}
	return escrow.NewError(escrow.ErrStoreUnavailable, op, "", err)
}
