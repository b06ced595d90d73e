package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pyroalert/authcore/refresh"
)

// PostgresStore is a refresh.Store backed by the refresh_tokens table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore returns a store on pool. The schema comes from the
// embedded migrations in internal/db.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool}
}

const selectRecord = `
	SELECT id, secret_hash, user_id, family_id, scope, client_id, user_agent, ip_address,
	       created_at, expires_at, revoked_at, COALESCE(replaced_by, '')
	FROM refresh_tokens
	WHERE id = $1
`

const insertRecord = `
	INSERT INTO refresh_tokens
		(id, secret_hash, user_id, family_id, scope, client_id, user_agent, ip_address, created_at, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

// Save persists rec.
func (s *PostgresStore) Save(ctx context.Context, rec *refresh.Record) error {
	return wrapPG(insert(ctx, s.db, rec))
}

// Get loads the record for id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*refresh.Record, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, selectRecord, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, refresh.ErrNotFound
		}
		return nil, wrapPG(err)
	}
	return rec, nil
}

// Rotate revokes prevID and inserts next in one transaction. The revoke is
// a conditional update, so concurrent rotations of one token serialize on
// its row and only one of them matches.
func (s *PostgresStore) Rotate(ctx context.Context, prevID string, prevHash refresh.SecretHash, next *refresh.Record, now time.Time) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = $2, replaced_by = $3
			WHERE id = $1 AND secret_hash = $4 AND revoked_at IS NULL AND expires_at > $2
		`, prevID, now, next.ID, prevHash[:])
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return classifyRotateMiss(ctx, tx, prevID, prevHash, now)
		}
		return insert(ctx, tx, next)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, refresh.ErrInvalid) || errors.Is(err, refresh.ErrHashMismatch) {
		return err
	}
	return wrapPG(err)
}

// Revoke marks id revoked if it is live.
func (s *PostgresStore) Revoke(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE refresh_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, now)
	if err != nil {
		return false, wrapPG(err)
	}
	return tag.RowsAffected() == 1, nil
}

// RevokeFamily revokes every live record of the rotation chain.
func (s *PostgresStore) RevokeFamily(ctx context.Context, familyID string, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `UPDATE refresh_tokens SET revoked_at = $2 WHERE family_id = $1 AND revoked_at IS NULL`, familyID, now)
	if err != nil {
		return 0, wrapPG(err)
	}
	return int(tag.RowsAffected()), nil
}

// RevokeAllForUser revokes every live record of userID.
func (s *PostgresStore) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `UPDATE refresh_tokens SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`, userID, now)
	if err != nil {
		return 0, wrapPG(err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteExpired removes records whose expiry is before now.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, wrapPG(err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return wrapPG(s.db.Ping(ctx))
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insert(ctx context.Context, db execer, rec *refresh.Record) error {
	_, err := db.Exec(ctx, insertRecord,
		rec.ID,
		rec.SecretHash[:],
		rec.UserID,
		rec.FamilyID,
		rec.Scope,
		rec.ClientID,
		rec.UserAgent,
		rec.IPAddress,
		rec.CreatedAt,
		rec.ExpiresAt,
	)
	return err
}

func classifyRotateMiss(ctx context.Context, tx pgx.Tx, id string, hash refresh.SecretHash, now time.Time) error {
	rec, err := scanRecord(tx.QueryRow(ctx, selectRecord, id))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return refresh.ErrNotFound
	case err != nil:
		return err
	case rec.SecretHash != hash:
		return refresh.ErrHashMismatch
	case rec.Revoked():
		return refresh.ErrRevoked
	case rec.Expired(now):
		return refresh.ErrExpired
	default:
		return refresh.ErrRevoked
	}
}

func scanRecord(row pgx.Row) (*refresh.Record, error) {
	var (
		rec       refresh.Record
		hash      []byte
		revokedAt *time.Time
	)
	if err := row.Scan(
		&rec.ID,
		&hash,
		&rec.UserID,
		&rec.FamilyID,
		&rec.Scope,
		&rec.ClientID,
		&rec.UserAgent,
		&rec.IPAddress,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&revokedAt,
		&rec.ReplacedBy,
	); err != nil {
		return nil, err
	}
	if len(hash) != len(rec.SecretHash) {
		return nil, fmt.Errorf("refresh_tokens %s: bad secret hash length %d", rec.ID, len(hash))
	}
	copy(rec.SecretHash[:], hash)
	if revokedAt != nil {
		rec.RevokedAt = *revokedAt
	}
	return &rec, nil
}

func wrapPG(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
}
