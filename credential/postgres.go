package credential

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresStore keeps users in the users table and recovery codes in
// recovery_codes. Conditional updates provide the compare-and-set
// semantics of Store.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore returns a store on pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool}
}

const selectUser = `
	SELECT id, email, name, COALESCE(id_number, ''), id_type, phone, password_hash, role,
	       tf_state, tf_pending_secret, tf_active_secret, tf_revision, tf_last_step,
	       created_at, updated_at
	FROM users
`

// FindByLoginKey looks the user up by normalized email.
func (s *PostgresStore) FindByLoginKey(ctx context.Context, email string) (*User, error) {
	return s.find(ctx, selectUser+` WHERE email = $1`, NormalizeEmail(email))
}

// FindByID loads the user and its recovery codes.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return s.find(ctx, selectUser+` WHERE id = $1`, id)
}

func (s *PostgresStore) find(ctx context.Context, query string, arg string) (*User, error) {
	var (
		u     User
		idt   string
		role  string
		state string
	)
	err := s.db.QueryRow(ctx, query, arg).Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.IDNumber,
		&idt,
		&u.Phone,
		&u.PasswordHash,
		&role,
		&state,
		&u.TwoFactor.PendingSecret,
		&u.TwoFactor.ActiveSecret,
		&u.TwoFactor.Revision,
		&u.TwoFactor.LastUsedStep,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	u.IDType = IDType(idt)
	u.Role = Role(role)
	u.TwoFactor.State = State(state)

	rows, err := s.db.Query(ctx, `SELECT code_hash, used_at FROM recovery_codes WHERE user_id = $1 ORDER BY position, code_hash`, u.ID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			code   RecoveryCode
			usedAt *time.Time
		)
		if err := rows.Scan(&code.Hash, &usedAt); err != nil {
			return nil, unavailable(err)
		}
		if usedAt != nil {
			code.UsedAt = *usedAt
		}
		u.TwoFactor.RecoveryCodes = append(u.TwoFactor.RecoveryCodes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return &u, nil
}

// Create inserts u, mapping unique violations to ErrConflict.
func (s *PostgresStore) Create(ctx context.Context, u *User) error {
	var idNumber *string
	if u.IDNumber != "" {
		idNumber = &u.IDNumber
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, email, name, id_number, id_type, phone, password_hash, role,
		                   tf_state, tf_pending_secret, tf_active_secret, tf_revision, tf_last_step,
		                   created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		u.ID, u.Email, u.Name, idNumber, string(u.IDType), u.Phone, u.PasswordHash, string(u.Role),
		string(u.TwoFactor.State), u.TwoFactor.PendingSecret, u.TwoFactor.ActiveSecret,
		u.TwoFactor.Revision, u.TwoFactor.LastUsedStep, u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// UpdatePassword replaces the stored hash.
func (s *PostgresStore) UpdatePassword(ctx context.Context, id, hash string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLoginKey changes the email; the unique index rejects duplicates.
func (s *PostgresStore) UpdateLoginKey(ctx context.Context, id, email string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `UPDATE users SET email = $2, updated_at = NOW() WHERE id = $1`, id, NormalizeEmail(email))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SwapTwoFactor updates the user row conditionally on (state, revision)
// and rewrites recovery_codes in the same transaction.
func (s *PostgresStore) SwapTwoFactor(ctx context.Context, id string, prev, next TwoFactor) error {
	if err := next.Validate(); err != nil {
		return err
	}

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE users
			SET tf_state = $4, tf_pending_secret = $5, tf_active_secret = $6, tf_revision = $7, updated_at = NOW()
			WHERE id = $1 AND tf_state = $2 AND tf_revision = $3
		`, id, string(prev.State), prev.Revision, string(next.State), next.PendingSecret, next.ActiveSecret, next.Revision)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return ErrStateConflict
		}

		if _, err := tx.Exec(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, id); err != nil {
			return err
		}
		if len(next.RecoveryCodes) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, c := range next.RecoveryCodes {
			var usedAt *time.Time
			if c.Used() {
				t := c.UsedAt
				usedAt = &t
			}
			batch.Queue(`INSERT INTO recovery_codes (user_id, code_hash, used_at, position) VALUES ($1, $2, $3, $4)`, id, c.Hash, usedAt, i)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrStateConflict):
		return err
	default:
		return unavailable(err)
	}
}

// ConsumeRecoveryCode marks the code used only while two-factor is enabled
// at revision.
func (s *PostgresStore) ConsumeRecoveryCode(ctx context.Context, id string, revision int64, hash string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE recovery_codes rc
		SET used_at = $3
		FROM users u
		WHERE rc.user_id = $1 AND rc.code_hash = $2 AND rc.used_at IS NULL
		  AND u.id = rc.user_id AND u.tf_state = 'enabled' AND u.tf_revision = $4
	`, id, hash, at, revision)
	if err != nil {
		return unavailable(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current int64
	err = s.db.QueryRow(ctx, `SELECT tf_revision FROM users WHERE id = $1 AND tf_state = 'enabled'`, id).Scan(&current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrCodeNotFound
	case err != nil:
		return unavailable(err)
	case current != revision:
		return ErrStateConflict
	}
	return ErrCodeNotFound
}

// MarkTOTPStep advances tf_last_step only forward.
func (s *PostgresStore) MarkTOTPStep(ctx context.Context, id string, step int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET tf_last_step = $2 WHERE id = $1 AND tf_last_step < $2`, id, step)
	if err != nil {
		return unavailable(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return unavailable(err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleStep
}

// Delete removes the user; recovery codes cascade.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

