package refresh

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTTL      = 30 * 24 * time.Hour
	defaultClientID = "default"
)

// Config controls token lifetime and reuse policy.
type Config struct {
	TTL                 time.Duration
	ClientID            string
	RevokeFamilyOnReuse bool
}

// Metadata describes the client a token is issued to.
type Metadata struct {
	ClientID  string
	UserAgent string
	IPAddress string
}

// Issued is a freshly minted token. Token is the only copy of the plaintext.
type Issued struct {
	Token  string
	Record *Record
}

// ExpiresAt is a convenience accessor for Record.ExpiresAt.
func (i Issued) ExpiresAt() time.Time {
	return i.Record.ExpiresAt
}

// ReuseHook is called after a rotated or revoked token is presented for
// rotation. familyRevoked is the number of chain tokens revoked in response.
type ReuseHook func(ctx context.Context, rec *Record, familyRevoked int)

// Manager implements the refresh token lifecycle on top of a Store.
type Manager struct {
	store   Store
	config  Config
	now     func() time.Time
	onReuse ReuseHook
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithReuseHook registers a callback for reuse detection.
func WithReuseHook(h ReuseHook) Option {
	return func(m *Manager) {
		m.onReuse = h
	}
}

// NewManager returns a Manager. Zero TTL means 30 days.
func NewManager(store Store, cfg Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("refresh: store is required")
	}
	if cfg.TTL < 0 {
		return nil, errors.New("refresh: TTL must be >= 0")
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}

	m := &Manager{store: store, config: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL returns the configured token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.config.TTL
}

// Issue mints a token for userID starting a new rotation family.
func (m *Manager) Issue(ctx context.Context, userID string, scope []string, meta Metadata) (Issued, error) {
	if userID == "" {
		return Issued{}, errors.New("refresh: user id is required")
	}

	token, rec, err := m.mint(userID, uuid.NewString(), scope, meta)
	if err != nil {
		return Issued{}, err
	}
	if err := m.store.Save(ctx, rec); err != nil {
		return Issued{}, err
	}
	return Issued{Token: token, Record: rec}, nil
}

// Verify returns the live record for token. Every failure satisfies
// errors.Is(err, ErrInvalid) except backend errors.
func (m *Manager) Verify(ctx context.Context, token string) (*Record, error) {
	rec, _, err := m.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec.Revoked() {
		return nil, ErrRevoked
	}
	if rec.Expired(m.now()) {
		return nil, ErrExpired
	}
	return rec, nil
}

// Rotate exchanges token for a successor in the same family. A nil or empty
// scope keeps the predecessor's scope; otherwise scope must be a subset of
// it. The predecessor record is returned alongside the new token.
func (m *Manager) Rotate(ctx context.Context, token string, scope []string, meta Metadata) (Issued, *Record, error) {
	prev, hash, err := m.lookup(ctx, token)
	if err != nil {
		return Issued{}, nil, err
	}
	if prev.Revoked() {
		return Issued{}, nil, m.reuse(ctx, prev)
	}
	now := m.now()
	if prev.Expired(now) {
		return Issued{}, nil, ErrExpired
	}

	if len(scope) == 0 {
		scope = prev.Scope
	} else if !subset(scope, prev.Scope) {
		return Issued{}, nil, ErrScopeExceeded
	}
	if meta.ClientID == "" {
		meta.ClientID = prev.ClientID
	}
	nextToken, next, err := m.mint(prev.UserID, prev.FamilyID, scope, meta)
	if err != nil {
		return Issued{}, nil, err
	}

	switch err := m.store.Rotate(ctx, prev.ID, hash, next, now); {
	case err == nil:
	case errors.Is(err, ErrRevoked):
		// Lost a race against a concurrent rotation of the same token.
		return Issued{}, nil, m.reuse(ctx, prev)
	case errors.Is(err, ErrHashMismatch):
		return Issued{}, nil, ErrNotFound
	default:
		return Issued{}, nil, err
	}

	prev.RevokedAt = now
	prev.ReplacedBy = next.ID
	return Issued{Token: nextToken, Record: next}, prev, nil
}

// Revoke revokes token if it is live. Unknown, malformed or already revoked
// tokens are not an error.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	rec, _, err := m.lookup(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvalid) {
			return nil
		}
		return err
	}
	if rec.Revoked() {
		return nil
	}
	_, err = m.store.Revoke(ctx, rec.ID, m.now())
	return err
}

// RevokeAll revokes every live token of userID and returns how many were revoked.
func (m *Manager) RevokeAll(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}
	return m.store.RevokeAllForUser(ctx, userID, m.now())
}

// Sweep removes expired records from the store.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.store.DeleteExpired(ctx, m.now())
}

// lookup decodes token, loads its record and checks the secret. It does not
// look at revocation or expiry.
func (m *Manager) lookup(ctx context.Context, token string) (*Record, SecretHash, error) {
	id, secret, err := decodeToken(token)
	if err != nil {
		return nil, SecretHash{}, ErrMalformed
	}

	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, SecretHash{}, err
	}

	hash := hashSecret(secret)
	if subtle.ConstantTimeCompare(hash[:], rec.SecretHash[:]) != 1 {
		return nil, SecretHash{}, ErrNotFound
	}
	return rec, hash, nil
}

func (m *Manager) reuse(ctx context.Context, rec *Record) error {
	revoked := 0
	if m.config.RevokeFamilyOnReuse && rec.FamilyID != "" {
		n, err := m.store.RevokeFamily(ctx, rec.FamilyID, m.now())
		if err != nil {
			return err
		}
		revoked = n
	}
	if m.onReuse != nil {
		m.onReuse(ctx, rec, revoked)
	}
	return ErrReuse
}

func (m *Manager) mint(userID, familyID string, scope []string, meta Metadata) (string, *Record, error) {
	id, err := newID()
	if err != nil {
		return "", nil, err
	}
	secret, err := newSecret()
	if err != nil {
		return "", nil, err
	}
	token, err := encodeToken(id, secret)
	if err != nil {
		return "", nil, err
	}

	clientID := meta.ClientID
	if clientID == "" {
		clientID = m.config.ClientID
	}

	now := m.now()
	return token, &Record{
		ID:         id,
		SecretHash: hashSecret(secret),
		UserID:     userID,
		FamilyID:   familyID,
		Scope:      append([]string(nil), scope...),
		ClientID:   clientID,
		UserAgent:  meta.UserAgent,
		IPAddress:  meta.IPAddress,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.config.TTL),
	}, nil
}

func subset(sub, of []string) bool {
	for _, s := range sub {
		found := false
		for _, o := range of {
			if s == o {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
