package credential

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Role is the authorization role carried into access tokens.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	}
	return false
}

// IDType classifies a national id number by its digit count.
type IDType string

const (
	IDTypeNone IDType = ""
	IDTypeCPF  IDType = "CPF"
	IDTypeCNPJ IDType = "CNPJ"
)

// User is one account. Email is the login key.
type User struct {
	ID           string
	Email        string
	Name         string
	IDNumber     string
	IDType       IDType
	Phone        string
	PasswordHash string
	Role         Role
	TwoFactor    TwoFactor
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("credential: validation failed")

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("credential: invalid %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	maxEmailLength = 254
	maxNameLength  = 120
)

// NormalizeEmail trims and lower-cases a login key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks the normalized form of email.
func ValidateEmail(email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return &ValidationError{Field: "email", Reason: "required"}
	}
	if len(email) > maxEmailLength || !emailPattern.MatchString(email) {
		return &ValidationError{Field: "email", Reason: "not a valid address"}
	}
	return nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ClassifyIDNumber strips formatting from raw and returns the digits with
// their type. An empty input is allowed and yields IDTypeNone.
func ClassifyIDNumber(raw string) (string, IDType, error) {
	if strings.TrimSpace(raw) == "" {
		return "", IDTypeNone, nil
	}
	digits := digitsOnly(raw)
	switch len(digits) {
	case 11:
		return digits, IDTypeCPF, nil
	case 14:
		return digits, IDTypeCNPJ, nil
	default:
		return "", IDTypeNone, &ValidationError{Field: "id_number", Reason: "must have 11 (CPF) or 14 (CNPJ) digits"}
	}
}

// NewUserInput carries the caller supplied fields of a new account.
type NewUserInput struct {
	ID           string
	Email        string
	Name         string
	IDNumber     string
	Phone        string
	PasswordHash string
	Role         Role
}

// NewUser validates and normalizes in and returns a user with two-factor
// disabled. An empty role means viewer.
func NewUser(in NewUserInput, now time.Time) (*User, error) {
	if in.ID == "" {
		return nil, &ValidationError{Field: "id", Reason: "required"}
	}
	if err := ValidateEmail(in.Email); err != nil {
		return nil, err
	}
	if in.PasswordHash == "" {
		return nil, &ValidationError{Field: "password", Reason: "required"}
	}

	role := in.Role
	if role == "" {
		role = RoleViewer
	}
	if !role.Valid() {
		return nil, &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", role)}
	}

	name := strings.TrimSpace(in.Name)
	if len(name) > maxNameLength {
		return nil, &ValidationError{Field: "name", Reason: "too long"}
	}

	idNumber, idType, err := ClassifyIDNumber(in.IDNumber)
	if err != nil {
		return nil, err
	}

	return &User{
		ID:           in.ID,
		Email:        NormalizeEmail(in.Email),
		Name:         name,
		IDNumber:     idNumber,
		IDType:       idType,
		Phone:        digitsOnly(in.Phone),
		PasswordHash: in.PasswordHash,
		Role:         role,
		TwoFactor:    TwoFactor{State: StateDisabled},
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}
