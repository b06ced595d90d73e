package authcore

import (
	"strings"
	"time"

	"github.com/pyroalert/authcore/credential"
)

// Grant types accepted by Engine.Grant.
const (
	GrantTypePassword     = "password"
	GrantTypeRefreshToken = "refresh_token"
)

// Token type hints accepted by Revoke and Introspect.
const (
	TokenHintAccessToken  = "access_token"
	TokenHintRefreshToken = "refresh_token"
)

// GrantRequest is the decoded body of a token request. Scope is the raw
// space separated scope parameter.
type GrantRequest struct {
	GrantType    string
	Username     string
	Password     string
	TOTPCode     string
	RefreshToken string
	Scope        string
}

// TokenResponse is a successful token response.
type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	RefreshToken string    `json:"refresh_token"`
	Scope        string    `json:"scope"`
	User         *UserInfo `json:"user,omitempty"`
}

// UserInfo is the public view of an account.
type UserInfo struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name,omitempty"`
	IDNumber         string    `json:"id_number,omitempty"`
	IDType           string    `json:"id_type,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	Role             string    `json:"role"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled"`
	CreatedAt        time.Time `json:"created_at"`
}

func userInfo(u *credential.User) *UserInfo {
	if u == nil {
		return nil
	}
	return &UserInfo{
		ID:               u.ID,
		Email:            u.Email,
		Name:             u.Name,
		IDNumber:         u.IDNumber,
		IDType:           string(u.IDType),
		Phone:            u.Phone,
		Role:             string(u.Role),
		TwoFactorEnabled: u.TwoFactor.Enabled(),
		CreatedAt:        u.CreatedAt,
	}
}

// TwoFactorStatus summarizes the caller's second factor.
type TwoFactorStatus struct {
	Enabled                bool `json:"enabled"`
	Pending                bool `json:"pending"`
	RecoveryCodesRemaining int  `json:"recoveryCodesRemaining"`
}

// IntrospectionResult follows RFC 7662. Inactive tokens carry only Active.
type IntrospectionResult struct {
	Active    bool   `json:"active"`
	TokenType string `json:"token_type,omitempty"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
}

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	UserID    string
	Email     string
	Role      string
	Scope     []string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasScope reports whether every scope in want was granted.
func (c *AccessClaims) HasScope(want ...string) bool {
	return subsetOf(want, c.Scope)
}

// RegisterRequest is a self registration. The role is always the
// configured default.
type RegisterRequest struct {
	Email    string
	Password string
	Name     string
	IDNumber string
	Phone    string
}

// CreateUserInput is a privileged account creation.
type CreateUserInput struct {
	Email    string
	Password string
	Name     string
	IDNumber string
	Phone    string
	Role     string
}

func joinScope(scope []string) string {
	return strings.Join(scope, " ")
}

func subsetOf(sub, of []string) bool {
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
