package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// CanonicalRecoveryCode upper-cases code and drops dashes and whitespace.
func CanonicalRecoveryCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range strings.ToUpper(code) {
		switch r {
		case '-', ' ', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HashRecoveryCode binds a canonical recovery code to its owner so equal
// codes of different users never share a hash.
func HashRecoveryCode(userID, code string) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(CanonicalRecoveryCode(code)))
	return hex.EncodeToString(h.Sum(nil))
}
