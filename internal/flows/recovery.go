package flows

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// RecoveryCodeAlphabet omits characters that are easy to misread (0, 1, I, O).
const RecoveryCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	RecoveryCodeLength = 12
	recoveryGroupSize  = 4
)

// NewRecoveryCode returns RecoveryCodeLength random characters from
// RecoveryCodeAlphabet.
func NewRecoveryCode(randomIndex func(int) (int, error)) (string, error) {
	if randomIndex == nil {
		randomIndex = cryptoRandomIndex
	}
	var b strings.Builder
	b.Grow(RecoveryCodeLength)
	for i := 0; i < RecoveryCodeLength; i++ {
		n, err := randomIndex(len(RecoveryCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(RecoveryCodeAlphabet[n])
	}
	return b.String(), nil
}

// FormatRecoveryCode groups a canonical code as XXXX-XXXX-XXXX.
func FormatRecoveryCode(code string) string {
	if len(code) <= recoveryGroupSize {
		return code
	}
	var b strings.Builder
	b.Grow(len(code) + len(code)/recoveryGroupSize)
	for i := 0; i < len(code); i += recoveryGroupSize {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + recoveryGroupSize
		if end > len(code) {
			end = len(code)
		}
		b.WriteString(code[i:end])
	}
	return b.String()
}

// IsRecoveryCodeShape reports whether canonical has the length and alphabet
// of a recovery code.
func IsRecoveryCodeShape(canonical string) bool {
	if len(canonical) != RecoveryCodeLength {
		return false
	}
	for i := 0; i < len(canonical); i++ {
		if strings.IndexByte(RecoveryCodeAlphabet, canonical[i]) < 0 {
			return false
		}
	}
	return true
}

func cryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
