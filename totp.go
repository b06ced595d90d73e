package authcore

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod     = 30
	totpSkew       = 1
	totpSecretSize = 20
	totpDigits     = otp.DigitsSix
	totpQRSize     = 256
)

// TwoFactorSetup is returned once when setup begins. Secret must be shown to
// the user and is never returned again.
type TwoFactorSetup struct {
	Secret     string `json:"secret"`
	OTPAuthURI string `json:"otpauthUri"`
	QRImage    string `json:"qrImage"`
}

type totpManager struct {
	issuer string
}

func newTOTPManager(issuer string) *totpManager {
	return &totpManager{issuer: issuer}
}

func (m *totpManager) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      0,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Generate creates a fresh secret for account with its otpauth URI and a PNG
// QR code as a data URL.
func (m *totpManager) Generate(account string) (*TwoFactorSetup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: account,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}

	img, err := key.Image(totpQRSize, totpQRSize)
	if err != nil {
		return nil, fmt.Errorf("render totp qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode totp qr: %w", err)
	}

	return &TwoFactorSetup{
		Secret:     key.Secret(),
		OTPAuthURI: key.URL(),
		QRImage:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// Verify checks code against secret for the time steps around now and
// returns the matching step. Every candidate is compared so timing does not
// depend on which step matched.
func (m *totpManager) Verify(secret, code string, now time.Time) (bool, int64, error) {
	code = strings.TrimSpace(code)
	if !isTOTPCode(code) {
		return false, 0, nil
	}
	if secret == "" {
		return false, 0, fmt.Errorf("empty totp secret")
	}

	opts := m.validateOpts()
	base := now.Unix() / totpPeriod
	matched := false
	var step int64
	for offset := int64(-totpSkew); offset <= totpSkew; offset++ {
		counter := base + offset
		if counter < 0 {
			continue
		}
		want, err := totp.GenerateCodeCustom(secret, time.Unix(counter*totpPeriod, 0).UTC(), opts)
		if err != nil {
			return false, 0, fmt.Errorf("generate totp code: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 && !matched {
			matched = true
			step = counter
		}
	}
	return matched, step, nil
}

// codeAt returns the code valid at at.
func (m *totpManager) codeAt(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, m.validateOpts())
}

func isTOTPCode(s string) bool {
	if len(s) != int(totpDigits) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
