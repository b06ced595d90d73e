package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const (
	idSize     = 16
	secretSize = 32
	tokenSize  = idSize + secretSize
)

var errTokenSize = errors.New("refresh: invalid token size")

// SecretHash is sha256 of the secret half of a token.
type SecretHash [sha256.Size]byte

func newID() (string, error) {
	var id [idSize]byte
	if _, err := rand.Read(id[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(id[:]), nil
}

func newSecret() ([secretSize]byte, error) {
	var secret [secretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func hashSecret(secret [secretSize]byte) SecretHash {
	return sha256.Sum256(secret[:])
}

func encodeToken(id string, secret [secretSize]byte) (string, error) {
	rawID, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return "", err
	}
	if len(rawID) != idSize {
		return "", errTokenSize
	}

	var raw [tokenSize]byte
	copy(raw[:idSize], rawID)
	copy(raw[idSize:], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func decodeToken(token string) (string, [secretSize]byte, error) {
	var secret [secretSize]byte

	if len(token) != base64.RawURLEncoding.EncodedLen(tokenSize) {
		return "", secret, errTokenSize
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != tokenSize {
		return "", secret, errTokenSize
	}

	copy(secret[:], raw[idSize:])
	return base64.RawURLEncoding.EncodeToString(raw[:idSize]), secret, nil
}
