package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Recovery-link token errors.
var (
	ErrTokenInvalid = errors.New("auth: recovery token invalid")
	ErrTokenExpired = errors.New("auth: recovery token expired")
)

// RecoveryTokenIssuer mints and verifies the opaque tokens embedded in
// cart-recovery links. Tokens are server-issued only: the cart id and expiry
// are bound into an HMAC so the link cannot be forged or extended by clients.
type RecoveryTokenIssuer struct {
	secret []byte
	clock  func() time.Time
}

// NewRecoveryTokenIssuer constructs an issuer around the shared secret.
func NewRecoveryTokenIssuer(secret string, clock func() time.Time) (*RecoveryTokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: recovery token secret is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &RecoveryTokenIssuer{
		secret: []byte(secret),
		clock:  func() time.Time { return clock().UTC() },
	}, nil
}

// Issue mints a token for the abandoned cart, valid until expiresAt.
func (i *RecoveryTokenIssuer) Issue(cartID string, expiresAt time.Time) (string, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return "", errors.New("auth: cart id is required")
	}
	if expiresAt.IsZero() {
		return "", errors.New("auth: expiry is required")
	}

	payload := fmt.Sprintf("%s.%d", cartID, expiresAt.UTC().Unix())
	sig := i.sign(payload)
	token := base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + base64.RawURLEncoding.EncodeToString(sig)
	return token, nil
}

// Verify checks the token signature and expiry and returns the cart id.
func (i *RecoveryTokenIssuer) Verify(token string) (string, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 2 {
		return "", ErrTokenInvalid
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrTokenInvalid
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrTokenInvalid
	}

	payload := string(payloadBytes)
	if !hmac.Equal(sig, i.sign(payload)) {
		return "", ErrTokenInvalid
	}

	idx := strings.LastIndex(payload, ".")
	if idx <= 0 {
		return "", ErrTokenInvalid
	}
	cartID := payload[:idx]
	expiresUnix, err := strconv.ParseInt(payload[idx+1:], 10, 64)
	if err != nil {
		return "", ErrTokenInvalid
	}

	if i.clock().After(time.Unix(expiresUnix, 0).UTC()) {
		return "", ErrTokenExpired
	}
	return cartID, nil
}

func (i *RecoveryTokenIssuer) sign(payload string) []byte {
	mac := hmac.New(sha256.New, i.secret)
	_, _ = mac.Write([]byte(payload))
	return mac.Sum(nil)
}
