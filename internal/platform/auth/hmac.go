package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pressdeck/api/internal/platform/httpx"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultClockSkew       = 5 * time.Minute
)

// Logger receives printf-style diagnostics from the validator.
type Logger interface {
	Printf(format string, args ...any)
}

// HMACValidator verifies signed requests from trusted internal callers
// (scheduler invocations, operational tooling). The canonical string covers
// method, path, timestamp, and a body hash so a captured signature cannot be
// replayed against a different request shape.
type HMACValidator struct {
	secret []byte

	logger Logger
	now    func() time.Time

	signatureHeader string
	timestampHeader string
	clockSkew       time.Duration
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// NewHMACValidator builds a validator around the shared secret.
func NewHMACValidator(secret string, opts ...HMACOption) *HMACValidator {
	validator := &HMACValidator{
		secret:          []byte(secret),
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		clockSkew:       defaultClockSkew,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}

	return validator
}

// WithHMACLogger overrides the validator logger.
func WithHMACLogger(logger Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithHMACClock injects a custom clock, primarily for tests.
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACHeaders customises the header names used by the middleware.
func WithHMACHeaders(signature, timestamp string) HMACOption {
	return func(v *HMACValidator) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
	}
}

// WithHMACClockSkew adjusts the accepted timestamp skew.
func WithHMACClockSkew(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// RequireHMAC enforces the presence of a valid HMAC signature on the request.
func (v *HMACValidator) RequireHMAC() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if len(v.secret) == 0 {
				httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "hmac secret not configured", http.StatusServiceUnavailable))
				return
			}

			signatureValue := strings.TrimSpace(r.Header.Get(v.signatureHeader))
			if signatureValue == "" {
				httpx.WriteError(ctx, w, httpx.NewError("signature_missing", "signature header missing", http.StatusUnauthorized))
				return
			}

			timestampValue := strings.TrimSpace(r.Header.Get(v.timestampHeader))
			if timestampValue == "" {
				httpx.WriteError(ctx, w, httpx.NewError("timestamp_missing", "signature timestamp missing", http.StatusUnauthorized))
				return
			}

			timestamp, err := parseSignatureTimestamp(timestampValue)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("timestamp_invalid", "signature timestamp invalid", http.StatusUnauthorized))
				return
			}

			if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
				httpx.WriteError(ctx, w, httpx.NewError("timestamp_skew", "signature timestamp outside allowed window", http.StatusUnauthorized))
				return
			}

			bodyBytes, err := readAndRestoreBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read body for signature verification", http.StatusBadRequest))
				return
			}

			signature, err := decodeSignature(signatureValue)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("signature_invalid", "signature encoding invalid", http.StatusUnauthorized))
				return
			}

			canonical := buildCanonicalString(r, bodyBytes, timestampValue)
			expected := computeHMAC(v.secret, canonical)
			if !hmac.Equal(signature, expected) {
				if v.logger != nil {
					v.logger.Printf("auth: hmac verification failed for %s %s", r.Method, r.URL.Path)
				}
				httpx.WriteError(ctx, w, httpx.NewError("signature_mismatch", "signature verification failed", http.StatusUnauthorized))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Sign produces the signature header value for the given request shape.
// Exposed for internal callers and tests.
func (v *HMACValidator) Sign(method, path string, body []byte, timestamp string) string {
	canonical := canonicalString(method, path, body, timestamp)
	return hex.EncodeToString(computeHMAC(v.secret, canonical))
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be hex or base64 encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}

	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

func buildCanonicalString(r *http.Request, body []byte, timestamp string) []byte {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	return canonicalString(r.Method, path, body, timestamp)
}

func canonicalString(method, path string, body []byte, timestamp string) []byte {
	hash := sha256.Sum256(body)
	canonical := strings.Join([]string{
		strings.ToUpper(method),
		path,
		timestamp,
		hex.EncodeToString(hash[:]),
	}, "\n")
	return []byte(canonical)
}

func computeHMAC(secret []byte, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}
