// Package token signs and verifies the short-lived rejection tokens handed
// out with role assignments. A token binds (registrationId, assigneeId,
// expiry) into an opaque URL-safe string; the decline endpoint verifies it
// without authentication and then re-checks the registration against the
// store, so deleting the registration revokes the token.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// DefaultTTL is the rejection-token lifetime.
const DefaultTTL = 14 * 24 * time.Hour

var (
	// ErrInvalid means the token is malformed or its signature does not
	// verify.
	ErrInvalid = errors.New("token: invalid")
	// ErrExpired means the token verified but its expiry has passed.
	ErrExpired = errors.New("token: expired")
)

type (
	// Rejection is the claim set bound into a rejection token.
	Rejection struct {
		RegistrationID string    `json:"registration_id"`
		AssigneeID     string    `json:"assignee_id"`
		ExpiresAt      time.Time `json:"expires_at"`
	}

	// Signer mints and verifies rejection tokens with an HMAC-SHA256 key.
	Signer struct {
		key []byte
		ttl time.Duration
		now func() time.Time
	}

	// Options configures a Signer.
	Options struct {
		// Key is the HMAC secret. Required.
		Key []byte
		// TTL is the token lifetime. Defaults to DefaultTTL.
		TTL time.Duration
		// now overrides the clock in tests.
		now func() time.Time
	}
)

// NewSigner constructs a Signer.
func NewSigner(opts Options) (*Signer, error) {
	if len(opts.Key) == 0 {
		return nil, errors.New("token key is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	nowFn := opts.now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Signer{key: opts.Key, ttl: ttl, now: nowFn}, nil
}

// Mint produces a token binding the registration and assignee with the
// signer's TTL.
func (s *Signer) Mint(registrationID, assigneeID string) (string, error) {
	if registrationID == "" || assigneeID == "" {
		return "", errors.New("registration id and assignee id are required")
	}
	claims := Rejection{
		RegistrationID: registrationID,
		AssigneeID:     assigneeID,
		ExpiresAt:      s.now().Add(s.ttl).UTC(),
	}
	body, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	payload := base64.RawURLEncoding.EncodeToString(body)
	return payload + "." + s.sign(payload), nil
}

// Verify checks the token signature and expiry and returns its claims.
func (s *Signer) Verify(tok string) (Rejection, error) {
	payload, sig, ok := splitToken(tok)
	if !ok {
		return Rejection{}, ErrInvalid
	}
	if !hmac.Equal([]byte(s.sign(payload)), []byte(sig)) {
		return Rejection{}, ErrInvalid
	}
	body, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Rejection{}, ErrInvalid
	}
	var claims Rejection
	if err := json.Unmarshal(body, &claims); err != nil {
		return Rejection{}, ErrInvalid
	}
	if s.now().After(claims.ExpiresAt) {
		return Rejection{}, ErrExpired
	}
	return claims, nil
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func splitToken(tok string) (payload, sig string, ok bool) {
	for i := len(tok) - 1; i >= 0; i-- {
		if tok[i] == '.' {
			return tok[:i], tok[i+1:], i > 0 && i < len(tok)-1
		}
	}
	return "", "", false
}
