package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Claims is the payload bound into a signed credential.
type Claims struct {
	SessionID string `json:"sid"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// Signer issues and verifies session credentials. A credential is
// base64url(payload JSON) + "." + base64url(HMAC-SHA256 tag), opaque to the
// client and verifiable without any store lookup given the secret.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer from a server-held secret.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("session secret must not be empty")
	}
	return &Signer{secret: secret}, nil
}

// Sign produces a credential for the given claims.
func (s *Signer) Sign(claims Claims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + s.tag(encoded), nil
}

// Verify checks a credential's integrity tag and expiry and returns its
// claims. The tag is checked before expiry so a forged credential never
// learns whether its claimed session would still be live. Verification does
// not extend expiry.
func (s *Signer) Verify(credential string, now time.Time) (Claims, error) {
	encoded, tag, ok := strings.Cut(credential, ".")
	if !ok || encoded == "" || tag == "" {
		return Claims{}, ErrCredentialInvalid
	}

	if subtle.ConstantTimeCompare([]byte(s.tag(encoded)), []byte(tag)) != 1 {
		return Claims{}, ErrCredentialInvalid
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Claims{}, ErrCredentialInvalid
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, ErrCredentialInvalid
	}
	if claims.SessionID == "" {
		return Claims{}, ErrCredentialInvalid
	}
	if !now.Before(time.Unix(claims.ExpiresAt, 0)) {
		return Claims{}, ErrCredentialExpired
	}

	return claims, nil
}

func (s *Signer) tag(encodedPayload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
