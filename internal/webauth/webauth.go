// Package webauth issues the short-lived bearer tokens the server presents
// when calling the external web frontend's HTTP API.
//
// This is the server authenticating itself *to* the frontend — unrelated
// to, and not a relaxation of, the spec's Non-goal of cryptographically
// authenticating judges (spec.md §1). It is modeled on the teacher's own
// JWT issuance (auth.IssueAccessToken), narrowed to the one claim this
// machine-to-machine caller needs: which cluster node is calling.
package webauth

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is how long an issued token remains valid before Issuer
// transparently mints a new one.
const DefaultTTL = 5 * time.Minute

// Claims is the JWT payload presented to the web frontend.
type Claims struct {
	jwt.RegisteredClaims
	Node string `json:"node"`
}

// Issuer mints and caches a signed bearer token, re-issuing it once it's
// within a minute of expiry.
type Issuer struct {
	secret []byte
	node   string
	ttl    time.Duration

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// New returns an Issuer that signs tokens identifying this process as node,
// using secret as the HMAC key.
func New(secret []byte, node string) *Issuer {
	return &Issuer{secret: secret, node: node, ttl: DefaultTTL}
}

// Token returns a currently-valid signed bearer token, minting a new one if
// the cached token has expired or is about to.
func (i *Issuer) Token() (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cached != "" && time.Until(i.expires) > time.Minute {
		return i.cached, nil
	}

	now := time.Now()
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Node: i.node,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("webauth: sign token: %w", err)
	}

	i.cached = tok
	i.expires = exp
	return tok, nil
}
