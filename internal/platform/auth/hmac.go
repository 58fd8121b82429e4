package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

const defaultClockLeeway = 30 * time.Second

// ClaimOption configures the registered-claim checks shared by the token verifiers.
type ClaimOption func(*claimRules)

type claimRules struct {
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) ClaimOption {
	return func(r *claimRules) {
		r.issuer = strings.TrimSpace(issuer)
	}
}

// WithAudience requires the aud claim to contain audience.
func WithAudience(audience string) ClaimOption {
	return func(r *claimRules) {
		r.audience = strings.TrimSpace(audience)
	}
}

// WithClockLeeway tolerates clock drift when checking exp, nbf and iat.
func WithClockLeeway(d time.Duration) ClaimOption {
	return func(r *claimRules) {
		if d >= 0 {
			r.leeway = d
		}
	}
}

// WithVerifierClock injects the time source used for claim checks.
func WithVerifierClock(now func() time.Time) ClaimOption {
	return func(r *claimRules) {
		if now != nil {
			r.now = now
		}
	}
}

func newClaimRules(opts []ClaimOption) claimRules {
	rules := claimRules{leeway: defaultClockLeeway, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&rules)
		}
	}
	return rules
}

// check enforces exp (required), nbf, iat and the optional issuer and audience.
func (r claimRules) check(claims jwt.MapClaims) error {
	now := r.now()
	if !claims.VerifyExpiresAt(now.Add(-r.leeway).Unix(), true) {
		return ErrTokenExpired
	}
	if !claims.VerifyNotBefore(now.Add(r.leeway).Unix(), false) {
		return fmt.Errorf("%w: token not valid yet", ErrTokenInvalid)
	}
	if !claims.VerifyIssuedAt(now.Add(r.leeway).Unix(), false) {
		return fmt.Errorf("%w: token issued in the future", ErrTokenInvalid)
	}
	if r.issuer != "" && !claims.VerifyIssuer(r.issuer, true) {
		return fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if r.audience != "" && !claims.VerifyAudience(r.audience, true) {
		return fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}
	return nil
}

// HMACTokenVerifier validates HS256 access tokens signed with the shared API secret.
type HMACTokenVerifier struct {
	secret []byte
	rules  claimRules
	parser *jwt.Parser
}

// NewHMACTokenVerifier builds a verifier for tokens signed with secret.
func NewHMACTokenVerifier(secret string, opts ...ClaimOption) (*HMACTokenVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: hmac token secret is required")
	}
	return &HMACTokenVerifier{
		secret: []byte(secret),
		rules:  newClaimRules(opts),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// VerifyToken implements TokenVerifier.
func (v *HMACTokenVerifier) VerifyToken(_ context.Context, raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if err := v.rules.check(claims); err != nil {
		return nil, err
	}
	return claims, nil
}
