package auth

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/ezzatsd/CynaApp/internal/platform/requestctx"
)

const (
	defaultSubjectClaim  = "userId"
	defaultRoleClaim     = "role"
	defaultAdminClaim    = "isAdmin"
	defaultEmailClaim    = "email"
	defaultFallbackRole  = RoleUser
	defaultVerifyTimeout = 5 * time.Second
)

var (
	// ErrTokenExpired signals that the bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the bearer token failed verification for any other reason.
	ErrTokenInvalid = errors.New("auth: token invalid")
	// ErrVerifierUnavailable signals that keys could not be loaded to verify the token.
	ErrVerifierUnavailable = errors.New("auth: verifier unavailable")
)

// TokenVerifier validates a raw bearer token and returns its claims.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, raw string) (jwt.MapClaims, error)
}

// TokenVerifierFunc adapts a function to TokenVerifier.
type TokenVerifierFunc func(context.Context, string) (jwt.MapClaims, error)

// VerifyToken implements TokenVerifier.
func (f TokenVerifierFunc) VerifyToken(ctx context.Context, raw string) (jwt.MapClaims, error) {
	return f(ctx, raw)
}

// MetricsRecorder records verification outcomes for observability.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// MetricsRecorderFunc adapts a function to MetricsRecorder.
type MetricsRecorderFunc func(context.Context, string, bool, string, time.Duration)

// RecordVerification implements MetricsRecorder.
func (f MetricsRecorderFunc) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if f != nil {
		f(ctx, kind, success, reason, duration)
	}
}

// Authenticator wires bearer token verification into HTTP middleware.
type Authenticator struct {
	verifier TokenVerifier
	metrics  MetricsRecorder
	now      func() time.Time

	subjectClaim string
	roleClaim    string
	emailClaim   string
	fallbackRole string
	timeout      time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithSubjectClaim overrides the claim carrying the user id. "sub" is always consulted as a fallback.
func WithSubjectClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.subjectClaim = claim
		}
	}
}

// WithRoleClaim overrides the claim used for role extraction.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithFallbackRole sets the role assigned when the token carries none.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		if role = normaliseRole(role); role != "" {
			a.fallbackRole = role
		}
	}
}

// WithVerificationTimeout bounds how long token verification may take, including JWKS fetches.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithMetrics records each verification outcome.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(a *Authenticator) {
		a.metrics = recorder
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		now:          time.Now,
		subjectClaim: defaultSubjectClaim,
		roleClaim:    defaultRoleClaim,
		emailClaim:   defaultEmailClaim,
		fallbackRole: defaultFallbackRole,
		timeout:      defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAuth verifies the Authorization bearer token and, when roles are given, requires one of them.
func (a *Authenticator) RequireAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		if role = normaliseRole(role); role != "" {
			allowed[role] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}
			if a == nil || a.verifier == nil {
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "authentication service unavailable")
				return
			}

			start := a.now()
			ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
			claims, err := a.verifier.VerifyToken(ctx, tokenStr)
			cancel()
			if err != nil {
				a.record(r.Context(), false, verificationReason(err), start)
				respondVerificationError(w, err)
				return
			}

			identity := a.identityFromClaims(claims)
			if identity.UserID == "" {
				a.record(r.Context(), false, "missing_subject", start)
				respondAuthError(w, http.StatusUnauthorized, "invalid_token", "token has no subject")
				return
			}
			if len(allowed) > 0 && !hasAllowedRole(identity.Roles, allowed) {
				a.record(r.Context(), false, "insufficient_role", start)
				respondAuthError(w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}

			a.record(r.Context(), true, "ok", start)
			requestctx.SetUserID(r.Context(), identity.UserID)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) identityFromClaims(claims jwt.MapClaims) *Identity {
	userID := claimAsString(claims, a.subjectClaim)
	if userID == "" {
		userID = claimAsString(claims, "sub")
	}
	roles := rolesFromClaims(claims, a.roleClaim)
	if admin, _ := claims[defaultAdminClaim].(bool); admin && !containsRole(roles, RoleAdmin) {
		roles = append(roles, RoleAdmin)
	}
	if len(roles) == 0 && a.fallbackRole != "" {
		roles = []string{a.fallbackRole}
	}
	return &Identity{
		UserID: userID,
		Email:  claimAsString(claims, a.emailClaim),
		Roles:  roles,
		Claims: maps.Clone(map[string]any(claims)),
	}
}

func (a *Authenticator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordVerification(ctx, "bearer", success, reason, a.now().Sub(start))
}

func hasAllowedRole(identityRoles []string, allowed map[string]struct{}) bool {
	for _, role := range identityRoles {
		if _, ok := allowed[normaliseRole(role)]; ok {
			return true
		}
	}
	return false
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func rolesFromClaims(claims jwt.MapClaims, key string) []string {
	var raw []string
	switch v := claims[key].(type) {
	case string:
		raw = []string{v}
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			if str, ok := item.(string); ok {
				raw = append(raw, str)
			}
		}
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		role := normaliseRole(item)
		if role != "" && !containsRole(out, role) {
			out = append(out, role)
		}
	}
	return out
}

func claimAsString(claims jwt.MapClaims, key string) string {
	str, _ := claims[key].(string)
	return strings.TrimSpace(str)
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func verificationReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrVerifierUnavailable):
		return "verifier_unavailable"
	default:
		return "token_invalid"
	}
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}

func respondVerificationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		respondAuthError(w, http.StatusUnauthorized, "token_expired", "token expired")
	case errors.Is(err, ErrVerifierUnavailable):
		respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "token verification unavailable")
	default:
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "token verification failed")
	}
}
