package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

type jwksFixture struct {
	key      *rsa.PrivateKey
	server   *httptest.Server
	mu       sync.Mutex
	requests int
	status   int
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &jwksFixture{key: key, status: http.StatusOK}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "key1", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests++
		status := f.status
		f.mu.Unlock()
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func (f *jwksFixture) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func TestJWKSCacheKeyCachesKeys(t *testing.T) {
	f := newJWKSFixture(t)
	cache := NewJWKSCache(f.server.URL, WithoutJWKSBackgroundRefresh())

	got, err := cache.Key(context.Background(), "key1")
	if err != nil {
		t.Fatalf("cache.Key: %v", err)
	}
	if _, ok := got.(*rsa.PublicKey); !ok {
		t.Fatalf("expected *rsa.PublicKey, got %T", got)
	}
	if _, err := cache.Key(context.Background(), "key1"); err != nil {
		t.Fatalf("cache.Key second call: %v", err)
	}
	if n := f.requestCount(); n != 1 {
		t.Fatalf("expected single JWKS fetch, got %d", n)
	}

	if _, err := cache.Key(context.Background(), "rotated"); !errors.Is(err, ErrJWKSKeyNotFound) {
		t.Fatalf("expected ErrJWKSKeyNotFound, got %v", err)
	}
	if n := f.requestCount(); n != 2 {
		t.Fatalf("expected refetch for unknown kid, got %d fetches", n)
	}
}

func TestJWKSCacheRefreshesAfterMaxAge(t *testing.T) {
	f := newJWKSFixture(t)
	now := time.Unix(1_000_000, 0)
	cache := NewJWKSCache(f.server.URL,
		WithoutJWKSBackgroundRefresh(),
		WithJWKSClock(func() time.Time { return now }),
	)
	if _, err := cache.Key(context.Background(), "key1"); err != nil {
		t.Fatalf("cache.Key: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := cache.Key(context.Background(), "key1"); err != nil {
		t.Fatalf("cache.Key after expiry: %v", err)
	}
	if n := f.requestCount(); n != 2 {
		t.Fatalf("expected refresh after max-age, got %d fetches", n)
	}
}

func TestJWKSTokenVerifier(t *testing.T) {
	f := newJWKSFixture(t)
	verifier, err := NewJWKSTokenVerifier(NewJWKSCache(f.server.URL, WithoutJWKSBackgroundRefresh()),
		WithAudience("cyna-storefront"),
	)
	if err != nil {
		t.Fatalf("NewJWKSTokenVerifier: %v", err)
	}
	exp := time.Now().Add(time.Hour).Unix()

	claims, err := verifier.VerifyToken(context.Background(), f.sign(t, "key1", jwt.MapClaims{
		"sub": "user-1", "aud": []string{"cyna-storefront"}, "exp": exp,
	}))
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims["sub"] != "user-1" {
		t.Fatalf("unexpected claims %v", claims)
	}

	if _, err := verifier.VerifyToken(context.Background(), f.sign(t, "key1", jwt.MapClaims{
		"sub": "user-1", "aud": "someone-else", "exp": exp,
	})); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected audience mismatch, got %v", err)
	}
	if _, err := verifier.VerifyToken(context.Background(), f.sign(t, "", jwt.MapClaims{
		"sub": "user-1", "aud": "cyna-storefront", "exp": exp,
	})); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected missing kid to be rejected, got %v", err)
	}
}

func TestJWKSTokenVerifierUnavailable(t *testing.T) {
	f := newJWKSFixture(t)
	f.status = http.StatusBadGateway
	verifier, err := NewJWKSTokenVerifier(NewJWKSCache(f.server.URL, WithoutJWKSBackgroundRefresh()))
	if err != nil {
		t.Fatalf("NewJWKSTokenVerifier: %v", err)
	}
	token := f.sign(t, "key1", jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix()})
	if _, err := verifier.VerifyToken(context.Background(), token); !errors.Is(err, ErrVerifierUnavailable) {
		t.Fatalf("expected ErrVerifierUnavailable, got %v", err)
	}
}

func TestParseMaxAge(t *testing.T) {
	cases := map[string]time.Duration{
		"max-age=60":           time.Minute,
		"public, MAX-AGE=3600": time.Hour,
		"no-cache":             0,
		"max-age=abc":          0,
	}
	for header, want := range cases {
		if got := parseMaxAge(header); got != want {
			t.Errorf("parseMaxAge(%q) = %s, want %s", header, got, want)
		}
	}
}
