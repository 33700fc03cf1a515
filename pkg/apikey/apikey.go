// Package apikey implements API-key generation, bcrypt hashing, prefix
// lookup, and the full validation path (active, non-expired, non-revoked,
// scope, per-minute rate budget, usage recording).
//
// Key format: "{app}_sk_{env}_{prefix8}_{urlsafe-base64(24-byte secret)}",
// bcrypt cost 12, ExtractPrefix returning ok=false on malformed input
// rather than panicking. The per-key rate budget composes with
// pkg/ratelimit's token bucket, one bucket per key, on a fixed
// 1-minute sliding window.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/brevanhowe/govern-core/pkg/ratelimit"
)

// BcryptCost is the bcrypt work factor used to hash API key secrets.
const BcryptCost = 12

var (
	ErrRevoked        = errors.New("apikey: revoked")
	ErrExpired        = errors.New("apikey: expired")
	ErrNotFound       = errors.New("apikey: not found")
	ErrHashMismatch   = errors.New("apikey: hash mismatch")
	ErrScopeDenied    = errors.New("apikey: required scope not granted")
	ErrRateLimited    = errors.New("apikey: rate limit exceeded")
	ErrMalformedInput = errors.New("apikey: malformed key")
)

// Key is the persisted record.
type Key struct {
	ID              string
	PrincipalID     string
	TeamID          string
	Name            string
	Prefix          string // 8 chars, the only recoverable identifying substring
	Hash            string // bcrypt hash of the full key
	Scopes          []string
	RateLimitPerMin int
	ExpiresAt       *time.Time
	RevokedAt       *time.Time
	UsageCount      int64
	LastUsedIP      string
	LastUsedAt      *time.Time
}

// Valid reports whether the key is non-revoked and non-expired. Hash
// matching is checked separately by Validate since it needs the candidate.
func (k *Key) Valid(now time.Time) error {
	if k.RevokedAt != nil {
		return ErrRevoked
	}
	if k.ExpiresAt != nil && !now.Before(*k.ExpiresAt) {
		return ErrExpired
	}
	return nil
}

// Generate produces a new full key plus its storable Hash and Prefix.
// Format: "{app}_sk_{env}_{prefix8}_{urlsafe-base64(24-byte-secret)}".
func Generate(app, env string) (fullKey string, prefix string, hash string, err error) {
	prefixBytes := make([]byte, 6)
	if _, err = rand.Read(prefixBytes); err != nil {
		return "", "", "", fmt.Errorf("apikey: generate prefix: %w", err)
	}
	prefix = base64.RawURLEncoding.EncodeToString(prefixBytes)[:8]

	secretBytes := make([]byte, 24)
	if _, err = rand.Read(secretBytes); err != nil {
		return "", "", "", fmt.Errorf("apikey: generate secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)

	fullKey = fmt.Sprintf("%s_sk_%s_%s_%s", app, env, prefix, secret)

	hashed, err := bcrypt.GenerateFromPassword([]byte(fullKey), BcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("apikey: hash: %w", err)
	}
	return fullKey, prefix, string(hashed), nil
}

// ExtractPrefix parses the prefix component from a presented full key,
// returning ok=false on any malformed input rather than panicking.
func ExtractPrefix(fullKey string) (prefix string, ok bool) {
	parts := strings.Split(fullKey, "_")
	// {app}_sk_{env}_{prefix8}_{secret} -> at least 5 parts, "sk" at index 1.
	if len(parts) < 5 {
		return "", false
	}
	if parts[1] != "sk" {
		return "", false
	}
	candidate := parts[3]
	if len(candidate) != 8 {
		return "", false
	}
	return candidate, true
}

// VerifyHash reports whether candidate hashes to hash, using bcrypt's
// constant-time comparison internally.
func VerifyHash(candidate, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}

// Store is the abstract persistence collaborator backing key lookup.
type Store interface {
	GetByPrefix(ctx context.Context, prefix string) (*Key, error)
	RecordUsage(ctx context.Context, id string, ip string, at time.Time) error
}

// Validator performs the full validation path: parse prefix -> lookup by
// prefix -> verify hash -> check active/expiry/revocation/scope -> check
// per-minute rate budget -> record usage. A per-key token bucket enforces
// RateLimitPerMin (one bucket per key ID, lazily created).
type Validator struct {
	store Store
	clock func() time.Time

	mu      sync.Mutex
	buckets map[string]*ratelimit.Limiter
}

// NewValidator constructs a Validator backed by store.
func NewValidator(store Store) *Validator {
	return &Validator{
		store:   store,
		clock:   time.Now,
		buckets: make(map[string]*ratelimit.Limiter),
	}
}

// Validate runs the full check. requiredScope == "" skips the scope check;
// scope "admin" on the key grants all scopes.
func (v *Validator) Validate(ctx context.Context, presentedKey, requiredScope, ip string) (*Key, error) {
	prefix, ok := ExtractPrefix(presentedKey)
	if !ok {
		return nil, ErrMalformedInput
	}

	key, err := v.store.GetByPrefix(ctx, prefix)
	if err != nil {
		return nil, ErrNotFound
	}

	if !VerifyHash(presentedKey, key.Hash) {
		return nil, ErrHashMismatch
	}

	now := v.clock()
	if err := key.Valid(now); err != nil {
		return nil, err
	}

	if requiredScope != "" && !hasScope(key.Scopes, requiredScope) {
		return nil, ErrScopeDenied
	}

	if key.RateLimitPerMin > 0 {
		bucket := v.bucketFor(key.ID, key.RateLimitPerMin)
		if !bucket.TryAcquire() {
			return nil, ErrRateLimited
		}
	}

	if err := v.store.RecordUsage(ctx, key.ID, ip, now); err != nil {
		return nil, fmt.Errorf("apikey: record usage: %w", err)
	}

	return key, nil
}

func (v *Validator) bucketFor(keyID string, perMinute int) *ratelimit.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, ok := v.buckets[keyID]
	if !ok {
		ratePerSec := float64(perMinute) / 60.0
		b = ratelimit.New(ratePerSec, perMinute)
		v.buckets[keyID] = b
	}
	return b
}

func hasScope(scopes []string, required string) bool {
	for _, s := range scopes {
		if s == "admin" || constTimeEqual(s, required) {
			return true
		}
	}
	return false
}

func constTimeEqual(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
