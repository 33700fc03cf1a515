// Package session implements session management: opaque 128-bit session
// IDs, creation at login, TTL/"remember me" expiry, refresh, and
// invalidation, plus a bearer-token extraction path for callers that carry
// the session id inside a signed JWT rather than a raw cookie value —
// both forms are accepted.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNotFound = errors.New("session: not found")
	ErrExpired  = errors.New("session: expired")
	ErrInactive = errors.New("session: inactive")

	// ErrBadBearerToken covers any malformed, unsigned, expired, or
	// missing-claim bearer token passed to ExtractBearerSessionID.
	ErrBadBearerToken = errors.New("session: invalid bearer token")
)

// Session is the session record.
type Session struct {
	SessionID      string
	PrincipalID    string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	IP             string
	UserAgent      string
	Metadata       map[string]string
	Active         bool
}

// Valid reports the session validity invariant: "active ∧ now < expires_at".
func (s *Session) Valid(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}

// Store persists sessions. The concrete backend (Postgres/sqlite via
// github.com/lib/pq / modernc.org/sqlite) is an external collaborator;
// this package defines only the contract and an in-memory reference
// implementation for tests/dev mode.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	Delete(ctx context.Context, sessionID string) error
	DeleteAllForPrincipal(ctx context.Context, principalID string) error
	DeleteExpiredBefore(ctx context.Context, now time.Time) (int, error)
}

// DefaultTimeout and RememberMeMultiplier match the documented env
// defaults (session_timeout_seconds=86400, remember_me_multiplier=30x).
const (
	DefaultTimeout       = 24 * time.Hour
	RememberMeMultiplier = 30
)

// Manager implements the create/validate/refresh/invalidate operation set.
type Manager struct {
	store Store
	clock func() time.Time
}

// NewManager constructs a Manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, clock: time.Now}
}

// Create issues a new opaque 128-bit session ID for principal and persists
// the Session, honoring timeout (defaulting to DefaultTimeout, multiplied
// by RememberMeMultiplier when rememberMe is set).
func (m *Manager) Create(ctx context.Context, principalID, ip, userAgent string, timeout time.Duration, rememberMe bool) (*Session, string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if rememberMe {
		timeout *= RememberMeMultiplier
	}

	id, err := newSessionID()
	if err != nil {
		return nil, "", fmt.Errorf("session: generate id: %w", err)
	}

	now := m.clock()
	s := &Session{
		SessionID:      id,
		PrincipalID:    principalID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(timeout),
		LastAccessedAt: now,
		IP:             ip,
		UserAgent:      userAgent,
		Active:         true,
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, "", fmt.Errorf("session: create: %w", err)
	}
	return s, id, nil
}

// Validate returns the session if active and unexpired.
func (m *Manager) Validate(ctx context.Context, sessionID string) (*Session, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, ErrNotFound
	}
	now := m.clock()
	if !s.Active {
		return nil, ErrInactive
	}
	if !now.Before(s.ExpiresAt) {
		return nil, ErrExpired
	}
	s.LastAccessedAt = now
	_ = m.store.Update(ctx, s)
	return s, nil
}

// Refresh extends a valid session's expiry by timeout from now, returning
// the updated session; a subsequent Validate sees an expiry >= the
// pre-refresh expiry.
func (m *Manager) Refresh(ctx context.Context, sessionID string, timeout time.Duration) (*Session, error) {
	s, err := m.Validate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := m.clock()
	newExpiry := now.Add(timeout)
	if newExpiry.Before(s.ExpiresAt) {
		newExpiry = s.ExpiresAt
	}
	s.ExpiresAt = newExpiry
	s.LastAccessedAt = now
	if err := m.store.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("session: refresh: %w", err)
	}
	return s, nil
}

// Invalidate logs a single session out.
func (m *Manager) Invalidate(ctx context.Context, sessionID string) error {
	return m.store.Delete(ctx, sessionID)
}

// InvalidateAllForPrincipal logs out every session belonging to principalID
// ("logout/all").
func (m *Manager) InvalidateAllForPrincipal(ctx context.Context, principalID string) error {
	return m.store.DeleteAllForPrincipal(ctx, principalID)
}

// CleanupExpired removes every session whose ExpiresAt has passed.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	return m.store.DeleteExpiredBefore(ctx, m.clock())
}

// sessionClaims is the minimal JWT claim set a bearer token must carry: a
// standard "sid" claim holding the opaque session id this package already
// issues via Create, plus the registered expiry claim.
type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// ExtractBearerSessionID validates an HMAC-signed bearer token against
// secret and returns the session id carried in its "sid" claim, so callers
// presenting `Authorization: Bearer <jwt>` can be routed through the same
// Validate path as a session-cookie caller. The JWT's own expiry is checked
// by the parser; Validate still re-checks the underlying Session's
// ExpiresAt/Active state, so a revoked-but-unexpired token is still
// rejected.
func ExtractBearerSessionID(tokenString string, secret []byte) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrBadBearerToken, t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadBearerToken, err)
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return "", ErrBadBearerToken
	}
	return claims.SessionID, nil
}

func newSessionID() (string, error) {
	buf := make([]byte, 16) // 128 bits, opaque and unguessable
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// InMemoryStore is a reference Store for tests and single-instance dev mode.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*Session)}
}

func (st *InMemoryStore) Create(ctx context.Context, s *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	cp := *s
	st.sessions[s.SessionID] = &cp
	return nil
}

func (st *InMemoryStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (st *InMemoryStore) Update(ctx context.Context, s *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[s.SessionID]; !ok {
		return ErrNotFound
	}
	cp := *s
	st.sessions[s.SessionID] = &cp
	return nil
}

func (st *InMemoryStore) Delete(ctx context.Context, sessionID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, sessionID)
	return nil
}

func (st *InMemoryStore) DeleteAllForPrincipal(ctx context.Context, principalID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, s := range st.sessions {
		if s.PrincipalID == principalID {
			delete(st.sessions, id)
		}
	}
	return nil
}

func (st *InMemoryStore) DeleteExpiredBefore(ctx context.Context, now time.Time) (int, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for id, s := range st.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(st.sessions, id)
			n++
		}
	}
	return n, nil
}
