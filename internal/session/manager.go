// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stasaberg/gitgud-edge/internal/apierr"
	"github.com/stasaberg/gitgud-edge/internal/csrf"
	xlog "github.com/stasaberg/gitgud-edge/internal/log"
)

const (
	// DefaultCookieName is the session cookie used when none is configured.
	DefaultCookieName = "gateway.sid"

	headerCSRFToken = "x-gateway-csrf"
	headerCSRFProof = "x-gateway-csrf-proof"
	queryCSRFToken  = "csrfToken"
	queryCSRFProof  = "csrfProof"
)

// Snapshot is the read-only view of a validated session handed to callers.
type Snapshot struct {
	SessionID string
	Nonce     string
	CSRFProof string
	ExpiresAt int64
}

// Issued is the result of minting a new session.
type Issued struct {
	SessionID string
	CSRFToken string
	CSRFProof string
	ExpiresAt int64
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	CookieName           string
	MaxAge               time.Duration
	Secret               string
	SecretGenerated      bool
	ProofSecret          string
	ProofSecretGenerated bool
	RedisClient          *redis.Client // nil selects the in-memory backend
	RedisKeyPrefix       string
}

// Manager drives the session lifecycle: issue, validate, rotate, expire.
type Manager struct {
	cookieName  string
	maxAge      time.Duration
	proofSecret string
	store       Store
	index       CSRFIndex
	locks       keyedMutex
	logger      zerolog.Logger
}

// NewManager builds a Manager over the configured backend. With a generated
// session secret and redis present it converges replicas onto a shared secret
// before deriving the proof secret.
func NewManager(ctx context.Context, cfg ManagerConfig) *Manager {
	logger := xlog.WithComponent("session")

	cookieName := cfg.CookieName
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	keyPrefix := cfg.RedisKeyPrefix
	if keyPrefix == "" {
		keyPrefix = "gateway:session:"
	}

	secret := cfg.Secret
	var store Store
	var index CSRFIndex
	if cfg.RedisClient != nil {
		if cfg.SecretGenerated {
			shared, err := SynchronizeSecret(ctx, cfg.RedisClient, keyPrefix, secret)
			if err != nil {
				logger.Warn().Err(err).Str("event", "session.secret_sync_failed").Msg("secret synchronization failed")
			} else {
				secret = shared
				logger.Info().Str("event", "session.secret_synchronized").Str("source", "redis").Msg("session secret synchronized")
			}
		}
		store = NewRedisStore(cfg.RedisClient, keyPrefix, cfg.MaxAge)
		index = NewRedisCSRFIndex(cfg.RedisClient, keyPrefix, cfg.MaxAge)
	} else {
		store = NewMemoryStore(cfg.MaxAge)
		index = NewMemoryCSRFIndex()
	}

	proofSecret := cfg.ProofSecret
	if proofSecret == "" {
		proofSecret = secret
	}
	if cfg.ProofSecretGenerated {
		logger.Warn().
			Str("event", "session.csrf_proof_secret_derived").
			Msg("CSRF proof secret derived from session secret; provide CSRF_PROOF_SECRET for stronger guarantees")
	}

	return &Manager{
		cookieName:  cookieName,
		maxAge:      cfg.MaxAge,
		proofSecret: proofSecret,
		store:       store,
		index:       index,
		logger:      logger,
	}
}

// CookieName returns the configured session cookie name.
func (m *Manager) CookieName() string { return m.cookieName }

// MaxAge returns the configured session lifetime.
func (m *Manager) MaxAge() time.Duration { return m.maxAge }

// Issue mints a fresh session: 128-bit id and nonce from the OS RNG, proof
// bound to the new expiry, record persisted and indexed.
func (m *Manager) Issue(ctx context.Context) (Issued, error) {
	sessionID := randomHex(16)
	nonce := randomHex(16)
	expiresAt := nowMillis() + m.maxAge.Milliseconds()

	proof, ok := csrf.Build(m.proofSecret, nonce, expiresAt)
	if !ok {
		return Issued{}, apierr.Internal(nil)
	}

	record := Record{Nonce: nonce, ExpiresAt: expiresAt, CSRFProof: proof}
	if err := m.store.Set(ctx, sessionID, record); err != nil {
		return Issued{}, apierr.Wrap(apierr.KindServiceUnavailable, "Session store unavailable", err)
	}
	m.indexRecord(ctx, record)

	return Issued{
		SessionID: sessionID,
		CSRFToken: nonce,
		CSRFProof: proof,
		ExpiresAt: expiresAt,
	}, nil
}

func (m *Manager) indexRecord(ctx context.Context, record Record) {
	if err := m.index.Index(ctx, record.Nonce, record); err != nil {
		m.logger.Warn().Err(err).Str("event", "session.csrf_store_failed").Msg("failed to index csrf record")
	}
}

// Validate checks the request's session cookie and CSRF material, rotating
// the nonce when a fresh verified proof is presented and extending the expiry
// on success. Validations of the same session id serialize.
func (m *Manager) Validate(ctx context.Context, headers http.Header, method string, requestURL *url.URL) (Snapshot, error) {
	sessionID := extractCookie(headers, m.cookieName)
	if sessionID == "" {
		return Snapshot{}, apierr.Unauthorized("Session required")
	}

	unlock := m.locks.lock(sessionID)
	defer unlock()

	record, found, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return Snapshot{}, apierr.Wrap(apierr.KindServiceUnavailable, "Session store unavailable", err)
	}
	if !found {
		return Snapshot{}, apierr.Unauthorized("Session expired")
	}

	csrfToken := headerValue(headers, headerCSRFToken)
	csrfProof := headerValue(headers, headerCSRFProof)
	if requestURL != nil {
		query := requestURL.Query()
		if csrfToken == "" {
			csrfToken = strings.TrimSpace(query.Get(queryCSRFToken))
		}
		if csrfProof == "" {
			csrfProof = strings.TrimSpace(query.Get(queryCSRFProof))
		}
	}

	// A verified proof rotates the nonce and refreshes the expiry directly.
	if csrfProof != "" {
		if verified, ok := csrf.Verify(m.proofSecret, csrfProof); ok {
			if csrfToken != "" && csrfToken != verified.Nonce {
				return Snapshot{}, apierr.Forbidden("Missing or invalid CSRF token")
			}
			record.Nonce = verified.Nonce
			record.ExpiresAt = nowMillis() + m.maxAge.Milliseconds()
			record.CSRFProof, _ = csrf.Build(m.proofSecret, record.Nonce, record.ExpiresAt)
			if err := m.persist(ctx, sessionID, record); err != nil {
				return Snapshot{}, err
			}
			return snapshotOf(sessionID, record), nil
		}
		m.logger.Warn().
			Str("event", "session.csrf_proof_invalid").
			Int("proof_length", len(csrfProof)).
			Msg("csrf proof failed verification")
	}

	finalNonce := record.Nonce
	finalExpiresAt := record.ExpiresAt
	finalProof := record.CSRFProof

	// Cookie record carried no nonce: fall back to the secondary indexes.
	if finalNonce == "" && csrfToken != "" {
		if indexed, ok := m.index.ByNonce(ctx, csrfToken); ok {
			if nowMillis() > indexed.ExpiresAt {
				_ = m.index.Delete(ctx, csrfToken, indexed.CSRFProof)
			} else {
				finalNonce = indexed.Nonce
				finalExpiresAt = indexed.ExpiresAt
				finalProof = indexed.CSRFProof
			}
		}
	}
	if finalNonce == "" && csrfProof != "" {
		if indexed, ok := m.index.ByProof(ctx, csrfProof); ok {
			if nowMillis() > indexed.ExpiresAt {
				_ = m.index.Delete(ctx, indexed.Nonce, csrfProof)
			} else {
				finalNonce = indexed.Nonce
				finalExpiresAt = indexed.ExpiresAt
				finalProof = indexed.CSRFProof
				if csrfToken == "" {
					csrfToken = indexed.Nonce
				}
			}
		}
	}

	if finalNonce == "" {
		return Snapshot{}, apierr.Unauthorized("Session required")
	}
	if finalExpiresAt <= 0 {
		return Snapshot{}, apierr.Unauthorized("Invalid session")
	}
	if nowMillis() > finalExpiresAt {
		_ = m.index.Delete(ctx, finalNonce, finalProof)
		return Snapshot{}, apierr.Unauthorized("Session expired")
	}

	if method != http.MethodOptions && csrfToken != finalNonce {
		return Snapshot{}, apierr.Forbidden("Missing or invalid CSRF token")
	}

	record.Nonce = finalNonce
	record.ExpiresAt = nowMillis() + m.maxAge.Milliseconds()
	if finalProof != "" {
		record.CSRFProof = finalProof
	} else {
		record.CSRFProof, _ = csrf.Build(m.proofSecret, record.Nonce, record.ExpiresAt)
	}
	if err := m.persist(ctx, sessionID, record); err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(sessionID, record), nil
}

func (m *Manager) persist(ctx context.Context, sessionID string, record Record) error {
	if err := m.store.Set(ctx, sessionID, record); err != nil {
		return apierr.Wrap(apierr.KindServiceUnavailable, "Session store unavailable", err)
	}
	m.indexRecord(ctx, record)
	return nil
}

func snapshotOf(sessionID string, record Record) Snapshot {
	return Snapshot{
		SessionID: sessionID,
		Nonce:     record.Nonce,
		CSRFProof: record.CSRFProof,
		ExpiresAt: record.ExpiresAt,
	}
}

func headerValue(headers http.Header, name string) string {
	return strings.TrimSpace(headers.Get(name))
}

func extractCookie(headers http.Header, name string) string {
	for _, raw := range headers.Values("Cookie") {
		for _, segment := range strings.Split(raw, ";") {
			key, value, found := strings.Cut(strings.TrimSpace(segment), "=")
			if !found || strings.TrimSpace(key) != name {
				continue
			}
			if value = strings.TrimSpace(value); value != "" {
				return value
			}
		}
	}
	return ""
}

func randomHex(bytes int) string {
	buffer := make([]byte, bytes)
	_, _ = rand.Read(buffer)
	return hex.EncodeToString(buffer)
}

// keyedMutex serializes work per session id. Entries are reference counted so
// the map does not grow with dead sessions.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	entry, found := k.locks[key]
	if !found {
		entry = &keyedLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
