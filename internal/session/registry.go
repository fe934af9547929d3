package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tenantchat/internal/util"
	"tenantchat/pkg/domain"
)

const (
	// IdleTimeout is the fixed idle window after which a session expires.
	IdleTimeout = 30 * time.Minute
	// MaxPerIdentity caps live sessions per identity.
	MaxPerIdentity = 3
	// DefaultSweepInterval is how often the expiry sweep runs. Correctness
	// does not depend on it; Validate re-checks expiry on every call.
	DefaultSweepInterval = time.Hour
)

// Registry issues, validates, refreshes, and evicts session tokens.
// All state lives in process; tokens are opaque and unguessable.
type Registry struct {
	mu         sync.Mutex
	sessions   map[string]domain.Session
	byIdentity map[string]map[string]struct{}

	logger        *slog.Logger
	now           func() time.Time
	newToken      func() string
	sweepInterval time.Duration
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithTokenSource overrides token generation, used by tests.
func WithTokenSource(newToken func() string) RegistryOption {
	return func(r *Registry) { r.newToken = newToken }
}

// WithSweepInterval overrides the expiry sweep interval.
func WithSweepInterval(interval time.Duration) RegistryOption {
	return func(r *Registry) {
		if interval > 0 {
			r.sweepInterval = interval
		}
	}
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		sessions:      make(map[string]domain.Session),
		byIdentity:    make(map[string]map[string]struct{}),
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		newToken:      util.NewSessionToken,
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create issues a session for the identity. If the identity already has
// the maximum number of live sessions, the least-recently-active one is
// evicted. The check-and-evict is atomic so two concurrent logins cannot
// race the identity past the cap.
func (r *Registry) Create(identityID string) domain.Session {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneIdentityLocked(identityID, now)
	for len(r.byIdentity[identityID]) >= MaxPerIdentity {
		evicted := r.evictLeastRecentLocked(identityID)
		r.logger.Info("session evicted",
			slog.String("identity_id", identityID),
			slog.String("reason", "session cap"),
			slog.Time("last_activity", evicted.LastActivity))
	}

	s := domain.Session{
		Token:        r.newToken(),
		IdentityID:   identityID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(IdleTimeout),
	}
	r.sessions[s.Token] = s
	tokens := r.byIdentity[identityID]
	if tokens == nil {
		tokens = make(map[string]struct{})
		r.byIdentity[identityID] = tokens
	}
	tokens[s.Token] = struct{}{}
	return s
}

// Validate returns the session for the token if it exists and has not
// expired. An expired session is indistinguishable from a missing one.
func (r *Registry) Validate(token string) (domain.Session, bool) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	if !ok {
		return domain.Session{}, false
	}
	if !s.ExpiresAt.After(now) {
		r.removeLocked(token)
		return domain.Session{}, false
	}
	return s, true
}

// Touch refreshes the session's last-activity time and derived expiry.
// Touching an expired or unknown token is a no-op.
func (r *Registry) Touch(token string) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	if !ok || !s.ExpiresAt.After(now) {
		return
	}
	s.LastActivity = now
	s.ExpiresAt = now.Add(IdleTimeout)
	r.sessions[token] = s
}

// Invalidate removes the session for the token if present.
func (r *Registry) Invalidate(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(token)
}

// LiveCount reports how many unexpired sessions an identity holds.
func (r *Registry) LiveCount(identityID string) int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneIdentityLocked(identityID, now)
	return len(r.byIdentity[identityID])
}

// SweepExpired removes every expired session and returns the count.
func (r *Registry) SweepExpired() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for token, s := range r.sessions {
		if !s.ExpiresAt.After(now) {
			r.removeLocked(token)
			removed++
		}
	}
	return removed
}

// StartSweep removes expired sessions on a fixed interval until the
// context is cancelled.
func (r *Registry) StartSweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := r.SweepExpired(); removed > 0 {
					r.logger.Info("swept expired sessions", slog.Int("removed", removed))
				}
			}
		}
	}()
}

func (r *Registry) removeLocked(token string) {
	s, ok := r.sessions[token]
	if !ok {
		return
	}
	delete(r.sessions, token)
	tokens := r.byIdentity[s.IdentityID]
	delete(tokens, token)
	if len(tokens) == 0 {
		delete(r.byIdentity, s.IdentityID)
	}
}

func (r *Registry) pruneIdentityLocked(identityID string, now time.Time) {
	for token := range r.byIdentity[identityID] {
		if s := r.sessions[token]; !s.ExpiresAt.After(now) {
			r.removeLocked(token)
		}
	}
}

// evictLeastRecentLocked removes the identity's least-recently-active
// session; token order breaks exact LastActivity ties deterministically.
func (r *Registry) evictLeastRecentLocked(identityID string) domain.Session {
	var victim domain.Session
	for token := range r.byIdentity[identityID] {
		s := r.sessions[token]
		if victim.Token == "" ||
			s.LastActivity.Before(victim.LastActivity) ||
			(s.LastActivity.Equal(victim.LastActivity) && s.Token < victim.Token) {
			victim = s
		}
	}
	if victim.Token != "" {
		r.removeLocked(victim.Token)
	}
	return victim
}
