package loginguard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tenantchat/internal/util"
	"tenantchat/pkg/domain"
	"tenantchat/pkg/store"
)

const (
	// FailureWindow is the trailing window in which failed attempts count
	// toward a lockout.
	FailureWindow = 30 * time.Minute
	// FailureThreshold is the failed-attempt count that triggers a lockout.
	FailureThreshold = 5
	// LockoutDuration is how long a locked identity stays locked.
	LockoutDuration = 30 * time.Minute
	// AddressWindow is the trailing window for per-address throttling.
	AddressWindow = time.Minute
	// AddressThreshold is the attempt count per address that triggers
	// throttling, successes included.
	AddressThreshold = 10
	// AttemptRetention bounds how long login attempts are kept.
	AttemptRetention = 7 * 24 * time.Hour
	// DefaultPurgeInterval is how often the retention sweep runs.
	DefaultPurgeInterval = time.Hour
)

// Verdict is the outcome of a pre-login check.
type Verdict int

const (
	Allowed Verdict = iota
	Locked
	RateLimited
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case Locked:
		return "locked"
	case RateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Decision carries the verdict plus the wait the caller should report.
type Decision struct {
	Verdict    Verdict
	RetryAfter time.Duration
	Until      time.Time
}

// Guard decides whether a login attempt may proceed. Counters are
// derived from the append-only attempt log on every check rather than
// kept as separate state, so they cannot drift from the record.
type Guard struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time

	purgeInterval time.Duration
}

// GuardOption customizes a Guard.
type GuardOption func(*Guard)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// WithPurgeInterval overrides the retention sweep interval.
func WithPurgeInterval(interval time.Duration) GuardOption {
	return func(g *Guard) {
		if interval > 0 {
			g.purgeInterval = interval
		}
	}
}

// NewGuard builds a guard over the given store.
func NewGuard(st store.Store, logger *slog.Logger, opts ...GuardOption) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{
		store:         st,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		purgeInterval: DefaultPurgeInterval,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckAllowed decides whether a login attempt for the handle from the
// address may proceed. The handle may not name an existing identity;
// unknown handles get the same verdicts as known ones.
func (g *Guard) CheckAllowed(handle, address string) (Decision, error) {
	handle = strings.TrimSpace(handle)
	address = strings.TrimSpace(address)
	now := g.now()

	identity, found, err := g.store.GetIdentityByHandle(handle)
	if err != nil {
		return Decision{}, fmt.Errorf("load identity: %w", err)
	}
	if found && identity.LockedUntil != nil && identity.LockedUntil.After(now) {
		return Decision{
			Verdict:    Locked,
			RetryAfter: identity.LockedUntil.Sub(now),
			Until:      *identity.LockedUntil,
		}, nil
	}

	addressCount, err := g.store.CountAddressAttempts(address, now.Add(-AddressWindow))
	if err != nil {
		return Decision{}, fmt.Errorf("count address attempts: %w", err)
	}
	if addressCount >= AddressThreshold {
		return Decision{Verdict: RateLimited, RetryAfter: AddressWindow}, nil
	}

	failures, err := g.store.CountFailedAttempts(handle, now.Add(-FailureWindow))
	if err != nil {
		return Decision{}, fmt.Errorf("count failed attempts: %w", err)
	}
	if failures >= FailureThreshold {
		until := now.Add(LockoutDuration)
		if found {
			if err := g.store.SetLockout(identity.ID, until); err != nil {
				return Decision{}, fmt.Errorf("set lockout: %w", err)
			}
			g.logger.Warn("identity locked out",
				slog.String("handle", handle),
				slog.Time("until", until))
		}
		return Decision{Verdict: Locked, RetryAfter: LockoutDuration, Until: until}, nil
	}

	return Decision{Verdict: Allowed}, nil
}

// RecordAttempt appends one attempt to the log.
func (g *Guard) RecordAttempt(handle, address string, success bool) error {
	attempt := domain.LoginAttempt{
		ID:        util.NewID(),
		Handle:    strings.TrimSpace(handle),
		Address:   strings.TrimSpace(address),
		Success:   success,
		CreatedAt: g.now(),
	}
	if err := g.store.AppendLoginAttempt(attempt); err != nil {
		return fmt.Errorf("append login attempt: %w", err)
	}
	return nil
}

// PurgeExpired drops attempts older than the retention window and
// returns how many were removed.
func (g *Guard) PurgeExpired() (int64, error) {
	cutoff := g.now().Add(-AttemptRetention)
	removed, err := g.store.PurgeLoginAttemptsBefore(cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge login attempts: %w", err)
	}
	return removed, nil
}

// StartRetentionSweep purges old attempts on a fixed interval until the
// context is cancelled.
func (g *Guard) StartRetentionSweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(g.purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := g.PurgeExpired()
				if err != nil {
					g.logger.Error("login attempt purge failed", slog.Any("error", err))
					continue
				}
				if removed > 0 {
					g.logger.Info("purged login attempts", slog.Int64("removed", removed))
				}
			}
		}
	}()
}
