package loginguard

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"tenantchat/pkg/domain"
	"tenantchat/pkg/store"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestGuard(t *testing.T) (*Guard, *store.MemoryStore, *fakeClock) {
	t.Helper()
	st := store.NewMemoryStore()
	clock := newFakeClock()
	guard := NewGuard(st, discardLogger(), WithClock(clock.Now))
	return guard, st, clock
}

func seedIdentity(t *testing.T, st *store.MemoryStore, handle string) domain.Identity {
	t.Helper()
	identity := domain.Identity{
		ID:             "id-" + handle,
		Handle:         handle,
		CredentialHash: "hash",
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := st.SaveIdentity(identity); err != nil {
		t.Fatalf("save identity: %v", err)
	}
	return identity
}

func recordFailures(t *testing.T, guard *Guard, handle, address string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := guard.RecordAttempt(handle, address, false); err != nil {
			t.Fatalf("record attempt: %v", err)
		}
	}
}

func TestCheckAllowedCleanIdentity(t *testing.T) {
	guard, st, _ := newTestGuard(t)
	seedIdentity(t, st, "alice")
	decision, err := guard.CheckAllowed("alice", "10.0.0.1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if decision.Verdict != Allowed {
		t.Fatalf("expected allowed, got %s", decision.Verdict)
	}
}

func TestLockoutAfterFiveFailures(t *testing.T) {
	guard, st, clock := newTestGuard(t)
	identity := seedIdentity(t, st, "alice")
	recordFailures(t, guard, "alice", "10.0.0.1", 5)

	decision, err := guard.CheckAllowed("alice", "10.0.0.1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if decision.Verdict != Locked {
		t.Fatalf("expected locked, got %s", decision.Verdict)
	}
	wantUntil := clock.Now().Add(LockoutDuration)
	if !decision.Until.Equal(wantUntil) {
		t.Fatalf("lockout until = %v, want %v", decision.Until, wantUntil)
	}

	// Lockout is stamped on the identity record.
	stored, found, err := st.GetIdentityByID(identity.ID)
	if err != nil || !found {
		t.Fatalf("load identity: found=%v err=%v", found, err)
	}
	if stored.LockedUntil == nil || !stored.LockedUntil.Equal(wantUntil) {
		t.Fatalf("stored lockout = %v, want %v", stored.LockedUntil, wantUntil)
	}
}

func TestLockoutIsIdentityScopedNotAddressScoped(t *testing.T) {
	guard, st, _ := newTestGuard(t)
	seedIdentity(t, st, "alice")
	recordFailures(t, guard, "alice", "addr-a", 5)

	if decision, _ := guard.CheckAllowed("alice", "addr-a"); decision.Verdict != Locked {
		t.Fatalf("expected locked from original address, got %s", decision.Verdict)
	}
	if decision, _ := guard.CheckAllowed("alice", "addr-b"); decision.Verdict != Locked {
		t.Fatalf("expected locked from any address, got %s", decision.Verdict)
	}
}

func TestLockoutExpiresAndWindowForgetsOldFailures(t *testing.T) {
	guard, st, clock := newTestGuard(t)
	seedIdentity(t, st, "alice")
	recordFailures(t, guard, "alice", "10.0.0.1", 5)
	if decision, _ := guard.CheckAllowed("alice", "10.0.0.1"); decision.Verdict != Locked {
		t.Fatalf("expected locked")
	}

	// Past both the lockout and the failure window, the identity is clean.
	clock.Advance(LockoutDuration + time.Minute)
	decision, err := guard.CheckAllowed("alice", "10.0.0.1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if decision.Verdict != Allowed {
		t.Fatalf("expected allowed after lockout expiry, got %s", decision.Verdict)
	}
}

func TestExistingLockoutIsNotExtended(t *testing.T) {
	guard, st, clock := newTestGuard(t)
	seedIdentity(t, st, "alice")
	recordFailures(t, guard, "alice", "10.0.0.1", 5)

	first, _ := guard.CheckAllowed("alice", "10.0.0.1")
	clock.Advance(10 * time.Minute)
	second, _ := guard.CheckAllowed("alice", "10.0.0.1")
	if second.Verdict != Locked {
		t.Fatalf("expected still locked")
	}
	if !second.Until.Equal(first.Until) {
		t.Fatalf("lockout was extended: %v -> %v", first.Until, second.Until)
	}
	if second.RetryAfter >= first.RetryAfter {
		t.Fatalf("retry-after should shrink, got %v then %v", first.RetryAfter, second.RetryAfter)
	}
}

func TestUnknownHandleStillLocks(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	recordFailures(t, guard, "ghost", "10.0.0.1", 5)
	decision, err := guard.CheckAllowed("ghost", "10.0.0.1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if decision.Verdict != Locked {
		t.Fatalf("unknown handle should lock like a known one, got %s", decision.Verdict)
	}
}

func TestAddressRateLimit(t *testing.T) {
	guard, st, _ := newTestGuard(t)
	seedIdentity(t, st, "alice")
	// Ten attempts from one address inside a minute, spread across handles
	// and including successes. None of the handles reaches the failure
	// threshold.
	for i := 0; i < AddressThreshold; i++ {
		handle := fmt.Sprintf("user-%d", i)
		if err := guard.RecordAttempt(handle, "10.0.0.9", i%2 == 0); err != nil {
			t.Fatalf("record attempt: %v", err)
		}
	}
	decision, err := guard.CheckAllowed("alice", "10.0.0.9")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if decision.Verdict != RateLimited {
		t.Fatalf("expected rate limited, got %s", decision.Verdict)
	}
	if decision.RetryAfter != AddressWindow {
		t.Fatalf("retry-after = %v, want %v", decision.RetryAfter, AddressWindow)
	}

	// A different address is unaffected.
	if other, _ := guard.CheckAllowed("alice", "10.0.0.10"); other.Verdict != Allowed {
		t.Fatalf("expected other address allowed, got %s", other.Verdict)
	}
}

func TestAddressRateLimitWindowSlides(t *testing.T) {
	guard, st, clock := newTestGuard(t)
	seedIdentity(t, st, "alice")
	for i := 0; i < AddressThreshold; i++ {
		if err := guard.RecordAttempt("alice", "10.0.0.9", true); err != nil {
			t.Fatalf("record attempt: %v", err)
		}
	}
	if decision, _ := guard.CheckAllowed("alice", "10.0.0.9"); decision.Verdict != RateLimited {
		t.Fatalf("expected rate limited")
	}
	clock.Advance(AddressWindow + time.Second)
	if decision, _ := guard.CheckAllowed("alice", "10.0.0.9"); decision.Verdict != Allowed {
		t.Fatalf("expected allowed after window passes, got %s", decision.Verdict)
	}
}

func TestSuccessDoesNotEraseFailureHistory(t *testing.T) {
	guard, st, _ := newTestGuard(t)
	seedIdentity(t, st, "alice")
	recordFailures(t, guard, "alice", "10.0.0.1", 4)
	if err := guard.RecordAttempt("alice", "10.0.0.1", true); err != nil {
		t.Fatalf("record success: %v", err)
	}
	recordFailures(t, guard, "alice", "10.0.0.1", 1)

	decision, _ := guard.CheckAllowed("alice", "10.0.0.1")
	if decision.Verdict != Locked {
		t.Fatalf("five failures in window should lock despite interleaved success, got %s", decision.Verdict)
	}
}

func TestPurgeExpiredDropsOnlyOldAttempts(t *testing.T) {
	guard, st, clock := newTestGuard(t)
	recordFailures(t, guard, "alice", "10.0.0.1", 2)
	clock.Advance(AttemptRetention + time.Hour)
	recordFailures(t, guard, "alice", "10.0.0.1", 3)

	removed, err := guard.PurgeExpired()
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	count, err := st.CountFailedAttempts("alice", time.Time{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("remaining = %d, want 3", count)
	}
}

type attemptCapturingStore struct {
	*store.MemoryStore
	appended []domain.LoginAttempt
}

func (s *attemptCapturingStore) AppendLoginAttempt(attempt domain.LoginAttempt) error {
	s.appended = append(s.appended, attempt)
	return s.MemoryStore.AppendLoginAttempt(attempt)
}

// The attempt log has a plain string primary key with no database-side
// generation, so the guard must assign a unique ID to every row it appends.
func TestRecordAttemptAssignsUniqueIDs(t *testing.T) {
	st := &attemptCapturingStore{MemoryStore: store.NewMemoryStore()}
	clock := newFakeClock()
	guard := NewGuard(st, discardLogger(), WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		if err := guard.RecordAttempt("alice", "10.0.0.1", i == 0); err != nil {
			t.Fatalf("record attempt: %v", err)
		}
	}

	seen := make(map[string]bool)
	for i, attempt := range st.appended {
		if attempt.ID == "" {
			t.Fatalf("attempt %d has empty ID", i)
		}
		if seen[attempt.ID] {
			t.Fatalf("attempt %d reuses ID %q", i, attempt.ID)
		}
		seen[attempt.ID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("appended %d attempts, want 3", len(seen))
	}
}
