package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tenantchat/pkg/audit"
	"tenantchat/pkg/domain"
	"tenantchat/pkg/storage"
	"tenantchat/pkg/store"
)

const (
	// DefaultCeiling is the per-identity storage ceiling.
	DefaultCeiling = 10 << 30 // 10 GiB
	// RecencyFloor protects recently accessed conversations: eviction
	// never removes one accessed within this window, even over quota.
	RecencyFloor = 30 * 24 * time.Hour

	workQueueSize        = 256
	objectDeleteParallel = 4
)

// Enforcer keeps each identity's storage usage at or below the ceiling
// by evicting its oldest-by-last-access conversations. Triggers arrive
// synchronously after usage-changing writes; the deletions themselves
// run on a background worker so they never sit on the write path.
type Enforcer struct {
	store   store.Store
	objects storage.ObjectStore
	events  audit.Publisher
	logger  *slog.Logger

	now         func() time.Time
	ceiling     int64
	isStreaming func(conversationID string) bool

	mu      sync.Mutex
	queued  map[string]struct{}
	work    chan string
	started bool
}

// EnforcerOption customizes an Enforcer.
type EnforcerOption func(*Enforcer)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) EnforcerOption {
	return func(e *Enforcer) { e.now = now }
}

// WithCeiling overrides the storage ceiling.
func WithCeiling(ceiling int64) EnforcerOption {
	return func(e *Enforcer) {
		if ceiling > 0 {
			e.ceiling = ceiling
		}
	}
}

// WithStreamingCheck wires the active-stream probe. A conversation with
// an in-progress stream is never evicted.
func WithStreamingCheck(isStreaming func(conversationID string) bool) EnforcerOption {
	return func(e *Enforcer) { e.isStreaming = isStreaming }
}

// NewEnforcer builds an enforcer over the store and object store.
func NewEnforcer(st store.Store, objects storage.ObjectStore, events audit.Publisher, logger *slog.Logger, opts ...EnforcerOption) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = audit.NopPublisher{}
	}
	e := &Enforcer{
		store:       st,
		objects:     objects,
		events:      events,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		ceiling:     DefaultCeiling,
		isStreaming: func(string) bool { return false },
		queued:      make(map[string]struct{}),
		work:        make(chan string, workQueueSize),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnUsageChanged schedules an eviction pass for the identity. The call
// never blocks; duplicate triggers for an already-queued identity
// collapse into one pass.
func (e *Enforcer) OnUsageChanged(identityID string) {
	e.mu.Lock()
	if _, ok := e.queued[identityID]; ok {
		e.mu.Unlock()
		return
	}
	select {
	case e.work <- identityID:
		e.queued[identityID] = struct{}{}
		e.mu.Unlock()
	default:
		e.mu.Unlock()
		e.logger.Warn("eviction queue full, dropping trigger",
			slog.String("identity_id", identityID))
	}
}

// Start runs the eviction worker until the context is cancelled.
func (e *Enforcer) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case identityID := <-e.work:
				e.mu.Lock()
				delete(e.queued, identityID)
				e.mu.Unlock()
				if _, err := e.EnforceNow(ctx, identityID); err != nil {
					e.logger.Error("quota enforcement failed",
						slog.String("identity_id", identityID),
						slog.Any("error", err))
				}
			}
		}
	}()
}

// TotalUsage reports the identity's live byte usage.
func (e *Enforcer) TotalUsage(identityID string) (int64, error) {
	return e.store.TotalUsage(identityID)
}

// EvictionPlan describes what an eviction pass would do, without doing
// it. Quota-exceeded responses carry it so the user can see which
// conversations are on the line.
type EvictionPlan struct {
	Usage      int64                 `json:"usageBytes"`
	Ceiling    int64                 `json:"ceilingBytes"`
	Candidates []domain.Conversation `json:"candidates"`
	// Resolvable is true when evicting every candidate would bring
	// usage back under the ceiling.
	Resolvable bool `json:"resolvable"`
}

// Plan computes the read-only eviction plan for the identity.
func (e *Enforcer) Plan(identityID string) (EvictionPlan, error) {
	return e.PlanProjected(identityID, 0)
}

// PlanProjected computes the plan as if addedBytes were already
// written, so writes can be refused before they land.
func (e *Enforcer) PlanProjected(identityID string, addedBytes int64) (EvictionPlan, error) {
	usage, err := e.store.TotalUsage(identityID)
	if err != nil {
		return EvictionPlan{}, fmt.Errorf("total usage: %w", err)
	}
	usage += addedBytes
	plan := EvictionPlan{Usage: usage, Ceiling: e.ceiling}
	if usage <= e.ceiling {
		plan.Resolvable = true
		return plan, nil
	}
	candidates, err := e.store.ListEvictionCandidates(identityID, e.now().Add(-RecencyFloor))
	if err != nil {
		return EvictionPlan{}, fmt.Errorf("list eviction candidates: %w", err)
	}
	projected := usage
	for _, candidate := range candidates {
		if e.isStreaming(candidate.ID) {
			continue
		}
		plan.Candidates = append(plan.Candidates, candidate)
		projected -= candidate.StorageBytes
		if projected <= e.ceiling {
			break
		}
	}
	plan.Resolvable = projected <= e.ceiling
	return plan, nil
}

// EnforceNow runs one eviction pass for the identity and returns how
// many conversations were evicted. Candidates are taken oldest by last
// access first, ties broken by ID; conversations inside the recency
// floor or with an active stream are never touched, so usage can stay
// over the ceiling when nothing else qualifies.
func (e *Enforcer) EnforceNow(ctx context.Context, identityID string) (int, error) {
	usage, err := e.store.TotalUsage(identityID)
	if err != nil {
		return 0, fmt.Errorf("total usage: %w", err)
	}
	if usage <= e.ceiling {
		return 0, nil
	}
	candidates, err := e.store.ListEvictionCandidates(identityID, e.now().Add(-RecencyFloor))
	if err != nil {
		return 0, fmt.Errorf("list eviction candidates: %w", err)
	}

	evicted := 0
	for _, candidate := range candidates {
		if usage <= e.ceiling {
			break
		}
		if e.isStreaming(candidate.ID) {
			continue
		}
		keys, err := e.store.DeleteConversation(candidate.ID)
		if err != nil {
			return evicted, fmt.Errorf("evict conversation %s: %w", candidate.ID, err)
		}
		if err := e.deleteObjects(ctx, keys); err != nil {
			// The rows are gone; orphaned objects are logged, not fatal.
			e.logger.Error("backing file cleanup failed",
				slog.String("conversation_id", candidate.ID),
				slog.Any("error", err))
		}
		usage -= candidate.StorageBytes
		evicted++
		e.logger.Info("conversation evicted",
			slog.String("identity_id", identityID),
			slog.String("conversation_id", candidate.ID),
			slog.Int64("freed_bytes", candidate.StorageBytes),
			slog.Time("last_accessed_at", candidate.LastAccessedAt))
		if err := e.events.Publish(ctx, audit.Event{
			Action:     audit.ActionConversationEvicted,
			SubjectID:  candidate.ID,
			Detail:     fmt.Sprintf("freed %d bytes for identity %s", candidate.StorageBytes, identityID),
			OccurredAt: e.now(),
		}); err != nil {
			e.logger.Warn("audit publish failed", slog.Any("error", err))
		}
	}
	if usage > e.ceiling {
		e.logger.Warn("identity remains over quota after eviction pass",
			slog.String("identity_id", identityID),
			slog.Int64("usage_bytes", usage))
	}
	return evicted, nil
}

func (e *Enforcer) deleteObjects(ctx context.Context, keys []string) error {
	if e.objects == nil || len(keys) == 0 {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(objectDeleteParallel)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			return e.objects.Delete(ctx, key)
		})
	}
	return g.Wait()
}
