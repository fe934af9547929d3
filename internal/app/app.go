package app

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"tenantchat/internal/loginguard"
	"tenantchat/internal/quota"
	"tenantchat/internal/session"
	"tenantchat/internal/stream"
	"tenantchat/internal/tags"
	"tenantchat/internal/util"
	"tenantchat/pkg/audit"
	"tenantchat/pkg/auth"
	"tenantchat/pkg/domain"
	"tenantchat/pkg/storage"
	"tenantchat/pkg/store"
)

var handlePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{2,31}$`)

// TagQueue hands conversations to the asynchronous tag suggestion
// worker. Optional; a nil queue falls back to in-process suggestion.
type TagQueue interface {
	Enqueue(ctx context.Context, conversationID string) error
}

// App is the application facade the HTTP layer talks to. It composes
// the login guard, session registry, streaming coordinator, quota
// enforcer, and tag engine over one store.
type App struct {
	// registerMu serializes registration so the zero-identity check and
	// the bootstrap admin grant cannot race on concurrent first signups.
	registerMu sync.Mutex

	store    store.Store
	sessions *session.Registry
	guard    *loginguard.Guard
	streams  *stream.Coordinator
	quota    *quota.Enforcer
	tags     *tags.Engine
	objects  storage.ObjectStore
	tagQueue TagQueue
	audit    audit.Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// Deps collects the facade's collaborators.
type Deps struct {
	Store    store.Store
	Sessions *session.Registry
	Guard    *loginguard.Guard
	Streams  *stream.Coordinator
	Quota    *quota.Enforcer
	Tags     *tags.Engine
	Objects  storage.ObjectStore
	TagQueue TagQueue
	Audit    audit.Publisher
	Logger   *slog.Logger
	Now      func() time.Time
}

// New builds the facade.
func New(deps Deps) *App {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NopPublisher{}
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &App{
		store:    deps.Store,
		sessions: deps.Sessions,
		guard:    deps.Guard,
		streams:  deps.Streams,
		quota:    deps.Quota,
		tags:     deps.Tags,
		objects:  deps.Objects,
		tagQueue: deps.TagQueue,
		audit:    deps.Audit,
		logger:   deps.Logger,
		now:      deps.Now,
	}
}

// Register creates an identity. The first identity registered gets the
// administrator capability so a fresh deployment has an admin.
func (a *App) Register(ctx context.Context, handle, password string) (domain.Identity, error) {
	handle = strings.ToLower(strings.TrimSpace(handle))
	if !handlePattern.MatchString(handle) {
		return domain.Identity{}, validationErr("handle must be 3-32 characters of a-z, 0-9, '-' or '_'")
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	if _, found, err := a.store.GetIdentityByHandle(handle); err != nil {
		return domain.Identity{}, fmt.Errorf("check handle: %w", err)
	} else if found {
		return domain.Identity{}, ErrHandleTaken
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("hash credential: %w", err)
	}

	a.registerMu.Lock()
	defer a.registerMu.Unlock()

	existing, err := a.store.IdentityCount()
	if err != nil {
		return domain.Identity{}, fmt.Errorf("count identities: %w", err)
	}

	now := a.now()
	identity := domain.Identity{
		ID:             util.NewID(),
		Handle:         handle,
		CredentialHash: hash,
		Role:           domain.RoleUser,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.store.SaveIdentity(identity); err != nil {
		return domain.Identity{}, fmt.Errorf("save identity: %w", err)
	}
	if existing == 0 {
		grant := domain.PrivilegeGrant{
			ID:         util.NewID(),
			IdentityID: identity.ID,
			Capability: store.AdminCapability,
			GrantedBy:  identity.ID,
			GrantedAt:  now,
		}
		if err := a.store.SaveGrant(grant); err != nil {
			return domain.Identity{}, fmt.Errorf("bootstrap admin grant: %w", err)
		}
		identity.Role = domain.RoleAdmin
		a.logger.Info("bootstrap administrator created", slog.String("handle", handle))
		if err := a.audit.Publish(ctx, audit.Event{
			Action:     audit.ActionPrivilegeGranted,
			ActorID:    identity.ID,
			SubjectID:  identity.ID,
			Detail:     "bootstrap administrator",
			OccurredAt: now,
		}); err != nil {
			a.logger.Warn("audit publish failed", slog.Any("error", err))
		}
	}
	return identity, nil
}

// Login authenticates a credential and issues a session. Lockout and
// throttling verdicts come back as typed errors carrying the wait;
// credential failures are recorded in the attempt log.
func (a *App) Login(ctx context.Context, handle, password, address string) (domain.Session, error) {
	handle = strings.ToLower(strings.TrimSpace(handle))

	decision, err := a.guard.CheckAllowed(handle, address)
	if err != nil {
		return domain.Session{}, fmt.Errorf("login guard: %w", err)
	}
	switch decision.Verdict {
	case loginguard.Locked:
		return domain.Session{}, &LockedError{Until: decision.Until, RetryAfter: decision.RetryAfter}
	case loginguard.RateLimited:
		return domain.Session{}, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	identity, found, err := a.store.GetIdentityByHandle(handle)
	if err != nil {
		return domain.Session{}, fmt.Errorf("load identity: %w", err)
	}
	if !found || !auth.CheckPassword(password, identity.CredentialHash) {
		if err := a.guard.RecordAttempt(handle, address, false); err != nil {
			a.logger.Error("record failed attempt", slog.Any("error", err))
		}
		return domain.Session{}, ErrInvalidCredential
	}

	if err := a.guard.RecordAttempt(handle, address, true); err != nil {
		a.logger.Error("record successful attempt", slog.Any("error", err))
	}
	s := a.sessions.Create(identity.ID)
	a.logger.Info("login", slog.String("handle", handle))
	return s, nil
}

// Authenticate resolves a session token to its identity and refreshes
// the session's idle window.
func (a *App) Authenticate(token string) (domain.Identity, error) {
	s, ok := a.sessions.Validate(token)
	if !ok {
		return domain.Identity{}, ErrUnauthorized
	}
	a.sessions.Touch(token)
	identity, found, err := a.store.GetIdentityByID(s.IdentityID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("load identity: %w", err)
	}
	if !found {
		return domain.Identity{}, ErrUnauthorized
	}
	return identity, nil
}

// Logout invalidates the session token. Unknown tokens are a no-op.
func (a *App) Logout(token string) {
	a.sessions.Invalidate(token)
}

// RunMaintenance executes one named maintenance task and reports what
// it did. Tasks are authorized by service tokens, not user sessions.
func (a *App) RunMaintenance(task string) (map[string]any, error) {
	switch task {
	case "purge-login-attempts":
		removed, err := a.guard.PurgeExpired()
		if err != nil {
			return nil, err
		}
		return map[string]any{"task": task, "removed": removed}, nil
	case "sweep-sessions":
		return map[string]any{"task": task, "removed": a.sessions.SweepExpired()}, nil
	default:
		return nil, validationErr("unknown maintenance task %q", task)
	}
}

func (a *App) requireAdmin(identityID string) error {
	ok, err := a.store.HasGrant(identityID, store.AdminCapability)
	if err != nil {
		return fmt.Errorf("check grant: %w", err)
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}
