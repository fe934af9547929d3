package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"tenantchat/internal/loginguard"
	"tenantchat/internal/quota"
	"tenantchat/internal/session"
	"tenantchat/internal/stream"
	"tenantchat/internal/tags"
	"tenantchat/pkg/ai"
	"tenantchat/pkg/audit"
	"tenantchat/pkg/domain"
	"tenantchat/pkg/storage"
	"tenantchat/pkg/store"
)

// scriptedStream replays a fixed fragment sequence.
type scriptedStream struct {
	fragments []string
	pos       int
}

func (s *scriptedStream) Recv() (string, error) {
	if s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	fragment := s.fragments[s.pos]
	s.pos++
	return fragment, nil
}

func (s *scriptedStream) Close() error { return nil }

type scriptedGenerator struct {
	fragments []string
	lastUser  string
}

func (g *scriptedGenerator) GenerateStream(_ context.Context, _, userPrompt string) (ai.Stream, error) {
	g.lastUser = userPrompt
	return &scriptedStream{fragments: g.fragments}, nil
}

type testEnv struct {
	app       *App
	store     *store.MemoryStore
	objects   *storage.MemoryObjectStore
	events    *audit.MemoryPublisher
	generator *scriptedGenerator
	quota     *quota.Enforcer
}

func newTestEnv(t *testing.T, quotaOpts ...quota.EnforcerOption) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore()
	objects := storage.NewMemoryObjectStore()
	events := audit.NewMemoryPublisher()
	generator := &scriptedGenerator{fragments: []string{"Hi ", "there"}}

	var a *App
	coordinator := stream.NewCoordinator(st, generator, logger,
		stream.WithPersistListener(func(conversationID, identityID string) {
			a.OnAssistantPersisted(conversationID, identityID)
		}))
	enforcer := quota.NewEnforcer(st, objects, events, logger,
		append([]quota.EnforcerOption{quota.WithStreamingCheck(coordinator.IsStreaming)}, quotaOpts...)...)
	a = New(Deps{
		Store:    st,
		Sessions: session.NewRegistry(logger),
		Guard:    loginguard.NewGuard(st, logger),
		Streams:  coordinator,
		Quota:    enforcer,
		Tags:     tags.NewEngine(st, logger),
		Objects:  objects,
		Audit:    events,
		Logger:   logger,
	})
	return &testEnv{app: a, store: st, objects: objects, events: events, generator: generator, quota: enforcer}
}

func register(t *testing.T, env *testEnv, handle string) domain.Identity {
	t.Helper()
	identity, err := env.app.Register(context.Background(), handle, "correct-horse-battery")
	if err != nil {
		t.Fatalf("register %s: %v", handle, err)
	}
	return identity
}

func login(t *testing.T, env *testEnv, handle string) domain.Session {
	t.Helper()
	s, err := env.app.Login(context.Background(), handle, "correct-horse-battery", "10.0.0.1")
	if err != nil {
		t.Fatalf("login %s: %v", handle, err)
	}
	return s
}

func TestRegisterBootstrapsFirstAdmin(t *testing.T) {
	env := newTestEnv(t)
	first := register(t, env, "alice")
	second := register(t, env, "bob")

	if first.Role != domain.RoleAdmin {
		t.Fatalf("first identity role = %s, want admin", first.Role)
	}
	if second.Role != domain.RoleUser {
		t.Fatalf("second identity role = %s, want user", second.Role)
	}
	ok, err := env.store.HasGrant(first.ID, store.AdminCapability)
	if err != nil || !ok {
		t.Fatalf("expected admin grant for first identity: ok=%v err=%v", ok, err)
	}
}

func TestConcurrentFirstRegistrationsBootstrapOneAdmin(t *testing.T) {
	env := newTestEnv(t)
	const signups = 4
	identities := make([]domain.Identity, signups)
	errs := make([]error, signups)
	var wg sync.WaitGroup
	for i := 0; i < signups; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle := "user-" + string(rune('a'+i))
			identities[i], errs[i] = env.app.Register(context.Background(), handle, "correct-horse-battery")
		}(i)
	}
	wg.Wait()

	admins := 0
	for i := range identities {
		if errs[i] != nil {
			t.Fatalf("register %d: %v", i, errs[i])
		}
		ok, err := env.store.HasGrant(identities[i].ID, store.AdminCapability)
		if err != nil {
			t.Fatalf("has grant: %v", err)
		}
		if ok {
			admins++
		}
	}
	if admins != 1 {
		t.Fatalf("admin grants = %d, want exactly 1", admins)
	}
}

func TestRegisterRejectsDuplicateAndBadInput(t *testing.T) {
	env := newTestEnv(t)
	register(t, env, "alice")
	if _, err := env.app.Register(context.Background(), "Alice", "correct-horse-battery"); !errors.Is(err, ErrHandleTaken) {
		t.Fatalf("expected handle taken (case folded), got %v", err)
	}
	if _, err := env.app.Register(context.Background(), "x", "correct-horse-battery"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected handle validation error, got %v", err)
	}
	if _, err := env.app.Register(context.Background(), "carol", "short"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected password validation error, got %v", err)
	}
}

func TestLoginWrongPasswordNeverNamesTheCause(t *testing.T) {
	env := newTestEnv(t)
	register(t, env, "alice")
	_, errWrong := env.app.Login(context.Background(), "alice", "wrong-password", "10.0.0.1")
	_, errGhost := env.app.Login(context.Background(), "ghost", "wrong-password", "10.0.0.1")
	if !errors.Is(errWrong, ErrInvalidCredential) || !errors.Is(errGhost, ErrInvalidCredential) {
		t.Fatalf("both failures must look identical: %v vs %v", errWrong, errGhost)
	}
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	register(t, env, "alice")
	for i := 0; i < loginguard.FailureThreshold; i++ {
		if _, err := env.app.Login(context.Background(), "alice", "wrong-password", "10.0.0.1"); !errors.Is(err, ErrInvalidCredential) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	// Correct credential, but the identity is now locked -- from any
	// address.
	_, err := env.app.Login(context.Background(), "alice", "correct-horse-battery", "10.9.9.9")
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected LockedError, got %v", err)
	}
	if locked.RetryAfter <= 0 {
		t.Fatalf("lockout must carry a retry-after, got %v", locked.RetryAfter)
	}
}

func TestAuthenticateLifecycle(t *testing.T) {
	env := newTestEnv(t)
	identity := register(t, env, "alice")
	s := login(t, env, "alice")

	got, err := env.app.Authenticate(s.Token)
	if err != nil || got.ID != identity.ID {
		t.Fatalf("authenticate: id=%s err=%v", got.ID, err)
	}
	env.app.Logout(s.Token)
	if _, err := env.app.Authenticate(s.Token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized after logout, got %v", err)
	}
	if _, err := env.app.Authenticate("bogus"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bogus token, got %v", err)
	}
}

func TestSendMessageStreamsAndPersistsBothSides(t *testing.T) {
	env := newTestEnv(t)
	identity := register(t, env, "alice")
	conversation, err := env.app.CreateConversation(identity.ID, "greetings")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	handle, err := env.app.SendMessage(context.Background(), identity.ID, conversation.ID, "hello")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	var delivered []string
	for fragment := range handle.Fragments() {
		delivered = append(delivered, fragment)
	}
	if _, err := handle.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if strings.Join(delivered, "") != "Hi there" {
		t.Fatalf("delivered = %q", delivered)
	}

	messages, err := env.store.ListMessages(conversation.ID, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("messages = %+v", messages)
	}
	if messages[0].Role != domain.MessageRoleUser || messages[1].Role != domain.MessageRoleAssistant {
		t.Fatalf("roles = %s, %s", messages[0].Role, messages[1].Role)
	}
	updated, _, err := env.store.GetConversation(conversation.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	wantBytes := int64(len("hello") + len("Hi there"))
	if updated.StorageBytes != wantBytes {
		t.Fatalf("storage bytes = %d, want %d", updated.StorageBytes, wantBytes)
	}
}

func TestSendMessageValidatesInputAndOwnership(t *testing.T) {
	env := newTestEnv(t)
	alice := register(t, env, "alice")
	bob := register(t, env, "bob")
	conversation, err := env.app.CreateConversation(alice.ID, "private")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	if _, err := env.app.SendMessage(context.Background(), alice.ID, conversation.ID, "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	long := strings.Repeat("x", MaxUserMessageChars+1)
	if _, err := env.app.SendMessage(context.Background(), alice.ID, conversation.ID, long); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected length validation, got %v", err)
	}
	if _, err := env.app.SendMessage(context.Background(), bob.ID, conversation.ID, "hi"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign conversation must look absent, got %v", err)
	}
}

func TestUploadDocumentStoresBytesAndText(t *testing.T) {
	env := newTestEnv(t)
	identity := register(t, env, "alice")
	conversation, err := env.app.CreateConversation(identity.ID, "docs")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	document, err := env.app.UploadDocument(context.Background(), identity.ID, conversation.ID,
		"notes.txt", "text/plain", []byte("meeting notes about goroutines"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !env.objects.Has(document.StorageKey) {
		t.Fatalf("object not stored under %s", document.StorageKey)
	}
	if document.ExtractedText == "" {
		t.Fatalf("expected extracted text")
	}
	updated, _, err := env.store.GetConversation(conversation.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if updated.StorageBytes != document.SizeBytes {
		t.Fatalf("storage bytes = %d, want %d", updated.StorageBytes, document.SizeBytes)
	}
}

func TestUploadDocumentRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	identity := register(t, env, "alice")
	conversation, err := env.app.CreateConversation(identity.ID, "docs")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, err := env.app.UploadDocument(context.Background(), identity.ID, conversation.ID,
		"x.bin", "application/octet-stream", []byte("x")); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected unsupported type, got %v", err)
	}
	big := make([]byte, MaxDocumentBytes+1)
	if _, err := env.app.UploadDocument(context.Background(), identity.ID, conversation.ID,
		"big.txt", "text/plain", big); !errors.Is(err, ErrDocumentTooLarge) {
		t.Fatalf("expected too large, got %v", err)
	}
}

func TestUploadDocumentRefusedWhenQuotaUnresolvable(t *testing.T) {
	env := newTestEnv(t, quota.WithCeiling(100))
	identity := register(t, env, "alice")
	conversation, err := env.app.CreateConversation(identity.ID, "docs")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	// Fill the conversation past the ceiling; it is fresh, so eviction
	// cannot touch it.
	if _, err := env.app.UploadDocument(context.Background(), identity.ID, conversation.ID,
		"a.txt", "text/plain", []byte(strings.Repeat("a", 90))); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	_, err = env.app.UploadDocument(context.Background(), identity.ID, conversation.ID,
		"b.txt", "text/plain", []byte(strings.Repeat("b", 90)))
	var quotaErr *QuotaExceededError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	// The plan reports the projected usage the write was judged on.
	if quotaErr.Plan.Usage != 180 || quotaErr.Plan.Ceiling != 100 {
		t.Fatalf("plan = %+v", quotaErr.Plan)
	}
	// The refusal deleted nothing.
	if _, found, _ := env.store.GetConversation(conversation.ID); !found {
		t.Fatalf("refusal must not delete anything")
	}
}

func TestDeleteConversationCleansBackingFiles(t *testing.T) {
	env := newTestEnv(t)
	identity := register(t, env, "alice")
	conversation, err := env.app.CreateConversation(identity.ID, "docs")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	document, err := env.app.UploadDocument(context.Background(), identity.ID, conversation.ID,
		"notes.txt", "text/plain", []byte("to be deleted"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := env.app.DeleteConversation(context.Background(), identity.ID, conversation.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if env.objects.Has(document.StorageKey) {
		t.Fatalf("backing object should be gone")
	}
	if _, found, _ := env.store.GetConversation(conversation.ID); found {
		t.Fatalf("conversation should be gone")
	}
}

func TestAdminScoping(t *testing.T) {
	env := newTestEnv(t)
	admin := register(t, env, "alice")
	user := register(t, env, "bob")

	if _, err := env.app.CreateTag(user.ID, "golang", []string{"goroutine"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for non-admin, got %v", err)
	}
	tag, err := env.app.CreateTag(admin.ID, "golang", []string{"Goroutine", " channel "})
	if err != nil {
		t.Fatalf("create tag: %v", err)
	}
	if len(tag.Keywords) != 2 || tag.Keywords[0] != "goroutine" || tag.Keywords[1] != "channel" {
		t.Fatalf("keywords = %+v", tag.Keywords)
	}

	if err := env.app.GrantPrivilege(context.Background(), user.ID, admin.ID, store.AdminCapability); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden grant, got %v", err)
	}
	if err := env.app.GrantPrivilege(context.Background(), admin.ID, user.ID, store.AdminCapability); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := env.app.CreateTag(user.ID, "infra", []string{"terraform"}); err != nil {
		t.Fatalf("freshly granted admin should create tags: %v", err)
	}

	var granted bool
	for _, ev := range env.events.Events() {
		if ev.Action == audit.ActionPrivilegeGranted && ev.SubjectID == user.ID {
			granted = true
		}
	}
	if !granted {
		t.Fatalf("grant must be audited")
	}
}

func TestManualTagAssignmentRespectsCap(t *testing.T) {
	env := newTestEnv(t)
	admin := register(t, env, "alice")
	conversation, err := env.app.CreateConversation(admin.ID, "tags")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	var tagIDs []string
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		tag, err := env.app.CreateTag(admin.ID, name, []string{name})
		if err != nil {
			t.Fatalf("create tag %s: %v", name, err)
		}
		tagIDs = append(tagIDs, tag.ID)
	}
	for _, id := range tagIDs[:5] {
		if err := env.app.AssignTag(admin.ID, conversation.ID, id); err != nil {
			t.Fatalf("assign %s: %v", id, err)
		}
	}
	if err := env.app.AssignTag(admin.ID, conversation.ID, tagIDs[5]); !errors.Is(err, store.ErrTagLimitReached) {
		t.Fatalf("expected tag limit, got %v", err)
	}
}

func TestUsageReportsPlan(t *testing.T) {
	env := newTestEnv(t)
	identity := register(t, env, "alice")
	plan, err := env.app.Usage(identity.ID)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if plan.Usage != 0 || !plan.Resolvable {
		t.Fatalf("plan = %+v", plan)
	}
}
