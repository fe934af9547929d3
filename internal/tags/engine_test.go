package tags

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"tenantchat/pkg/domain"
	"tenantchat/pkg/store"
)

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	engine := NewEngine(st, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	return engine, st
}

func seedTag(t *testing.T, st *store.MemoryStore, id, name string, keywords ...string) {
	t.Helper()
	err := st.CreateTag(domain.Tag{
		ID:        id,
		Name:      name,
		Keywords:  keywords,
		CreatedBy: "admin-1",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed tag %s: %v", id, err)
	}
}

func seedConversationWithMessage(t *testing.T, st *store.MemoryStore, conversationID, content string) {
	t.Helper()
	if err := st.CreateConversation(domain.Conversation{ID: conversationID, IdentityID: "id-1", Title: "t"}); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	err := st.AppendMessage(domain.Message{
		ID:             "msg-" + conversationID,
		ConversationID: conversationID,
		Role:           domain.MessageRoleUser,
		Content:        content,
		SizeBytes:      int64(len(content)),
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("append message: %v", err)
	}
}

func TestSuggestScoresByKeywordFraction(t *testing.T) {
	engine, st := newTestEngine(t)
	seedTag(t, st, "tag-go", "golang", "goroutine", "channel", "interface", "slice")
	seedTag(t, st, "tag-db", "databases", "postgres", "index")
	seedTag(t, st, "tag-ml", "ml", "tensor", "gradient")

	suggestions, err := engine.Suggest("How do I send a value into a Channel from a goroutine? Also my Postgres query is slow.")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(suggestions) != 2 {
		t.Fatalf("suggestions = %+v", suggestions)
	}
	// tag-db matched 1 of 2 keywords (0.5), tag-go 2 of 4 (0.5);
	// equal confidence orders by name.
	if suggestions[0].TagID != "tag-db" || suggestions[1].TagID != "tag-go" {
		t.Fatalf("order = %s, %s", suggestions[0].TagID, suggestions[1].TagID)
	}
	for _, s := range suggestions {
		if s.Confidence != 0.5 {
			t.Fatalf("confidence = %v, want 0.5", s.Confidence)
		}
	}
}

func TestSuggestMatchesCaseInsensitively(t *testing.T) {
	engine, st := newTestEngine(t)
	seedTag(t, st, "tag-go", "golang", "goroutine")
	suggestions, err := engine.Suggest("GOROUTINE leaks everywhere")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(suggestions) != 1 || suggestions[0].Confidence != 1.0 {
		t.Fatalf("suggestions = %+v", suggestions)
	}
}

func TestSuggestOmitsNonMatches(t *testing.T) {
	engine, st := newTestEngine(t)
	seedTag(t, st, "tag-ml", "ml", "tensor", "gradient")
	suggestions, err := engine.Suggest("nothing relevant here")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(suggestions) != 0 {
		t.Fatalf("expected no suggestions, got %+v", suggestions)
	}
}

func TestAutoAssignAppliesAboveThreshold(t *testing.T) {
	engine, st := newTestEngine(t)
	seedTag(t, st, "tag-go", "golang", "goroutine")
	seedTag(t, st, "tag-db", "databases", "postgres", "index", "vacuum", "btree")
	seedConversationWithMessage(t, st, "conv-1", "my goroutine blocks while reading from postgres")

	applied, err := engine.AutoAssign("conv-1")
	if err != nil {
		t.Fatalf("auto assign: %v", err)
	}
	// tag-go scores 1.0, tag-db 0.25 which is below the 0.5 default.
	if applied != 1 {
		t.Fatalf("applied = %d, want 1", applied)
	}
	edges, err := st.ListConversationTags("conv-1")
	if err != nil {
		t.Fatalf("list edges: %v", err)
	}
	if len(edges) != 1 || edges[0].TagID != "tag-go" {
		t.Fatalf("edges = %+v", edges)
	}
	if edges[0].AssignedBy != domain.AssignedBySystem || edges[0].Confidence != 1.0 {
		t.Fatalf("edge = %+v", edges[0])
	}
}

func TestAutoAssignDropsLowestConfidenceAtCap(t *testing.T) {
	engine, st := newTestEngine(t)
	seedConversationWithMessage(t, st, "conv-1", "alpha beta")
	// Four manual tags already on the conversation.
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("tag-manual-%d", i)
		seedTag(t, st, id, id, "zzz-no-match")
		err := st.AssignTag(domain.ConversationTag{
			ConversationID: "conv-1",
			TagID:          id,
			AssignedBy:     domain.AssignedManually,
			CreatedAt:      time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("assign manual tag: %v", err)
		}
	}
	// Two candidates: tag-strong scores 1.0, tag-weak 0.5.
	seedTag(t, st, "tag-strong", "strong", "alpha", "beta")
	seedTag(t, st, "tag-weak", "weak", "beta", "gamma")

	applied, err := engine.AutoAssign("conv-1")
	if err != nil {
		t.Fatalf("auto assign: %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied = %d, want 1; only one slot remains", applied)
	}
	edges, err := st.ListConversationTags("conv-1")
	if err != nil {
		t.Fatalf("list edges: %v", err)
	}
	if len(edges) != 5 {
		t.Fatalf("edge count = %d, want 5", len(edges))
	}
	var hasStrong, hasWeak bool
	for _, edge := range edges {
		switch edge.TagID {
		case "tag-strong":
			hasStrong = true
		case "tag-weak":
			hasWeak = true
		}
	}
	if !hasStrong || hasWeak {
		t.Fatalf("expected the higher-confidence suggestion to win, edges = %+v", edges)
	}
}

func TestAutoAssignSkipsAlreadyAssignedTag(t *testing.T) {
	engine, st := newTestEngine(t)
	seedConversationWithMessage(t, st, "conv-1", "alpha")
	seedTag(t, st, "tag-a", "a", "alpha")
	if err := st.AssignTag(domain.ConversationTag{
		ConversationID: "conv-1",
		TagID:          "tag-a",
		AssignedBy:     domain.AssignedManually,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	applied, err := engine.AutoAssign("conv-1")
	if err != nil {
		t.Fatalf("auto assign: %v", err)
	}
	if applied != 0 {
		t.Fatalf("applied = %d, want 0", applied)
	}
}

func TestCustomThreshold(t *testing.T) {
	engine, st := newTestEngine(t, WithAutoAssignThreshold(0.9))
	seedConversationWithMessage(t, st, "conv-1", "postgres")
	seedTag(t, st, "tag-db", "databases", "postgres", "index")

	applied, err := engine.AutoAssign("conv-1")
	if err != nil {
		t.Fatalf("auto assign: %v", err)
	}
	if applied != 0 {
		t.Fatalf("0.5 confidence must not clear a 0.9 threshold, applied = %d", applied)
	}
}
