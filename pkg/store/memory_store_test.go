package store

import (
	"testing"
	"time"

	"tenantchat/pkg/domain"
)

func seedConversation(t *testing.T, m *MemoryStore, id, identityID string, at time.Time) {
	t.Helper()
	if err := m.CreateConversation(domain.Conversation{
		ID:             id,
		IdentityID:     identityID,
		Title:          "t",
		CreatedAt:      at,
		UpdatedAt:      at,
		LastAccessedAt: at,
	}); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
}

func TestStorageAccumulatorTracksWrites(t *testing.T) {
	m := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seedConversation(t, m, "c1", "u1", now)

	if err := m.AppendMessage(domain.Message{
		ID: "m1", ConversationID: "c1", Role: domain.MessageRoleUser,
		Content: "hello", SizeBytes: 5, CreatedAt: now,
	}); err != nil {
		t.Fatalf("append message: %v", err)
	}
	if err := m.AddDocument(domain.Document{
		ID: "d1", ConversationID: "c1", Filename: "a.txt",
		SizeBytes: 100, CreatedAt: now, LastAccessedAt: now,
	}); err != nil {
		t.Fatalf("add document: %v", err)
	}

	conversation, ok, _ := m.GetConversation("c1")
	if !ok {
		t.Fatalf("conversation missing")
	}
	if conversation.StorageBytes != 105 {
		t.Fatalf("accumulator = %d, want 105", conversation.StorageBytes)
	}
	usage, err := m.TotalUsage("u1")
	if err != nil || usage != 105 {
		t.Fatalf("total usage = %d (%v), want 105", usage, err)
	}
}

func TestAppendMessageEnforcesCap(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now().UTC()
	seedConversation(t, m, "c1", "u1", now)
	for i := 0; i < MaxMessagesPerConversation; i++ {
		if err := m.AppendMessage(domain.Message{
			ID: "m", ConversationID: "c1", Role: domain.MessageRoleUser,
			Content: "x", SizeBytes: 1, CreatedAt: now,
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	err := m.AppendMessage(domain.Message{
		ID: "overflow", ConversationID: "c1", Role: domain.MessageRoleUser,
		Content: "x", SizeBytes: 1, CreatedAt: now,
	})
	if err != ErrConversationFull {
		t.Fatalf("expected ErrConversationFull, got %v", err)
	}
}

func TestEvictionCandidateOrderIsDeterministic(t *testing.T) {
	m := NewMemoryStore()
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seedConversation(t, m, "c-b", "u1", old)
	seedConversation(t, m, "c-a", "u1", old)
	seedConversation(t, m, "c-newer", "u1", old.Add(time.Hour))

	items, err := m.ListEvictionCandidates("u1", old.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d candidates, want 3", len(items))
	}
	// Equal timestamps tie-break on ID ascending.
	if items[0].ID != "c-a" || items[1].ID != "c-b" || items[2].ID != "c-newer" {
		t.Fatalf("unexpected order: %s, %s, %s", items[0].ID, items[1].ID, items[2].ID)
	}
}

func TestDeleteConversationCascadesAndReturnsKeys(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now().UTC()
	seedConversation(t, m, "c1", "u1", now)
	_ = m.CreateTag(domain.Tag{ID: "t1", Name: "billing"})
	_ = m.AssignTag(domain.ConversationTag{ConversationID: "c1", TagID: "t1", AssignedBy: domain.AssignedManually, CreatedAt: now})
	_ = m.AddDocument(domain.Document{ID: "d1", ConversationID: "c1", StorageKey: "key-1", SizeBytes: 10, CreatedAt: now})

	keys, err := m.DeleteConversation("c1")
	if err != nil {
		t.Fatalf("delete conversation: %v", err)
	}
	if len(keys) != 1 || keys[0] != "key-1" {
		t.Fatalf("unexpected storage keys: %v", keys)
	}
	tag, _, _ := m.GetTag("t1")
	if tag.UsageCount != 0 {
		t.Fatalf("tag usage = %d, want 0", tag.UsageCount)
	}
	if usage, _ := m.TotalUsage("u1"); usage != 0 {
		t.Fatalf("usage after delete = %d, want 0", usage)
	}
}

func TestTagDeleteRefusedWhileInUse(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now().UTC()
	seedConversation(t, m, "c1", "u1", now)
	_ = m.CreateTag(domain.Tag{ID: "t1", Name: "billing"})
	_ = m.AssignTag(domain.ConversationTag{ConversationID: "c1", TagID: "t1", AssignedBy: domain.AssignedManually, CreatedAt: now})

	if err := m.DeleteTag("t1"); err != ErrTagInUse {
		t.Fatalf("expected ErrTagInUse, got %v", err)
	}
	if err := m.RemoveTag("c1", "t1"); err != nil {
		t.Fatalf("remove tag: %v", err)
	}
	if err := m.DeleteTag("t1"); err != nil {
		t.Fatalf("delete after release: %v", err)
	}
}
