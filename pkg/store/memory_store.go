package store

import (
	"sort"
	"sync"
	"time"

	"tenantchat/pkg/domain"
)

// MemoryStore keeps all records in process. It mirrors GormStore semantics,
// including accumulator maintenance, and is used by unit tests.
type MemoryStore struct {
	mu            sync.RWMutex
	identities    map[string]domain.Identity
	handles       map[string]string // handle -> identity ID
	grants        []domain.PrivilegeGrant
	attempts      []domain.LoginAttempt
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message  // conversation ID -> ordered messages
	documents     map[string][]domain.Document // conversation ID -> ordered documents
	tags          map[string]domain.Tag
	edges         map[string][]domain.ConversationTag // conversation ID -> edges
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities:    make(map[string]domain.Identity),
		handles:       make(map[string]string),
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
		documents:     make(map[string][]domain.Document),
		tags:          make(map[string]domain.Tag),
		edges:         make(map[string][]domain.ConversationTag),
	}
}

func (m *MemoryStore) SaveIdentity(identity domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[identity.ID] = identity
	m.handles[identity.Handle] = identity.ID
	return nil
}

func (m *MemoryStore) GetIdentityByHandle(handle string) (domain.Identity, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.handles[handle]
	if !ok {
		return domain.Identity{}, false, nil
	}
	return m.identityLocked(id)
}

func (m *MemoryStore) GetIdentityByID(id string) (domain.Identity, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identityLocked(id)
}

func (m *MemoryStore) identityLocked(id string) (domain.Identity, bool, error) {
	identity, ok := m.identities[id]
	if !ok {
		return domain.Identity{}, false, nil
	}
	identity.Role = domain.RoleUser
	for _, grant := range m.grants {
		if grant.IdentityID == id && grant.Capability == AdminCapability {
			identity.Role = domain.RoleAdmin
			break
		}
	}
	return identity, true, nil
}

func (m *MemoryStore) SetLockout(identityID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[identityID]
	if !ok {
		return ErrNotFound
	}
	at := until.UTC()
	identity.LockedUntil = &at
	identity.UpdatedAt = time.Now().UTC()
	m.identities[identityID] = identity
	return nil
}

func (m *MemoryStore) IdentityCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.identities), nil
}

func (m *MemoryStore) SaveGrant(grant domain.PrivilegeGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants = append(m.grants, grant)
	return nil
}

func (m *MemoryStore) HasGrant(identityID, capability string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, grant := range m.grants {
		if grant.IdentityID == identityID && grant.Capability == capability {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) AppendLoginAttempt(attempt domain.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attempt)
	return nil
}

func (m *MemoryStore) CountFailedAttempts(handle string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, attempt := range m.attempts {
		if attempt.Handle == handle && !attempt.Success && !attempt.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CountAddressAttempts(address string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, attempt := range m.attempts {
		if attempt.Address == address && !attempt.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) PurgeLoginAttemptsBefore(cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.attempts[:0]
	var purged int64
	for _, attempt := range m.attempts {
		if attempt.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, attempt)
	}
	m.attempts = kept
	return purged, nil
}

func (m *MemoryStore) CreateConversation(conversation domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conversation.ID] = conversation
	return nil
}

func (m *MemoryStore) GetConversation(id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conversation, ok := m.conversations[id]
	return conversation, ok, nil
}

func (m *MemoryStore) ListConversationsByIdentity(identityID string, limit int) ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]domain.Conversation, 0)
	for _, conversation := range m.conversations {
		if conversation.IdentityID == identityID {
			items = append(items, conversation)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].LastAccessedAt.Equal(items[j].LastAccessedAt) {
			return items[i].LastAccessedAt.After(items[j].LastAccessedAt)
		}
		return items[i].ID < items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *MemoryStore) ListEvictionCandidates(identityID string, cutoff time.Time) ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]domain.Conversation, 0)
	for _, conversation := range m.conversations {
		if conversation.IdentityID == identityID && conversation.LastAccessedAt.Before(cutoff) {
			items = append(items, conversation)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].LastAccessedAt.Equal(items[j].LastAccessedAt) {
			return items[i].LastAccessedAt.Before(items[j].LastAccessedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (m *MemoryStore) TouchConversation(id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conversation.LastAccessedAt = at.UTC()
	m.conversations[id] = conversation
	return nil
}

func (m *MemoryStore) DeleteConversation(id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[id]; !ok {
		return nil, ErrNotFound
	}
	var keys []string
	for _, doc := range m.documents[id] {
		if doc.StorageKey != "" {
			keys = append(keys, doc.StorageKey)
		}
	}
	for _, edge := range m.edges[id] {
		if tag, ok := m.tags[edge.TagID]; ok && tag.UsageCount > 0 {
			tag.UsageCount--
			m.tags[edge.TagID] = tag
		}
	}
	delete(m.conversations, id)
	delete(m.messages, id)
	delete(m.documents, id)
	delete(m.edges, id)
	return keys, nil
}

func (m *MemoryStore) AppendMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if conversation.MessageCount >= MaxMessagesPerConversation {
		return ErrConversationFull
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	at := msg.CreatedAt.UTC()
	conversation.MessageCount++
	conversation.StorageBytes += msg.SizeBytes
	conversation.UpdatedAt = at
	conversation.LastAccessedAt = at
	m.conversations[msg.ConversationID] = conversation
	return nil
}

func (m *MemoryStore) ListMessages(conversationID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *MemoryStore) AddDocument(doc domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.conversations[doc.ConversationID]
	if !ok {
		return ErrNotFound
	}
	m.documents[doc.ConversationID] = append(m.documents[doc.ConversationID], doc)
	at := doc.CreatedAt.UTC()
	conversation.StorageBytes += doc.SizeBytes
	conversation.UpdatedAt = at
	conversation.LastAccessedAt = at
	m.conversations[doc.ConversationID] = conversation
	return nil
}

func (m *MemoryStore) ListDocuments(conversationID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := m.documents[conversationID]
	out := make([]domain.Document, len(docs))
	copy(out, docs)
	return out, nil
}

func (m *MemoryStore) TotalUsage(identityID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, conversation := range m.conversations {
		if conversation.IdentityID == identityID {
			total += conversation.StorageBytes
		}
	}
	return total, nil
}

func (m *MemoryStore) CreateTag(tag domain.Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[tag.ID] = tag
	return nil
}

func (m *MemoryStore) GetTag(id string) (domain.Tag, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tag, ok := m.tags[id]
	return tag, ok, nil
}

func (m *MemoryStore) ListTags() ([]domain.Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tags := make([]domain.Tag, 0, len(m.tags))
	for _, tag := range m.tags {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags, nil
}

func (m *MemoryStore) DeleteTag(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tag, ok := m.tags[id]
	if !ok {
		return ErrNotFound
	}
	if tag.UsageCount > 0 {
		return ErrTagInUse
	}
	delete(m.tags, id)
	return nil
}

func (m *MemoryStore) AssignTag(edge domain.ConversationTag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	edges := m.edges[edge.ConversationID]
	for i, existing := range edges {
		if existing.TagID == edge.TagID {
			existing.AssignedBy = edge.AssignedBy
			existing.Confidence = edge.Confidence
			edges[i] = existing
			return nil
		}
	}
	if len(edges) >= MaxTagsPerConversation {
		return ErrTagLimitReached
	}
	m.edges[edge.ConversationID] = append(edges, edge)
	if tag, ok := m.tags[edge.TagID]; ok {
		tag.UsageCount++
		m.tags[edge.TagID] = tag
	}
	return nil
}

func (m *MemoryStore) RemoveTag(conversationID, tagID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	edges := m.edges[conversationID]
	for i, edge := range edges {
		if edge.TagID == tagID {
			m.edges[conversationID] = append(edges[:i], edges[i+1:]...)
			if tag, ok := m.tags[tagID]; ok && tag.UsageCount > 0 {
				tag.UsageCount--
				m.tags[tagID] = tag
			}
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) ListConversationTags(conversationID string) ([]domain.ConversationTag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	edges := m.edges[conversationID]
	out := make([]domain.ConversationTag, len(edges))
	copy(out, edges)
	return out, nil
}
