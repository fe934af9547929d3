package store

import (
	"errors"
	"time"

	"tenantchat/pkg/domain"
)

var (
	// ErrConversationFull is returned when a conversation already holds the
	// maximum number of messages.
	ErrConversationFull = errors.New("conversation message limit reached")

	// ErrTagInUse is returned when deleting a tag with nonzero usage.
	ErrTagInUse = errors.New("tag is in use")

	// ErrTagLimitReached is returned when a conversation already carries the
	// maximum number of tags.
	ErrTagLimitReached = errors.New("conversation tag limit reached")

	// ErrNotFound is returned by mutations against missing rows.
	ErrNotFound = errors.New("record not found")
)

// MaxMessagesPerConversation caps a conversation's message sequence.
const MaxMessagesPerConversation = 1000

// MaxTagsPerConversation caps tag edges per conversation.
const MaxTagsPerConversation = 5

// Store defines persistence for identities, sessions' supporting records,
// conversations, messages, documents, and tags. Mutations that touch a
// conversation's storage-size accumulator are atomic with the row writes
// they account for.
type Store interface {
	// identities
	SaveIdentity(domain.Identity) error
	GetIdentityByHandle(handle string) (domain.Identity, bool, error)
	GetIdentityByID(id string) (domain.Identity, bool, error)
	SetLockout(identityID string, until time.Time) error
	IdentityCount() (int, error)

	// privilege grants (the only path by which a role changes)
	SaveGrant(domain.PrivilegeGrant) error
	HasGrant(identityID, capability string) (bool, error)

	// login attempts, append-only
	AppendLoginAttempt(domain.LoginAttempt) error
	CountFailedAttempts(handle string, since time.Time) (int, error)
	CountAddressAttempts(address string, since time.Time) (int, error)
	PurgeLoginAttemptsBefore(cutoff time.Time) (int64, error)

	// conversations
	CreateConversation(domain.Conversation) error
	GetConversation(id string) (domain.Conversation, bool, error)
	ListConversationsByIdentity(identityID string, limit int) ([]domain.Conversation, error)
	// ListEvictionCandidates returns the identity's conversations whose
	// last access predates the cutoff, ordered by last_accessed_at then ID.
	ListEvictionCandidates(identityID string, cutoff time.Time) ([]domain.Conversation, error)
	TouchConversation(id string, at time.Time) error
	// DeleteConversation cascades to messages, documents, and tag edges
	// (decrementing tag usage) and returns the deleted documents' storage
	// keys so backing objects can be removed.
	DeleteConversation(id string) ([]string, error)

	// messages; AppendMessage enforces the per-conversation cap and updates
	// the accumulator and timestamps atomically with the insert
	AppendMessage(domain.Message) error
	ListMessages(conversationID string, limit int) ([]domain.Message, error)

	// documents; AddDocument updates the accumulator atomically
	AddDocument(domain.Document) error
	ListDocuments(conversationID string) ([]domain.Document, error)

	// usage
	TotalUsage(identityID string) (int64, error)

	// tags
	CreateTag(domain.Tag) error
	GetTag(id string) (domain.Tag, bool, error)
	ListTags() ([]domain.Tag, error)
	DeleteTag(id string) error
	AssignTag(domain.ConversationTag) error
	RemoveTag(conversationID, tagID string) error
	ListConversationTags(conversationID string) ([]domain.ConversationTag, error)
}
