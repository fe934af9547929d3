package domain

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// AssignmentSource records how a tag ended up on a conversation.
type AssignmentSource string

const (
	AssignedBySystem AssignmentSource = "system"
	AssignedManually AssignmentSource = "manual"
)

// Identity is an authenticated account. Role is never stored as a mutable
// flag on the record; it is derived from privilege grants.
type Identity struct {
	ID             string     `json:"id"`
	Handle         string     `json:"handle"`
	CredentialHash string     `json:"-"`
	Role           Role       `json:"role"`
	LockedUntil    *time.Time `json:"-"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// PrivilegeGrant is the audited capability record that confers a role.
type PrivilegeGrant struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identityId"`
	Capability string    `json:"capability"`
	GrantedBy  string    `json:"grantedBy"`
	GrantedAt  time.Time `json:"grantedAt"`
}

// Session is a time-bounded proof of authentication tied to one identity.
// Expiry is always derived from LastActivity plus the registry idle timeout.
type Session struct {
	Token        string    `json:"token"`
	IdentityID   string    `json:"identityId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// LoginAttempt is an append-only record; lockout and rate-limit decisions are
// derived from this log rather than cached counters.
type LoginAttempt struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`
	Address   string    `json:"address"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"createdAt"`
}

type Conversation struct {
	ID             string    `json:"id"`
	IdentityID     string    `json:"identityId"`
	Title          string    `json:"title"`
	MessageCount   int       `json:"messageCount"`
	StorageBytes   int64     `json:"storageBytes"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	SizeBytes      int64       `json:"sizeBytes"`
	Cancelled      bool        `json:"cancelled,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

type Document struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Filename       string    `json:"filename"`
	StorageKey     string    `json:"-"`
	ContentType    string    `json:"contentType"`
	SizeBytes      int64     `json:"sizeBytes"`
	ExtractedText  string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// Tag is process-wide and administrator-owned. Keywords drive system
// suggestions; UsageCount guards against hard-deleting tags in use.
type Tag struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Keywords   []string  `json:"keywords"`
	CreatedBy  string    `json:"createdBy"`
	UsageCount int       `json:"usageCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ConversationTag is a tag-to-conversation edge. Confidence is only
// meaningful for system assignments.
type ConversationTag struct {
	ConversationID string           `json:"conversationId"`
	TagID          string           `json:"tagId"`
	AssignedBy     AssignmentSource `json:"assignedBy"`
	Confidence     float64          `json:"confidence,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}
