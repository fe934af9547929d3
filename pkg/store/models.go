package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type IdentityModel struct {
	ID             string `gorm:"primaryKey"`
	Handle         string `gorm:"uniqueIndex;not null"`
	CredentialHash string `gorm:"not null"`
	LockedUntil    *time.Time
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time
}

type PrivilegeGrantModel struct {
	ID         string    `gorm:"primaryKey"`
	IdentityID string    `gorm:"not null;index:idx_grant_identity_cap"`
	Capability string    `gorm:"not null;index:idx_grant_identity_cap"`
	GrantedBy  string    `gorm:"not null"`
	GrantedAt  time.Time `gorm:"not null"`
}

type LoginAttemptModel struct {
	ID        string    `gorm:"primaryKey"`
	Handle    string    `gorm:"not null;index:idx_attempt_handle_time"`
	Address   string    `gorm:"not null;index:idx_attempt_addr_time"`
	Success   bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_attempt_handle_time;index:idx_attempt_addr_time"`
}

type ConversationModel struct {
	ID             string    `gorm:"primaryKey"`
	IdentityID     string    `gorm:"not null;index"`
	Title          string    `gorm:"not null"`
	MessageCount   int       `gorm:"not null"`
	StorageBytes   int64     `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
	LastAccessedAt time.Time `gorm:"not null;index"`
}

type MessageModel struct {
	ID             string    `gorm:"primaryKey"`
	ConversationID string    `gorm:"not null;index"`
	Role           string    `gorm:"not null"`
	Content        string    `gorm:"type:text;not null"`
	SizeBytes      int64     `gorm:"not null"`
	Cancelled      bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"not null;index"`
}

type DocumentModel struct {
	ID             string    `gorm:"primaryKey"`
	ConversationID string    `gorm:"not null;index"`
	Filename       string    `gorm:"not null"`
	StorageKey     string    `gorm:"not null"`
	ContentType    string    `gorm:"not null"`
	SizeBytes      int64     `gorm:"not null"`
	ExtractedText  string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"not null"`
	LastAccessedAt time.Time `gorm:"not null"`
}

type TagModel struct {
	ID         string         `gorm:"primaryKey"`
	Name       string         `gorm:"uniqueIndex;not null"`
	Keywords   datatypes.JSON `gorm:"type:jsonb"`
	CreatedBy  string         `gorm:"not null"`
	UsageCount int            `gorm:"not null"`
	CreatedAt  time.Time      `gorm:"not null"`
}

type ConversationTagModel struct {
	ConversationID string    `gorm:"primaryKey"`
	TagID          string    `gorm:"primaryKey"`
	AssignedBy     string    `gorm:"not null"`
	Confidence     float64   `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
}
