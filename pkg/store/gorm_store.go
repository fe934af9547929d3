package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"tenantchat/pkg/domain"
)

const migrateLockID int64 = 48114811

// AdminCapability is the grant that confers the administrator role.
const AdminCapability = "admin"

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&IdentityModel{},
			&PrivilegeGrantModel{},
			&LoginAttemptModel{},
			&ConversationModel{},
			&MessageModel{},
			&DocumentModel{},
			&TagModel{},
			&ConversationTagModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_conversation_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_conversation_id_fkey
					FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'document_models'
					AND constraint_name = 'document_models_conversation_id_fkey'
				) THEN
					ALTER TABLE document_models
					ADD CONSTRAINT document_models_conversation_id_fkey
					FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'conversation_tag_models'
					AND constraint_name = 'conversation_tag_models_conversation_id_fkey'
				) THEN
					ALTER TABLE conversation_tag_models
					ADD CONSTRAINT conversation_tag_models_conversation_id_fkey
					FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveIdentity registers or updates an identity record.
func (s *GormStore) SaveIdentity(identity domain.Identity) error {
	model := identityToModel(identity)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"handle", "credential_hash", "locked_until", "updated_at"}),
	}).Create(&model).Error
}

// GetIdentityByHandle looks up an identity by handle.
func (s *GormStore) GetIdentityByHandle(handle string) (domain.Identity, bool, error) {
	var model IdentityModel
	if err := s.db.Where("handle = ?", handle).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Identity{}, false, nil
		}
		return domain.Identity{}, false, err
	}
	return s.identityFromModel(model)
}

// GetIdentityByID returns an identity by ID.
func (s *GormStore) GetIdentityByID(id string) (domain.Identity, bool, error) {
	var model IdentityModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Identity{}, false, nil
		}
		return domain.Identity{}, false, err
	}
	return s.identityFromModel(model)
}

// SetLockout stamps the lockout-until time on an identity.
func (s *GormStore) SetLockout(identityID string, until time.Time) error {
	return s.db.Model(&IdentityModel{}).
		Where("id = ?", identityID).
		Updates(map[string]any{
			"locked_until": until.UTC(),
			"updated_at":   time.Now().UTC(),
		}).Error
}

// IdentityCount returns the number of identities.
func (s *GormStore) IdentityCount() (int, error) {
	var count int64
	if err := s.db.Model(&IdentityModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveGrant records a privilege grant.
func (s *GormStore) SaveGrant(grant domain.PrivilegeGrant) error {
	model := grantToModel(grant)
	return s.db.Create(&model).Error
}

// HasGrant reports whether a capability has been granted to an identity.
func (s *GormStore) HasGrant(identityID, capability string) (bool, error) {
	var count int64
	if err := s.db.Model(&PrivilegeGrantModel{}).
		Where("identity_id = ? AND capability = ?", identityID, capability).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// AppendLoginAttempt records one attempt. The log is append-only.
func (s *GormStore) AppendLoginAttempt(attempt domain.LoginAttempt) error {
	model := attemptToModel(attempt)
	return s.db.Create(&model).Error
}

// CountFailedAttempts counts failed attempts for a handle since the given time.
func (s *GormStore) CountFailedAttempts(handle string, since time.Time) (int, error) {
	var count int64
	if err := s.db.Model(&LoginAttemptModel{}).
		Where("handle = ? AND success = false AND created_at >= ?", handle, since.UTC()).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CountAddressAttempts counts all attempts from an origin address since the given time.
func (s *GormStore) CountAddressAttempts(address string, since time.Time) (int, error) {
	var count int64
	if err := s.db.Model(&LoginAttemptModel{}).
		Where("address = ? AND created_at >= ?", address, since.UTC()).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// PurgeLoginAttemptsBefore removes attempts older than the retention cutoff.
func (s *GormStore) PurgeLoginAttemptsBefore(cutoff time.Time) (int64, error) {
	res := s.db.Where("created_at < ?", cutoff.UTC()).Delete(&LoginAttemptModel{})
	return res.RowsAffected, res.Error
}

// CreateConversation creates a new conversation record.
func (s *GormStore) CreateConversation(conversation domain.Conversation) error {
	model := conversationToModel(conversation)
	return s.db.Create(&model).Error
}

// GetConversation returns one conversation by ID.
func (s *GormStore) GetConversation(id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// ListConversationsByIdentity returns an identity's conversations by recency.
func (s *GormStore) ListConversationsByIdentity(identityID string, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []ConversationModel
	if err := s.db.Where("identity_id = ?", identityID).
		Order("last_accessed_at DESC").
		Order("id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Conversation, 0, len(models))
	for _, model := range models {
		items = append(items, conversationFromModel(model))
	}
	return items, nil
}

// ListEvictionCandidates returns conversations last accessed before the
// cutoff, oldest first, tie-broken on ID so eviction order is deterministic.
func (s *GormStore) ListEvictionCandidates(identityID string, cutoff time.Time) ([]domain.Conversation, error) {
	var models []ConversationModel
	if err := s.db.Where("identity_id = ? AND last_accessed_at < ?", identityID, cutoff.UTC()).
		Order("last_accessed_at ASC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Conversation, 0, len(models))
	for _, model := range models {
		items = append(items, conversationFromModel(model))
	}
	return items, nil
}

// TouchConversation refreshes the last-access timestamp.
func (s *GormStore) TouchConversation(id string, at time.Time) error {
	return s.db.Model(&ConversationModel{}).
		Where("id = ?", id).
		Update("last_accessed_at", at.UTC()).Error
}

// DeleteConversation removes a conversation with its messages, documents, and
// tag edges, decrementing tag usage counters. Returns storage keys of the
// deleted documents so callers can remove backing objects.
func (s *GormStore) DeleteConversation(id string) ([]string, error) {
	var keys []string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var docs []DocumentModel
		if err := tx.Where("conversation_id = ?", id).Find(&docs).Error; err != nil {
			return err
		}
		for _, doc := range docs {
			if doc.StorageKey != "" {
				keys = append(keys, doc.StorageKey)
			}
		}
		var edges []ConversationTagModel
		if err := tx.Where("conversation_id = ?", id).Find(&edges).Error; err != nil {
			return err
		}
		for _, edge := range edges {
			if err := tx.Model(&TagModel{}).
				Where("id = ? AND usage_count > 0", edge.TagID).
				UpdateColumn("usage_count", gorm.Expr("usage_count - 1")).Error; err != nil {
				return err
			}
		}
		if err := tx.Delete(&ConversationTagModel{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&MessageModel{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&DocumentModel{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ConversationModel{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// AppendMessage inserts a message and updates the owning conversation's
// message count, storage accumulator, and timestamps in one transaction.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var conversation ConversationModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&conversation, "id = ?", msg.ConversationID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}
		if conversation.MessageCount >= MaxMessagesPerConversation {
			return ErrConversationFull
		}
		model := messageToModel(msg)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		at := msg.CreatedAt.UTC()
		return tx.Model(&ConversationModel{}).
			Where("id = ?", msg.ConversationID).
			Updates(map[string]any{
				"message_count":    gorm.Expr("message_count + 1"),
				"storage_bytes":    gorm.Expr("storage_bytes + ?", msg.SizeBytes),
				"updated_at":       at,
				"last_accessed_at": at,
			}).Error
	})
}

// ListMessages returns a conversation's messages in creation order.
func (s *GormStore) ListMessages(conversationID string, limit int) ([]domain.Message, error) {
	query := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []MessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return msgs, nil
}

// AddDocument inserts a document and updates the conversation accumulator in
// one transaction.
func (s *GormStore) AddDocument(doc domain.Document) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var conversation ConversationModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&conversation, "id = ?", doc.ConversationID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}
		model := documentToModel(doc)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		at := doc.CreatedAt.UTC()
		return tx.Model(&ConversationModel{}).
			Where("id = ?", doc.ConversationID).
			Updates(map[string]any{
				"storage_bytes":    gorm.Expr("storage_bytes + ?", doc.SizeBytes),
				"updated_at":       at,
				"last_accessed_at": at,
			}).Error
	})
}

// ListDocuments returns a conversation's documents in creation order.
func (s *GormStore) ListDocuments(conversationID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(models))
	for _, model := range models {
		docs = append(docs, documentFromModel(model))
	}
	return docs, nil
}

// TotalUsage sums an identity's conversation storage accumulators.
func (s *GormStore) TotalUsage(identityID string) (int64, error) {
	var total sql.NullInt64
	if err := s.db.Model(&ConversationModel{}).
		Where("identity_id = ?", identityID).
		Select("SUM(storage_bytes)").
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total.Int64, nil
}

// CreateTag stores a new tag.
func (s *GormStore) CreateTag(tag domain.Tag) error {
	model, err := tagToModel(tag)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// GetTag returns one tag by ID.
func (s *GormStore) GetTag(id string) (domain.Tag, bool, error) {
	var model TagModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Tag{}, false, nil
		}
		return domain.Tag{}, false, err
	}
	return tagFromModel(model), true, nil
}

// ListTags returns all tags ordered by name.
func (s *GormStore) ListTags() ([]domain.Tag, error) {
	var models []TagModel
	if err := s.db.Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	tags := make([]domain.Tag, 0, len(models))
	for _, model := range models {
		tags = append(tags, tagFromModel(model))
	}
	return tags, nil
}

// DeleteTag hard-deletes a tag; refused while its usage counter is nonzero.
func (s *GormStore) DeleteTag(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var model TagModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}
		if model.UsageCount > 0 {
			return ErrTagInUse
		}
		return tx.Delete(&TagModel{}, "id = ?", id).Error
	})
}

// AssignTag creates a tag edge, enforcing the per-conversation cap and
// bumping the tag usage counter. Re-assigning an existing edge updates its
// source and confidence instead of counting twice.
func (s *GormStore) AssignTag(edge domain.ConversationTag) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing ConversationTagModel
		err := tx.Where("conversation_id = ? AND tag_id = ?", edge.ConversationID, edge.TagID).
			First(&existing).Error
		if err == nil {
			return tx.Model(&ConversationTagModel{}).
				Where("conversation_id = ? AND tag_id = ?", edge.ConversationID, edge.TagID).
				Updates(map[string]any{
					"assigned_by": string(edge.AssignedBy),
					"confidence":  edge.Confidence,
				}).Error
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}
		var count int64
		if err := tx.Model(&ConversationTagModel{}).
			Where("conversation_id = ?", edge.ConversationID).
			Count(&count).Error; err != nil {
			return err
		}
		if count >= MaxTagsPerConversation {
			return ErrTagLimitReached
		}
		model := edgeToModel(edge)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Model(&TagModel{}).
			Where("id = ?", edge.TagID).
			UpdateColumn("usage_count", gorm.Expr("usage_count + 1")).Error
	})
}

// RemoveTag deletes a tag edge and decrements the usage counter.
func (s *GormStore) RemoveTag(conversationID, tagID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&ConversationTagModel{}, "conversation_id = ? AND tag_id = ?", conversationID, tagID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Model(&TagModel{}).
			Where("id = ? AND usage_count > 0", tagID).
			UpdateColumn("usage_count", gorm.Expr("usage_count - 1")).Error
	})
}

// ListConversationTags returns the tag edges for a conversation.
func (s *GormStore) ListConversationTags(conversationID string) ([]domain.ConversationTag, error) {
	var models []ConversationTagModel
	if err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	edges := make([]domain.ConversationTag, 0, len(models))
	for _, model := range models {
		edges = append(edges, edgeFromModel(model))
	}
	return edges, nil
}

func (s *GormStore) identityFromModel(m IdentityModel) (domain.Identity, bool, error) {
	identity := domain.Identity{
		ID:             m.ID,
		Handle:         m.Handle,
		CredentialHash: m.CredentialHash,
		Role:           domain.RoleUser,
		LockedUntil:    m.LockedUntil,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	isAdmin, err := s.HasGrant(m.ID, AdminCapability)
	if err != nil {
		return domain.Identity{}, false, err
	}
	if isAdmin {
		identity.Role = domain.RoleAdmin
	}
	return identity, true, nil
}

func identityToModel(identity domain.Identity) IdentityModel {
	return IdentityModel{
		ID:             identity.ID,
		Handle:         identity.Handle,
		CredentialHash: identity.CredentialHash,
		LockedUntil:    identity.LockedUntil,
		CreatedAt:      identity.CreatedAt,
		UpdatedAt:      identity.UpdatedAt,
	}
}

func grantToModel(grant domain.PrivilegeGrant) PrivilegeGrantModel {
	return PrivilegeGrantModel{
		ID:         grant.ID,
		IdentityID: grant.IdentityID,
		Capability: grant.Capability,
		GrantedBy:  grant.GrantedBy,
		GrantedAt:  grant.GrantedAt,
	}
}

func attemptToModel(attempt domain.LoginAttempt) LoginAttemptModel {
	return LoginAttemptModel{
		ID:        attempt.ID,
		Handle:    attempt.Handle,
		Address:   attempt.Address,
		Success:   attempt.Success,
		CreatedAt: attempt.CreatedAt,
	}
}

func conversationToModel(c domain.Conversation) ConversationModel {
	return ConversationModel{
		ID:             c.ID,
		IdentityID:     c.IdentityID,
		Title:          c.Title,
		MessageCount:   c.MessageCount,
		StorageBytes:   c.StorageBytes,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		LastAccessedAt: c.LastAccessedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:             m.ID,
		IdentityID:     m.IdentityID,
		Title:          m.Title,
		MessageCount:   m.MessageCount,
		StorageBytes:   m.StorageBytes,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		LastAccessedAt: m.LastAccessedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		SizeBytes:      msg.SizeBytes,
		Cancelled:      msg.Cancelled,
		CreatedAt:      msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           domain.MessageRole(m.Role),
		Content:        m.Content,
		SizeBytes:      m.SizeBytes,
		Cancelled:      m.Cancelled,
		CreatedAt:      m.CreatedAt,
	}
}

func documentToModel(doc domain.Document) DocumentModel {
	return DocumentModel{
		ID:             doc.ID,
		ConversationID: doc.ConversationID,
		Filename:       doc.Filename,
		StorageKey:     doc.StorageKey,
		ContentType:    doc.ContentType,
		SizeBytes:      doc.SizeBytes,
		ExtractedText:  doc.ExtractedText,
		CreatedAt:      doc.CreatedAt,
		LastAccessedAt: doc.LastAccessedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Filename:       m.Filename,
		StorageKey:     m.StorageKey,
		ContentType:    m.ContentType,
		SizeBytes:      m.SizeBytes,
		ExtractedText:  m.ExtractedText,
		CreatedAt:      m.CreatedAt,
		LastAccessedAt: m.LastAccessedAt,
	}
}

func tagToModel(tag domain.Tag) (TagModel, error) {
	keywords, err := json.Marshal(tag.Keywords)
	if err != nil {
		return TagModel{}, fmt.Errorf("marshal tag keywords: %w", err)
	}
	return TagModel{
		ID:         tag.ID,
		Name:       tag.Name,
		Keywords:   keywords,
		CreatedBy:  tag.CreatedBy,
		UsageCount: tag.UsageCount,
		CreatedAt:  tag.CreatedAt,
	}, nil
}

func tagFromModel(m TagModel) domain.Tag {
	var keywords []string
	if len(m.Keywords) > 0 {
		_ = json.Unmarshal(m.Keywords, &keywords)
	}
	return domain.Tag{
		ID:         m.ID,
		Name:       m.Name,
		Keywords:   keywords,
		CreatedBy:  m.CreatedBy,
		UsageCount: m.UsageCount,
		CreatedAt:  m.CreatedAt,
	}
}

func edgeToModel(edge domain.ConversationTag) ConversationTagModel {
	return ConversationTagModel{
		ConversationID: edge.ConversationID,
		TagID:          edge.TagID,
		AssignedBy:     string(edge.AssignedBy),
		Confidence:     edge.Confidence,
		CreatedAt:      edge.CreatedAt,
	}
}

func edgeFromModel(m ConversationTagModel) domain.ConversationTag {
	return domain.ConversationTag{
		ConversationID: m.ConversationID,
		TagID:          m.TagID,
		AssignedBy:     domain.AssignmentSource(m.AssignedBy),
		Confidence:     m.Confidence,
		CreatedAt:      m.CreatedAt,
	}
}
