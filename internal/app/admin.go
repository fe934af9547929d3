package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tenantchat/internal/tags"
	"tenantchat/internal/util"
	"tenantchat/pkg/audit"
	"tenantchat/pkg/domain"
	"tenantchat/pkg/store"
)

const maxTagKeywords = 20

// CreateTag defines a process-wide tag. Administrator-scoped.
func (a *App) CreateTag(actorID, name string, keywords []string) (domain.Tag, error) {
	if err := a.requireAdmin(actorID); err != nil {
		return domain.Tag{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Tag{}, validationErr("tag name is required")
	}
	cleaned := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		cleaned = append(cleaned, keyword)
	}
	if len(cleaned) > maxTagKeywords {
		return domain.Tag{}, validationErr("at most %d keywords per tag", maxTagKeywords)
	}
	tag := domain.Tag{
		ID:        util.NewID(),
		Name:      name,
		Keywords:  cleaned,
		CreatedBy: actorID,
		CreatedAt: a.now(),
	}
	if err := a.store.CreateTag(tag); err != nil {
		return domain.Tag{}, fmt.Errorf("create tag: %w", err)
	}
	return tag, nil
}

// DeleteTag removes a tag. A tag still assigned anywhere is refused.
func (a *App) DeleteTag(actorID, tagID string) error {
	if err := a.requireAdmin(actorID); err != nil {
		return err
	}
	if err := a.store.DeleteTag(tagID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// ListTags returns every tag.
func (a *App) ListTags() ([]domain.Tag, error) {
	return a.store.ListTags()
}

// AssignTag manually attaches a tag to one of the caller's
// conversations.
func (a *App) AssignTag(identityID, conversationID, tagID string) error {
	conversation, err := a.ownedConversation(identityID, conversationID)
	if err != nil {
		return err
	}
	if _, found, err := a.store.GetTag(tagID); err != nil {
		return fmt.Errorf("load tag: %w", err)
	} else if !found {
		return ErrNotFound
	}
	return a.store.AssignTag(domain.ConversationTag{
		ConversationID: conversation.ID,
		TagID:          tagID,
		AssignedBy:     domain.AssignedManually,
		CreatedAt:      a.now(),
	})
}

// RemoveTag detaches a tag from one of the caller's conversations.
func (a *App) RemoveTag(identityID, conversationID, tagID string) error {
	conversation, err := a.ownedConversation(identityID, conversationID)
	if err != nil {
		return err
	}
	if err := a.store.RemoveTag(conversation.ID, tagID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// ConversationTags lists the tag edges on one of the caller's
// conversations.
func (a *App) ConversationTags(identityID, conversationID string) ([]domain.ConversationTag, error) {
	conversation, err := a.ownedConversation(identityID, conversationID)
	if err != nil {
		return nil, err
	}
	return a.store.ListConversationTags(conversation.ID)
}

// SuggestTags scores the caller's conversation against every tag
// without assigning anything.
func (a *App) SuggestTags(identityID, conversationID string) ([]tags.Suggestion, error) {
	conversation, err := a.ownedConversation(identityID, conversationID)
	if err != nil {
		return nil, err
	}
	messages, err := a.store.ListMessages(conversation.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	var b strings.Builder
	for _, message := range messages {
		b.WriteString(message.Content)
		b.WriteString("\n")
	}
	return a.tags.Suggest(b.String())
}

// ProcessTagSuggestion is the tag queue's handler: it auto-assigns
// high-confidence tags for the conversation.
func (a *App) ProcessTagSuggestion(_ context.Context, conversationID string) error {
	_, err := a.tags.AutoAssign(conversationID)
	return err
}

// GrantPrivilege confers a capability on an identity. This is the only
// path by which a role changes, and every grant is audited.
func (a *App) GrantPrivilege(ctx context.Context, actorID, targetIdentityID, capability string) error {
	if err := a.requireAdmin(actorID); err != nil {
		return err
	}
	capability = strings.TrimSpace(capability)
	if capability == "" {
		return validationErr("capability is required")
	}
	target, found, err := a.store.GetIdentityByID(targetIdentityID)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	if !found {
		return ErrNotFound
	}
	grant := domain.PrivilegeGrant{
		ID:         util.NewID(),
		IdentityID: target.ID,
		Capability: capability,
		GrantedBy:  actorID,
		GrantedAt:  a.now(),
	}
	if err := a.store.SaveGrant(grant); err != nil {
		return fmt.Errorf("save grant: %w", err)
	}
	a.logger.Info("privilege granted",
		slog.String("actor_id", actorID),
		slog.String("identity_id", target.ID),
		slog.String("capability", capability))
	if err := a.audit.Publish(ctx, audit.Event{
		Action:     audit.ActionPrivilegeGranted,
		ActorID:    actorID,
		SubjectID:  target.ID,
		Detail:     capability,
		OccurredAt: a.now(),
	}); err != nil {
		a.logger.Warn("audit publish failed", slog.Any("error", err))
	}
	return nil
}
