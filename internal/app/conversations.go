package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tenantchat/internal/quota"
	"tenantchat/internal/stream"
	"tenantchat/internal/util"
	"tenantchat/pkg/domain"
	"tenantchat/pkg/extract"
	"tenantchat/pkg/store"

	"github.com/google/uuid"
)

const (
	// MaxTitleChars bounds a conversation title.
	MaxTitleChars = 200
	// MaxUserMessageChars bounds a user message.
	MaxUserMessageChars = 10000
	// MaxDocumentBytes bounds one uploaded document.
	MaxDocumentBytes = 50 << 20
	// maxPromptContextChars bounds how much extracted document text is
	// folded into the system prompt.
	maxPromptContextChars = 6000

	systemPrompt = "You are a helpful assistant. Answer using the conversation history and any attached document excerpts."
)

// CreateConversation opens an empty conversation for the identity.
func (a *App) CreateConversation(identityID, title string) (domain.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Conversation{}, validationErr("title is required")
	}
	if len([]rune(title)) > MaxTitleChars {
		return domain.Conversation{}, validationErr("title exceeds %d characters", MaxTitleChars)
	}
	now := a.now()
	conversation := domain.Conversation{
		ID:             util.NewID(),
		IdentityID:     identityID,
		Title:          title,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
	}
	if err := a.store.CreateConversation(conversation); err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conversation, nil
}

// ListConversations returns the identity's conversations, most recently
// accessed first.
func (a *App) ListConversations(identityID string, limit int) ([]domain.Conversation, error) {
	conversations, err := a.store.ListConversationsByIdentity(identityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return conversations, nil
}

// ListMessages returns a conversation's messages in creation order and
// refreshes its last-access time.
func (a *App) ListMessages(identityID, conversationID string, limit int) ([]domain.Message, error) {
	conversation, err := a.ownedConversation(identityID, conversationID)
	if err != nil {
		return nil, err
	}
	messages, err := a.store.ListMessages(conversation.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if err := a.store.TouchConversation(conversation.ID, a.now()); err != nil {
		a.logger.Warn("touch conversation", slog.Any("error", err))
	}
	return messages, nil
}

// DeleteConversation removes a conversation, its messages, documents,
// tag edges, and backing files. A conversation with an active stream
// cannot be deleted.
func (a *App) DeleteConversation(ctx context.Context, identityID, conversationID string) error {
	conversation, err := a.ownedConversation(identityID, conversationID)
	if err != nil {
		return err
	}
	if a.streams.IsStreaming(conversation.ID) {
		return ErrConcurrentStream
	}
	keys, err := a.store.DeleteConversation(conversation.ID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	for _, key := range keys {
		if err := a.objects.Delete(ctx, key); err != nil {
			a.logger.Error("delete backing file",
				slog.String("key", key), slog.Any("error", err))
		}
	}
	return nil
}

// SendMessage persists the user message and opens the assistant stream
// for the conversation. The caller consumes fragments through the
// returned handle; persistence of the assistant reply happens inside
// the coordinator on every terminal path that produced output.
func (a *App) SendMessage(ctx context.Context, identityID, conversationID, content string) (*stream.Handle, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, validationErr("message content is required")
	}
	if len([]rune(content)) > MaxUserMessageChars {
		return nil, validationErr("message exceeds %d characters", MaxUserMessageChars)
	}
	conversation, err := a.ownedConversation(identityID, conversationID)
	if err != nil {
		return nil, err
	}
	if a.streams.IsStreaming(conversation.ID) {
		return nil, ErrConcurrentStream
	}

	message := domain.Message{
		ID:             util.NewID(),
		ConversationID: conversation.ID,
		Role:           domain.MessageRoleUser,
		Content:        content,
		SizeBytes:      int64(len(content)),
		CreatedAt:      a.now(),
	}
	if err := a.store.AppendMessage(message); err != nil {
		if errors.Is(err, store.ErrConversationFull) {
			return nil, validationErr("conversation message limit reached")
		}
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	a.quota.OnUsageChanged(identityID)

	prompt, err := a.buildPrompt(conversation.ID, content)
	if err != nil {
		return nil, err
	}
	handle, err := a.streams.Start(ctx, conversation, systemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// buildPrompt folds recent history and attached document excerpts
// around the new user message.
func (a *App) buildPrompt(conversationID, content string) (string, error) {
	var b strings.Builder
	documents, err := a.store.ListDocuments(conversationID)
	if err != nil {
		return "", fmt.Errorf("list documents: %w", err)
	}
	remaining := maxPromptContextChars
	for _, document := range documents {
		if remaining <= 0 {
			break
		}
		text := document.ExtractedText
		if text == "" {
			continue
		}
		if len(text) > remaining {
			text = text[:remaining]
		}
		fmt.Fprintf(&b, "[document %s]\n%s\n\n", document.Filename, text)
		remaining -= len(text)
	}
	b.WriteString(content)
	return b.String(), nil
}

// OnAssistantPersisted is the coordinator's persist hook: it triggers a
// quota pass and hands the conversation to the tag suggestion worker.
func (a *App) OnAssistantPersisted(conversationID, identityID string) {
	a.quota.OnUsageChanged(identityID)
	if a.tagQueue != nil {
		if err := a.tagQueue.Enqueue(context.Background(), conversationID); err != nil {
			a.logger.Warn("enqueue tag suggestion", slog.Any("error", err))
		}
		return
	}
	if _, err := a.tags.AutoAssign(conversationID); err != nil {
		a.logger.Warn("auto assign tags", slog.Any("error", err))
	}
}

// UploadDocument attaches a file to a conversation. The upload is
// refused outright when even a full eviction pass could not bring the
// projected usage under the ceiling; otherwise the write proceeds and
// eviction runs out of band.
func (a *App) UploadDocument(ctx context.Context, identityID, conversationID, filename, contentType string, data []byte) (domain.Document, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return domain.Document{}, validationErr("filename is required")
	}
	if int64(len(data)) > MaxDocumentBytes {
		return domain.Document{}, ErrDocumentTooLarge
	}
	if len(data) == 0 {
		return domain.Document{}, validationErr("document is empty")
	}
	if !extract.Supported(contentType) {
		return domain.Document{}, ErrUnsupportedType
	}
	conversation, err := a.ownedConversation(identityID, conversationID)
	if err != nil {
		return domain.Document{}, err
	}

	if err := a.checkQuotaRoom(identityID, int64(len(data))); err != nil {
		return domain.Document{}, err
	}

	text, err := extract.Text(data, contentType)
	if err != nil {
		a.logger.Warn("text extraction failed",
			slog.String("filename", filename), slog.Any("error", err))
		text = ""
	}

	key := "documents/" + uuid.NewString()
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return domain.Document{}, fmt.Errorf("store document bytes: %w", err)
	}

	now := a.now()
	document := domain.Document{
		ID:             util.NewID(),
		ConversationID: conversation.ID,
		Filename:       filename,
		StorageKey:     key,
		ContentType:    contentType,
		SizeBytes:      int64(len(data)),
		ExtractedText:  text,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if err := a.store.AddDocument(document); err != nil {
		// Roll back the object so no orphan outlives the failed row.
		if delErr := a.objects.Delete(ctx, key); delErr != nil {
			a.logger.Error("orphaned object cleanup failed",
				slog.String("key", key), slog.Any("error", delErr))
		}
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}
	a.quota.OnUsageChanged(identityID)
	return document, nil
}

// DocumentURL returns a presigned download link for a document.
func (a *App) DocumentURL(ctx context.Context, identityID, conversationID, documentID string) (string, error) {
	conversation, err := a.ownedConversation(identityID, conversationID)
	if err != nil {
		return "", err
	}
	documents, err := a.store.ListDocuments(conversation.ID)
	if err != nil {
		return "", fmt.Errorf("list documents: %w", err)
	}
	for _, document := range documents {
		if document.ID == documentID {
			url, err := a.objects.PresignGet(ctx, document.StorageKey, 15*time.Minute)
			if err != nil {
				return "", fmt.Errorf("presign document: %w", err)
			}
			return url, nil
		}
	}
	return "", ErrNotFound
}

// Usage reports the identity's storage standing, including the
// read-only eviction plan when over the ceiling.
func (a *App) Usage(identityID string) (quota.EvictionPlan, error) {
	return a.quota.Plan(identityID)
}

// checkQuotaRoom refuses a write of addedBytes when the projected usage
// is over the ceiling and eviction could not resolve it. When eviction
// can make room, the write proceeds and the pass runs out of band.
func (a *App) checkQuotaRoom(identityID string, addedBytes int64) error {
	plan, err := a.quota.PlanProjected(identityID, addedBytes)
	if err != nil {
		return err
	}
	if !plan.Resolvable {
		return &QuotaExceededError{Plan: plan}
	}
	return nil
}

func (a *App) ownedConversation(identityID, conversationID string) (domain.Conversation, error) {
	conversation, found, err := a.store.GetConversation(conversationID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	if !found || conversation.IdentityID != identityID {
		return domain.Conversation{}, ErrNotFound
	}
	return conversation, nil
}
