package tags

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"tenantchat/pkg/domain"
	"tenantchat/pkg/store"
)

// DefaultAutoAssignThreshold is the confidence above which a suggestion
// is applied automatically rather than merely surfaced.
const DefaultAutoAssignThreshold = 0.5

// Suggestion is one confidence-scored tag match for a conversation.
type Suggestion struct {
	TagID      string  `json:"tagId"`
	TagName    string  `json:"tagName"`
	Confidence float64 `json:"confidence"`
}

// Engine matches conversation content against administrator-defined tag
// keyword sets. It runs after message persistence, off the response
// path.
type Engine struct {
	store     store.Store
	logger    *slog.Logger
	now       func() time.Time
	threshold float64
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithAutoAssignThreshold overrides the auto-apply confidence threshold.
func WithAutoAssignThreshold(threshold float64) EngineOption {
	return func(e *Engine) {
		if threshold > 0 && threshold <= 1 {
			e.threshold = threshold
		}
	}
}

// NewEngine builds an engine over the store.
func NewEngine(st store.Store, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:     st,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		threshold: DefaultAutoAssignThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Suggest scores every active tag against the content. Confidence is
// the fraction of the tag's keywords found in the content; tags with no
// keyword hit are omitted. Results are ordered by confidence descending
// with name as the deterministic tie-break.
func (e *Engine) Suggest(content string) ([]Suggestion, error) {
	tags, err := e.store.ListTags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	haystack := strings.ToLower(content)
	suggestions := make([]Suggestion, 0)
	for _, tag := range tags {
		confidence := score(haystack, tag.Keywords)
		if confidence <= 0 {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			TagID:      tag.ID,
			TagName:    tag.Name,
			Confidence: confidence,
		})
	}
	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		return suggestions[i].TagName < suggestions[j].TagName
	})
	return suggestions, nil
}

// AutoAssign suggests tags for the conversation's message content and
// applies the ones above the threshold, highest confidence first, never
// pushing the conversation past its tag cap. It returns how many edges
// were created.
func (e *Engine) AutoAssign(conversationID string) (int, error) {
	messages, err := e.store.ListMessages(conversationID, 0)
	if err != nil {
		return 0, fmt.Errorf("list messages: %w", err)
	}
	var b strings.Builder
	for _, message := range messages {
		b.WriteString(message.Content)
		b.WriteString("\n")
	}
	suggestions, err := e.Suggest(b.String())
	if err != nil {
		return 0, err
	}

	existing, err := e.store.ListConversationTags(conversationID)
	if err != nil {
		return 0, fmt.Errorf("list conversation tags: %w", err)
	}
	assigned := make(map[string]struct{}, len(existing))
	for _, edge := range existing {
		assigned[edge.TagID] = struct{}{}
	}
	capacity := store.MaxTagsPerConversation - len(existing)

	applied := 0
	for _, suggestion := range suggestions {
		if capacity <= 0 {
			break
		}
		if suggestion.Confidence < e.threshold {
			break
		}
		if _, ok := assigned[suggestion.TagID]; ok {
			continue
		}
		err := e.store.AssignTag(domain.ConversationTag{
			ConversationID: conversationID,
			TagID:          suggestion.TagID,
			AssignedBy:     domain.AssignedBySystem,
			Confidence:     suggestion.Confidence,
			CreatedAt:      e.now(),
		})
		if err != nil {
			return applied, fmt.Errorf("assign tag %s: %w", suggestion.TagID, err)
		}
		e.logger.Info("tag auto-assigned",
			slog.String("conversation_id", conversationID),
			slog.String("tag_id", suggestion.TagID),
			slog.Float64("confidence", suggestion.Confidence))
		assigned[suggestion.TagID] = struct{}{}
		capacity--
		applied++
	}
	return applied, nil
}

// score returns the fraction of keywords present in the lowercased
// haystack.
func score(haystack string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	matched := 0
	total := 0
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		total++
		if strings.Contains(haystack, keyword) {
			matched++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total)
}
