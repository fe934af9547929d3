package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"tenantchat/internal/util"
	"tenantchat/pkg/ai"
	"tenantchat/pkg/domain"
	"tenantchat/pkg/store"
)

const (
	// ResponseCharCap bounds a persisted assistant message.
	ResponseCharCap = 4000
	// DefaultIdleTimeout aborts a stream that produces no fragment for
	// this long.
	DefaultIdleTimeout = 60 * time.Second

	fragmentBuffer = 16
)

var (
	// ErrStreamConflict is returned when a conversation already has an
	// active stream.
	ErrStreamConflict = errors.New("conversation already has an active stream")

	// ErrStreamTimeout marks a stream aborted for producing no fragment
	// within the idle window.
	ErrStreamTimeout = errors.New("stream produced no fragment within the idle window")
)

// Coordinator drives one inference call per invocation: it relays
// fragments to the caller in generation order, accumulates them into a
// pending body, and persists exactly one assistant message on
// completion or cancellation. At most one stream is active per
// conversation.
type Coordinator struct {
	store     store.Store
	generator ai.StreamGenerator
	logger    *slog.Logger

	now         func() time.Time
	idleTimeout time.Duration
	onPersisted func(conversationID, identityID string)

	mu     sync.Mutex
	active map[string]struct{}
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// WithIdleTimeout overrides the no-fragment abort window.
func WithIdleTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.idleTimeout = timeout
		}
	}
}

// WithPersistListener registers a callback invoked after an assistant
// message is persisted, off the relay path. The quota enforcer and tag
// engine hang off this hook.
func WithPersistListener(fn func(conversationID, identityID string)) CoordinatorOption {
	return func(c *Coordinator) { c.onPersisted = fn }
}

// NewCoordinator builds a coordinator over the store and generator.
func NewCoordinator(st store.Store, generator ai.StreamGenerator, logger *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		store:       st,
		generator:   generator,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		idleTimeout: DefaultIdleTimeout,
		active:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle exposes one in-flight stream to its caller. Fragments arrive
// in generation order; the channel closes at the terminal state, after
// which Wait reports the outcome.
type Handle struct {
	fragments chan string
	done      chan struct{}
	message   domain.Message
	err       error
}

// Fragments returns the ordered fragment channel. It is closed when the
// stream reaches a terminal state.
func (h *Handle) Fragments() <-chan string { return h.fragments }

// Wait blocks until the stream terminates. On completion or
// cancellation it returns the persisted message; on failure it returns
// the error and no message was persisted.
func (h *Handle) Wait() (domain.Message, error) {
	<-h.done
	return h.message, h.err
}

func (h *Handle) finish(message domain.Message, err error) {
	h.message = message
	h.err = err
	close(h.fragments)
	close(h.done)
}

// Start opens the inference call for the conversation and begins
// relaying. Cancelling ctx mid-stream persists the partial body
// accumulated so far, marked cancelled; callers observe terminal state
// through the returned handle.
func (c *Coordinator) Start(ctx context.Context, conversation domain.Conversation, systemPrompt, userPrompt string) (*Handle, error) {
	if !c.acquire(conversation.ID) {
		return nil, ErrStreamConflict
	}

	genCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	upstream, err := c.generator.GenerateStream(genCtx, systemPrompt, userPrompt)
	if err != nil {
		cancel()
		c.release(conversation.ID)
		return nil, fmt.Errorf("open inference stream: %w", err)
	}

	h := &Handle{
		fragments: make(chan string, fragmentBuffer),
		done:      make(chan struct{}),
	}
	go c.run(ctx, cancel, upstream, conversation, h)
	return h, nil
}

// IsStreaming reports whether the conversation has an active stream.
func (c *Coordinator) IsStreaming(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[conversationID]
	return ok
}

type recvResult struct {
	fragment string
	err      error
}

func (c *Coordinator) run(ctx context.Context, cancelUpstream context.CancelFunc, upstream ai.Stream, conversation domain.Conversation, h *Handle) {
	defer c.release(conversation.ID)
	defer cancelUpstream()
	defer func() { _ = upstream.Close() }()

	recvCh := make(chan recvResult)
	readerDone := make(chan struct{})
	defer close(readerDone)
	go func() {
		for {
			fragment, err := upstream.Recv()
			select {
			case recvCh <- recvResult{fragment: fragment, err: err}:
			case <-readerDone:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var body []rune
	idle := time.NewTimer(c.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			c.finishCancelled(conversation, h, body)
			return

		case <-idle.C:
			c.logger.Warn("stream idle timeout",
				slog.String("conversation_id", conversation.ID))
			h.finish(domain.Message{}, ErrStreamTimeout)
			return

		case r := <-recvCh:
			if r.err == io.EOF {
				c.finishCompleted(conversation, h, body, false)
				return
			}
			if r.err != nil {
				// Upstream failure: nothing is persisted.
				h.finish(domain.Message{}, fmt.Errorf("inference stream: %w", r.err))
				return
			}

			accepted, full := appendCapped(body, r.fragment, ResponseCharCap)
			delivered := string(accepted[len(body):])
			body = accepted
			if delivered != "" {
				select {
				case h.fragments <- delivered:
				case <-ctx.Done():
					c.finishCancelled(conversation, h, body)
					return
				}
			}
			if full {
				// The response cap is a normal terminal state.
				c.finishCompleted(conversation, h, body, true)
				return
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(c.idleTimeout)
		}
	}
}

func (c *Coordinator) finishCompleted(conversation domain.Conversation, h *Handle, body []rune, capped bool) {
	message, err := c.persist(conversation, string(body), false)
	if err != nil {
		h.finish(domain.Message{}, err)
		return
	}
	if capped {
		c.logger.Info("response truncated at cap",
			slog.String("conversation_id", conversation.ID))
	}
	h.finish(message, nil)
}

// finishCancelled persists everything accepted from the model before
// cancellation. Fragments already accepted but still buffered toward
// the client are part of the body, so the persisted message can run
// ahead of what the transport handed out. Cancellation is a normal
// terminal state, not an error, so the handle reports the partial
// message with no error. When no fragment was accepted yet there is no
// partial output to keep.
func (c *Coordinator) finishCancelled(conversation domain.Conversation, h *Handle, body []rune) {
	if len(body) == 0 {
		h.finish(domain.Message{}, nil)
		return
	}
	message, err := c.persist(conversation, string(body), true)
	if err != nil {
		h.finish(domain.Message{}, err)
		return
	}
	h.finish(message, nil)
}

func (c *Coordinator) persist(conversation domain.Conversation, content string, cancelled bool) (domain.Message, error) {
	message := domain.Message{
		ID:             util.NewID(),
		ConversationID: conversation.ID,
		Role:           domain.MessageRoleAssistant,
		Content:        content,
		SizeBytes:      int64(len(content)),
		Cancelled:      cancelled,
		CreatedAt:      c.now(),
	}
	if err := c.store.AppendMessage(message); err != nil {
		return domain.Message{}, fmt.Errorf("persist assistant message: %w", err)
	}
	if c.onPersisted != nil {
		go c.onPersisted(conversation.ID, conversation.IdentityID)
	}
	return message, nil
}

func (c *Coordinator) acquire(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[conversationID]; ok {
		return false
	}
	c.active[conversationID] = struct{}{}
	return true
}

func (c *Coordinator) release(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, conversationID)
}

// appendCapped appends fragment runes onto body up to the limit and
// reports whether the limit was reached.
func appendCapped(body []rune, fragment string, limit int) ([]rune, bool) {
	for _, r := range fragment {
		if len(body) >= limit {
			return body, true
		}
		body = append(body, r)
	}
	return body, len(body) >= limit
}
