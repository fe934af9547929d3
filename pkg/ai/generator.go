package ai

import "context"

// StreamGenerator produces model output as a lazy sequence of text fragments.
// Cancelling the context aborts generation and releases backend resources.
type StreamGenerator interface {
	GenerateStream(ctx context.Context, systemPrompt, userPrompt string) (Stream, error)
}

// Stream yields fragments in generation order. Recv returns io.EOF after the
// final fragment on normal completion, or the upstream error on failure.
// Close releases the underlying connection and is safe to call at any point.
type Stream interface {
	Recv() (string, error)
	Close() error
}
