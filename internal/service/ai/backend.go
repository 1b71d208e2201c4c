package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Request is one generation call.
type Request struct {
	Model        string
	SystemPrompt string
	// Messages excludes the system prompt; only the final user turn carries
	// attachment parts.
	Messages []*schema.Message
}

// Usage is the token accounting reported by a provider.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Merge folds a later usage report into u. Providers split input and output
// counts across chunks, so zero values never overwrite.
func (u *Usage) Merge(o *Usage) {
	if o == nil {
		return
	}
	if o.InputTokens > 0 {
		u.InputTokens = o.InputTokens
	}
	if o.OutputTokens > 0 {
		u.OutputTokens = o.OutputTokens
	}
}

// Event is a single item of a backend stream: a text delta, a usage report,
// or both.
type Event struct {
	Delta string
	Usage *Usage
}

// Stream yields events until Recv returns io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close()
}

// Backend starts a streamed generation.
type Backend interface {
	Stream(ctx context.Context, req *Request) (Stream, error)
}

// ChatModelBackend adapts an eino chat model to Backend.
type ChatModelBackend struct {
	model model.BaseChatModel
}

func NewChatModelBackend(m model.BaseChatModel) *ChatModelBackend {
	return &ChatModelBackend{model: m}
}

func (b *ChatModelBackend) Stream(ctx context.Context, req *Request) (Stream, error) {
	msgs := make([]*schema.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, schema.SystemMessage(req.SystemPrompt))
	}
	msgs = append(msgs, req.Messages...)
	sr, err := b.model.Stream(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("start stream: %w", err)
	}
	return &chatModelStream{sr: sr}, nil
}

type chatModelStream struct {
	sr *schema.StreamReader[*schema.Message]
}

func (s *chatModelStream) Recv() (Event, error) {
	chunk, err := s.sr.Recv()
	if err != nil {
		return Event{}, err
	}
	ev := Event{Delta: chunk.Content}
	if chunk.ResponseMeta != nil && chunk.ResponseMeta.Usage != nil {
		ev.Usage = &Usage{
			InputTokens:  chunk.ResponseMeta.Usage.PromptTokens,
			OutputTokens: chunk.ResponseMeta.Usage.CompletionTokens,
		}
	}
	return ev, nil
}

func (s *chatModelStream) Close() {
	s.sr.Close()
}
