package client

import (
	"context"
	"sync"
)

// Transcript is the client-side view of one conversation.
type Transcript struct {
	client *Client

	Model        string
	SystemPrompt *string
	WebSearch    bool

	mu             sync.Mutex
	messages       []Message
	conversationID int64
}

func NewTranscript(c *Client, model string) *Transcript {
	return &Transcript{client: c, Model: model}
}

// Resume binds the transcript to an existing conversation.
func (t *Transcript) Resume(conversationID int64, history []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conversationID = conversationID
	t.messages = append([]Message(nil), history...)
}

// Messages returns a copy of the committed turns.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.messages...)
}

// ConversationID reports the bound conversation, if any.
func (t *Transcript) ConversationID() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conversationID, t.conversationID > 0
}

// Send streams a reply to content. The user turn joins the history before
// the request goes out and stays once the server accepted it. The reply is
// committed when the stream completes, in-band error text included; a
// cancelled or broken stream drops the partial reply.
func (t *Transcript) Send(ctx context.Context, content string, tempIDs []string, onDelta func(string)) (*Result, error) {
	t.mu.Lock()
	t.messages = append(t.messages, Message{Role: "user", Content: content})
	turn := len(t.messages) - 1
	req := StreamRequest{
		Messages:          append([]Message(nil), t.messages...),
		Model:             t.Model,
		SystemPrompt:      t.SystemPrompt,
		AttachmentTempIDs: tempIDs,
		WebSearch:         t.WebSearch,
	}
	if t.conversationID > 0 {
		id := t.conversationID
		req.ConversationID = &id
	}
	t.mu.Unlock()

	res, err := t.client.Stream(ctx, req, onDelta)

	t.mu.Lock()
	defer t.mu.Unlock()
	if res == nil {
		// Rejected before the server stored anything.
		t.messages = append(t.messages[:turn], t.messages[turn+1:]...)
		return res, err
	}
	if res.ConversationID > 0 {
		t.conversationID = res.ConversationID
	}
	if err != nil {
		return res, err
	}
	if res.Text != "" {
		t.messages = append(t.messages, Message{Role: "assistant", Content: res.Text})
	}
	return res, nil
}
