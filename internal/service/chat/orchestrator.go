// Package chat resolves a chat request into a persisted conversation turn and
// streams the model's reply.
package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"llmchat/internal/config"
	"llmchat/internal/events"
	"llmchat/internal/logging"
	"llmchat/internal/models"
	"llmchat/internal/service/ai"
	"llmchat/internal/service/search"
	"llmchat/internal/uploads"
)

// Store is the persistence the orchestrator needs.
type Store interface {
	GetConversation(ctx context.Context, userID, id int64) (*models.Conversation, error)
	CreateConversation(ctx context.Context, userID int64, model string, systemPrompt *string) (*models.Conversation, error)
	UpdateModel(ctx context.Context, conv *models.Conversation, model string) error
	SetTitleIfUntitled(ctx context.Context, conv *models.Conversation, title string) (bool, error)
	AddMessage(ctx context.Context, msg models.Message) (*models.Message, error)
	AddAttachment(ctx context.Context, a models.Attachment) (*models.Attachment, error)
	FirstUserMessage(ctx context.Context, conversationID int64) (string, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	ProviderKey(ctx context.Context, userID int64, provider string) (string, error)
}

// BackendResolver returns the backend for a model identifier.
type BackendResolver interface {
	Backend(ctx context.Context, model, apiKey string) (ai.Backend, error)
}

// PartBuilder converts attachments to message parts.
type PartBuilder interface {
	Build(ctx context.Context, modelName string, atts []*models.Attachment) []schema.MessageInputPart
}

// Promoter moves a consumed upload to permanent storage.
type Promoter interface {
	Promote(p *uploads.Pending) (string, error)
}

type Orchestrator struct {
	store         Store
	backends      BackendResolver
	pending       uploads.Store
	files         Promoter
	parts         PartBuilder
	searcher      search.Searcher
	events        events.Publisher
	defaultModel  string
	defaultPrompt string
	timeout       time.Duration
	logger        zerolog.Logger
}

type Option func(*Orchestrator)

// WithUploads enables attachment_temp_ids.
func WithUploads(pending uploads.Store, files Promoter) Option {
	return func(o *Orchestrator) {
		o.pending = pending
		o.files = files
	}
}

func WithParts(p PartBuilder) Option {
	return func(o *Orchestrator) { o.parts = p }
}

func WithSearcher(s search.Searcher) Option {
	return func(o *Orchestrator) { o.searcher = s }
}

func WithEvents(p events.Publisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithDefaults overrides the model and system prompt used when none is given.
func WithDefaults(model, prompt string) Option {
	return func(o *Orchestrator) {
		if model != "" {
			o.defaultModel = model
		}
		if prompt != "" {
			o.defaultPrompt = prompt
		}
	}
}

// WithTimeout bounds each generation call.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

func New(store Store, backends BackendResolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:         store,
		backends:      backends,
		defaultModel:  config.DefaultModel,
		defaultPrompt: config.DefaultSystemPrompt,
		logger:        logging.Component("chat"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DefaultModel is the model used when a request names none.
func (o *Orchestrator) DefaultModel() string {
	return o.defaultModel
}

// Session is a prepared turn: the conversation is resolved, the user message
// is stored and the outgoing request is built.
type Session struct {
	o            *Orchestrator
	Conversation *models.Conversation
	UserMessage  *models.Message
	Attachments  []*models.Attachment
	SystemPrompt string

	model     string
	apiKey    string
	messages  []*schema.Message
	webSearch bool
	query     string
}

// Prepare runs every step that must finish before the response starts:
// ownership errors and validation errors surface here.
func (o *Orchestrator) Prepare(ctx context.Context, in *StreamInput) (*Session, error) {
	if err := Validate(in, o.defaultModel); err != nil {
		return nil, err
	}

	conv, err := o.resolveConversation(ctx, in)
	if err != nil {
		return nil, err
	}
	sess := &Session{o: o, Conversation: conv, model: in.Model, webSearch: in.WebSearch}

	last := in.Messages[len(in.Messages)-1]
	lastIsUser := models.Role(last.Role) == models.RoleUser
	if lastIsUser {
		msg, err := o.store.AddMessage(ctx, models.Message{
			ConversationID: conv.ID,
			Role:           models.RoleUser,
			Content:        last.Content,
		})
		if err != nil {
			return nil, err
		}
		sess.UserMessage = msg
		sess.query = last.Content
		o.publish(ctx, events.KindMessage, conv)
	}

	var parts []schema.MessageInputPart
	if sess.UserMessage != nil && len(in.AttachmentTempIDs) > 0 {
		sess.Attachments = o.attach(ctx, in.OwnerID, sess.UserMessage, in.AttachmentTempIDs)
		if len(sess.Attachments) > 0 && o.parts != nil {
			parts = o.parts.Build(ctx, in.Model, sess.Attachments)
		}
	}

	sess.messages = make([]*schema.Message, 0, len(in.Messages))
	for i, m := range in.Messages {
		switch {
		case models.Role(m.Role) == models.RoleAssistant:
			sess.messages = append(sess.messages, schema.AssistantMessage(m.Content, nil))
		case i == len(in.Messages)-1:
			sess.messages = append(sess.messages, ai.UserMessage(m.Content, parts))
		default:
			sess.messages = append(sess.messages, schema.UserMessage(m.Content))
		}
	}

	sess.SystemPrompt = o.systemPrompt(ctx, conv, in.OwnerID)

	if _, local := ai.IsLocalProject(in.Model); !local {
		key, err := o.store.ProviderKey(ctx, in.OwnerID, string(ai.Route(in.Model)))
		if err != nil {
			o.logger.Warn().Err(err).Int64("user_id", in.OwnerID).Msg("load provider key, using server key")
		}
		sess.apiKey = key
	}
	return sess, nil
}

func (o *Orchestrator) resolveConversation(ctx context.Context, in *StreamInput) (*models.Conversation, error) {
	if in.ConversationID != nil {
		conv, err := o.store.GetConversation(ctx, in.OwnerID, *in.ConversationID)
		if err != nil {
			return nil, err
		}
		if conv.Model != in.Model {
			if err := o.store.UpdateModel(ctx, conv, in.Model); err != nil {
				return nil, err
			}
			o.publish(ctx, events.KindUpdated, conv)
		}
		return conv, nil
	}
	conv, err := o.store.CreateConversation(ctx, in.OwnerID, in.Model, in.SystemPrompt)
	if err != nil {
		return nil, err
	}
	o.publish(ctx, events.KindCreated, conv)
	return conv, nil
}

// attach consumes pending uploads. Unknown, expired and already used tokens
// are skipped.
func (o *Orchestrator) attach(ctx context.Context, ownerID int64, msg *models.Message, tokens []string) []*models.Attachment {
	if o.pending == nil || o.files == nil {
		return nil
	}
	var out []*models.Attachment
	for _, token := range tokens {
		p, err := o.pending.Take(ctx, ownerID, token)
		if err != nil {
			if !errors.Is(err, uploads.ErrNotFound) {
				o.logger.Warn().Err(err).Str("token", token).Msg("resolve pending upload")
			}
			continue
		}
		path, err := o.files.Promote(p)
		if err != nil {
			o.logger.Warn().Err(err).Str("token", token).Msg("promote pending upload")
			continue
		}
		att, err := o.store.AddAttachment(ctx, models.Attachment{
			MessageID:   msg.ID,
			Filename:    p.Filename,
			StoragePath: path,
			MimeType:    p.MimeType,
			Size:        p.Size,
		})
		if err != nil {
			o.logger.Error().Err(err).Str("token", token).Msg("store attachment")
			continue
		}
		out = append(out, att)
	}
	msg.Attachments = out
	return out
}

func (o *Orchestrator) systemPrompt(ctx context.Context, conv *models.Conversation, ownerID int64) string {
	if conv.SystemPrompt != nil && *conv.SystemPrompt != "" {
		return *conv.SystemPrompt
	}
	user, err := o.store.GetUser(ctx, ownerID)
	if err != nil {
		o.logger.Warn().Err(err).Int64("user_id", ownerID).Msg("load user default prompt")
	} else if user.DefaultSystemPrompt != nil && *user.DefaultSystemPrompt != "" {
		return *user.DefaultSystemPrompt
	}
	return o.defaultPrompt
}

func (o *Orchestrator) publish(ctx context.Context, kind events.Kind, conv *models.Conversation) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, events.Event{Type: kind, UserID: conv.UserID, ConversationID: conv.ID}); err != nil {
		o.logger.Warn().Err(err).Str("type", string(kind)).Msg("publish conversation event")
	}
}

// Result describes a finished turn.
type Result struct {
	// Text is what was streamed and stored: the reply, the partial reply of a
	// cancelled turn, or "Error: ..." after a failure.
	Text      string
	Usage     *ai.Usage
	StreamErr error
	Cancelled bool
	Assistant *models.Message
	Title     string
}

// Run generates the reply, writing every delta to sink as it arrives, then
// persists the outcome. Persistence ignores ctx cancellation so a client
// disconnect still saves the partial reply. The returned error only reports
// persistence failures; generation failures are in Result.
func (s *Session) Run(ctx context.Context, sink func(string) error) (*Result, error) {
	o := s.o
	genCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	messages := s.messages
	if s.webSearch && s.query != "" {
		messages = s.augment(genCtx, messages)
	}

	var (
		acc       strings.Builder
		usage     *ai.Usage
		streamErr error
		cancelled bool
	)
	streamErr = s.stream(genCtx, messages, func(delta string) error {
		acc.WriteString(delta)
		return sink(delta)
	}, func(u *ai.Usage) {
		if usage == nil {
			usage = &ai.Usage{}
		}
		usage.Merge(u)
	})
	if streamErr != nil && (ctx.Err() != nil || errors.Is(streamErr, errSinkClosed)) {
		cancelled = true
		streamErr = nil
	}

	res := &Result{Usage: usage, StreamErr: streamErr, Cancelled: cancelled}
	text := acc.String()
	if streamErr != nil {
		text = "Error: " + streamErr.Error()
		o.logger.Error().Err(streamErr).Int64("conversation_id", s.Conversation.ID).Str("model", s.model).Msg("generation failed")
		if err := sink(text); err != nil {
			o.logger.Debug().Err(err).Msg("write error text")
		}
	}
	res.Text = text
	if text == "" {
		return res, nil
	}

	pctx := context.WithoutCancel(ctx)
	msg := models.Message{
		ConversationID: s.Conversation.ID,
		Role:           models.RoleAssistant,
		Content:        text,
	}
	if usage != nil {
		in, out := usage.InputTokens, usage.OutputTokens
		msg.InputTokens, msg.OutputTokens = &in, &out
	}
	stored, err := o.store.AddMessage(pctx, msg)
	if err != nil {
		return res, err
	}
	res.Assistant = stored
	o.publish(pctx, events.KindMessage, s.Conversation)

	if s.Conversation.Title == models.UntitledTitle {
		first, err := o.store.FirstUserMessage(pctx, s.Conversation.ID)
		if err != nil {
			return res, err
		}
		if first != "" {
			title := MakeTitle(first)
			updated, err := o.store.SetTitleIfUntitled(pctx, s.Conversation, title)
			if err != nil {
				return res, err
			}
			if updated {
				res.Title = title
				o.publish(pctx, events.KindUpdated, s.Conversation)
			}
		}
	}
	return res, nil
}

var errSinkClosed = errors.New("client stream closed")

func (s *Session) stream(ctx context.Context, messages []*schema.Message, onDelta func(string) error, onUsage func(*ai.Usage)) error {
	backend, err := s.o.backends.Backend(ctx, s.model, s.apiKey)
	if err != nil {
		return err
	}
	stream, err := backend.Stream(ctx, &ai.Request{
		Model:        s.model,
		SystemPrompt: s.SystemPrompt,
		Messages:     messages,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ev.Usage != nil {
			onUsage(ev.Usage)
		}
		if ev.Delta != "" {
			if err := onDelta(ev.Delta); err != nil {
				return errors.Join(errSinkClosed, err)
			}
		}
	}
}

// augment replaces the final user turn's text with search results. Failures
// are logged and the turn is left unchanged.
func (s *Session) augment(ctx context.Context, messages []*schema.Message) []*schema.Message {
	if s.o.searcher == nil {
		s.o.logger.Warn().Msg("web search requested but no search backend is configured")
		return messages
	}
	summary, err := s.o.searcher.Search(ctx, s.query)
	if err != nil {
		s.o.logger.Warn().Err(err).Int64("conversation_id", s.Conversation.ID).Msg("web search failed, continuing without")
		return messages
	}
	out := append([]*schema.Message(nil), messages...)
	last := len(out) - 1
	out[last] = ai.WithText(out[last], search.Augment(summary, s.query))
	return out
}
