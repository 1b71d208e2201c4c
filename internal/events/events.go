// Package events carries conversation lifecycle notifications over watermill.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/rs/zerolog"

	"llmchat/internal/config"
	"llmchat/internal/logging"
	"llmchat/internal/redis"
)

// Topic is the stream all conversation events are published to.
const Topic = "chat.conversations"

type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
	KindMessage Kind = "message"
)

// Event describes a change to one conversation.
type Event struct {
	Type           Kind  `json:"type"`
	UserID         int64 `json:"user_id"`
	ConversationID int64 `json:"conversation_id"`
	// Paths lists attachment files orphaned by a delete.
	Paths []string `json:"paths,omitempty"`
}

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus publishes and consumes Events.
type Bus struct {
	pub    message.Publisher
	sub    message.Subscriber
	shared bool
	logger zerolog.Logger
}

// NewMemoryBus returns an in-process bus. Publish blocks until every running
// subscriber has acknowledged the event.
func NewMemoryBus() *Bus {
	logger := logging.Component("events")
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, logging.NewWatermill(logger))
	return &Bus{pub: ch, sub: ch, shared: true, logger: logger}
}

// NewRedisBus returns a bus backed by Redis Streams.
func NewRedisBus(client *redis.Client, cfg config.RedisConfig) (*Bus, error) {
	if client == nil || client.Raw() == nil {
		return nil, errors.New("redis client is required")
	}
	logger := logging.Component("events")
	wlog := logging.NewWatermill(logger)
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client.Raw(),
		Marshaller: marshaler,
	}, wlog)
	if err != nil {
		return nil, fmt.Errorf("redis stream publisher: %w", err)
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client.Raw(),
		Unmarshaller:  marshaler,
		ConsumerGroup: cfg.ConsumerGroup,
		Consumer:      cfg.Consumer,
	}, wlog)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("redis stream subscriber: %w", err)
	}
	return &Bus{pub: pub, sub: sub, logger: logger}, nil
}

// New picks Redis Streams when a client is available, otherwise memory.
func New(client *redis.Client, cfg config.RedisConfig) (*Bus, error) {
	if client == nil {
		return NewMemoryBus(), nil
	}
	return NewRedisBus(client, cfg)
}

func (b *Bus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := b.pub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Handler processes one event. Errors are logged; the event is still acked.
type Handler func(ctx context.Context, ev Event) error

// Run consumes events until ctx is done or the subscription closes.
func (b *Bus) Run(ctx context.Context, h Handler) error {
	msgs, err := b.sub.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", Topic, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("drop malformed event")
				msg.Ack()
				continue
			}
			if err := h(msg.Context(), ev); err != nil {
				b.logger.Error().Err(err).Str("type", string(ev.Type)).Int64("conversation_id", ev.ConversationID).Msg("handle event")
			}
			msg.Ack()
		}
	}
}

func (b *Bus) Close() error {
	err := b.pub.Close()
	if b.shared {
		return err
	}
	return errors.Join(err, b.sub.Close())
}
