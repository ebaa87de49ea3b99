package events

import (
	"context"
	"encoding/json"

	"spacechat/pkg/logger"
)

// Publisher publishes a serialized event onto a shared channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber delivers serialized events from shared channels.
type Subscriber interface {
	Subscribe(ctx context.Context, patterns []string, handler func(channel string, payload []byte)) error
}

// FanoutBus wraps a LocalBus and mirrors every published event onto the
// shared redis channels, so gateway state that is process-local (rooms,
// typing, presence broadcast) still reaches clients on other instances.
type FanoutBus struct {
	*LocalBus
	publisher Publisher
	origin    string
	log       *logger.Logger
}

func NewFanoutBus(local *LocalBus, publisher Publisher, origin string, log *logger.Logger) *FanoutBus {
	if log == nil {
		log = logger.NewNop()
	}
	return &FanoutBus{LocalBus: local, publisher: publisher, origin: origin, log: log}
}

func (b *FanoutBus) Publish(ctx context.Context, event Event) {
	event.Origin = b.origin
	b.LocalBus.Publish(ctx, event)

	channel := routeChannel(event)
	if channel == "" {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		b.log.Errorf("event marshal %s: %v", event.Type, err)
		return
	}
	if err := b.publisher.Publish(ctx, channel, data); err != nil {
		b.log.Warnf("event publish %s to %s: %v", event.Type, channel, err)
	}
}

func routeChannel(event Event) string {
	if event.TargetUserID != "" {
		return ChannelPrefixUser + event.TargetUserID
	}
	if event.ConversationRef != "" {
		return ChannelPrefixConversation + event.ConversationRef
	}
	return ""
}

// Relay feeds events published by other instances into the local bus.
// Events originating from this instance are skipped to avoid echo.
type Relay struct {
	subscriber Subscriber
	local      *LocalBus
	origin     string
	log        *logger.Logger
}

func NewRelay(subscriber Subscriber, local *LocalBus, origin string, log *logger.Logger) *Relay {
	if log == nil {
		log = logger.NewNop()
	}
	return &Relay{subscriber: subscriber, local: local, origin: origin, log: log}
}

func (r *Relay) Run(ctx context.Context) error {
	patterns := []string{ChannelPrefixConversation + "*", ChannelPrefixUser + "*"}
	return r.subscriber.Subscribe(ctx, patterns, func(channel string, payload []byte) {
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			r.log.Warnf("relay decode on %s: %v", channel, err)
			return
		}
		if event.Origin == r.origin {
			return
		}
		r.local.Publish(ctx, event)
	})
}
