package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	channels []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.channels = append(p.channels, channel)
	p.payloads = append(p.payloads, payload)
	return p.err
}

type fakeSubscriber struct {
	handler func(channel string, payload []byte)
}

func (s *fakeSubscriber) Subscribe(_ context.Context, _ []string, handler func(channel string, payload []byte)) error {
	s.handler = handler
	return nil
}

func (s *fakeSubscriber) deliver(t *testing.T, channel string, event Event) {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	s.handler(channel, data)
}

func TestFanoutBusMirrorsConversationEvents(t *testing.T) {
	pub := &fakePublisher{}
	local := NewLocalBus()
	bus := NewFanoutBus(local, pub, "node-a", nil)

	var localGot []Event
	local.Subscribe(func(_ context.Context, e Event) { localGot = append(localGot, e) })

	bus.Publish(context.Background(), Event{Type: EventMessageSent, ConversationRef: "space:abc"})

	require.Len(t, localGot, 1, "local delivery happens regardless of the mirror")
	require.Len(t, pub.channels, 1)
	assert.Equal(t, ChannelPrefixConversation+"space:abc", pub.channels[0])

	var mirrored Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &mirrored))
	assert.Equal(t, "node-a", mirrored.Origin)
}

func TestFanoutBusRoutesTargetedEventsToUserChannel(t *testing.T) {
	pub := &fakePublisher{}
	bus := NewFanoutBus(NewLocalBus(), pub, "node-a", nil)

	bus.Publish(context.Background(), Event{
		Type:            EventMessageFailed,
		ConversationRef: "room-1",
		TargetUserID:    "user-9",
	})

	require.Len(t, pub.channels, 1)
	assert.Equal(t, ChannelPrefixUser+"user-9", pub.channels[0], "target wins over room")
}

func TestFanoutBusSkipsUnroutableEvents(t *testing.T) {
	pub := &fakePublisher{}
	bus := NewFanoutBus(NewLocalBus(), pub, "node-a", nil)

	local := 0
	bus.LocalBus.Subscribe(func(context.Context, Event) { local++ })

	bus.Publish(context.Background(), Event{Type: EventPresenceOnline})

	assert.Equal(t, 1, local)
	assert.Empty(t, pub.channels, "no ref and no target means local only")
}

func TestFanoutBusToleratesPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("redis down")}
	local := NewLocalBus()
	bus := NewFanoutBus(local, pub, "node-a", nil)

	delivered := 0
	local.Subscribe(func(context.Context, Event) { delivered++ })

	bus.Publish(context.Background(), Event{Type: EventMessageSent, ConversationRef: "room-1"})
	assert.Equal(t, 1, delivered)
}

func TestRelayFeedsForeignEventsIntoLocalBus(t *testing.T) {
	sub := &fakeSubscriber{}
	local := NewLocalBus()
	relay := NewRelay(sub, local, "node-a", nil)
	require.NoError(t, relay.Run(context.Background()))

	var got []Event
	local.Subscribe(func(_ context.Context, e Event) { got = append(got, e) })

	sub.deliver(t, ChannelPrefixConversation+"room-1", Event{
		Type:            EventMessageConfirmed,
		ConversationRef: "room-1",
		Origin:          "node-b",
	})

	require.Len(t, got, 1)
	assert.Equal(t, EventMessageConfirmed, got[0].Type)
}

func TestRelaySkipsOwnEcho(t *testing.T) {
	sub := &fakeSubscriber{}
	local := NewLocalBus()
	relay := NewRelay(sub, local, "node-a", nil)
	require.NoError(t, relay.Run(context.Background()))

	got := 0
	local.Subscribe(func(context.Context, Event) { got++ })

	sub.deliver(t, ChannelPrefixConversation+"room-1", Event{Type: EventMessageSent, Origin: "node-a"})
	assert.Zero(t, got, "events this instance published are not replayed")
}

func TestRelayIgnoresMalformedPayloads(t *testing.T) {
	sub := &fakeSubscriber{}
	local := NewLocalBus()
	relay := NewRelay(sub, local, "node-a", nil)
	require.NoError(t, relay.Run(context.Background()))

	got := 0
	local.Subscribe(func(context.Context, Event) { got++ })

	sub.handler(ChannelPrefixUser+"u1", []byte("{not json"))
	assert.Zero(t, got)
}
