package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hivemesh/hivemind/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendOrderingPerPair(t *testing.T) {
	b := New()
	defer b.Close()

	inbox := b.Register("receiver", "s1")
	b.Register("sender", "s1")

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Send(&Message{
			Type:    MessageDirect,
			From:    "sender",
			To:      "receiver",
			Subject: string(rune('a' + i)),
		}))
	}

	for i := 0; i < 10; i++ {
		msg := <-inbox
		assert.Equal(t, string(rune('a'+i)), msg.Subject)
	}
}

func TestSendToUnknownEndpoint(t *testing.T) {
	b := New()
	defer b.Close()

	err := b.Send(&Message{Type: MessageDirect, From: "a", To: "nobody"})
	assert.True(t, errors.Is(err, ErrDeliveryFailed))

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestSendAfterUnregister(t *testing.T) {
	b := New()
	defer b.Close()

	b.Register("a1", "s1")
	b.Unregister("a1")

	err := b.Send(&Message{Type: MessageDirect, From: "x", To: "a1"})
	assert.True(t, errors.Is(err, ErrDeliveryFailed))
}

func TestBroadcastExcludesSender(t *testing.T) {
	b := New()
	defer b.Close()

	in1 := b.Register("a1", "s1")
	in2 := b.Register("a2", "s1")
	b.Register("a3", "other-swarm")

	n := b.Broadcast(&Message{From: "a1", To: "s1", Subject: "hello"})
	assert.Equal(t, 1, n, "only the one other member of the swarm receives it")

	msg := <-in2
	assert.Equal(t, MessageBroadcast, msg.Type)
	assert.Equal(t, "hello", msg.Subject)

	select {
	case <-in1:
		t.Fatal("sender must not receive its own broadcast")
	default:
	}
}

func TestChannelPublish(t *testing.T) {
	b := New()
	defer b.Close()

	in1 := b.Register("a1", "s1")
	in2 := b.Register("a2", "s1")
	b.Register("a3", "s1")

	b.OpenChannel("findings", false)
	b.Subscribe("findings", "a1")
	b.Subscribe("findings", "a2")
	b.Subscribe("findings", "a2") // idempotent

	n := b.Publish(&Message{From: "a1", To: "findings", Subject: "result"})
	assert.Equal(t, 1, n, "publisher excluded, a3 not subscribed")

	msg := <-in2
	assert.Equal(t, MessageChannel, msg.Type)

	select {
	case <-in1:
		t.Fatal("publisher must not receive its own message")
	default:
	}

	b.Unsubscribe("findings", "a2")
	n = b.Publish(&Message{From: "a1", To: "findings"})
	assert.Equal(t, 0, n)
}

func TestPublishUnknownChannel(t *testing.T) {
	b := New()
	defer b.Close()
	assert.Equal(t, 0, b.Publish(&Message{From: "a1", To: "no-such-channel"}))
}

func TestQueryResponse(t *testing.T) {
	b := New()
	defer b.Close()

	inbox := b.Register("responder", "s1")
	b.Register("asker", "s1")

	go func() {
		msg := <-inbox
		b.Respond(&Message{
			From:          "responder",
			To:            msg.From,
			CorrelationID: msg.CorrelationID,
			Payload:       []byte("pong"),
		})
	}()

	reply, err := b.Query(context.Background(), &Message{
		From:    "asker",
		To:      "responder",
		Payload: []byte("ping"),
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), reply.Payload)
	assert.Equal(t, MessageResponse, reply.Type)
}

func TestQueryTimeout(t *testing.T) {
	b := New()
	defer b.Close()

	b.Register("silent", "s1")
	b.Register("asker", "s1")

	_, err := b.Query(context.Background(), &Message{
		From: "asker",
		To:   "silent",
	}, 50*time.Millisecond)
	assert.True(t, errors.Is(err, types.ErrQueryTimeout))

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.Timeouts)
}

func TestQueryContextCancel(t *testing.T) {
	b := New()
	defer b.Close()

	b.Register("silent", "s1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Query(ctx, &Message{From: "asker", To: "silent"}, time.Minute)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDrain(t *testing.T) {
	b := New()
	defer b.Close()

	inbox := b.Register("a1", "s1")
	require.NoError(t, b.Send(&Message{From: "x", To: "a1"}))

	assert.False(t, b.Drain("a1", 30*time.Millisecond), "undrained inbox times out")

	<-inbox
	assert.True(t, b.Drain("a1", 30*time.Millisecond))
	assert.True(t, b.Drain("never-registered", time.Millisecond))
}

func TestInboxSaturationDrops(t *testing.T) {
	b := New()
	defer b.Close()

	b.Register("slow", "s1")
	for i := 0; i < inboxDepth; i++ {
		require.NoError(t, b.Send(&Message{From: "x", To: "slow"}))
	}
	err := b.Send(&Message{From: "x", To: "slow"})
	assert.True(t, errors.Is(err, ErrDeliveryFailed))
}

func TestStats(t *testing.T) {
	b := New()
	defer b.Close()

	b.Register("a1", "s1")
	b.OpenChannel("c1", false)
	require.NoError(t, b.Send(&Message{Type: MessageDirect, From: "x", To: "a1"}))

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.Sent)
	assert.Equal(t, int64(1), stats.Delivered)
	assert.Equal(t, int64(1), stats.ByType[string(MessageDirect)])
	assert.Equal(t, 1, stats.Endpoints)
	assert.Equal(t, 1, stats.Channels)
}
