package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"powgossip_go/blockchain"
)

// drainPeerEvents polls until the endpoint reports no more events.
func drainPeerEvents(t *testing.T, ep *LocalEndpoint) {
	t.Helper()
	for i := 0; i < 16; i++ {
		b, err := ep.PollEvents(context.Background(), 20*time.Millisecond)
		require.NoError(t, err)
		require.Nil(t, b)
	}
}

func TestLocalEndpointTopicOrder(t *testing.T) {
	ep := NewLocalHub().Join()
	defer ep.Close()

	require.ErrorIs(t, ep.Publish(ConsensusTopic), ErrNotSubscribed)

	queue := make(chan blockchain.Block, 1)
	queue <- blockchain.Genesis()
	require.ErrorIs(t, ep.Send(context.Background(), queue), ErrNoPublishTopic)

	require.NoError(t, ep.Subscribe(ConsensusTopic))
	require.NoError(t, ep.Publish(ConsensusTopic))
}

func TestLocalEndpointDeliversToOthersOnly(t *testing.T) {
	hub := NewLocalHub()
	a, b, c := hub.Join(), hub.Join(), hub.Join()
	for _, ep := range []*LocalEndpoint{a, b, c} {
		defer ep.Close()
	}
	require.NoError(t, a.Subscribe(ConsensusTopic))
	require.NoError(t, a.Publish(ConsensusTopic))
	require.NoError(t, b.Subscribe(ConsensusTopic))
	require.NoError(t, c.Subscribe("other-topic"))

	queue := make(chan blockchain.Block, 1)
	queue <- blockchain.Genesis()
	require.NoError(t, a.Send(context.Background(), queue))

	got, err := pollBlock(t, b)
	require.NoError(t, err)
	require.Equal(t, blockchain.Genesis().Hash, got.Hash)

	drainPeerEvents(t, a)
	drainPeerEvents(t, c)
}

func TestLocalEndpointPeerEvents(t *testing.T) {
	hub := NewLocalHub()
	a := hub.Join()
	defer a.Close()
	b := hub.Join()

	drainPeerEvents(t, a)
	drainPeerEvents(t, b)
	require.Equal(t, 1, a.PeerCount())
	require.Equal(t, 1, b.PeerCount())

	require.NoError(t, b.Close())
	drainPeerEvents(t, a)
	require.Zero(t, a.PeerCount())

	_, err := b.PollEvents(context.Background(), time.Second)
	require.ErrorIs(t, err, ErrNetworkClosed)
	require.ErrorIs(t, b.Subscribe(ConsensusTopic), ErrNetworkClosed)
}

func TestLocalEndpointSendQueueClosed(t *testing.T) {
	ep := NewLocalHub().Join()
	defer ep.Close()
	require.NoError(t, ep.Subscribe(ConsensusTopic))
	require.NoError(t, ep.Publish(ConsensusTopic))

	queue := make(chan blockchain.Block)
	close(queue)
	require.ErrorIs(t, ep.Send(context.Background(), queue), ErrQueueClosed)
}

func TestLocalEndpointPollTimeout(t *testing.T) {
	ep := NewLocalHub().Join()
	defer ep.Close()

	start := time.Now()
	b, err := ep.PollEvents(context.Background(), 30*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, b)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ep.PollEvents(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}
