package runtime

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/narrator/internal/runtime/transport/transporttest"
)

func TestTopologyValidate(t *testing.T) {
	assert.NoError(t, testTopology.Validate())
	assert.Error(t, Topology{}.Validate())
	assert.Error(t, Topology{Exchange: "x", Queues: []QueueBinding{{Name: ""}}}.Validate())
	assert.Error(t, Topology{Exchange: "x", Queues: []QueueBinding{{Name: "a"}, {Name: "a"}}}.Validate())
}

func TestConfigureTopologyDeclaresEverything(t *testing.T) {
	broker := transporttest.NewBroker()
	c := newTestClient(t, broker)

	require.NoError(t, c.ConfigureTopology(context.Background(), testTopology))

	assert.Equal(t, amqp.ExchangeTopic, broker.ExchangeKind("narrator"))
	assert.ElementsMatch(t, []string{"phonemes", "speech"}, broker.Bindings("narrator", "api"))
	assert.Equal(t, []string{"phonemize"}, broker.Bindings("narrator", "phonemization"))
	assert.Equal(t, amqp.QueueTypeQuorum, broker.QueueArgs("api")[amqp.QueueTypeArg])
}

func TestConfigureTopologyIsIdempotent(t *testing.T) {
	broker := transporttest.NewBroker()
	c := newTestClient(t, broker)

	require.NoError(t, c.ConfigureTopology(context.Background(), testTopology))
	require.NoError(t, c.ConfigureTopology(context.Background(), testTopology))
	assert.ElementsMatch(t, []string{"phonemes", "speech"}, broker.Bindings("narrator", "api"))
}

func TestConfigureClosesScratchChannel(t *testing.T) {
	broker := transporttest.NewBroker()
	c := newTestClient(t, broker)

	require.NoError(t, c.Configure(context.Background(), func(TopologyChannel) error { return nil }))

	conns := broker.Connections()
	require.Len(t, conns, 1)
	for _, ch := range conns[0].Channels() {
		assert.True(t, ch.IsClosed())
	}
}
