package transport

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialAMQPReturnsFactoryError(t *testing.T) {
	orig := AmqpDialFactory
	t.Cleanup(func() { AmqpDialFactory = orig })

	var gotURL string
	var gotCfg amqp.Config
	AmqpDialFactory = func(url string, cfg amqp.Config) (*amqp.Connection, error) {
		gotURL, gotCfg = url, cfg
		return nil, errors.New("conn")
	}

	cfg := amqp.Config{Properties: amqp.Table{"purpose": "publisher"}}
	_, err := DialAMQP(context.Background(), "amqp://guest@localhost", cfg)
	require.EqualError(t, err, "conn")
	assert.Equal(t, "amqp://guest@localhost", gotURL)
	assert.Equal(t, "publisher", gotCfg.Properties["purpose"])
}

func TestDialAMQPHonoursCancelledContext(t *testing.T) {
	orig := AmqpDialFactory
	t.Cleanup(func() { AmqpDialFactory = orig })

	called := false
	AmqpDialFactory = func(string, amqp.Config) (*amqp.Connection, error) {
		called = true
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := DialAMQP(ctx, "amqp://localhost", amqp.Config{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
