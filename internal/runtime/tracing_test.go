package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	handlerpkg "github.com/drblury/narrator/internal/runtime/handlers"
	"github.com/drblury/narrator/internal/runtime/transport/transporttest"
)

func withTraceContextPropagator(t *testing.T) {
	t.Helper()
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })
}

func remoteSpanContext(t *testing.T) trace.SpanContext {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
}

func TestTraceContextTravelsInHeaders(t *testing.T) {
	withTraceContextPropagator(t)
	broker := transporttest.NewBroker()
	c := newTestClient(t, broker)
	declareTestTopology(t, c)

	seen := make(chan trace.SpanContext, 1)
	require.NoError(t, RegisterHandler(c, handlerpkg.HandlerRegistration[*phonemizeTest]{
		Queue: "phonemization",
		Handler: func(ctx context.Context, _ handlerpkg.MessageContext[*phonemizeTest]) error {
			seen <- trace.SpanContextFromContext(ctx)
			return nil
		},
	}))
	require.NoError(t, c.Start(context.Background()))

	sc := remoteSpanContext(t)
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), sc)
	require.NoError(t, c.Publish(ctx, "phonemize", &phonemizeTest{Text: "hi"}))

	published := broker.Published()
	require.Len(t, published, 1)
	traceparent, ok := published[0].Msg.Headers[handlerpkg.MetadataKeyTraceParent].(string)
	require.True(t, ok, "traceparent header missing")
	assert.Contains(t, traceparent, sc.TraceID().String())

	select {
	case got := <-seen:
		assert.Equal(t, sc.TraceID(), got.TraceID())
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}
}
