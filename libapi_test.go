package narrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeting struct {
	Name string `json:"name" validate:"required"`
}

func (*greeting) Kind() string { return "greeting" }

func TestRegisterHandlerPropagatesErrors(t *testing.T) {
	err := RegisterHandler(nil, HandlerRegistration[*greeting]{Queue: "q"})
	assert.ErrorIs(t, err, ErrClientRequired)
}

func TestNewClientValidatesInput(t *testing.T) {
	_, err := NewClient(nil, NopLogger(), ClientDependencies{})
	assert.ErrorIs(t, err, ErrConfigRequired)

	_, err = NewClient(&Config{RabbitMQURL: "amqp://localhost"}, nil, ClientDependencies{})
	assert.ErrorIs(t, err, ErrLoggerRequired)

	_, err = NewClient(&Config{}, NopLogger(), ClientDependencies{})
	var cfgErr ConfigValidationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestEnvelopeExports(t *testing.T) {
	kind, body, err := Encode(&greeting{Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "greeting", kind)
	assert.JSONEq(t, `{"name":"Ada"}`, string(body))

	decoded, err := Decode[*greeting](body)
	require.NoError(t, err)
	assert.Equal(t, "Ada", decoded.Name)

	_, err = Decode[*greeting]([]byte(`{}`))
	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr))

	kind, err = KindOf[*greeting]()
	require.NoError(t, err)
	assert.Equal(t, "greeting", kind)
}

func TestRequeueWrapsErrRequeue(t *testing.T) {
	cause := errors.New("downstream busy")
	err := Requeue(cause)
	assert.ErrorIs(t, err, ErrRequeue)
	assert.ErrorIs(t, err, cause)
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	data, err := Marshal(payload)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, payload, out)
}

func TestMetadataAndIDExports(t *testing.T) {
	md := NewMetadata(MetadataKeyCorrelationID, "abc")
	assert.Equal(t, "abc", md.Get(MetadataKeyCorrelationID))
	assert.NotEmpty(t, NewMessageID())
	assert.NotEqual(t, NewCorrelationID(), NewCorrelationID())
}

func TestHooksExport(t *testing.T) {
	var started, done int
	hooks := MetricsHooks(
		func(string, string) { started++ },
		func(string, string) { done++ },
		nil,
	)
	merged := hooks.Merge(LoggingHooks(NopLogger()))
	require.NotNil(t, merged.OnJobStart)
	merged.OnJobStart(JobContext{HandlerName: "h", Queue: "q", Context: context.Background()})
	merged.OnJobDone(JobContext{HandlerName: "h", Queue: "q", Context: context.Background()})
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, done)
}

func TestDispatchStateExports(t *testing.T) {
	assert.Equal(t, "consuming", DispatchConsuming.String())
	assert.Equal(t, "closed", DispatchClosed.String())
}
