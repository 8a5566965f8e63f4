package outcome

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cause := errors.New("downstream unavailable")

	tests := []struct {
		name string
		err  error
		want Disposition
	}{
		{"nil acks", nil, Ack},
		{"plain error rejects", cause, Reject},
		{"sentinel requeues", ErrRequeue, Requeue},
		{"wrapped sentinel requeues", fmt.Errorf("retry later: %w", ErrRequeue), Requeue},
		{"requeue error", Requeued(cause), Requeue},
		{"wrapped requeue error", fmt.Errorf("ctx: %w", Requeued(cause)), Requeue},
		{"panic rejects", &PanicError{Value: "boom"}, Reject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRequeueErrorUnwraps(t *testing.T) {
	cause := errors.New("rate limited")
	err := Requeued(cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrRequeue)
	assert.Equal(t, "narrator: requeue message: rate limited", err.Error())
	assert.Equal(t, ErrRequeue.Error(), Requeued(nil).Error())
}

func TestInvokeRecoversPanics(t *testing.T) {
	err := Invoke(func() error { panic("kaboom") })

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.Equal(t, Reject, Classify(err))

	sentinel := errors.New("plain")
	assert.Same(t, sentinel, Invoke(func() error { return sentinel }))
	assert.NoError(t, Invoke(func() error { return nil }))
}

func TestDispositionString(t *testing.T) {
	assert.Equal(t, "ack", Ack.String())
	assert.Equal(t, "reject", Reject.String())
	assert.Equal(t, "requeue", Requeue.String())
	assert.Equal(t, "disposition(9)", Disposition(9).String())
}
