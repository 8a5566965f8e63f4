package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/narrator/internal/runtime/errors"
	handlerpkg "github.com/drblury/narrator/internal/runtime/handlers"
	"github.com/drblury/narrator/internal/runtime/transport/transporttest"
)

func noopPhonemize(context.Context, handlerpkg.MessageContext[*phonemizeTest]) error { return nil }

func TestRegisterHandlerRequiresClient(t *testing.T) {
	err := RegisterHandler(nil, handlerpkg.HandlerRegistration[*phonemizeTest]{Queue: "q", Handler: noopPhonemize})
	assert.ErrorIs(t, err, errspkg.ErrClientRequired)
}

func TestRegisterHandlerValidatesInput(t *testing.T) {
	c := newTestClient(t, transporttest.NewBroker())

	err := RegisterHandler(c, handlerpkg.HandlerRegistration[*phonemizeTest]{Queue: "q"})
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

	err = RegisterHandler(c, handlerpkg.HandlerRegistration[*phonemizeTest]{Handler: noopPhonemize})
	assert.ErrorIs(t, err, errspkg.ErrConsumeQueueRequired)
}

func TestRegisterHandlerDefaultsName(t *testing.T) {
	c := newTestClient(t, transporttest.NewBroker())

	require.NoError(t, RegisterHandler(c, handlerpkg.HandlerRegistration[*phonemizeTest]{
		Queue:   "phonemization",
		Handler: noopPhonemize,
	}))

	infos := c.Handlers()
	require.Len(t, infos, 1)
	assert.Equal(t, "phonemization/phonemize", infos[0].Name)
	assert.Equal(t, "phonemization", infos[0].Queue)
	assert.Equal(t, "phonemize", infos[0].Kind)
	assert.NotNil(t, infos[0].Stats)
}

func TestRegisterHandlerRejectsDuplicates(t *testing.T) {
	c := newTestClient(t, transporttest.NewBroker())
	reg := handlerpkg.HandlerRegistration[*phonemizeTest]{Queue: "phonemization", Handler: noopPhonemize}

	require.NoError(t, RegisterHandler(c, reg))
	assert.ErrorIs(t, RegisterHandler(c, reg), errspkg.ErrHandlerAlreadyRegistered)

	// The same kind may be consumed from another queue.
	reg.Queue = "audit"
	assert.NoError(t, RegisterHandler(c, reg))
}

func TestRegisterHandlerRejectsKindConflict(t *testing.T) {
	c := newTestClient(t, transporttest.NewBroker())
	require.NoError(t, RegisterHandler(c, handlerpkg.HandlerRegistration[*phonemizeTest]{Queue: "a", Handler: noopPhonemize}))

	err := RegisterHandler(c, handlerpkg.HandlerRegistration[*clashingPhonemize]{
		Queue:   "b",
		Handler: func(context.Context, handlerpkg.MessageContext[*clashingPhonemize]) error { return nil },
	})
	assert.ErrorIs(t, err, errspkg.ErrKindConflict)
}

func TestRegisterHandlerAfterStartFails(t *testing.T) {
	c := newTestClient(t, transporttest.NewBroker())
	require.NoError(t, c.Start(context.Background()))

	err := RegisterHandler(c, handlerpkg.HandlerRegistration[*phonemizeTest]{Queue: "q", Handler: noopPhonemize})
	assert.ErrorIs(t, err, errspkg.ErrAlreadyStarted)
}

func TestRegistryFreezeKeepsRegistrationOrder(t *testing.T) {
	r := newRegistry()
	for _, q := range []string{"b", "a", "b"} {
		kind := "k-" + q
		if q == "b" && len(r.queues) > 0 {
			kind = "k-b2"
		}
		require.NoError(t, r.add(&registeredHandler{name: q, queue: q, kind: kind, stats: newHandlerStats()}))
	}
	assert.Equal(t, []string{"b", "a"}, r.freeze())

	_, ok := r.lookup("b", "k-b2")
	assert.True(t, ok)
	_, ok = r.lookup("a", "k-b2")
	assert.False(t, ok)
}
