// Package outcome maps handler results onto broker settlement.
//
// A nil error acknowledges the delivery. Any other error rejects it without
// requeue so a poison message cannot loop. Handlers opt into redelivery by
// returning ErrRequeue or wrapping their cause with Requeue.
package outcome

import (
	"errors"
	"fmt"
)

// Disposition is how a delivery is settled with the broker.
type Disposition int

const (
	Ack Disposition = iota
	Reject
	Requeue
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Reject:
		return "reject"
	case Requeue:
		return "requeue"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// ErrRequeue asks for the delivery to be returned to its queue.
var ErrRequeue = errors.New("narrator: requeue message")

// RequeueError carries the cause of an explicit requeue.
type RequeueError struct {
	Cause error
}

// Requeued wraps cause so the delivery is requeued instead of rejected.
func Requeued(cause error) *RequeueError {
	return &RequeueError{Cause: cause}
}

func (e *RequeueError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("narrator: requeue message: %v", e.Cause)
	}
	return ErrRequeue.Error()
}

func (e *RequeueError) Unwrap() error {
	return e.Cause
}

func (e *RequeueError) Is(target error) bool {
	return target == ErrRequeue
}

// PanicError is produced when a handler panics.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("narrator: handler panicked: %v", e.Value)
}

// Classify returns the settlement for a handler result.
func Classify(err error) Disposition {
	if err == nil {
		return Ack
	}
	if errors.Is(err, ErrRequeue) {
		return Requeue
	}
	return Reject
}

// Invoke runs fn and converts a panic into a *PanicError.
func Invoke(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}
