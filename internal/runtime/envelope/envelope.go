// Package envelope encodes and decodes message bodies.
//
// The kind of a message is a property of its Go type and is carried in the
// AMQP type property. Bodies hold only the message fields, so decoding never
// trusts a kind found inside the body.
package envelope

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	errspkg "github.com/drblury/narrator/internal/runtime/errors"
	jsoncodec "github.com/drblury/narrator/internal/runtime/jsoncodec"
)

// ContentType is set on every published message.
const ContentType = "application/json"

// Message is implemented by pointer types whose Kind method returns a
// constant. Kind must be callable on a nil pointer.
type Message interface {
	Kind() string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeError reports a body that cannot become the expected type. It is
// permanent: redelivering the same body cannot succeed.
type DecodeError struct {
	Kind string
	// Fields lists the struct fields that failed validation, if any.
	Fields []string
	Err    error
}

func (e *DecodeError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("narrator: decode %s: invalid fields %s: %v", e.Kind, strings.Join(e.Fields, ", "), e.Err)
	}
	return fmt.Sprintf("narrator: decode %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind tag of T without an instance.
func KindOf[T Message]() (string, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return "", errspkg.ErrConsumeMessageTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return "", errspkg.ErrConsumeMessagePointerNeeded
	}
	kind := zero.Kind()
	if kind == "" {
		return "", errspkg.ErrKindRequired
	}
	return kind, nil
}

// Prototype returns a factory producing fresh zero values of T's element type.
func Prototype[T Message]() (func() T, error) {
	if _, err := KindOf[T](); err != nil {
		return nil, err
	}
	var zero T
	elem := reflect.TypeOf(zero).Elem()
	return func() T {
		return reflect.New(elem).Interface().(T)
	}, nil
}

// Encode returns the kind tag and JSON body of msg.
func Encode(msg Message) (string, []byte, error) {
	if isNil(msg) {
		return "", nil, errspkg.ErrEventPayloadRequired
	}
	kind := msg.Kind()
	if kind == "" {
		return "", nil, errspkg.ErrKindRequired
	}
	body, err := jsoncodec.Marshal(msg)
	if err != nil {
		return "", nil, fmt.Errorf("narrator: encode %s: %w", kind, err)
	}
	return kind, body, nil
}

// Decode parses body as T and validates it.
func Decode[T Message](body []byte) (T, error) {
	factory, err := Prototype[T]()
	if err != nil {
		var zero T
		return zero, err
	}
	msg := factory()
	if err := DecodeInto(body, msg); err != nil {
		var zero T
		return zero, err
	}
	return msg, nil
}

// DecodeInto parses body into target, a non-nil pointer, and validates it.
// Unknown fields, including a spoofed kind, are ignored.
func DecodeInto(body []byte, target Message) error {
	if isNil(target) {
		return errspkg.ErrConsumeMessageTypeRequired
	}
	kind := target.Kind()
	if err := jsoncodec.Unmarshal(body, target); err != nil {
		return &DecodeError{Kind: kind, Err: err}
	}
	if err := Validate(target); err != nil {
		var validErr validator.ValidationErrors
		if errors.As(err, &validErr) {
			fields := make([]string, 0, len(validErr))
			for _, fe := range validErr {
				fields = append(fields, fe.Field())
			}
			return &DecodeError{Kind: kind, Fields: fields, Err: err}
		}
		return &DecodeError{Kind: kind, Err: err}
	}
	return nil
}

// Validate applies the validate struct tags of msg.
func Validate(msg Message) error {
	return validate.Struct(msg)
}

func isNil(msg Message) bool {
	if msg == nil {
		return true
	}
	v := reflect.ValueOf(msg)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
