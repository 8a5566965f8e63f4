package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns a time-sortable ULID used as the AMQP message id of
// every published message. Consumers can use it as a deduplication key.
func NewMessageID() string {
	return newULID(time.Now())
}

// NewCorrelationID returns a fresh id for a request/response exchange.
func NewCorrelationID() string {
	return newULID(time.Now())
}

// Time extracts the creation time encoded in a ULID produced by this package.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

func newULID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}
