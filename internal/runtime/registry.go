package runtime

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/drblury/narrator/internal/runtime/envelope"
	errspkg "github.com/drblury/narrator/internal/runtime/errors"
)

// registeredHandler is the type-erased form of a typed registration.
type registeredHandler struct {
	name    string
	queue   string
	kind    string
	msgType reflect.Type

	decode func(body []byte) (envelope.Message, error)
	call   func(ctx context.Context, inv *invocation) error
	stats  *HandlerStats
}

// registry maps a queue and message kind to at most one handler. A kind
// always names the same Go type across queues.
type registry struct {
	mu       sync.RWMutex
	byQueue  map[string]map[string]*registeredHandler
	queues   []string
	kinds    map[string]reflect.Type
	handlers []*registeredHandler
	frozen   bool
}

func newRegistry() *registry {
	return &registry{
		byQueue: make(map[string]map[string]*registeredHandler),
		kinds:   make(map[string]reflect.Type),
	}
}

func (r *registry) add(h *registeredHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errspkg.ErrAlreadyStarted
	}
	if existing, ok := r.kinds[h.kind]; ok && existing != h.msgType {
		return fmt.Errorf("%w: %q is %s, not %s", errspkg.ErrKindConflict, h.kind, existing, h.msgType)
	}
	byKind, ok := r.byQueue[h.queue]
	if !ok {
		byKind = make(map[string]*registeredHandler)
		r.byQueue[h.queue] = byKind
		r.queues = append(r.queues, h.queue)
	}
	if _, dup := byKind[h.kind]; dup {
		return fmt.Errorf("%w: %s on queue %s", errspkg.ErrHandlerAlreadyRegistered, h.kind, h.queue)
	}

	byKind[h.kind] = h
	r.kinds[h.kind] = h.msgType
	r.handlers = append(r.handlers, h)
	return nil
}

func (r *registry) lookup(queue, kind string) (*registeredHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byQueue[queue][kind]
	return h, ok
}

// freeze rejects further registrations and returns the queues to consume,
// in registration order.
func (r *registry) freeze() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	return append([]string(nil), r.queues...)
}

func (r *registry) infos() []HandlerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]HandlerInfo, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, HandlerInfo{
			Name:  h.name,
			Queue: h.queue,
			Kind:  h.kind,
			Stats: h.stats,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Queue != out[j].Queue {
			return out[i].Queue < out[j].Queue
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
