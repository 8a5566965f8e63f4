// Package narrator is the messaging core of the audiobook pipeline. It lets
// the API process, the phonemization stage, and the speech-generation stage
// exchange typed messages over a single RabbitMQ topic exchange while the
// broker connection comes and goes.
//
// A Client owns two connections, one for publishing and one for consuming.
// Each connection is driven by a single goroutine so the AMQP connection is
// never used concurrently; callers submit work to it and wait for the result.
// Connections are dialed lazily, redialed with backoff when they close, and
// released only by Close.
//
// # Messages
//
// A message is a pointer to a struct implementing Message. Its Kind travels
// in the AMQP type property and selects the handler; the body holds only the
// JSON fields. Bodies are decoded strictly against the registered type and
// validated with `validate` struct tags.
//
// # Handlers
//
// RegisterHandler binds a typed handler to a queue for the kind of its
// payload type. After Start, deliveries are routed by (queue, kind) and run on
// Concurrency workers. A nil result acks the delivery; any other error rejects
// it without requeue unless it wraps ErrRequeue or was built with Requeue.
// Panics are recovered and reject the delivery. Unknown kinds and undecodable
// bodies are rejected with a warning.
//
// # Publishing
//
// Client.Publish serializes a message and sends it as a persistent, mandatory
// publish on the exchange, waiting for the broker confirm. Metadata, the
// correlation id, and the W3C trace context are carried as headers.
//
// # Observability
//
// Prometheus collectors are registered under the narrator namespace, spans
// are emitted for every publish and handled delivery, and JobHooks observe the
// lifecycle of each handler invocation. Handlers reports per-handler stats.
package narrator
