/*
Package runtime is the messaging core of narrator.

A Client owns two broker connections, one for publishing and one for
consuming, each managed by a transport.Provider. Every wire operation runs on
the provider's owner goroutine; the rest of the runtime hands it work through
Do and Schedule.

# Messages

Messages are Go types implementing envelope.Message. The kind returned by
Kind travels in the AMQP type property and the body holds only the JSON
encoded fields. A kind found inside a body is ignored.

# Handlers

RegisterHandler binds a typed handler to a queue for the kind of its
message type. Several kinds may share a queue; a delivery whose kind has no
handler on that queue is rejected. Handlers run on Config.Concurrency
workers fed by an unbounded FIFO; broker prefetch bounds how much of it is
filled.

Handler results settle the delivery through the outcome package: nil
acknowledges, outcome.ErrRequeue requeues, anything else (panics included)
rejects without requeue.

# Publishing

Publish waits for the broker confirm. Messages are mandatory and persistent;
unroutable ones are logged and counted but do not fail the publish.

# Lifecycle

	client, err := runtime.NewClient(conf, logger, runtime.ClientDependencies{})
	_ = client.ConfigureTopology(ctx, topology)
	_ = runtime.RegisterHandler(client, handlers.HandlerRegistration[*Req]{...})
	_ = client.Start(ctx)
	defer client.Close(ctx)
*/
package runtime
