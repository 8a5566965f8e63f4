package handlers

// Reserved header keys. Custom metadata must not reuse them.
const (
	// MetadataKeyCorrelationID links a reply to its request.
	MetadataKeyCorrelationID = "correlation_id"

	// MetadataKeyPublishedBy names the connection that published a message.
	MetadataKeyPublishedBy = "narrator_published_by"

	// MetadataKeyTraceParent carries W3C trace context.
	MetadataKeyTraceParent = "traceparent"
)
