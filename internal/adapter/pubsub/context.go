package pubsub

type contextKey string

// TraceIDKey carries the watermill trace id through handler contexts so follow-up
// messages keep the id of the message that caused them.
const TraceIDKey contextKey = "trace_id"
