package eventing

import "context"

type contextKey string

const (
	contextKeyEnvelope  contextKey = "eventing.envelope"
	contextKeyCommunity contextKey = "eventing.community_id"
	contextKeyCorr      contextKey = "eventing.correlation_id"
	contextKeyEventID   contextKey = "eventing.event_id"
)

// WithEnvelope attaches envelope metadata to context.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, contextKeyEnvelope, env)
}

// EnvelopeFromContext returns envelope metadata if available.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	value := ctx.Value(contextKeyEnvelope)
	env, ok := value.(Envelope)
	return env, ok
}

// WithCommunityID sets community id in context.
func WithCommunityID(ctx context.Context, communityID string) context.Context {
	return context.WithValue(ctx, contextKeyCommunity, communityID)
}

// WithCorrelationID sets correlation id in context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, contextKeyCorr, correlationID)
}

// WithEventID sets event id in context.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, contextKeyEventID, eventID)
}

// MetaFromContext builds metadata from context with defaults.
func MetaFromContext(ctx context.Context, defaultCommunityID string) Meta {
	meta := Meta{}
	if communityID, ok := ctx.Value(contextKeyCommunity).(string); ok {
		meta.CommunityID = communityID
	}
	if meta.CommunityID == "" {
		meta.CommunityID = defaultCommunityID
	}
	if corr, ok := ctx.Value(contextKeyCorr).(string); ok {
		meta.CorrelationID = corr
	}
	if id, ok := ctx.Value(contextKeyEventID).(string); ok {
		meta.EventID = id
	}
	return meta
}
