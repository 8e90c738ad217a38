package types

import "context"

// ActorType distinguishes the kinds of authenticated callers.
type ActorType string

const (
	ActorTypeAPIKey ActorType = "api_key"
	ActorTypeSystem ActorType = "system"
)

// Actor is the authenticated identity behind a request: an API key record,
// or the system itself for scheduler-driven work.
type Actor struct {
	ID   string
	Name string
	Type ActorType
}

// Unexported key types keep these values collision-proof against anything
// else stored in the context.
type (
	actorCtxKey     struct{}
	requestIDCtxKey struct{}
)

// WithActor records who is performing the request.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, actor)
}

// GetActor reports the authenticated actor, if the request carried one.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorCtxKey{}).(Actor)
	return actor, ok
}

// WithRequestID attaches the request correlation ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDCtxKey{}, id)
}

// GetRequestID returns the correlation ID, or "" for contexts outside a
// request (startup, scheduled jobs without one).
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey{}).(string)
	return id
}
