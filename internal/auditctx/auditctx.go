// Package auditctx carries request actor details from the HTTP layer down to
// services that write audit entries.
package auditctx

import "context"

// Actor captures contextual information about the caller that initiated a request.
type Actor struct {
	UserID    string
	IPAddress string
	UserAgent string
}

type actorContextKey struct{}

// WithActor injects actor metadata into the supplied context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// WithUserID sets the authenticated user on the actor already stored in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	actor, _ := FromContext(ctx)
	actor.UserID = userID
	return WithActor(ctx, actor)
}

// FromContext extracts previously stored actor metadata from the context.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
