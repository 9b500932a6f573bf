// Package auditctx carries request actor metadata through context so services
// can stamp audit entries without threading HTTP details through every call.
package auditctx

import (
	"context"
	"strings"
)

// Actor identifies who initiated a request and from where.
type Actor struct {
	UserID    string
	IPAddress string
	UserAgent string
}

type actorKey struct{}

// WithActor returns a derived context carrying actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// WithUser adds the authenticated user to an existing actor.
func WithUser(ctx context.Context, userID string) context.Context {
	actor, _ := FromContext(ctx)
	actor.UserID = strings.TrimSpace(userID)
	return WithActor(ctx, actor)
}

// FromContext extracts previously stored actor metadata.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}
