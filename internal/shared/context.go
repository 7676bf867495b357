package shared

import "context"

// Role names carried by the upstream identity headers.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Actor identifies the authenticated user acting inside an organization.
type Actor struct {
	UserID         int64
	OrganizationID int64
	Role           string
}

// IsAdmin reports whether the actor bypasses project assignment checks.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Valid reports whether the actor carries both identifiers.
func (a Actor) Valid() bool {
	return a.UserID > 0 && a.OrganizationID > 0
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
