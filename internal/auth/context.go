package auth

import (
	"context"
	"fmt"

	"github.com/pharmatrace/batchcore/internal/domain"
)

// Role is the actor's position in the supply chain.
type Role string

const (
	RoleManufacturer Role = "manufacturer"
	RoleRegulator    Role = "regulator"
	RoleDistributor  Role = "distributor"
	RolePharmacy     Role = "pharmacy"
)

// Actor identifies who is issuing a request.
type Actor struct {
	ID   string
	Role Role
}

type contextKey string

const actorKey contextKey = "actor"

// ContextWithActor returns a new context carrying the authenticated actor.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the authenticated actor from the context, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey).(Actor)
	if !ok || actor.ID == "" {
		return Actor{}, false
	}
	return actor, true
}

// transitionRoles maps custody targets to the role allowed to request them.
var transitionRoles = map[domain.BatchStatus]Role{
	domain.BatchStatusApproved:  RoleRegulator,
	domain.BatchStatusRejected:  RoleRegulator,
	domain.BatchStatusFlagged:   RoleRegulator,
	domain.BatchStatusRecalled:  RoleRegulator,
	domain.BatchStatusInTransit: RoleDistributor,
	domain.BatchStatusDelivered: RoleDistributor,
}

// RequireRole ensures the context actor carries the given role.
func RequireRole(ctx context.Context, role Role) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("no authenticated actor in request")
	}
	if actor.Role != role {
		return fmt.Errorf("actor %s has role %s, %s required", actor.ID, actor.Role, role)
	}
	return nil
}

// EnforceTransitionRole checks the actor may request the given target
// status. Restoring a flagged batch is a regulator action regardless of the
// restore target.
func EnforceTransitionRole(ctx context.Context, from, target domain.BatchStatus) error {
	if from == domain.BatchStatusFlagged {
		return RequireRole(ctx, RoleRegulator)
	}
	role, ok := transitionRoles[target]
	if !ok {
		return fmt.Errorf("no role is permitted to request status %s", target)
	}
	return RequireRole(ctx, role)
}
