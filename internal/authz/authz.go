package authz

import "orderdesk/api/internal/store"

// Access is what an actor may do with a given order. Admin-ness is a
// capability resolved upstream by the identity service and carried on the
// actor's token; this package never derives it.
type Access struct {
	IsOwner bool
	IsAdmin bool
}

// Allowed reports whether the actor may interact with the order's thread.
func (a Access) Allowed() bool {
	return a.IsOwner || a.IsAdmin
}

// Authorize resolves the actor's relationship to the order. Pure function,
// no side effects.
func Authorize(actorID int64, actorIsAdmin bool, order store.Order) Access {
	return Access{
		IsOwner: order.OwnerID == actorID,
		IsAdmin: actorIsAdmin,
	}
}
