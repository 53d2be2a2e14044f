/*
auth.go - Gateway-supplied identity

PURPOSE:
  The engine performs no authentication of its own. An upstream gateway
  authenticates callers and injects identity headers on every request:

    X-Actor-ID:   the acting user or admin id
    X-Actor-Role: "user" or "admin"

  RequireActor rejects requests without an actor id; RequireAdmin guards
  the catalog-write and admin routes.
*/
package api

import (
	"context"
	"net/http"
)

const (
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"

	roleAdmin = "admin"
)

type actorKey struct{}

// Actor identifies the caller as asserted by the gateway.
type Actor struct {
	ID   string
	Role string
}

// ActorFrom returns the actor attached to the request context.
func ActorFrom(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}

// RequireActor rejects requests missing the gateway identity headers.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerActorID)
		if id == "" {
			writeError(w, http.StatusUnauthorized, "missing actor identity", nil)
			return
		}
		actor := Actor{ID: id, Role: r.Header.Get(headerActorRole)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// RequireAdmin rejects non-admin actors. Must be mounted inside RequireActor.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ActorFrom(r.Context()).Role != roleAdmin {
			writeError(w, http.StatusForbidden, "admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
