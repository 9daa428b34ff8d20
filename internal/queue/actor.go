package queue

import (
	"context"

	"qms/shop-queue/internal/models"
)

type actorKey struct{}

// WithActor tags ctx with who is driving the transitions made under it.
// Unknown actors are ignored.
func WithActor(ctx context.Context, actor string) context.Context {
	if !ValidActor(actor) {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context, fallback string) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return fallback
}

// ValidActor reports whether actor is one of the audit actor kinds.
func ValidActor(actor string) bool {
	switch actor {
	case models.ActorStaff, models.ActorCustomer, models.ActorSystem, models.ActorScheduler:
		return true
	}
	return false
}
