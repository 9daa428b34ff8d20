package store

import "qms/shop-queue/internal/models"

const (
	ActionPromote  = "promote"
	ActionAssign   = "assign"
	ActionComplete = "complete"
	ActionCancel   = "cancel"
	ActionRequeue  = "requeue"
)

var transitionMap = map[string][]string{
	ActionPromote:  {models.StatusPending},
	ActionAssign:   {models.StatusWaiting},
	ActionComplete: {models.StatusInProgress},
	ActionCancel:   {models.StatusPending, models.StatusWaiting, models.StatusInProgress},
	ActionRequeue:  {models.StatusInProgress},
}

var transitionTarget = map[string]string{
	ActionPromote:  models.StatusWaiting,
	ActionAssign:   models.StatusInProgress,
	ActionComplete: models.StatusCompleted,
	ActionCancel:   models.StatusCancelled,
	ActionRequeue:  models.StatusWaiting,
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// TargetStatus returns the status an action moves a ticket into.
func TargetStatus(action string) (string, bool) {
	status, ok := transitionTarget[action]
	return status, ok
}
