package store

import "mediqueue/internal/models"

const (
	OutcomeAttended  = "attended"
	OutcomeCancelled = "cancelled"
	OutcomeNoShow    = "no_show"
)

var transitionMap = map[string][]string{
	"call":    {models.StatusWaiting},
	"requeue": {models.StatusCalling},
	"attend":  {models.StatusCalling},
	"no_show": {models.StatusCalling},
	"cancel":  {models.StatusWaiting, models.StatusCalling},
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

// OutcomeAction maps a resolution outcome to its state-machine action.
func OutcomeAction(outcome string) (string, bool) {
	switch outcome {
	case OutcomeAttended:
		return "attend", true
	case OutcomeCancelled:
		return "cancel", true
	case OutcomeNoShow:
		return "no_show", true
	default:
		return "", false
	}
}

// OutcomeStatus maps a resolution outcome to the terminal status it produces.
func OutcomeStatus(outcome string) (string, bool) {
	switch outcome {
	case OutcomeAttended:
		return models.StatusAttended, true
	case OutcomeCancelled:
		return models.StatusCancelled, true
	case OutcomeNoShow:
		return models.StatusNoShow, true
	default:
		return "", false
	}
}
