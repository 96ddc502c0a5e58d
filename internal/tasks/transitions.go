package tasks

import (
	"fmt"

	"github.com/school-parliament/portal/internal/domain"
)

// Action is a requested lifecycle transition.
type Action string

const (
	ActionStart         Action = "start"
	ActionReturnToQueue Action = "return_to_queue"
	ActionSubmit        Action = "submit"
	ActionApprove       Action = "approve"
	ActionReject        Action = "reject"
	ActionReopen        Action = "reopen"
	// ActionTake creates a public task instance; it has no source state.
	ActionTake Action = "take"
)

var taskTransitions = map[domain.TaskStatus]map[Action]domain.TaskStatus{
	domain.TaskNew: {
		ActionStart: domain.TaskInProgress,
	},
	domain.TaskInProgress: {
		ActionReturnToQueue: domain.TaskNew,
		ActionSubmit:        domain.TaskInReview,
	},
	domain.TaskInReview: {
		ActionApprove: domain.TaskCompleted,
		ActionReject:  domain.TaskRejected,
	},
	domain.TaskRejected: {
		ActionReopen: domain.TaskInProgress,
	},
}

var instanceTransitions = map[domain.InstanceStatus]map[Action]domain.InstanceStatus{
	domain.InstanceInProgress: {
		ActionSubmit: domain.InstanceInReview,
	},
	domain.InstanceInReview: {
		ActionApprove: domain.InstanceCompleted,
		ActionReject:  domain.InstanceRejected,
	},
	domain.InstanceRejected: {
		ActionReopen: domain.InstanceInProgress,
	},
}

// NextTaskStatus returns the status a private task moves to under a.
// Approving a COMPLETED task reports noop instead of an error so that a
// repeated approval neither fails nor grants twice.
func NextTaskStatus(cur domain.TaskStatus, a Action) (next domain.TaskStatus, noop bool, err error) {
	if cur == domain.TaskCompleted && a == ActionApprove {
		return cur, true, nil
	}
	if next, ok := taskTransitions[cur][a]; ok {
		return next, false, nil
	}
	return cur, false, fmt.Errorf("%w: cannot %s a task in %s", domain.ErrInvalidTransition, a, cur)
}

// NextInstanceStatus is NextTaskStatus for public task instances.
func NextInstanceStatus(cur domain.InstanceStatus, a Action) (next domain.InstanceStatus, noop bool, err error) {
	if cur == domain.InstanceCompleted && a == ActionApprove {
		return cur, true, nil
	}
	if next, ok := instanceTransitions[cur][a]; ok {
		return next, false, nil
	}
	return cur, false, fmt.Errorf("%w: cannot %s an instance in %s", domain.ErrInvalidTransition, a, cur)
}
