package tasks

import (
	"errors"
	"testing"

	"github.com/school-parliament/portal/internal/domain"
)

func TestNextTaskStatus(t *testing.T) {
	tests := []struct {
		from     domain.TaskStatus
		action   Action
		want     domain.TaskStatus
		wantNoop bool
		wantErr  bool
	}{
		{domain.TaskNew, ActionStart, domain.TaskInProgress, false, false},
		{domain.TaskInProgress, ActionReturnToQueue, domain.TaskNew, false, false},
		{domain.TaskInProgress, ActionSubmit, domain.TaskInReview, false, false},
		{domain.TaskInReview, ActionApprove, domain.TaskCompleted, false, false},
		{domain.TaskInReview, ActionReject, domain.TaskRejected, false, false},
		{domain.TaskRejected, ActionReopen, domain.TaskInProgress, false, false},
		{domain.TaskCompleted, ActionApprove, domain.TaskCompleted, true, false},

		{domain.TaskNew, ActionApprove, "", false, true},
		{domain.TaskInProgress, ActionApprove, "", false, true},
		{domain.TaskNew, ActionSubmit, "", false, true},
		{domain.TaskCompleted, ActionReject, "", false, true},
		{domain.TaskCompleted, ActionReopen, "", false, true},
		{domain.TaskRejected, ActionApprove, "", false, true},
		{domain.TaskInReview, ActionReturnToQueue, "", false, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.action), func(t *testing.T) {
			got, noop, err := NextTaskStatus(tt.from, tt.action)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidTransition) {
					t.Fatalf("err = %v, want ErrInvalidTransition", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want || noop != tt.wantNoop {
				t.Errorf("got (%s, noop=%v), want (%s, noop=%v)", got, noop, tt.want, tt.wantNoop)
			}
		})
	}
}

func TestNextInstanceStatus(t *testing.T) {
	tests := []struct {
		from     domain.InstanceStatus
		action   Action
		want     domain.InstanceStatus
		wantNoop bool
		wantErr  bool
	}{
		{domain.InstanceInProgress, ActionSubmit, domain.InstanceInReview, false, false},
		{domain.InstanceInReview, ActionApprove, domain.InstanceCompleted, false, false},
		{domain.InstanceInReview, ActionReject, domain.InstanceRejected, false, false},
		{domain.InstanceRejected, ActionReopen, domain.InstanceInProgress, false, false},
		{domain.InstanceCompleted, ActionApprove, domain.InstanceCompleted, true, false},

		// Skipping review is not allowed.
		{domain.InstanceInProgress, ActionApprove, "", false, true},
		{domain.InstanceInProgress, ActionReject, "", false, true},
		{domain.InstanceCompleted, ActionReject, "", false, true},
		{domain.InstanceCompleted, ActionSubmit, "", false, true},
		{domain.InstanceRejected, ActionSubmit, "", false, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.action), func(t *testing.T) {
			got, noop, err := NextInstanceStatus(tt.from, tt.action)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidTransition) {
					t.Fatalf("err = %v, want ErrInvalidTransition", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want || noop != tt.wantNoop {
				t.Errorf("got (%s, noop=%v), want (%s, noop=%v)", got, noop, tt.want, tt.wantNoop)
			}
		})
	}
}
