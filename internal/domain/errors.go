package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────

var (
	// Validation
	ErrInvalidAmount   = errors.New("amount must not be negative")
	ErrEmptySubmission = errors.New("submission needs a description or an evidence link")
	ErrTooManySelected = errors.New("selection exceeds the task's top ranking")
	ErrUnknownInstance = errors.New("instance is not a completed, unrewarded attempt of this task")
	ErrInvalidInput    = errors.New("invalid input")

	// State conflict
	ErrInvalidTransition  = errors.New("transition not allowed from the current state")
	ErrAlreadyTaken       = errors.New("task already taken by this user")
	ErrAlreadyAwarded     = errors.New("top ranking already awarded")
	ErrDeadlinePassed     = errors.New("task deadline has passed")
	ErrDeadlineNotReached = errors.New("task deadline has not passed yet")
	ErrNotRanked          = errors.New("task has no top ranking")
	ErrConflict           = errors.New("entity was modified concurrently")

	// Integrity
	ErrNoSelection     = errors.New("no top selection recorded")
	ErrAlreadyUnlocked = errors.New("achievement already unlocked")

	// Authorization
	ErrForbidden = errors.New("not permitted")

	// Lookup
	ErrNotFound = errors.New("not found")
)

// Kind classifies an error for the transport layer.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "not_found"
	KindIntegrity  Kind = "integrity"
	KindInternal   Kind = "internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidAmount, KindValidation},
	{ErrEmptySubmission, KindValidation},
	{ErrTooManySelected, KindValidation},
	{ErrUnknownInstance, KindValidation},
	{ErrInvalidInput, KindValidation},
	{ErrInvalidTransition, KindConflict},
	{ErrAlreadyTaken, KindConflict},
	{ErrAlreadyAwarded, KindConflict},
	{ErrDeadlinePassed, KindConflict},
	{ErrDeadlineNotReached, KindConflict},
	{ErrNotRanked, KindConflict},
	{ErrConflict, KindConflict},
	{ErrNoSelection, KindIntegrity},
	{ErrAlreadyUnlocked, KindIntegrity},
	{ErrForbidden, KindForbidden},
	{ErrNotFound, KindNotFound},
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
