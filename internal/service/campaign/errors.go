package campaign

import (
	"errors"
	"fmt"

	"github.com/ignite/wa-dispatch/internal/domain"
)

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound          = errors.New("campaign not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidInput      = errors.New("invalid campaign")
)

// TransitionError reports a rejected action together with the campaign's
// status at the time of rejection.
type TransitionError struct {
	Action  Action
	Current domain.CampaignStatus
}

func (e *TransitionError) Error() string {
	switch {
	case e.Action == ActionPause:
		return "Can only pause running campaigns."
	case e.Action == ActionCancel && e.Current == domain.CampaignCompleted:
		return "Cannot cancel a completed campaign."
	}
	return fmt.Sprintf("Cannot %s campaign with status: %s", e.Action, e.Current)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
