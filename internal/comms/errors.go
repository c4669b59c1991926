package comms

import (
	"errors"
	"fmt"
)

// Automation failure steps. The step names appear verbatim in escalation
// task reasons, so they are stable identifiers rather than prose.
const (
	StepLogin       = "login"
	StepCSRFMissing = "csrf-token-missing"
	StepStatus      = "unexpected-status"
	StepUpload      = "upload-failed"
	StepTimeout     = "timeout"
	StepCancelled   = "cancelled"
)

// AutomationError is a typed failure from a scripted portal session. Step
// names the automation step that failed, Detail carries the verbatim
// context a human needs to finish the work manually.
type AutomationError struct {
	Step   string
	Detail string
	Err    error
}

func (e *AutomationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("portal automation failed at %s", e.Step)
	}
	return fmt.Sprintf("portal automation failed at %s: %s", e.Step, e.Detail)
}

func (e *AutomationError) Unwrap() error {
	return e.Err
}

// NewAutomationError builds an AutomationError for the given step.
func NewAutomationError(step, detail string, err error) *AutomationError {
	return &AutomationError{Step: step, Detail: detail, Err: err}
}

// Classification failure categories.
const (
	ClassUnknownFormat    = "unknown-message-format"
	ClassTrackingMismatch = "tracking-mismatch"
	ClassMalformedField   = "malformed-field"
)

// ClassificationError is a typed failure from inbound message routing.
type ClassificationError struct {
	Category string
	Detail   string
}

func (e *ClassificationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("classification failed: %s", e.Category)
	}
	return fmt.Sprintf("classification failed (%s): %s", e.Category, e.Detail)
}

// ConfigurationError reports that no delivery channel is usable for a
// request.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// ErrEscalated signals that a sender already converted its failure into an
// escalation task. The engine records nothing further for this message.
var ErrEscalated = errors.New("handled by escalation")

// ErrChannelUnavailable signals that the resolved channel deactivated
// itself while handling the message. The engine resolves again and
// delivers on the next channel.
var ErrChannelUnavailable = errors.New("channel no longer available")
