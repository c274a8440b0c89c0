package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Page and customer errors
	ErrPageNotFound     = errors.New("page not found")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrTokenMissing     = errors.New("page access token missing")

	// Schedule errors
	ErrScheduleNotFound       = errors.New("schedule not found")
	ErrInvalidScheduleID      = errors.New("invalid schedule id")
	ErrInvalidGroupReference  = errors.New("invalid group reference")
	ErrScheduleDateRequired   = errors.New("scheduled campaigns need a date and time")
	ErrInactivityRequired     = errors.New("after-inactive campaigns need a positive inactivity period")
	ErrScheduleHasNoMessages  = errors.New("schedule has no messages")
	ErrKnowledgeTypeNotFound  = errors.New("knowledge type not found")
	ErrKnowledgeBindingAbsent = errors.New("knowledge type is not bound to page")
	ErrInvalidSchedule        = errors.New("invalid schedule")
	ErrSchedulerUnavailable   = errors.New("scheduler is not accepting commands")

	// Mining status errors
	ErrInvalidTransition = errors.New("invalid mining status transition")

	// Sync errors
	ErrInvalidImportMode = errors.New("import mode must be recent or historical")
	ErrSyncInProgress    = errors.New("a sync of this page is already running")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsPageNotFound(err error) bool {
	return errors.Is(err, ErrPageNotFound)
}

func IsCustomerNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound)
}

func IsTokenMissing(err error) bool {
	return errors.Is(err, ErrTokenMissing)
}

func IsScheduleNotFound(err error) bool {
	return errors.Is(err, ErrScheduleNotFound)
}

func IsSyncInProgress(err error) bool {
	return errors.Is(err, ErrSyncInProgress)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func IsKnowledgeBindingAbsent(err error) bool {
	return errors.Is(err, ErrKnowledgeBindingAbsent)
}

func IsSchedulerUnavailable(err error) bool {
	return errors.Is(err, ErrSchedulerUnavailable)
}

func IsKnowledgeTypeNotFound(err error) bool {
	return errors.Is(err, ErrKnowledgeTypeNotFound)
}

// IsValidationError reports errors caused by a malformed admin request
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidScheduleID,
		ErrInvalidGroupReference,
		ErrScheduleDateRequired,
		ErrInactivityRequired,
		ErrScheduleHasNoMessages,
		ErrInvalidSchedule,
		ErrInvalidImportMode,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
