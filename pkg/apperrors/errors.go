package apperrors

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrValidation            = errors.New("invalid command payload")
	ErrPolicyDenied          = errors.New("denied by policy")
	ErrVersionConflict       = errors.New("concurrent update detected")
	ErrDuplicateRegistration = errors.New("duplicate registration")
	ErrNotPending            = errors.New("command is not pending validation")
)
