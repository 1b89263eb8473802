package domain

import (
	"errors"
	"fmt"
)

// ErrValidation marks caller misuse detected before any network I/O.
var ErrValidation = errors.New("validation error")

var (
	ErrMissingTarget     = fmt.Errorf("%w: missing target, one of to or registration_ids is required", ErrValidation)
	ErrConflictingTarget = fmt.Errorf("%w: conflicting target, to and registration_ids are mutually exclusive", ErrValidation)
	ErrNothingToRetry    = fmt.Errorf("%w: retry recipient set is empty", ErrValidation)
)

var ErrNotFound = errors.New("not found")
