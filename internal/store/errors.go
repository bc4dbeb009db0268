package store

import "errors"

// Sentinel errors returned by Store methods. Callers should compare with
// errors.Is rather than matching on message text.
var (
	ErrNotFound               = errors.New("store: not found")
	ErrNameConflict           = errors.New("store: name already in use")
	ErrInvalidTransition      = errors.New("store: invalid run state transition")
	ErrAgentRequiredButAbsent = errors.New("store: cluster execution_mode is agent but no enabled default agent is configured")
)

// IsNotFound reports whether err (or a wrapped error) is ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsNameConflict reports whether err (or a wrapped error) is ErrNameConflict.
func IsNameConflict(err error) bool { return errors.Is(err, ErrNameConflict) }

// IsInvalidTransition reports whether err (or a wrapped error) is
// ErrInvalidTransition.
func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }
