package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Validation failure reasons.
const (
	ReasonMissing   = "missing"
	ReasonInvalid   = "invalid"
	ReasonDuplicate = "duplicate"
)

var (
	// ErrStorageUnavailable reports that the remote store could not be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrAccessDenied reports an access code mismatch at the session gate.
	ErrAccessDenied = errors.New("access denied")
)

// ValidationError rejects a request before any persistence takes place.
type ValidationError struct {
	Field  string
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Is enables errors.Is() comparison by reason, and by field when the target sets one.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	if t.Field != "" && t.Field != e.Field {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// ValidationErrors aggregates every failed field of a single request.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (v ValidationErrors) Unwrap() []error {
	out := make([]error, 0, len(v))
	for _, e := range v {
		out = append(out, e)
	}
	return out
}

// NotFoundError reports a missing record addressed by natural key.
type NotFoundError struct {
	Entity EntityType
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// Is matches on entity, and on key when the target sets one.
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return t.Entity == e.Entity && (t.Key == "" || t.Key == e.Key)
}

// StaleReferenceError reports that a view targets a record deleted elsewhere.
type StaleReferenceError struct {
	Entity EntityType
	Key    string
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("stale %s reference %s", e.Entity, e.Key)
}

// TransitionError reports an illegal lifecycle or assignment transition.
type TransitionError struct {
	Entity EntityType
	Key    string
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot move %s %s from %s to %s", e.Entity, e.Key, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// IsValidation reports whether err carries any validation rejection.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
