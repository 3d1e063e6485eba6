package harvest

import (
	"errors"
	"fmt"
)

// ErrorClass partitions pipeline failures by how they must be handled.
type ErrorClass int

// Error classes, in escalating severity of handling.
const (
	// ClassTransport covers network and HTTP failures. Retried with
	// backoff where they occur.
	ClassTransport ErrorClass = iota
	// ClassStructural covers missing or malformed data from an otherwise
	// reachable source. Retried a bounded number of times, then degraded
	// to a Partial record.
	ClassStructural
	// ClassValidation covers malformed run configuration. Fatal before
	// any work starts.
	ClassValidation
	// ClassPersistence covers an unreachable sink or store. Fatal to the
	// current run but non-destructive: the last checkpoint stays valid.
	ClassPersistence
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransport:
		return "transport"
	case ClassStructural:
		return "structural"
	case ClassValidation:
		return "validation"
	case ClassPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// ClassifiedError attaches an ErrorClass to an underlying error so callers
// branch on a typed classification instead of matching error strings.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// TransportError wraps err as a transport failure.
func TransportError(err error) error {
	return &ClassifiedError{Class: ClassTransport, Err: err}
}

// StructuralError wraps err as a structural failure.
func StructuralError(err error) error {
	return &ClassifiedError{Class: ClassStructural, Err: err}
}

// ValidationError wraps err as a configuration failure.
func ValidationError(err error) error {
	return &ClassifiedError{Class: ClassValidation, Err: err}
}

// PersistenceError wraps err as a sink/store failure.
func PersistenceError(err error) error {
	return &ClassifiedError{Class: ClassPersistence, Err: err}
}

// ClassOf extracts the classification from err. Unclassified errors are
// treated as transport failures, the most forgiving class.
func ClassOf(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassTransport
}

// IsFatal reports whether err must halt the run rather than degrade.
func IsFatal(err error) bool {
	switch ClassOf(err) {
	case ClassValidation, ClassPersistence:
		return true
	default:
		return false
	}
}
