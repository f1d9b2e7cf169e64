package orchestrator

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a restore failure for the caller. The CLI boundary
// translates kinds to exit codes; internally they travel as ordinary
// error values.
type ErrorKind string

const (
	KindNotFound             ErrorKind = "NotFound"
	KindMissingIdentity      ErrorKind = "MissingIdentity"
	KindValidationFailed     ErrorKind = "ValidationFailed"
	KindConflictCheckFailed  ErrorKind = "ConflictCheckFailed"
	KindTransformApplyFailed ErrorKind = "TransformApplyFailed"
	KindActionCreateFailed   ErrorKind = "ActionCreateFailed"
	KindActionFailed         ErrorKind = "ActionFailed"
	KindTimeoutExceeded      ErrorKind = "TimeoutExceeded"
	KindVerificationFailed   ErrorKind = "VerificationFailed"
)

// Failure is a fatal restore error. It always names the phase it occurred
// in and the external object involved.
type Failure struct {
	Kind   ErrorKind
	Phase  Phase
	Object string
	Err    error
	// Details carries the aggregated messages of a failed validation.
	Details []string
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s in phase %s", f.Kind, f.Phase)
	if f.Object != "" {
		msg += fmt.Sprintf(" (object %s)", f.Object)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	if len(f.Details) > 0 {
		msg += "; " + strings.Join(f.Details, "; ")
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func failure(kind ErrorKind, phase Phase, object string, err error) *Failure {
	return &Failure{Kind: kind, Phase: phase, Object: object, Err: err}
}
