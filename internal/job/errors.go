package job

import (
	"errors"
	"fmt"
)

// Failure categories. Use errors.Is against these to classify a job error.
var (
	ErrInput               = errors.New("invalid input")
	ErrEngine              = errors.New("engine failed")
	ErrValidationRejected  = errors.New("output rejected by validator")
	ErrAllEnginesExhausted = errors.New("all engines exhausted")
	ErrResource            = errors.New("resource error")
)

// Error carries a failure category, a human-readable message and the
// underlying cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

func InputError(msg string, err error) error {
	return &Error{Kind: ErrInput, Msg: msg, Err: err}
}

func EngineError(engine string, err error) error {
	return &Error{Kind: ErrEngine, Msg: engine, Err: err}
}

// Rejected reports an artifact that failed validation. issues is the
// validator's hard-failure list.
func Rejected(engine string, issues []string) error {
	msg := engine + ": no content"
	if len(issues) > 0 {
		msg = fmt.Sprintf("%s: %s", engine, issues[0])
	}
	return &Error{Kind: ErrValidationRejected, Msg: msg}
}

// Exhausted wraps the diagnostic of the last attempt.
func Exhausted(last error) error {
	return &Error{Kind: ErrAllEnginesExhausted, Err: last}
}

func ResourceError(op string, err error) error {
	return &Error{Kind: ErrResource, Msg: op, Err: err}
}

// Fatal reports whether err ends a job without trying further engines.
func Fatal(err error) bool {
	return errors.Is(err, ErrInput) || errors.Is(err, ErrResource) || errors.Is(err, ErrAllEnginesExhausted)
}
