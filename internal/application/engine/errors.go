package engine

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable category of an engine error
type Kind string

const (
	KindDefinitionNotFound    Kind = "DEFINITION_NOT_FOUND"
	KindInvalidDefinition     Kind = "INVALID_DEFINITION"
	KindInstanceNotFound      Kind = "INSTANCE_NOT_FOUND"
	KindTaskNotFound          Kind = "TASK_NOT_FOUND"
	KindTerminalStateConflict Kind = "TERMINAL_STATE_CONFLICT"
	KindStaleStateConflict    Kind = "STALE_STATE_CONFLICT"
	KindConcurrentUpdate      Kind = "CONCURRENT_UPDATE"
	KindPerformerNotFound     Kind = "PERFORMER_NOT_FOUND"
	KindInvalidArgument       Kind = "INVALID_ARGUMENT"
	KindOperationFailed       Kind = "OPERATION_FAILED"
)

// Error is returned by every engine operation. Callers branch on Kind and show Message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any error of the same kind when target is one of the sentinels below
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrDefinitionNotFound    = &Error{Kind: KindDefinitionNotFound}
	ErrInvalidDefinition     = &Error{Kind: KindInvalidDefinition}
	ErrInstanceNotFound      = &Error{Kind: KindInstanceNotFound}
	ErrTaskNotFound          = &Error{Kind: KindTaskNotFound}
	ErrTerminalStateConflict = &Error{Kind: KindTerminalStateConflict}
	ErrStaleStateConflict    = &Error{Kind: KindStaleStateConflict}
	ErrConcurrentUpdate      = &Error{Kind: KindConcurrentUpdate}
	ErrPerformerNotFound     = &Error{Kind: KindPerformerNotFound}
	ErrInvalidArgument       = &Error{Kind: KindInvalidArgument}
	ErrOperationFailed       = &Error{Kind: KindOperationFailed}
)

// KindOf extracts the kind of err; errors not produced by the engine count as OperationFailed
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOperationFailed
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// operationFailed keeps engine errors as they are and wraps everything else
func operationFailed(err error, format string, args ...interface{}) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return wrapError(KindOperationFailed, err, format, args...)
}

func errConcurrent(what string, id int64) *Error {
	return newError(KindConcurrentUpdate, "%s %d was changed by another request, refresh and retry", what, id)
}
