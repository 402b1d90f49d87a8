package controller

import (
	"errors"
	"fmt"
)

// Error kinds, one per pipeline stage. Check with errors.Is.
var (
	ErrSync      = errors.New("sync error")
	ErrConfig    = errors.New("config error")
	ErrPackaging = errors.New("packaging error")
	ErrPublish   = errors.New("publish error")
	ErrProvision = errors.New("provision error")
)

// Error is a stage failure. Both Kind and the underlying cause are reachable
// through errors.Is and errors.As.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func SyncError(op string, err error) *Error      { return newError(ErrSync, op, err) }
func ConfigError(op string, err error) *Error    { return newError(ErrConfig, op, err) }
func PackagingError(op string, err error) *Error { return newError(ErrPackaging, op, err) }
func PublishError(op string, err error) *Error   { return newError(ErrPublish, op, err) }
func ProvisionError(op string, err error) *Error { return newError(ErrProvision, op, err) }
