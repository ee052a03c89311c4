// Package errors holds the error representation shared by every step
// of a config check run. Errors are divided into a small number of
// categories, distinguished by whose fault the error is; i.e., is this
// error:
//  - a problem with one of the remote platforms, so worth re-running?
//  - something that doesn't exist (a project, a file, a job)?
//  - not going to work until someone changes the inputs or the config?
package errors

import (
	"errors"
	"fmt"
)

type Error struct {
	Type Type
	// a message that can be printed out for the user
	Help string
	// the underlying error that can be e.g., logged for developers to look at
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Type) + " error"
	}
	return e.Err.Error()
}

// Cause lets github.com/pkg/errors find the underlying error.
func (e *Error) Cause() error {
	return e.Err
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Type string

const (
	// The request looked fine, but the remote platform fell over
	Server Type = "server"
	// The thing mentioned (project, file, job) doesn't exist
	Missing Type = "missing"
	// The inputs can't work as given; someone has to change them
	User Type = "user"
)

func typeOf(err error) (Type, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Type, true
	}
	return "", false
}

func IsMissing(err error) bool {
	t, ok := typeOf(err)
	return ok && t == Missing
}

func IsUser(err error) bool {
	t, ok := typeOf(err)
	return ok && t == User
}

// Userf makes a User error with the formatted message used as both
// the error and the help text.
func Userf(format string, args ...interface{}) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{
		Type: User,
		Help: err.Error(),
		Err:  err,
	}
}

// CoverAllError gives an unclassified error a help message, so that
// anything reaching the top of a run can be printed the same way.
func CoverAllError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Type: Server,
		Err:  err,
		Help: `We don't have a specific help message for the error above.

Re-running the check (push a new commit, or re-run the workflow) will
usually tell you whether this was a transient problem with DNAnexus or
GitHub. If it keeps happening, please raise an issue quoting the
message at the top, and a link to the failed workflow run.
`,
	}
}
