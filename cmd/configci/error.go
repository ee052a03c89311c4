package main

import (
	"errors"
)

type usageError struct {
	error
}

func newUsageError(msg string) usageError {
	return usageError{error: errors.New(msg)}
}

var errorWantedNoArgs = newUsageError("expected no (non-flag) arguments")
var errorNoChangeSource = newUsageError("cannot tell which files changed: give --changed-file, run in a pull_request workflow, or give --base-ref")
