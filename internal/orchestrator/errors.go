// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// The resource exists with different attributes.
	ErrAlreadyExists = errors.New("already exists")
	// The resource is still referenced by other resources.
	ErrInUse = errors.New("in use")
	// The resource or the tenant binding does not exist.
	ErrNotFound = errors.New("not found")
	// The request is missing required values.
	ErrInvalidRequest = errors.New("invalid request")
)

// Precondition violation reported to the caller. It is never retried.
type DriverError struct {
	// Operation that was rejected, e.g. "delete_nat".
	Op  string
	Msg string
	// One of the sentinel errors of this package.
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *DriverError) Unwrap() error { return e.Err }

func driverError(op string, sentinel error, format string, args ...any) error {
	return &DriverError{Op: op, Msg: fmt.Sprintf(format, args...), Err: sentinel}
}
