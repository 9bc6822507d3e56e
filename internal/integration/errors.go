package integration

import (
	"context"
	"errors"
	"fmt"
)

// ErrInsufficientHistory marks a forecast request that had too little cost data.
// It is informational: callers log it and carry on.
var ErrInsufficientHistory = errors.New("insufficient cost history")

// ConnectivityError is a network, auth, or deadline failure talking to an
// external system.
type ConnectivityError struct {
	Integration string
	Op          string
	Err         error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Integration, e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline expiry.
func (e *ConnectivityError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Connectivity wraps err as a ConnectivityError unless it already is one.
func Connectivity(integration, op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConnectivityError
	if errors.As(err, &ce) {
		return err
	}
	return &ConnectivityError{Integration: integration, Op: op, Err: err}
}

// DataShapeError is an external record missing a field it cannot do without.
type DataShapeError struct {
	Kind  string
	ID    string
	Field string
}

func (e *DataShapeError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s record missing %s", e.Kind, e.Field)
	}
	return fmt.Sprintf("%s record %s missing %s", e.Kind, e.ID, e.Field)
}

// StoreError is a read or write rejected by the persistence layer.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store wraps err as a StoreError. Sentinel errors meant for callers to
// branch on (passed as keep) are returned unchanged.
func Store(op string, err error, keep ...error) error {
	if err == nil {
		return nil
	}
	for _, k := range keep {
		if errors.Is(err, k) {
			return err
		}
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// Kind names the taxonomy bucket of err for logs and sync log messages.
func Kind(err error) string {
	var ce *ConnectivityError
	var se *StoreError
	var de *DataShapeError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce):
		return "connectivity"
	case errors.As(err, &se):
		return "store"
	case errors.As(err, &de):
		return "data_shape"
	default:
		return "internal"
	}
}
