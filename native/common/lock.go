package common

import (
	"errors"
	"sync/atomic"
)

// ErrReentrantCall is returned when an operation re-enters a state-mutating
// entry point while an external transfer is still in flight.
var ErrReentrantCall = errors.New("reentrant call")

// OpLock is a transaction-scoped mutual-exclusion flag held for the duration
// of any operation that performs external transfers. Release must run
// unconditionally on exit, including failure paths.
type OpLock struct {
	busy atomic.Bool
}

// Acquire takes the lock or fails when an operation is already in flight.
func (l *OpLock) Acquire() error {
	if l == nil {
		return nil
	}
	if !l.busy.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

// Release frees the lock.
func (l *OpLock) Release() {
	if l == nil {
		return
	}
	l.busy.Store(false)
}
