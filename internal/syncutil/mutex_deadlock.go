// internal/syncutil/mutex_deadlock.go

//go:build deadlock

// Package syncutil holds the mutex types used by the serial stack. Building
// with -tags=deadlock swaps them for go-deadlock instrumented locks.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockDetection reports whether lock-order checking is compiled in.
const DeadlockDetection = true

func init() {
	// A request holds the client lock for at most timeout*attempts, far
	// below this.
	deadlock.Opts.DeadlockTimeout = 30 * time.Second
}

// Mutex is a go-deadlock mutex in deadlock builds.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a go-deadlock RWMutex in deadlock builds.
type RWMutex struct {
	deadlock.RWMutex
}
