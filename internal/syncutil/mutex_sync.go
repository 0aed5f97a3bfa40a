// internal/syncutil/mutex_sync.go

//go:build !deadlock

// Package syncutil holds the mutex types used by the serial stack. Building
// with -tags=deadlock swaps them for go-deadlock instrumented locks.
package syncutil

import "sync"

// DeadlockDetection reports whether lock-order checking is compiled in.
const DeadlockDetection = false

// Mutex is a plain sync.Mutex in regular builds.
type Mutex struct {
	sync.Mutex
}

// RWMutex is a plain sync.RWMutex in regular builds.
type RWMutex struct {
	sync.RWMutex
}
