// internal/service/observer.go
package service

import "matrix-service/internal/model"

// Observer is told about every snapshot that differs from its predecessor.
// Calls are synchronous and made while the refresh lock is held, so an
// observer must return quickly and must not call back into the coordinator.
type Observer interface {
	SnapshotChanged(snapshot model.Snapshot)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(snapshot model.Snapshot)

// SnapshotChanged calls f.
func (f ObserverFunc) SnapshotChanged(snapshot model.Snapshot) {
	f(snapshot)
}
