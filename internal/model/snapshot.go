// internal/model/snapshot.go
package model

import "time"

// PowerState represents the reported power state of the matrix
type PowerState string

const (
	PowerUnknown PowerState = "UNKNOWN"
	PowerOn      PowerState = "ON"
	PowerOff     PowerState = "OFF"
)

// MultiviewMode names the screen layouts of a multiviewer
var MultiviewMode = map[int]string{
	1: "single",
	2: "pip",
	3: "pbp",
	4: "triple",
	5: "quad",
}

// Snapshot is the last known device state. Snapshots are values and are
// never modified after construction; a refresh builds a new one.
type Snapshot struct {
	Power PowerState `json:"power"`
	// Input is the routed input, 0 while unknown.
	Input int `json:"input"`
	// AudioOutput is the audio source, 0 meaning "follow window". Nil while
	// unknown or not polled.
	AudioOutput *int `json:"audio_output,omitempty"`
	// Multiview is the layout mode. Nil while unknown or not polled.
	Multiview *int `json:"multiview,omitempty"`

	Revision            uint64    `json:"revision"`
	UpdatedAt           time.Time `json:"updated_at"`
	CheckedAt           time.Time `json:"checked_at"`
	Stale               bool      `json:"stale"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// InitialSnapshot is the state before the first refresh.
func InitialSnapshot() Snapshot {
	return Snapshot{Power: PowerUnknown}
}

// Ready reports whether the snapshot holds confirmed, current state.
func (s Snapshot) Ready() bool {
	return s.Revision > 0 && !s.Stale
}

// Failing reports whether the latest refresh failed.
func (s Snapshot) Failing() bool {
	return s.ConsecutiveFailures > 0
}

// SameState reports whether observers would see no difference between s
// and other: the device values, staleness and whether the link is failing.
// Revision, timestamps, the failure count and the error text are ignored,
// so repeated failures in the same state stay quiet.
func (s Snapshot) SameState(other Snapshot) bool {
	return s.Power == other.Power &&
		s.Input == other.Input &&
		equalOptional(s.AudioOutput, other.AudioOutput) &&
		equalOptional(s.Multiview, other.Multiview) &&
		s.Stale == other.Stale &&
		s.Failing() == other.Failing()
}

// MultiviewName returns the layout name, or "" while unknown.
func (s Snapshot) MultiviewName() string {
	if s.Multiview == nil {
		return ""
	}
	return MultiviewMode[*s.Multiview]
}

func equalOptional(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
