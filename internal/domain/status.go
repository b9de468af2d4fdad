package domain

import "fmt"

// Status is the lifecycle state of an agent instance. Exactly one is active
// at any time; transitions follow initializing → idle ⇄ processing → stopping.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusIdle         Status = "idle"
	StatusProcessing   Status = "processing"
	StatusStopping     Status = "stopping"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInitializing, StatusIdle, StatusProcessing, StatusStopping:
		return true
	default:
		return false
	}
}

// ParseStatus converts a string to a Status, or ErrInvalidStatus.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%q: %w", s, ErrInvalidStatus)
	}
	return st, nil
}

// ParentDeathPolicy is applied when an instance's parent terminates.
type ParentDeathPolicy string

const (
	ParentDeathStop   ParentDeathPolicy = "stop"
	ParentDeathIgnore ParentDeathPolicy = "ignore"
)

// Valid reports whether p is a known policy.
func (p ParentDeathPolicy) Valid() bool {
	return p == ParentDeathStop || p == ParentDeathIgnore
}
