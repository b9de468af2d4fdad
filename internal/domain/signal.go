package domain

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Signal is the immutable typed message exchanged between agent instances
// and dispatch destinations.
type Signal struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Source        string    `json:"source"`
	Subject       string    `json:"subject,omitempty"`
	Data          any       `json:"data,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CausationID   string    `json:"causation_id,omitempty"`
	Time          time.Time `json:"time,omitzero"`
}

// NewSignal creates a signal with a fresh ULID and UTC timestamp.
func NewSignal(sigType, source string, data any) Signal {
	return Signal{
		ID:     NewID(),
		Type:   sigType,
		Source: source,
		Data:   data,
		Time:   time.Now().UTC(),
	}
}

// CausedBy returns a copy of s carrying causation/correlation metadata
// derived from the triggering signal.
func (s Signal) CausedBy(cause Signal) Signal {
	s.CausationID = cause.ID
	s.CorrelationID = cause.CorrelationID
	if s.CorrelationID == "" {
		s.CorrelationID = cause.ID
	}
	return s
}

// NewID returns a lexicographically sortable unique identifier.
func NewID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
