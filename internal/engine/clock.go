package engine

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// NewSessionID builds a time-based session identifier of the form
// backup-YYYYmmdd-HHMMSS-<suffix>. The suffix keeps two sessions started in
// the same second apart.
func NewSessionID(now time.Time, ids IDGenerator) string {
	suffix := ids.New()
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return "backup-" + now.UTC().Format("20060102-150405") + "-" + suffix
}
