package cubeo

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so sync watermarks and cache expiry are
// deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts surrogate ID generation for corrections and the
// corpus rows they create.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
