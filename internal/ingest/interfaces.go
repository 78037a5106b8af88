package ingest

import "time"

// Clock supplies timestamps for fetch stamping and run timing.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
