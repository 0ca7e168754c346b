package tiercache

import "time"

const (
	defaultCapacity       = 100
	defaultTTL            = 24 * time.Hour
	defaultFallbackTTL    = 30 * time.Second
	defaultPersistQueue   = 256
	defaultPersistTimeout = 5 * time.Second
	defaultGenRetention   = 30 * 24 * time.Hour
	defaultSweep          = time.Hour

	defaultRetention       = 7 * 24 * time.Hour
	defaultCleanupInterval = 15 * time.Minute
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
