package storage

import "time"

// Value represents a stored value with metadata
type Value struct {
	Data    []byte
	Expiry  *time.Time
	Version int64
}

// IsExpired returns true if the value has expired
func (v *Value) IsExpired() bool {
	return v.expiredAt(time.Now())
}

// expiredAt reports whether the deadline is at or before now
func (v *Value) expiredAt(now time.Time) bool {
	return v.Expiry != nil && !v.Expiry.After(now)
}

// remaining returns the time left before expiry, -1 when the value
// never expires
func (v *Value) remaining(now time.Time) time.Duration {
	if v.Expiry == nil {
		return -1
	}
	d := v.Expiry.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// size estimates the memory held by the value
func (v *Value) size(key string) int64 {
	const overhead = 48
	return int64(len(key)+len(v.Data)) + overhead
}
