package msgqueue

import "time"

// WithDecayTime pairs an expiry date with an IsExpired check for a unit
// of work that carries a TTL. No type in this repository embeds it:
// Queue reads expiry through its ExpiryFunc, and the router's send task
// compares the message's own expiry directly.
type WithDecayTime struct {
	ExpiryDateMs int64
}

// IsExpired reports whether this unit of work has decayed as of now.
func (w WithDecayTime) IsExpired(now time.Time) bool {
	return now.UnixMilli() > w.ExpiryDateMs
}
