// Package transport defines the pluggable messaging stub contract the
// router dispatches through, plus the transport
// availability gate used to queue messages while a transport is down.
package transport

import (
	"time"

	"github.com/meshbus/clustercontroller/pkg/address"
)

// Message is the minimal surface the router's transport layer needs from
// an application message: its own decay time, for the per-task expiry
// check the router's send task performs before transmit.
type Message interface {
	ExpiryDateMs() int64
}

// FailureFunc is invoked by a Stub when Transmit could not complete.
type FailureFunc func(err error)

// Stub is an active send capability bound to one Address, obtained from a
// StubFactory. The router never retains a Stub beyond one task.
type Stub interface {
	// Transmit attempts delivery of msg. onFailure is called, synchronously
	// or asynchronously, if delivery does not succeed; a *DelayError
	// triggers a backoff-and-retry, any other error is logged and dropped.
	Transmit(msg Message, onFailure FailureFunc)
}

// StubFactory returns an active send capability for an Address, or nil if
// no transport matches.
type StubFactory interface {
	Create(addr address.Address) Stub
}

// Status gates message delivery to a class of addresses behind an
// availability flag. When unavailable, the
// router queues messages addressed through a matching transport rather
// than attempting delivery.
type Status interface {
	// IsResponsibleFor reports whether this status object gates addr.
	IsResponsibleFor(addr address.Address) bool
	// IsAvailable reports the current availability of the transport.
	IsAvailable() bool
	// Name uniquely identifies this status object, used as the
	// transport-not-available queue's key.
	Name() string
	// OnAvailabilityChanged registers a callback invoked when the
	// transport's availability flips. Only one callback is retained.
	OnAvailabilityChanged(func(available bool))
}

// DelayError is returned by a Stub's onFailure to request a retry after
// the given delay, rather than a permanent failure.
type DelayError struct {
	Delay time.Duration
	Cause error
}

func (e *DelayError) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "transport: delayed retry requested"
}

func (e *DelayError) Unwrap() error { return e.Cause }
