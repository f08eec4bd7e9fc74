package transport

import (
	"sync"
	"sync/atomic"

	"github.com/meshbus/clustercontroller/pkg/address"
)

// GateStatus is a simple Status implementation gating a single address
// Kind behind an availability flag, flipped externally (e.g. by an MQTT
// client's connect/disconnect callbacks).
type GateStatus struct {
	name string
	kind address.Kind

	available atomic.Bool

	mu       sync.Mutex
	onChange func(bool)
}

// NewGateStatus returns a Status responsible for every address of the
// given kind, starting in the given availability state.
func NewGateStatus(name string, kind address.Kind, startAvailable bool) *GateStatus {
	g := &GateStatus{name: name, kind: kind}
	g.available.Store(startAvailable)
	return g
}

func (g *GateStatus) IsResponsibleFor(addr address.Address) bool { return addr.Kind() == g.kind }
func (g *GateStatus) IsAvailable() bool                          { return g.available.Load() }
func (g *GateStatus) Name() string                               { return g.name }

func (g *GateStatus) OnAvailabilityChanged(cb func(bool)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = cb
}

// SetAvailable flips availability and, on every transition, fires the
// registered callback with the new state; the router drains its
// transport-not-available queue for this status when it receives true.
func (g *GateStatus) SetAvailable(available bool) {
	prev := g.available.Swap(available)
	if prev == available {
		return
	}
	g.mu.Lock()
	cb := g.onChange
	g.mu.Unlock()
	if cb != nil {
		cb(available)
	}
}
