package transport

import (
	"sync"

	"github.com/meshbus/clustercontroller/pkg/address"
)

// FakeStub is a Stub used by tests and by non-production transports
// (Channel, in-process loopback) that records every transmitted message
// instead of touching the network.
type FakeStub struct {
	mu        sync.Mutex
	Transmits []Message

	// NextFailure, if set, is returned (and cleared) by the next call to
	// Transmit instead of delivering the message.
	NextFailure error
}

func (s *FakeStub) Transmit(msg Message, onFailure FailureFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.NextFailure != nil {
		err := s.NextFailure
		s.NextFailure = nil
		onFailure(err)
		return
	}
	s.Transmits = append(s.Transmits, msg)
}

func (s *FakeStub) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Transmits)
}

// FakeStubFactory produces one FakeStub per distinct address, or no stub
// at all for addresses in Unroutable, so tests can exercise the "no stub
// produced" branches of schedule().
type FakeStubFactory struct {
	mu         sync.Mutex
	stubs      map[string]*FakeStub
	Unroutable map[string]bool
}

func NewFakeStubFactory() *FakeStubFactory {
	return &FakeStubFactory{
		stubs:      make(map[string]*FakeStub),
		Unroutable: make(map[string]bool),
	}
}

func (f *FakeStubFactory) Create(addr address.Address) Stub {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := addr.Hash()
	if f.Unroutable[key] {
		return nil
	}
	if s, ok := f.stubs[key]; ok {
		return s
	}
	s := &FakeStub{}
	f.stubs[key] = s
	return s
}

// StubFor returns the FakeStub that would be produced for addr, creating
// it if necessary, so tests can assert on Transmits.
func (f *FakeStubFactory) StubFor(addr address.Address) *FakeStub {
	s := f.Create(addr)
	if s == nil {
		return nil
	}
	return s.(*FakeStub)
}
