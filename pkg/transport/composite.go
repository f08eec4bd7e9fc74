package transport

import "github.com/meshbus/clustercontroller/pkg/address"

// CompositeStubFactory tries each factory in order and returns the first
// non-nil Stub produced, so the router can be wired against one
// StubFactory regardless of how many transports are actually configured.
type CompositeStubFactory struct {
	factories []StubFactory
}

// NewCompositeStubFactory composes factories in the given priority order.
func NewCompositeStubFactory(factories ...StubFactory) *CompositeStubFactory {
	return &CompositeStubFactory{factories: factories}
}

func (c *CompositeStubFactory) Create(addr address.Address) Stub {
	for _, f := range c.factories {
		if s := f.Create(addr); s != nil {
			return s
		}
	}
	return nil
}
