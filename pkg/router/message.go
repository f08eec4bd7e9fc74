// Package router implements the message router: destination resolution,
// queueing, retry with backoff, and multicast fan-out.
package router

import "github.com/meshbus/clustercontroller/pkg/address"

// Message is an immutable inbound message. Payload is opaque: this
// package never interprets it, only moves it between a transport stub
// and a queue.
type Message struct {
	ID                     string
	RecipientParticipantID string // unicast destination; ignored when IsMulticast
	ProviderParticipantID  string // publishing provider, used for the globally-visible fan-out check
	MulticastID            string
	IsMulticast            bool
	GBID                   string // optional "gbid" custom header
	ExpiryDateMsValue      int64
	Payload                []byte
	FromGlobalBackend      bool
}

// ExpiryDateMs implements transport.Message.
func (m *Message) ExpiryDateMs() int64 { return m.ExpiryDateMsValue }

// MulticastAddressCalculator produces the extra addresses a globally
// visible provider's multicast must additionally reach (e.g. a global
// broker topic), for messages that did not themselves arrive from the
// global backend.
type MulticastAddressCalculator interface {
	CalculateAddresses(msg *Message) []address.Address
}

// AccessController gates message transmission. A nil controller always
// permits. When present and a message is denied, the router logs and
// drops rather than transmitting; policy evaluation itself is out of
// scope here.
type AccessController interface {
	CanMessageBeTransmitted(msg *Message) bool
}
