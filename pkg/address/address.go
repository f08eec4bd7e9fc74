// Package address defines the transport-neutral endpoint identifier shared
// by the routing table, the messaging stub factory and the multicast
// address calculator.
package address

import "fmt"

// Kind tags the variant held by an Address.
type Kind int

const (
	// Channel identifies a long-polling HTTP channel endpoint.
	Channel Kind = iota
	// Mqtt identifies an MQTT broker/topic pair.
	Mqtt
	// WebSocketServer identifies a server-side websocket endpoint this
	// process listens on.
	WebSocketServer
	// WebSocketClient identifies a client-side websocket endpoint this
	// process connects out to.
	WebSocketClient
	// InProcess identifies a receiver living in this process.
	InProcess
	// Uds identifies a Unix domain socket endpoint.
	Uds
)

func (k Kind) String() string {
	switch k {
	case Channel:
		return "channel"
	case Mqtt:
		return "mqtt"
	case WebSocketServer:
		return "websocket-server"
	case WebSocketClient:
		return "websocket-client"
	case InProcess:
		return "in-process"
	case Uds:
		return "uds"
	default:
		return "unknown"
	}
}

// Receiver is the local handler an InProcess address dispatches to. It is
// never persisted; Equal and Hash compare receivers by Name only.
type Receiver interface {
	// Name identifies the receiver for logging purposes only.
	Name() string
}

// Address is a structurally-comparable tagged union over the transport
// endpoints a routing entry may point at. The zero value is not a valid
// Address; use one of the constructors.
type Address struct {
	kind Kind

	channelID string

	brokerURI string
	topic     string

	host string
	path string

	udsPath string

	skeleton Receiver
}

// NewChannel builds a Channel address.
func NewChannel(channelID string) Address {
	return Address{kind: Channel, channelID: channelID}
}

// NewMqtt builds an Mqtt address from a broker URI and topic.
func NewMqtt(brokerURI, topic string) Address {
	return Address{kind: Mqtt, brokerURI: brokerURI, topic: topic}
}

// NewWebSocketServer builds a server-side websocket address.
func NewWebSocketServer(host, path string) Address {
	return Address{kind: WebSocketServer, host: host, path: path}
}

// NewWebSocketClient builds a client-side websocket address.
func NewWebSocketClient(host, path string) Address {
	return Address{kind: WebSocketClient, host: host, path: path}
}

// NewInProcess builds an InProcess address carrying a reference to the
// local receive handler. InProcess addresses are never persisted.
func NewInProcess(skeleton Receiver) Address {
	return Address{kind: InProcess, skeleton: skeleton}
}

// NewUds builds a Unix domain socket address.
func NewUds(path string) Address {
	return Address{kind: Uds, udsPath: path}
}

// Kind reports the variant tag.
func (a Address) Kind() Kind { return a.kind }

// BrokerURI returns the broker URI of an Mqtt address (empty otherwise).
func (a Address) BrokerURI() string { return a.brokerURI }

// Topic returns the topic of an Mqtt address (empty otherwise).
func (a Address) Topic() string { return a.topic }

// ChannelID returns the channel id of a Channel address (empty otherwise).
func (a Address) ChannelID() string { return a.channelID }

// Host returns the host of a websocket address (empty otherwise).
func (a Address) Host() string { return a.host }

// Path returns the path of a websocket address, or the filesystem path of
// a Uds address.
func (a Address) Path() string {
	if a.kind == Uds {
		return a.udsPath
	}
	return a.path
}

// Skeleton returns the local receiver of an InProcess address, or nil.
func (a Address) Skeleton() Receiver { return a.skeleton }

// IsInProcess reports whether this address must never be persisted.
func (a Address) IsInProcess() bool { return a.kind == InProcess }

// Equal reports structural equality: same variant tag, same payload
// fields. InProcess addresses compare equal iff they reference the same
// receiver (by identity, via its Name — two distinct receivers with the
// same name are, by construction, never created by this codebase).
func (a Address) Equal(b Address) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case Channel:
		return a.channelID == b.channelID
	case Mqtt:
		return a.brokerURI == b.brokerURI && a.topic == b.topic
	case WebSocketServer, WebSocketClient:
		return a.host == b.host && a.path == b.path
	case Uds:
		return a.udsPath == b.udsPath
	case InProcess:
		if a.skeleton == nil || b.skeleton == nil {
			return a.skeleton == b.skeleton
		}
		return a.skeleton.Name() == b.skeleton.Name()
	default:
		return false
	}
}

// Hash derives a hash key from the same fields Equal compares. It is
// suitable for use as a map key via the returned string; == on Address
// would compare the embedded receiver interface by value, not by Name.
func (a Address) Hash() string {
	switch a.kind {
	case Channel:
		return fmt.Sprintf("channel:%s", a.channelID)
	case Mqtt:
		return fmt.Sprintf("mqtt:%s:%s", a.brokerURI, a.topic)
	case WebSocketServer:
		return fmt.Sprintf("wss:%s:%s", a.host, a.path)
	case WebSocketClient:
		return fmt.Sprintf("wsc:%s:%s", a.host, a.path)
	case Uds:
		return fmt.Sprintf("uds:%s", a.udsPath)
	case InProcess:
		name := ""
		if a.skeleton != nil {
			name = a.skeleton.Name()
		}
		return fmt.Sprintf("inprocess:%s", name)
	default:
		return "invalid"
	}
}

// String renders a human-readable form for logging.
func (a Address) String() string {
	switch a.kind {
	case Channel:
		return fmt.Sprintf("Channel{%s}", a.channelID)
	case Mqtt:
		return fmt.Sprintf("Mqtt{%s,%s}", a.brokerURI, a.topic)
	case WebSocketServer:
		return fmt.Sprintf("WebSocketServer{%s%s}", a.host, a.path)
	case WebSocketClient:
		return fmt.Sprintf("WebSocketClient{%s%s}", a.host, a.path)
	case Uds:
		return fmt.Sprintf("Uds{%s}", a.udsPath)
	case InProcess:
		name := ""
		if a.skeleton != nil {
			name = a.skeleton.Name()
		}
		return fmt.Sprintf("InProcess{%s}", name)
	default:
		return "Address{invalid}"
	}
}

// persistedForm is the JSON-serializable projection of an Address, used by
// the routing table persistence document. InProcess addresses
// are excluded before reaching this type.
type persistedForm struct {
	Kind      string `json:"kind"`
	ChannelID string `json:"channelId,omitempty"`
	BrokerURI string `json:"brokerUri,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Host      string `json:"host,omitempty"`
	Path      string `json:"path,omitempty"`
}

// MarshalPersisted converts to the persisted projection. Returns false for
// InProcess addresses, which callers must exclude from persistence.
func (a Address) MarshalPersisted() (persistedForm, bool) {
	if a.kind == InProcess {
		return persistedForm{}, false
	}
	return persistedForm{
		Kind:      a.kind.String(),
		ChannelID: a.channelID,
		BrokerURI: a.brokerURI,
		Topic:     a.topic,
		Host:      a.host,
		Path:      a.Path(),
	}, true
}

// UnmarshalPersisted restores an Address from its persisted projection.
func UnmarshalPersisted(p persistedForm) (Address, error) {
	switch p.Kind {
	case Channel.String():
		return NewChannel(p.ChannelID), nil
	case Mqtt.String():
		return NewMqtt(p.BrokerURI, p.Topic), nil
	case WebSocketServer.String():
		return NewWebSocketServer(p.Host, p.Path), nil
	case WebSocketClient.String():
		return NewWebSocketClient(p.Host, p.Path), nil
	case Uds.String():
		return NewUds(p.Path), nil
	default:
		return Address{}, fmt.Errorf("address: unsupported persisted kind %q", p.Kind)
	}
}

// PersistedForm exposes the persisted projection type so routingtable can
// shape its own JSON document around it.
type PersistedForm = persistedForm
