package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/meshbus/clustercontroller/pkg/address"
)

// Encoder serializes an application Message to bytes for the wire. The
// concrete codec is opaque to this package ("the
// serialization format itself" is out of scope).
type Encoder interface {
	Encode(msg Message) ([]byte, error)
}

// WebSocketStubFactory produces Stubs for WebSocketServer/WebSocketClient
// addresses, backed by github.com/gorilla/websocket connections. It
// caches one connection per address and reconnects lazily on failure.
type WebSocketStubFactory struct {
	encoder Encoder
	dialer  *websocket.Dialer

	mu    sync.Mutex
	conns map[string]*websocket.Conn
	log   *log.Entry
}

// NewWebSocketStubFactory returns a factory that dials out lazily using
// the default gorilla/websocket dialer.
func NewWebSocketStubFactory(encoder Encoder) *WebSocketStubFactory {
	return &WebSocketStubFactory{
		encoder: encoder,
		dialer:  websocket.DefaultDialer,
		conns:   make(map[string]*websocket.Conn),
		log:     log.WithField("component", "transport.websocket"),
	}
}

// Create implements transport.StubFactory. It returns nil for any address
// kind other than WebSocketServer/WebSocketClient, per the stub factory's
// "returns nothing if no transport matches" contract.
func (f *WebSocketStubFactory) Create(addr address.Address) Stub {
	switch addr.Kind() {
	case address.WebSocketServer, address.WebSocketClient:
		return &webSocketStub{factory: f, addr: addr}
	default:
		return nil
	}
}

func (f *WebSocketStubFactory) connFor(addr address.Address) (*websocket.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := addr.Hash()
	if c, ok := f.conns[key]; ok {
		return c, nil
	}

	url := fmt.Sprintf("ws://%s%s", addr.Host(), addr.Path())
	c, _, err := f.dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	f.conns[key] = c
	return c, nil
}

func (f *WebSocketStubFactory) dropConn(addr address.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := addr.Hash()
	if c, ok := f.conns[key]; ok {
		c.Close()
		delete(f.conns, key)
	}
}

// Shutdown closes every cached connection. Router.Shutdown does not call
// it.
func (f *WebSocketStubFactory) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, c := range f.conns {
		c.Close()
		delete(f.conns, key)
	}
}

type webSocketStub struct {
	factory *WebSocketStubFactory
	addr    address.Address
}

func (s *webSocketStub) Transmit(msg Message, onFailure FailureFunc) {
	conn, err := s.factory.connFor(s.addr)
	if err != nil {
		onFailure(&DelayError{Delay: time.Second, Cause: err})
		return
	}

	payload, err := s.factory.encoder.Encode(msg)
	if err != nil {
		// Not a transport error: the message can never be encoded, so
		// retrying would not help.
		onFailure(err)
		return
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		s.factory.dropConn(s.addr)
		onFailure(&DelayError{Delay: time.Second, Cause: err})
	}
}
