// Package gdclient implements the Global Capabilities Directory Client: a
// gRPC proxy to a remote directory service, with the serving backend for
// each call selected by a single custom "gbid" header rather than by a
// distinct connection per GBID.
package gdclient

import (
	"context"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/meshbus/clustercontroller/pkg/discovery"
)

const serviceName = "clustercontroller.capabilitiesdirectory.v1.GlobalCapabilitiesDirectory"

const (
	methodAdd                   = "/" + serviceName + "/Add"
	methodRemove                = "/" + serviceName + "/Remove"
	methodLookupByInterface     = "/" + serviceName + "/LookupByInterface"
	methodLookupByParticipantID = "/" + serviceName + "/LookupByParticipantId"
	methodTouch                 = "/" + serviceName + "/Touch"
	methodRemoveStale           = "/" + serviceName + "/RemoveStale"
)

const gbidHeader = "gbid"

// Client is a thin, opaque-serialization gRPC proxy to the global
// directory. Its method set matches lcd.GlobalDirectory, so the LCD can
// use a *Client as its global directory.
type Client struct {
	conn *grpc.ClientConn
}

// New dials addr, wiring the client-side Prometheus interceptors the way
// controller/util.NewGrpcServer wires the matching server-side ones, and
// registers the JSON wire codec for every call this client makes.
func New(addr string, extraOpts ...grpc.DialOption) (*Client, error) {
	opts := append([]grpc.DialOption{
		grpc.WithInsecure(),
		grpc.WithUnaryInterceptor(grpc_prometheus.UnaryClientInterceptor),
		grpc.WithStreamInterceptor(grpc_prometheus.StreamClientInterceptor),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	}, extraOpts...)
	conn, err := grpc.Dial(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func withGbid(ctx context.Context, gbid string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, gbidHeader, gbid)
}

// firstGbid returns gbids[0], the gbid the add/remove path routes on, or
// "" if gbids is empty (the server falls back to its default backend).
func firstGbid(gbids []string) string {
	if len(gbids) == 0 {
		return ""
	}
	return gbids[0]
}

// Add registers entry against the directory selected by gbids[0].
func (c *Client) Add(ctx context.Context, entry discovery.Entry, gbids []string) error {
	gbid := firstGbid(gbids)
	req := &addRequest{Entry: toWire(entry), Gbids: gbids}
	resp := new(addResponse)
	if err := c.conn.Invoke(withGbid(ctx, gbid), methodAdd, req, resp); err != nil {
		return &DiscoveryError{Op: "add", Gbid: gbid, Cause: err}
	}
	return nil
}

// Remove deregisters participantID from the directories in gbids.
func (c *Client) Remove(ctx context.Context, participantID string, gbids []string) error {
	gbid := firstGbid(gbids)
	req := &removeRequest{ParticipantID: participantID, Gbids: gbids}
	resp := new(removeResponse)
	if err := c.conn.Invoke(withGbid(ctx, gbid), methodRemove, req, resp); err != nil {
		return &DiscoveryError{Op: "remove", Gbid: gbid, Cause: err}
	}
	return nil
}

// LookupByInterface looks up providers of (domains, interfaceName),
// scoped to gbids, with an RPC deadline of ttlMs.
func (c *Client) LookupByInterface(ctx context.Context, domains []string, interfaceName string, gbids []string, ttlMs int64) ([]discovery.Entry, error) {
	gbid := firstGbid(gbids)
	req := &lookupByInterfaceRequest{Domains: domains, InterfaceName: interfaceName, Gbids: gbids, TTLMs: ttlMs}
	resp := new(lookupByInterfaceResponse)
	if err := c.conn.Invoke(withGbid(ctx, gbid), methodLookupByInterface, req, resp); err != nil {
		return nil, &DiscoveryError{Op: "lookupByInterface", Gbid: gbid, Cause: err}
	}
	entries := make([]discovery.Entry, len(resp.Entries))
	for i, e := range resp.Entries {
		entries[i] = fromWire(e)
	}
	return entries, nil
}

// LookupByParticipantID looks up the single provider registered under
// participantID.
func (c *Client) LookupByParticipantID(ctx context.Context, participantID string, gbids []string, ttlMs int64) (discovery.Entry, error) {
	gbid := firstGbid(gbids)
	req := &lookupByParticipantIDRequest{ParticipantID: participantID, Gbids: gbids, TTLMs: ttlMs}
	resp := new(lookupByParticipantIDResponse)
	if err := c.conn.Invoke(withGbid(ctx, gbid), methodLookupByParticipantID, req, resp); err != nil {
		return discovery.Entry{}, &DiscoveryError{Op: "lookupByParticipantId", Gbid: gbid, Cause: err}
	}
	return fromWire(resp.Entry), nil
}

// Touch refreshes lastSeenDateMs for participantIDs in gbid, on behalf of
// clusterControllerID.
func (c *Client) Touch(ctx context.Context, clusterControllerID string, participantIDs []string, gbid string) error {
	req := &touchRequest{ClusterControllerID: clusterControllerID, ParticipantIDs: participantIDs, Gbid: gbid}
	resp := new(touchResponse)
	if err := c.conn.Invoke(withGbid(ctx, gbid), methodTouch, req, resp); err != nil {
		return &DiscoveryError{Op: "touch", Gbid: gbid, Cause: err}
	}
	return nil
}

// RemoveStale asks gbid's directory to drop every entry registered by
// clusterControllerID not seen since before maxLastSeenDateMs.
func (c *Client) RemoveStale(ctx context.Context, clusterControllerID string, maxLastSeenDateMs int64, gbid string) error {
	req := &removeStaleRequest{ClusterControllerID: clusterControllerID, MaxLastSeenDateMs: maxLastSeenDateMs, Gbid: gbid}
	resp := new(removeStaleResponse)
	if err := c.conn.Invoke(withGbid(ctx, gbid), methodRemoveStale, req, resp); err != nil {
		return &DiscoveryError{Op: "removeStale", Gbid: gbid, Cause: err}
	}
	return nil
}
