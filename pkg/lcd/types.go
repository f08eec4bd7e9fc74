package lcd

import (
	"context"

	"github.com/meshbus/clustercontroller/pkg/address"
	"github.com/meshbus/clustercontroller/pkg/discovery"
	"github.com/meshbus/clustercontroller/pkg/routingtable"
)

// GlobalDirectory is the subset of *gdclient.Client the LCD drives.
// Defined as an interface here so tests can fake the remote backend.
type GlobalDirectory interface {
	Add(ctx context.Context, entry discovery.Entry, gbids []string) error
	Remove(ctx context.Context, participantID string, gbids []string) error
	LookupByInterface(ctx context.Context, domains []string, interfaceName string, gbids []string, ttlMs int64) ([]discovery.Entry, error)
	LookupByParticipantID(ctx context.Context, participantID string, gbids []string, ttlMs int64) (discovery.Entry, error)
	Touch(ctx context.Context, clusterControllerID string, participantIDs []string, gbid string) error
	RemoveStale(ctx context.Context, clusterControllerID string, maxLastSeenDateMs int64, gbid string) error
}

// RouterBinder is the subset of *router.Router the LCD uses to turn a
// discovered provider into a usable next hop, and to remove it again once
// the discovery entry is gone.
type RouterBinder interface {
	AddNextHop(participantID string, addr address.Address, isGloballyVisible bool, expiryDateMs int64, isSticky bool, gbid string) routingtable.AddResult
	RemoveNextHop(participantID string)
}

// AccessController gates provider registration. A nil controller always
// permits.
type AccessController interface {
	CanRegisterProvider(entry discovery.Entry) bool
}

// AddressDeserializer turns a GlobalDiscoveryEntry's opaque
// SerializedAddress back into a routable address.Address. The wire
// format itself is out of scope; DefaultAddressDeserializer provides the
// JSON projection this repository's own persistence uses.
type AddressDeserializer func(serialized string) (address.Address, error)
