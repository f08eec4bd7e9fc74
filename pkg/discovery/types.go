// Package discovery holds the data types shared by the LCD store, the
// arbitrator and the local capabilities directory: discovery entries,
// provider QoS, discovery QoS and version compatibility.
package discovery

import "fmt"

// Scope selects where a lookup is evaluated.
type Scope int

const (
	LocalOnly Scope = iota
	LocalThenGlobal
	LocalAndGlobal
	GlobalOnly
)

// ProviderScope marks whether a provider is visible only within this
// cluster-controller or globally, via a backend.
type ProviderScope int

const (
	Local ProviderScope = iota
	Global
)

// Version is a provider/consumer interface version pair.
type Version struct {
	Major int
	Minor int
}

// CompatibleWith reports whether a provider version p is compatible with
// a consumer-expected version c: Mp == Mc && mp >= mc.
func (p Version) CompatibleWith(c Version) bool {
	return p.Major == c.Major && p.Minor >= c.Minor
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// ProviderQos carries the provider-side quality-of-service attributes
// consulted by arbitration strategies.
type ProviderQos struct {
	Priority                     int64
	Scope                        ProviderScope
	SupportsOnChangeSubscriptions bool
	CustomParameters             []CustomParameter
}

// CustomParameter is one entry of an ordered name->value map.
type CustomParameter struct {
	Name  string
	Value string
}

// Get returns the value of the named custom parameter, if present.
func (q ProviderQos) Get(name string) (string, bool) {
	for _, p := range q.CustomParameters {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Entry is a DiscoveryEntry.
type Entry struct {
	ProviderVersion Version
	Domain          string
	InterfaceName   string
	ParticipantID   string
	ProviderQos     ProviderQos
	LastSeenDateMs  int64
	ExpiryDateMs    int64
	PublicKeyID     string

	// SerializedAddress is populated on a GlobalDiscoveryEntry: the
	// provider's transport address, opaque at this layer.
	SerializedAddress string
	IsGlobalEntry     bool
}

// WithMetaInfo is a DiscoveryEntryWithMetaInfo: an Entry plus whether it
// was served from the local registry.
type WithMetaInfo struct {
	Entry
	IsLocal bool
}

// Qos is the consumer-side DiscoveryQos driving a lookup or arbitration
// attempt.
type Qos struct {
	DiscoveryTimeoutMs        int64
	RetryIntervalMs           int64
	CacheMaxAgeMs             int64 // -1 disables age filtering
	DiscoveryScope            Scope
	ProviderMustSupportOnChange bool
	CustomParameters          []CustomParameter
	QosArbitrationWeight      float64 // priority-vs-recency weight read by the QOS strategy; the strategy itself is chosen by name
}

// Get returns the value of the named custom parameter on the discovery
// QoS, if present (used by the KEYWORD strategy).
func (q Qos) Get(name string) (string, bool) {
	for _, p := range q.CustomParameters {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}
