package gdclient

import "github.com/meshbus/clustercontroller/pkg/discovery"

// globalEntry is the wire projection of a GlobalDiscoveryEntry: a
// discovery.Entry plus its serialized provider address, the only
// extra field a global entry carries over a plain DiscoveryEntry.
type globalEntry struct {
	ProviderVersionMajor int                       `json:"providerVersionMajor"`
	ProviderVersionMinor int                       `json:"providerVersionMinor"`
	Domain               string                    `json:"domain"`
	InterfaceName        string                    `json:"interfaceName"`
	ParticipantID        string                    `json:"participantId"`
	Priority             int64                     `json:"priority"`
	Scope                string                    `json:"scope"`
	SupportsOnChange     bool                      `json:"supportsOnChangeSubscriptions"`
	CustomParameters     []customParameter         `json:"customParameters,omitempty"`
	LastSeenDateMs       int64                     `json:"lastSeenDateMs"`
	ExpiryDateMs         int64                     `json:"expiryDateMs"`
	PublicKeyID          string                    `json:"publicKeyId"`
	SerializedAddress    string                    `json:"address"`
}

type customParameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func toWire(e discovery.Entry) globalEntry {
	params := make([]customParameter, len(e.ProviderQos.CustomParameters))
	for i, p := range e.ProviderQos.CustomParameters {
		params[i] = customParameter{Name: p.Name, Value: p.Value}
	}
	scope := "LOCAL"
	if e.ProviderQos.Scope == discovery.Global {
		scope = "GLOBAL"
	}
	return globalEntry{
		ProviderVersionMajor: e.ProviderVersion.Major,
		ProviderVersionMinor: e.ProviderVersion.Minor,
		Domain:               e.Domain,
		InterfaceName:        e.InterfaceName,
		ParticipantID:        e.ParticipantID,
		Priority:             e.ProviderQos.Priority,
		Scope:                scope,
		SupportsOnChange:     e.ProviderQos.SupportsOnChangeSubscriptions,
		CustomParameters:     params,
		LastSeenDateMs:       e.LastSeenDateMs,
		ExpiryDateMs:         e.ExpiryDateMs,
		PublicKeyID:          e.PublicKeyID,
		SerializedAddress:    e.SerializedAddress,
	}
}

func fromWire(w globalEntry) discovery.Entry {
	params := make([]discovery.CustomParameter, len(w.CustomParameters))
	for i, p := range w.CustomParameters {
		params[i] = discovery.CustomParameter{Name: p.Name, Value: p.Value}
	}
	scope := discovery.Local
	if w.Scope == "GLOBAL" {
		scope = discovery.Global
	}
	return discovery.Entry{
		ProviderVersion: discovery.Version{Major: w.ProviderVersionMajor, Minor: w.ProviderVersionMinor},
		Domain:          w.Domain,
		InterfaceName:   w.InterfaceName,
		ParticipantID:   w.ParticipantID,
		ProviderQos: discovery.ProviderQos{
			Priority:                      w.Priority,
			Scope:                         scope,
			SupportsOnChangeSubscriptions: w.SupportsOnChange,
			CustomParameters:              params,
		},
		LastSeenDateMs:    w.LastSeenDateMs,
		ExpiryDateMs:      w.ExpiryDateMs,
		PublicKeyID:       w.PublicKeyID,
		SerializedAddress: w.SerializedAddress,
		IsGlobalEntry:     true,
	}
}

type addRequest struct {
	Entry globalEntry `json:"entry"`
	Gbids []string    `json:"gbids"`
}

type addResponse struct{}

type removeRequest struct {
	ParticipantID string   `json:"participantId"`
	Gbids         []string `json:"gbids"`
}

type removeResponse struct{}

type lookupByInterfaceRequest struct {
	Domains       []string `json:"domains"`
	InterfaceName string   `json:"interfaceName"`
	Gbids         []string `json:"gbids"`
	TTLMs         int64    `json:"ttlMs"`
}

type lookupByInterfaceResponse struct {
	Entries []globalEntry `json:"entries"`
}

type lookupByParticipantIDRequest struct {
	ParticipantID string   `json:"participantId"`
	Gbids         []string `json:"gbids"`
	TTLMs         int64    `json:"ttlMs"`
}

type lookupByParticipantIDResponse struct {
	Entry globalEntry `json:"entry"`
}

type touchRequest struct {
	ClusterControllerID string   `json:"clusterControllerId"`
	ParticipantIDs       []string `json:"participantIds"`
	Gbid                 string   `json:"gbid"`
}

type touchResponse struct{}

type removeStaleRequest struct {
	ClusterControllerID string `json:"clusterControllerId"`
	MaxLastSeenDateMs    int64  `json:"maxLastSeenDateMs"`
	Gbid                 string `json:"gbid"`
}

type removeStaleResponse struct{}
