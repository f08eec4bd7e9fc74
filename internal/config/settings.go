// Package config loads the cluster-controller's YAML settings document
// and exposes it as a typed Settings, defaulted over the built-in
// defaults with mergo.
package config

import (
	"os"

	"github.com/imdario/mergo"
	"sigs.k8s.io/yaml"
)

// Settings is the full set of configuration options a deployment may set.
type Settings struct {
	ClusterControllerID string   `json:"clusterControllerId"`
	KnownGbids           []string `json:"knownGbids"`
	DefaultGbid          string   `json:"defaultGbid"`

	GlobalDirectoryAddr string `json:"globalDirectoryAddr"`
	AdminAddr            string `json:"adminAddr"`

	MaxAclRetryIntervalMs                 int64 `json:"maxAclRetryIntervalMs"`
	SendMsgRetryIntervalMs                 int64 `json:"sendMsgRetryIntervalMs"`
	MessageQueueCleanerPeriodMs             int64 `json:"messageQueueCleanerPeriodMs"`
	RoutingTableCleanupIntervalMs           int64 `json:"routingTableCleanupIntervalMs"`
	CapabilitiesFreshnessUpdateIntervalMs   int64 `json:"capabilitiesFreshnessUpdateIntervalMs"`
	ReAddAllGlobalsIntervalMs               int64 `json:"reAddAllGlobalsIntervalMs"`
	PurgeExpiredDiscoveryEntriesIntervalMs  int64 `json:"purgeExpiredDiscoveryEntriesIntervalMs"`
	DefaultExpiryIntervalMs                 int64 `json:"defaultExpiryIntervalMs"`
	DiscoveryTimeoutMs                      int64 `json:"discoveryTimeoutMs"`

	EnableAccessController                          bool `json:"enableAccessController"`
	AclAudit                                         bool `json:"aclAudit"`
	PersistRoutingTable                              bool `json:"persistRoutingTable"`
	IsLocalCapabilitiesDirectoryPersistencyEnabled   bool `json:"isLocalCapabilitiesDirectoryPersistencyEnabled"`
	EnablePprof                                      bool `json:"enablePprof"`

	RouterWorkers int `json:"routerWorkers"`

	RoutingTableFile          string `json:"routingTableFile"`
	MulticastDirectoryFile    string `json:"multicastDirectoryFile"`
	LocalCapabilitiesDirectoryFile string `json:"localCapabilitiesDirectoryFile"`
}

// Default returns the built-in defaults applied before any deployment's
// own settings file is merged over them.
func Default() Settings {
	return Settings{
		DefaultGbid:                            "joynrdefaultgbid",
		MaxAclRetryIntervalMs:                  3_600_000,
		SendMsgRetryIntervalMs:                 1_000,
		MessageQueueCleanerPeriodMs:             1_000,
		RoutingTableCleanupIntervalMs:           60_000,
		CapabilitiesFreshnessUpdateIntervalMs:   60_000,
		ReAddAllGlobalsIntervalMs:               3_600_000,
		PurgeExpiredDiscoveryEntriesIntervalMs:  60_000,
		DefaultExpiryIntervalMs:                 6 * 30 * 24 * 3_600_000,
		DiscoveryTimeoutMs:                      30_000,
		RouterWorkers:                           1,
		AdminAddr:                               ":9990",
		RoutingTableFile:                        "routing-table.json",
		MulticastDirectoryFile:                  "multicast-directory.json",
		LocalCapabilitiesDirectoryFile:          "lcd.json",
	}
}

// Load reads path as a YAML document and merges it over Default(), with
// the file's values taking precedence. A missing path is not an error:
// the defaults are returned unchanged.
func Load(path string) (Settings, error) {
	out := Default()
	if path == "" {
		return out, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return Settings{}, err
	}

	var fromFile Settings
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return Settings{}, err
	}
	if err := mergo.Merge(&out, fromFile, mergo.WithOverride); err != nil {
		return Settings{}, err
	}
	return out, nil
}
