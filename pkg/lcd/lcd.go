// Package lcd implements the Local Capabilities Directory: the
// orchestrator composing the LCD store, the global directory client and
// the message router into add/lookup/remove operations plus the
// directory's periodic maintenance tasks.
package lcd

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/meshbus/clustercontroller/pkg/address"
	"github.com/meshbus/clustercontroller/pkg/discovery"
	"github.com/meshbus/clustercontroller/pkg/lcdstore"
	"github.com/meshbus/clustercontroller/pkg/scheduler"
)

// Config bundles the LCD's tunables, named after the configuration
// options a deployment is expected to set explicitly.
type Config struct {
	ClusterControllerID string
	KnownGbids           []string
	DefaultGbid          string

	DefaultExpiryIntervalMs int64

	CapabilitiesFreshnessUpdateIntervalMs time.Duration
	ReAddAllGlobalsInterval               time.Duration
	PurgeExpiredDiscoveryEntriesInterval   time.Duration

	DiscoveryTimeoutMs int64

	AddressDeserializer AddressDeserializer
}

func (c Config) deserializer() AddressDeserializer {
	if c.AddressDeserializer != nil {
		return c.AddressDeserializer
	}
	return DefaultAddressDeserializer
}

// pendingLookup is one in-flight lookup by (domain, interface) awaiting a
// global response, satisfied either by that response or by a concurrent
// local add.
type pendingLookup struct {
	satisfied bool
}

// Directory is the Local Capabilities Directory.
type Directory struct {
	cfg Config

	store  *lcdstore.Store
	global GlobalDirectory
	router RouterBinder
	acl    AccessController

	sched *scheduler.Scheduler

	pendingMu sync.Mutex
	pending   map[string]*pendingLookup // "domain\x00interface" -> state

	log *log.Entry
}

// New composes a Directory over store (required), global and router
// (both optional: a nil global directory makes every GLOBAL-scope
// operation fail fast; a nil router simply skips next-hop registration),
// and an optional access controller.
func New(cfg Config, store *lcdstore.Store, global GlobalDirectory, router RouterBinder, acl AccessController) *Directory {
	return &Directory{
		cfg:     cfg,
		store:   store,
		global:  global,
		router:  router,
		acl:     acl,
		sched:   scheduler.New(1),
		pending: make(map[string]*pendingLookup),
		log:     log.WithField("component", "lcd"),
	}
}

func pendingKey(domain, interfaceName string) string { return domain + "\x00" + interfaceName }

// validateGbids checks the gbid list per the add/lookup contract: empty
// string or duplicate entries are invalid; entries outside the known set
// are unknown. An empty list is valid and expands to every known gbid.
func (d *Directory) validateGbids(gbids []string) ([]string, error) {
	if len(gbids) == 0 {
		return append([]string(nil), d.cfg.KnownGbids...), nil
	}
	seen := make(map[string]struct{}, len(gbids))
	known := make(map[string]struct{}, len(d.cfg.KnownGbids))
	for _, g := range d.cfg.KnownGbids {
		known[g] = struct{}{}
	}
	for _, g := range gbids {
		if g == "" {
			return nil, ErrInvalidGbid
		}
		if _, dup := seen[g]; dup {
			return nil, ErrInvalidGbid
		}
		seen[g] = struct{}{}
		if _, ok := known[g]; !ok {
			return nil, ErrUnknownGbid
		}
	}
	return gbids, nil
}

// Add registers entry. awaitGlobalRegistration only matters for
// GLOBAL-scope entries: when true, the global directory call must
// succeed before the entry is visible locally.
func (d *Directory) Add(ctx context.Context, entry discovery.Entry, awaitGlobalRegistration bool, gbids []string) error {
	gbids, err := d.validateGbids(gbids)
	if err != nil {
		return err
	}
	if d.acl != nil && !d.acl.CanRegisterProvider(entry) {
		return &ProviderRuntimeError{ParticipantID: entry.ParticipantID, Cause: errors.New("provider registration denied")}
	}

	if entry.ProviderQos.Scope == discovery.Local || !awaitGlobalRegistration {
		d.insertLocally(entry, gbids)
		return nil
	}

	if d.global == nil {
		return errors.New("lcd: no global directory configured for a GLOBAL-scope registration")
	}
	if err := d.global.Add(ctx, entry, gbids); err != nil {
		return err
	}
	d.insertLocally(entry, gbids)
	return nil
}

func (d *Directory) insertLocally(entry discovery.Entry, gbids []string) {
	d.store.InsertLocal(entry)
	if entry.ProviderQos.Scope == discovery.Global {
		d.store.InsertGlobal(entry, gbids)
	}
	d.fulfillPending(entry.Domain, entry.InterfaceName)
}

// fulfillPending marks any lookup waiting on (domain, interfaceName) as
// satisfied by this concurrent local add, so a late global response for
// the same key is ignored rather than delivered a second time.
func (d *Directory) fulfillPending(domain, interfaceName string) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	if p, ok := d.pending[pendingKey(domain, interfaceName)]; ok {
		p.satisfied = true
	}
}

// LookupByInterface resolves providers of interfaceName across domains,
// consulting the local/cached view first and falling back to the global
// directory. Its signature matches arbitrator.DiscoveryProxy so a
// *Directory can be plugged straight into an Arbitrator.
func (d *Directory) LookupByInterface(ctx context.Context, domains []string, interfaceName string, qos discovery.Qos, gbids []string) ([]discovery.WithMetaInfo, error) {
	if results, ok := d.store.LookupByInterface(domains, interfaceName, qos, gbids); ok {
		return results, nil
	}

	if d.global == nil {
		return nil, errors.New("lcd: no global directory configured and no local/cached match")
	}

	states := make([]*pendingLookup, len(domains))
	d.pendingMu.Lock()
	for i, dom := range domains {
		key := pendingKey(dom, interfaceName)
		p, ok := d.pending[key]
		if !ok {
			p = &pendingLookup{}
			d.pending[key] = p
		}
		states[i] = p
	}
	d.pendingMu.Unlock()

	defer func() {
		d.pendingMu.Lock()
		for _, dom := range domains {
			delete(d.pending, pendingKey(dom, interfaceName))
		}
		d.pendingMu.Unlock()
	}()

	ttl := qos.DiscoveryTimeoutMs
	if ttl == 0 {
		ttl = d.cfg.DiscoveryTimeoutMs
	}
	entries, err := d.global.LookupByInterface(ctx, domains, interfaceName, gbids, ttl)
	if err != nil {
		return nil, err
	}

	for _, s := range states {
		if s.satisfied {
			// A concurrent local add already answered this key; the
			// caller that triggered it already got a result. Drop this
			// late response rather than deliver it a second time.
			return d.store.LookupByInterface(domains, interfaceName, qos, gbids)
		}
	}

	return d.ingestGlobalResults(entries, gbids), nil
}

// LookupByParticipantID is the single-entry analog of LookupByInterface.
func (d *Directory) LookupByParticipantID(ctx context.Context, participantID string, qos discovery.Qos, gbids []string) (discovery.WithMetaInfo, error) {
	result, ok, deferred := d.store.LookupByParticipantID(participantID, qos, gbids)
	if ok {
		return result, nil
	}
	if !deferred {
		return discovery.WithMetaInfo{}, ErrNoEntryForParticipant
	}
	if d.global == nil {
		return discovery.WithMetaInfo{}, ErrNoEntryForParticipant
	}

	ttl := qos.DiscoveryTimeoutMs
	if ttl == 0 {
		ttl = d.cfg.DiscoveryTimeoutMs
	}
	entry, err := d.global.LookupByParticipantID(ctx, participantID, gbids, ttl)
	if err != nil {
		return discovery.WithMetaInfo{}, err
	}
	ingested := d.ingestGlobalResults([]discovery.Entry{entry}, gbids)
	if len(ingested) == 0 {
		return discovery.WithMetaInfo{}, ErrNoEntryForParticipant
	}
	return ingested[0], nil
}

// ingestGlobalResults registers each entry's next hop in the router,
// inserts it into the global cache, de-duplicates against anything
// already known locally, and returns the caller-facing result set.
func (d *Directory) ingestGlobalResults(entries []discovery.Entry, gbids []string) []discovery.WithMetaInfo {
	out := make([]discovery.WithMetaInfo, 0, len(entries))
	for _, e := range entries {
		if local, ok := d.store.LocalEntry(e.ParticipantID); ok {
			out = append(out, discovery.WithMetaInfo{Entry: local, IsLocal: true})
			continue
		}

		if d.router != nil && e.SerializedAddress != "" {
			if addr, err := d.cfg.deserializer()(e.SerializedAddress); err == nil {
				d.router.AddNextHop(e.ParticipantID, addr, true, e.ExpiryDateMs, false, gbidForAddress(addr, d.cfg.DefaultGbid))
			} else {
				d.log.Warnf("could not deserialize address for participantId=%s: %v", e.ParticipantID, err)
			}
		}

		d.store.InsertGlobal(e, gbids)
		out = append(out, discovery.WithMetaInfo{Entry: e, IsLocal: false})
	}
	return out
}

// gbidForAddress is the "address contributes its own gbid" rule: an Mqtt
// address's broker uri is itself a usable gbid, any other transport
// falls back to the configured default.
func gbidForAddress(addr address.Address, defaultGbid string) string {
	if addr.Kind() == address.Mqtt {
		return addr.BrokerURI()
	}
	return defaultGbid
}

// Remove deregisters participantID from every store that knows it, the
// global directory (if globally visible) and the router.
func (d *Directory) Remove(ctx context.Context, participantID string) error {
	gbids, hasGbids := d.store.GbidsFor(participantID)
	if hasGbids && len(gbids) > 0 && d.global != nil {
		if err := d.global.Remove(ctx, participantID, gbids); err != nil {
			return err
		}
	}
	d.store.RemoveByParticipantID(participantID)
	if d.router != nil {
		d.router.RemoveNextHop(participantID)
	}
	return nil
}

// TriggerGlobalProviderReregistration refreshes every locally registered
// entry's lastSeenDateMs/expiryDateMs and re-adds every GLOBAL entry to
// the global directory, to recover from remote-side state loss.
func (d *Directory) TriggerGlobalProviderReregistration(ctx context.Context) {
	now := nowMs()
	d.store.TouchAndExtend(now, d.cfg.DefaultExpiryIntervalMs)
	if d.global == nil {
		return
	}
	for _, e := range d.store.AllGlobalCapabilities() {
		gbids, _ := d.store.GbidsFor(e.ParticipantID)
		if err := d.global.Add(ctx, e, gbids); err != nil {
			d.log.Warnf("re-registration failed for participantId=%s: %v", e.ParticipantID, err)
		}
	}
}

// StartMaintenance arms the freshness-touch, re-add-all-globals and
// expiry-purge timers. Call once after construction, after an optional
// initial call to RemoveStaleOnStartup.
func (d *Directory) StartMaintenance() {
	if d.cfg.CapabilitiesFreshnessUpdateIntervalMs > 0 {
		d.armFreshnessTouch()
	}
	if d.cfg.ReAddAllGlobalsInterval > 0 {
		d.armReAddAllGlobals()
	}
	if d.cfg.PurgeExpiredDiscoveryEntriesInterval > 0 {
		d.armExpiryPurge()
	}
}

func (d *Directory) armFreshnessTouch() {
	var tick func()
	tick = func() {
		d.touchAllGroupedByGbid(context.Background())
		d.sched.Schedule(tick, d.cfg.CapabilitiesFreshnessUpdateIntervalMs)
	}
	d.sched.Schedule(tick, d.cfg.CapabilitiesFreshnessUpdateIntervalMs)
}

func (d *Directory) touchAllGroupedByGbid(ctx context.Context) {
	if d.global == nil {
		return
	}
	byGbid := make(map[string][]string)
	for _, e := range d.store.AllGlobalCapabilities() {
		gbids, ok := d.store.GbidsFor(e.ParticipantID)
		if !ok || len(gbids) == 0 {
			d.log.Warnf("skipping freshness touch for participantId=%s: no known gbid", e.ParticipantID)
			continue
		}
		gbid := gbids[0]
		byGbid[gbid] = append(byGbid[gbid], e.ParticipantID)
	}

	gbidsInOrder := make([]string, 0, len(byGbid))
	for g := range byGbid {
		gbidsInOrder = append(gbidsInOrder, g)
	}
	sort.Strings(gbidsInOrder)

	for _, gbid := range gbidsInOrder {
		if err := d.global.Touch(ctx, d.cfg.ClusterControllerID, byGbid[gbid], gbid); err != nil {
			d.log.Warnf("freshness touch failed for gbid=%s: %v", gbid, err)
		}
	}
}

func (d *Directory) armReAddAllGlobals() {
	var tick func()
	tick = func() {
		if d.global != nil {
			d.TriggerGlobalProviderReregistration(context.Background())
		}
		d.sched.Schedule(tick, d.cfg.ReAddAllGlobalsInterval)
	}
	d.sched.Schedule(tick, d.cfg.ReAddAllGlobalsInterval)
}

func (d *Directory) armExpiryPurge() {
	var tick func()
	tick = func() {
		for _, pid := range d.store.PurgeExpired(nowMs()) {
			if d.router != nil {
				d.router.RemoveNextHop(pid)
			}
		}
		d.sched.Schedule(tick, d.cfg.PurgeExpiredDiscoveryEntriesInterval)
	}
	d.sched.Schedule(tick, d.cfg.PurgeExpiredDiscoveryEntriesInterval)
}

// RemoveStaleOnStartup asks every known gbid's directory to drop entries
// registered by this cluster controller before startTimestampMs,
// retrying each gbid once on a runtime error.
func (d *Directory) RemoveStaleOnStartup(ctx context.Context, startTimestampMs int64) {
	if d.global == nil {
		return
	}
	for _, gbid := range d.cfg.KnownGbids {
		if err := d.global.RemoveStale(ctx, d.cfg.ClusterControllerID, startTimestampMs, gbid); err != nil {
			d.log.Warnf("removeStale failed for gbid=%s, retrying once: %v", gbid, err)
			if err := d.global.RemoveStale(ctx, d.cfg.ClusterControllerID, startTimestampMs, gbid); err != nil {
				d.log.Errorf("removeStale retry failed for gbid=%s: %v", gbid, err)
			}
		}
	}
}

// Shutdown drains the maintenance scheduler.
func (d *Directory) Shutdown(ctx context.Context) {
	d.sched.Shutdown(ctx)
}

func nowMs() int64 { return time.Now().UnixMilli() }
