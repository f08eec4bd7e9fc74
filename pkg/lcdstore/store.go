// Package lcdstore implements the two multi-indexed provider stores
// behind the Local Capabilities Directory: a locally registered set
// (sticky) and a cached global lookup (LRU+TTL), plus the shared
// participant->GBIDs mapping.
package lcdstore

import (
	"sort"
	"sync"
	"time"

	"github.com/clarketm/json"
	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"github.com/meshbus/clustercontroller/pkg/discovery"
)

// DefaultGlobalCacheCapacity bounds the globalCache
const DefaultGlobalCacheCapacity = 1000

const noExpiration = gocache.NoExpiration
const defaultCleanupInterval = time.Minute

type domainInterfaceKey struct {
	domain string
	iface  string
}

// globalCacheEntry is what we actually store in go-cache: the raw
// discovery entry plus the insertion timestamp used for cacheMaxAgeMs
// filtering (go-cache's own TTL only governs hard eviction).
type globalCacheEntry struct {
	entry     discovery.Entry
	insertedAt time.Time
}

// Store guards both sub-stores and the participant->GBIDs map under a
// single lock. Go's sync.Mutex is not re-entrant, so every exported
// method takes the lock itself exactly once and internal helpers
// (suffixed Locked) assume the caller already holds it and never
// re-acquire.
type Store struct {
	mu sync.Mutex

	// locallyRegistered, indexed by participantId (primary) and by
	// (domain, interface) (secondary).
	local        map[string]*localEntry
	localByIface map[domainInterfaceKey]map[string]struct{}

	// globalCache: LRU+TTL cache of DiscoveryEntry keyed by participantId.
	cache        *gocache.Cache
	cacheByIface map[domainInterfaceKey]map[string]struct{}
	cacheOrder   []string // eviction order, most recently inserted at the end; lookups do not reorder it
	capacity     int

	participantToGbids map[string][]string

	log *log.Entry
}

type localEntry struct {
	entry discovery.Entry
	gbids []string
}

// New returns an empty store with the default global-cache capacity.
func New() *Store {
	return NewWithCapacity(DefaultGlobalCacheCapacity)
}

// NewWithCapacity returns an empty store bounding the global cache at
// capacity entries.
func NewWithCapacity(capacity int) *Store {
	return &Store{
		local:              make(map[string]*localEntry),
		localByIface:       make(map[domainInterfaceKey]map[string]struct{}),
		cache:              gocache.New(noExpiration, defaultCleanupInterval),
		cacheByIface:       make(map[domainInterfaceKey]map[string]struct{}),
		participantToGbids: make(map[string][]string),
		capacity:           capacity,
		log:                log.WithField("component", "lcdstore"),
	}
}

// InsertLocal replaces any prior entry with the same participantId,
// carrying over the participant->GBIDs mapping if present.
func (s *Store) InsertLocal(entry discovery.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.local[entry.ParticipantID]; ok {
		s.unindexLocalIfaceLocked(old.entry)
	}
	gbids := s.participantToGbids[entry.ParticipantID]
	s.local[entry.ParticipantID] = &localEntry{entry: entry, gbids: gbids}
	s.indexLocalIfaceLocked(entry)
}

func (s *Store) indexLocalIfaceLocked(entry discovery.Entry) {
	k := domainInterfaceKey{entry.Domain, entry.InterfaceName}
	set, ok := s.localByIface[k]
	if !ok {
		set = make(map[string]struct{})
		s.localByIface[k] = set
	}
	set[entry.ParticipantID] = struct{}{}
}

func (s *Store) unindexLocalIfaceLocked(entry discovery.Entry) {
	k := domainInterfaceKey{entry.Domain, entry.InterfaceName}
	if set, ok := s.localByIface[k]; ok {
		delete(set, entry.ParticipantID)
		if len(set) == 0 {
			delete(s.localByIface, k)
		}
	}
}

// InsertGlobal inserts into the bounded cache (evicting, on overflow, the
// entry whose last insertion is oldest; lookups do not count as use) and
// unions gbids into participantToGbids[entry.ParticipantID].
func (s *Store) InsertGlobal(entry discovery.Entry, gbids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertGlobalLocked(entry, gbids)
}

func (s *Store) insertGlobalLocked(entry discovery.Entry, gbids []string) {
	if _, existed := s.cache.Get(entry.ParticipantID); existed {
		s.removeFromCacheOrderLocked(entry.ParticipantID)
		s.unindexCacheIfaceLocked(entry.ParticipantID)
	} else if len(s.cacheOrder) >= s.capacity {
		s.evictLRULocked()
	}

	s.cache.Set(entry.ParticipantID, globalCacheEntry{entry: entry, insertedAt: time.Now()}, noExpiration)
	s.cacheOrder = append(s.cacheOrder, entry.ParticipantID)
	s.indexCacheIfaceLocked(entry)

	s.participantToGbids[entry.ParticipantID] = unionStrings(s.participantToGbids[entry.ParticipantID], gbids)
}

func (s *Store) evictLRULocked() {
	if len(s.cacheOrder) == 0 {
		return
	}
	victim := s.cacheOrder[0]
	s.cacheOrder = s.cacheOrder[1:]
	if v, ok := s.cache.Get(victim); ok {
		s.unindexCacheIfaceEntryLocked(v.(globalCacheEntry).entry)
	}
	s.cache.Delete(victim)
}

func (s *Store) removeFromCacheOrderLocked(participantID string) {
	for i, id := range s.cacheOrder {
		if id == participantID {
			s.cacheOrder = append(s.cacheOrder[:i], s.cacheOrder[i+1:]...)
			return
		}
	}
}

func (s *Store) indexCacheIfaceLocked(entry discovery.Entry) {
	k := domainInterfaceKey{entry.Domain, entry.InterfaceName}
	set, ok := s.cacheByIface[k]
	if !ok {
		set = make(map[string]struct{})
		s.cacheByIface[k] = set
	}
	set[entry.ParticipantID] = struct{}{}
}

func (s *Store) unindexCacheIfaceLocked(participantID string) {
	if v, ok := s.cache.Get(participantID); ok {
		s.unindexCacheIfaceEntryLocked(v.(globalCacheEntry).entry)
	}
}

func (s *Store) unindexCacheIfaceEntryLocked(entry discovery.Entry) {
	k := domainInterfaceKey{entry.Domain, entry.InterfaceName}
	if set, ok := s.cacheByIface[k]; ok {
		delete(set, entry.ParticipantID)
		if len(set) == 0 {
			delete(s.cacheByIface, k)
		}
	}
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// LookupByInterface evaluates the discovery scope against local and
// cached-global entries for (domains, interfaceName), honoring gbids and
// discoveryQos.CacheMaxAgeMs. ok=false means "defer": the caller must
// consult the remote directory.
func (s *Store) LookupByInterface(domains []string, interfaceName string, qos discovery.Qos, gbids []string) (results []discovery.WithMetaInfo, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var local []discovery.WithMetaInfo
	for _, d := range domains {
		local = append(local, s.localMatchesLocked(d, interfaceName)...)
	}

	var cached []discovery.WithMetaInfo
	for _, d := range domains {
		cached = append(cached, s.cachedMatchesLocked(d, interfaceName, gbids, qos.CacheMaxAgeMs)...)
	}

	return s.applyScopeLocked(local, cached, qos.DiscoveryScope)
}

// LookupByParticipantID is the single-entry analog of LookupByInterface.
func (s *Store) LookupByParticipantID(participantID string, qos discovery.Qos, gbids []string) (result discovery.WithMetaInfo, ok bool, deferred bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var local []discovery.WithMetaInfo
	if e, found := s.local[participantID]; found {
		local = append(local, discovery.WithMetaInfo{Entry: e.entry, IsLocal: true})
	}

	var cached []discovery.WithMetaInfo
	if v, found := s.cache.Get(participantID); found {
		gce := v.(globalCacheEntry)
		if gbidsMatch(s.participantToGbids[participantID], gbids) && !agedOut(gce.insertedAt, qos.CacheMaxAgeMs) {
			cached = append(cached, discovery.WithMetaInfo{Entry: gce.entry, IsLocal: false})
		}
	}

	results, resolved := s.applyScopeLocked(local, cached, qos.DiscoveryScope)
	if !resolved {
		return discovery.WithMetaInfo{}, false, true
	}
	if len(results) == 0 {
		return discovery.WithMetaInfo{}, false, false
	}
	return results[0], true, false
}

func (s *Store) localMatchesLocked(domain, interfaceName string) []discovery.WithMetaInfo {
	k := domainInterfaceKey{domain, interfaceName}
	set := s.localByIface[k]
	out := make([]discovery.WithMetaInfo, 0, len(set))
	for pid := range set {
		out = append(out, discovery.WithMetaInfo{Entry: s.local[pid].entry, IsLocal: true})
	}
	return out
}

func (s *Store) cachedMatchesLocked(domain, interfaceName string, gbids []string, cacheMaxAgeMs int64) []discovery.WithMetaInfo {
	k := domainInterfaceKey{domain, interfaceName}
	set := s.cacheByIface[k]
	out := make([]discovery.WithMetaInfo, 0, len(set))
	for pid := range set {
		v, found := s.cache.Get(pid)
		if !found {
			continue
		}
		gce := v.(globalCacheEntry)
		if !gbidsMatch(s.participantToGbids[pid], gbids) {
			continue
		}
		if agedOut(gce.insertedAt, cacheMaxAgeMs) {
			continue
		}
		out = append(out, discovery.WithMetaInfo{Entry: gce.entry, IsLocal: false})
	}
	return out
}

func agedOut(insertedAt time.Time, cacheMaxAgeMs int64) bool {
	if cacheMaxAgeMs < 0 {
		return false
	}
	return time.Since(insertedAt) > time.Duration(cacheMaxAgeMs)*time.Millisecond
}

func gbidsMatch(entryGbids, requested []string) bool {
	if len(requested) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(entryGbids))
	for _, g := range entryGbids {
		set[g] = struct{}{}
	}
	for _, g := range requested {
		if _, ok := set[g]; ok {
			return true
		}
	}
	return false
}

// applyScopeLocked implements the four DiscoveryScope behaviors. The returned bool is false iff the scope's rules say "defer".
func (s *Store) applyScopeLocked(local, cached []discovery.WithMetaInfo, scope discovery.Scope) ([]discovery.WithMetaInfo, bool) {
	switch scope {
	case discovery.LocalOnly:
		return local, true

	case discovery.LocalThenGlobal:
		if len(local) > 0 {
			return local, true
		}
		if len(cached) > 0 {
			return cached, true
		}
		return nil, false

	case discovery.LocalAndGlobal:
		if len(cached) == 0 {
			return nil, false
		}
		return mergePreferLocal(local, cached), true

	case discovery.GlobalOnly:
		var globalScoped []discovery.WithMetaInfo
		for _, l := range local {
			if l.ProviderQos.Scope == discovery.Global {
				globalScoped = append(globalScoped, l)
			}
		}
		merged := append(cached, globalScoped...)
		if len(merged) == 0 {
			return nil, false
		}
		return merged, true

	default:
		return nil, false
	}
}

// mergePreferLocal unions local and cached by participantId, preferring
// the local entry on duplicates.
func mergePreferLocal(local, cached []discovery.WithMetaInfo) []discovery.WithMetaInfo {
	out := make([]discovery.WithMetaInfo, 0, len(local)+len(cached))
	seen := make(map[string]struct{}, len(local))
	for _, l := range local {
		seen[l.ParticipantID] = struct{}{}
		out = append(out, l)
	}
	for _, c := range cached {
		if _, dup := seen[c.ParticipantID]; dup {
			continue
		}
		out = append(out, c)
	}
	return out
}

// RemoveByParticipantID removes the participant from both sub-stores and
// erases its participant->GBIDs mapping.
func (s *Store) RemoveByParticipantID(participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.local[participantID]; ok {
		s.unindexLocalIfaceLocked(e.entry)
		delete(s.local, participantID)
	}
	s.unindexCacheIfaceLocked(participantID)
	s.cache.Delete(participantID)
	s.removeFromCacheOrderLocked(participantID)
	delete(s.participantToGbids, participantID)
}

// GbidsFor returns the recorded GBIDs for a participant, if any.
func (s *Store) GbidsFor(participantID string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.participantToGbids[participantID]
	return g, ok
}

// PurgeExpired removes entries (from both stores) whose ExpiryDateMs is in
// the past, erasing their GBID mappings too, and returns the removed
// participant ids for the caller to unregister their router next-hops.
func (s *Store) PurgeExpired(nowMs int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for pid, e := range s.local {
		if e.entry.ExpiryDateMs < nowMs {
			s.unindexLocalIfaceLocked(e.entry)
			delete(s.local, pid)
			delete(s.participantToGbids, pid)
			removed = append(removed, pid)
		}
	}
	for _, pid := range append([]string(nil), s.cacheOrder...) {
		v, ok := s.cache.Get(pid)
		if !ok {
			continue
		}
		if v.(globalCacheEntry).entry.ExpiryDateMs < nowMs {
			s.unindexCacheIfaceLocked(pid)
			s.cache.Delete(pid)
			s.removeFromCacheOrderLocked(pid)
			delete(s.participantToGbids, pid)
			removed = append(removed, pid)
		}
	}
	return removed
}

// AllGlobalCapabilities returns every entry currently in the local store
// that is globally visible, for re-registration on directory recovery.
func (s *Store) AllGlobalCapabilities() []discovery.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []discovery.Entry
	for _, e := range s.local {
		if e.entry.ProviderQos.Scope == discovery.Global {
			out = append(out, e.entry)
		}
	}
	return out
}

// TouchAndExtend sets LastSeenDateMs=now and extends ExpiryDateMs to at
// least now+minExpiryMs on every locally registered entry, for
// triggerGlobalProviderReregistration.
func (s *Store) TouchAndExtend(nowMs, minExpiryMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.local {
		e.entry.LastSeenDateMs = nowMs
		if e.entry.ExpiryDateMs < nowMs+minExpiryMs {
			e.entry.ExpiryDateMs = nowMs + minExpiryMs
		}
	}
}

// AllLocalEntries returns every locally registered entry, LOCAL- and
// GLOBAL-scoped alike, for persistence of the full local registration
// set.
func (s *Store) AllLocalEntries() []discovery.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]discovery.Entry, 0, len(s.local))
	for _, e := range s.local {
		out = append(out, e.entry)
	}
	return out
}

// Save serializes every locally registered entry, along with its known
// GBIDs, to a JSON document, so a restarted process can rebuild its local
// registration set without every provider re-registering.
func (s *Store) Save() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]persistedLocalEntry, 0, len(s.local))
	for pid, e := range s.local {
		out = append(out, persistedLocalEntry{
			Entry: e.entry,
			Gbids: s.participantToGbids[pid],
		})
	}
	return json.Marshal(out)
}

// Load deserializes a JSON document produced by Save and re-inserts its
// entries as local registrations.
func (s *Store) Load(data []byte) error {
	var entries []persistedLocalEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	for _, pe := range entries {
		if pe.Entry.ProviderQos.Scope == discovery.Global && len(pe.Gbids) > 0 {
			s.InsertGlobal(pe.Entry, pe.Gbids)
		}
		s.InsertLocal(pe.Entry)
	}
	return nil
}

type persistedLocalEntry struct {
	Entry discovery.Entry `json:"entry"`
	Gbids []string        `json:"gbids,omitempty"`
}

// LocalEntry returns a copy of the locally registered entry for
// participantID, if any.
func (s *Store) LocalEntry(participantID string) (discovery.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.local[participantID]
	if !ok {
		return discovery.Entry{}, false
	}
	return e.entry, true
}
