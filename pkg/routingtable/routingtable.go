// Package routingtable holds the routing table: an indexed container keyed
// by participant id, with a secondary index by address. There is no index
// by expiry; Purge scans every entry.
package routingtable

import (
	"sync"
	"time"

	"github.com/clarketm/json"
	log "github.com/sirupsen/logrus"

	"github.com/meshbus/clustercontroller/pkg/address"
)

// Entry is a single routing-table record. It is mutated only under the
// owning Table's write lock.
type Entry struct {
	ParticipantID     string
	Address           address.Address
	IsGloballyVisible bool
	ExpiryDateMs      int64
	IsSticky          bool
	GBID              string
}

// persistedEntry is the JSON wire shape for a routing entry. Entries
// without ParticipantID, Address, or IsGloballyVisible are invalid and
// dropped on load.
type persistedEntry struct {
	ParticipantID     string                `json:"participantId"`
	Address           address.PersistedForm `json:"address"`
	IsGloballyVisible *bool                 `json:"isGloballyVisible"`
	ExpiryDateMs      int64                 `json:"expiryDateMs"`
	IsSticky          bool                  `json:"isSticky"`
	GBID              string                `json:"gbid,omitempty"`
}

// Table is the routing table: at most one Entry per participant id (the
// table's only hard invariant), indexed additionally by address hash for
// reverse lookups via LookupParticipantIDsByAddress.
type Table struct {
	mu           sync.RWMutex
	byParticipant map[string]*Entry
	byAddress     map[string]map[string]struct{} // address hash -> set of participant ids
	log           *log.Entry
}

// New returns an empty routing table.
func New() *Table {
	return &Table{
		byParticipant: make(map[string]*Entry),
		byAddress:     make(map[string]map[string]struct{}),
		log:           log.WithField("component", "routingtable"),
	}
}

// Lock acquires the table's write lock and returns an unlock func. Every
// other method of Table takes the lock itself, so none of them may be
// called while the lock returned here is held.
func (t *Table) Lock() func() {
	t.mu.Lock()
	return t.mu.Unlock
}

// RLock acquires the table's read lock and returns an unlock func.
func (t *Table) RLock() func() {
	t.mu.RLock()
	return t.mu.RUnlock
}

// LookupByParticipantID returns the entry for a participant id, or false.
// Callers must hold at least a read lock (via RLock) if consistency across
// subsequent table accesses matters; the method itself is internally safe
// to call unlocked.
func (t *Table) LookupByParticipantID(participantID string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lookupLocked(participantID)
}

func (t *Table) lookupLocked(participantID string) (Entry, bool) {
	e, ok := t.byParticipant[participantID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// LookupByParticipantIDAndGBID restricts the lookup to entries registered
// for the given GBID, honoring a message's "gbid" custom header.
func (t *Table) LookupByParticipantIDAndGBID(participantID, gbid string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byParticipant[participantID]
	if !ok || e.GBID != gbid {
		return Entry{}, false
	}
	return *e, true
}

// LookupParticipantIDsByAddress returns every participant id currently
// routed to the given address.
func (t *Table) LookupParticipantIDsByAddress(addr address.Address) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set, ok := t.byAddress[addr.Hash()]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for pid := range set {
		out = append(out, pid)
	}
	return out
}

// AddResult reports what Add actually did, so callers (the router) know
// whether to drain the per-participant queue.
type AddResult struct {
	Added    bool
	Replaced bool
	Refused  bool
}

// Add inserts or replaces the entry for participantID, honoring two
// invariants:
//   - at most one entry per participant id
//   - a sticky entry is never replaced by a conflicting address; expiry
//     never decreases on replacement
func (t *Table) Add(participantID string, addr address.Address, isGloballyVisible bool, expiryDateMs int64, isSticky bool, gbid string) AddResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	old, exists := t.byParticipant[participantID]
	if !exists {
		e := &Entry{
			ParticipantID:     participantID,
			Address:           addr,
			IsGloballyVisible: isGloballyVisible,
			ExpiryDateMs:      expiryDateMs,
			IsSticky:          isSticky,
			GBID:              gbid,
		}
		t.byParticipant[participantID] = e
		t.indexAddress(participantID, addr)
		return AddResult{Added: true}
	}

	addressChanged := !old.Address.Equal(addr)
	if addressChanged && old.IsSticky {
		t.log.Warnf("refusing to replace sticky entry for participantId=%s", participantID)
		return AddResult{Refused: true}
	}

	if expiryDateMs < old.ExpiryDateMs {
		expiryDateMs = old.ExpiryDateMs
	}
	if old.IsSticky {
		isSticky = true
	}

	if addressChanged {
		t.unindexAddress(participantID, old.Address)
		t.indexAddress(participantID, addr)
	}

	old.Address = addr
	old.IsGloballyVisible = isGloballyVisible
	old.ExpiryDateMs = expiryDateMs
	old.IsSticky = isSticky
	if gbid != "" {
		old.GBID = gbid
	}
	return AddResult{Replaced: true}
}

func (t *Table) indexAddress(participantID string, addr address.Address) {
	h := addr.Hash()
	set, ok := t.byAddress[h]
	if !ok {
		set = make(map[string]struct{})
		t.byAddress[h] = set
	}
	set[participantID] = struct{}{}
}

func (t *Table) unindexAddress(participantID string, addr address.Address) {
	h := addr.Hash()
	if set, ok := t.byAddress[h]; ok {
		delete(set, participantID)
		if len(set) == 0 {
			delete(t.byAddress, h)
		}
	}
}

// Remove deletes the entry for participantID, if any.
func (t *Table) Remove(participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byParticipant[participantID]
	if !ok {
		return
	}
	t.unindexAddress(participantID, e.Address)
	delete(t.byParticipant, participantID)
}

// Resolve reports whether an entry exists for participantID.
func (t *Table) Resolve(participantID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byParticipant[participantID]
	return ok
}

// Purge removes every non-sticky entry whose ExpiryDateMs is in the past
// and returns how many were removed. It takes the table's write lock
// itself.
func (t *Table) Purge(nowMs int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for pid, e := range t.byParticipant {
		if e.IsSticky {
			continue
		}
		if e.ExpiryDateMs < nowMs {
			t.unindexAddress(pid, e.Address)
			delete(t.byParticipant, pid)
			removed++
		}
	}
	return removed
}

// Size reports the number of entries currently in the table, for the
// router_routing_table_size gauge.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byParticipant)
}

// Save serializes all non-InProcess entries to a JSON document.
func (t *Table) Save() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]persistedEntry, 0, len(t.byParticipant))
	for _, e := range t.byParticipant {
		if e.Address.IsInProcess() {
			continue
		}
		pa, ok := e.Address.MarshalPersisted()
		if !ok {
			continue
		}
		visible := e.IsGloballyVisible
		entries = append(entries, persistedEntry{
			ParticipantID:     e.ParticipantID,
			Address:           pa,
			IsGloballyVisible: &visible,
			ExpiryDateMs:      e.ExpiryDateMs,
			IsSticky:          e.IsSticky,
			GBID:              e.GBID,
		})
	}
	return json.Marshal(entries)
}

// Load deserializes a JSON document produced by Save and merges its
// entries into the in-memory table. Parse errors are returned to the
// caller, who is expected to log and leave the table untouched.
func (t *Table) Load(data []byte) error {
	var entries []persistedEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}

	valid := make([]persistedEntry, 0, len(entries))
	for _, e := range entries {
		if e.ParticipantID == "" || e.Address.Kind == "" || e.IsGloballyVisible == nil {
			t.log.Warnf("routingtable: dropping invalid persisted entry for participantId=%q", e.ParticipantID)
			continue
		}
		valid = append(valid, e)
	}

	for _, e := range valid {
		addr, err := address.UnmarshalPersisted(e.Address)
		if err != nil {
			t.log.Warnf("routingtable: dropping entry with unsupported address: %s", err)
			continue
		}
		t.Add(e.ParticipantID, addr, *e.IsGloballyVisible, e.ExpiryDateMs, e.IsSticky, e.GBID)
	}
	return nil
}

// NowMs is the monotonic wall-clock-ms reference used throughout this
// repository for expiry comparisons.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
