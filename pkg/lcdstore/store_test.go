package lcdstore

import (
	"testing"

	"github.com/meshbus/clustercontroller/pkg/discovery"
)

func localEntryFor(pid, domain, iface string) discovery.Entry {
	return discovery.Entry{
		ParticipantID: pid,
		Domain:        domain,
		InterfaceName: iface,
		ProviderQos:   discovery.ProviderQos{Scope: discovery.Local},
		ExpiryDateMs:  1 << 40,
	}
}

func TestInsertLocalAndLookupLocalOnly(t *testing.T) {
	s := New()
	s.InsertLocal(localEntryFor("p1", "d", "i"))

	results, ok := s.LookupByInterface([]string{"d"}, "i", discovery.Qos{DiscoveryScope: discovery.LocalOnly}, nil)
	if !ok {
		t.Fatal("LOCAL_ONLY must always resolve synchronously")
	}
	if len(results) != 1 || results[0].ParticipantID != "p1" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestLocalThenGlobalDefersWhenEmpty(t *testing.T) {
	s := New()
	_, ok := s.LookupByInterface([]string{"d"}, "i", discovery.Qos{DiscoveryScope: discovery.LocalThenGlobal}, nil)
	if ok {
		t.Fatal("expected defer (ok=false) when nothing local or cached")
	}
}

func TestLocalThenGlobalPrefersLocal(t *testing.T) {
	s := New()
	s.InsertLocal(localEntryFor("local1", "d", "i"))
	s.InsertGlobal(discovery.Entry{ParticipantID: "global1", Domain: "d", InterfaceName: "i", ExpiryDateMs: 1 << 40}, []string{"gbid1"})

	results, ok := s.LookupByInterface([]string{"d"}, "i", discovery.Qos{DiscoveryScope: discovery.LocalThenGlobal}, nil)
	if !ok {
		t.Fatal("expected resolved")
	}
	if len(results) != 1 || results[0].ParticipantID != "local1" {
		t.Fatalf("expected local-only result, got %+v", results)
	}
}

func TestLocalAndGlobalMergesPreferringLocal(t *testing.T) {
	s := New()
	s.InsertLocal(localEntryFor("dup", "d", "i"))
	s.InsertGlobal(discovery.Entry{ParticipantID: "dup", Domain: "d", InterfaceName: "i", ExpiryDateMs: 1 << 40, PublicKeyID: "global-version"}, nil)
	s.InsertGlobal(discovery.Entry{ParticipantID: "other", Domain: "d", InterfaceName: "i", ExpiryDateMs: 1 << 40}, nil)

	results, ok := s.LookupByInterface([]string{"d"}, "i", discovery.Qos{DiscoveryScope: discovery.LocalAndGlobal}, nil)
	if !ok {
		t.Fatal("expected resolved once cached entries exist")
	}
	byID := map[string]discovery.WithMetaInfo{}
	for _, r := range results {
		byID[r.ParticipantID] = r
	}
	if len(byID) != 2 {
		t.Fatalf("expected 2 distinct participants, got %+v", results)
	}
	if !byID["dup"].IsLocal {
		t.Error("duplicate participant id must prefer the local entry")
	}
}

func TestRemoveByParticipantIDClearsCacheAndGbids(t *testing.T) {
	s := New()
	s.InsertGlobal(discovery.Entry{ParticipantID: "p", Domain: "d", InterfaceName: "i", ExpiryDateMs: 1 << 40}, []string{"gbid1"})

	s.RemoveByParticipantID("p")

	if _, _, deferred := s.LookupByParticipantID("p", discovery.Qos{DiscoveryScope: discovery.GlobalOnly}, nil); !deferred {
		t.Error("expected the cache to no longer reference the removed participant")
	}
	if _, ok := s.GbidsFor("p"); ok {
		t.Error("expected participant->gbids mapping to be erased on remove")
	}
}

func TestGlobalCacheEvictsLRUOnOverflow(t *testing.T) {
	s := NewWithCapacity(2)
	s.InsertGlobal(discovery.Entry{ParticipantID: "a", Domain: "d", InterfaceName: "i", ExpiryDateMs: 1 << 40}, nil)
	s.InsertGlobal(discovery.Entry{ParticipantID: "b", Domain: "d", InterfaceName: "i", ExpiryDateMs: 1 << 40}, nil)
	s.InsertGlobal(discovery.Entry{ParticipantID: "c", Domain: "d", InterfaceName: "i", ExpiryDateMs: 1 << 40}, nil)

	results, ok := s.LookupByInterface([]string{"d"}, "i", discovery.Qos{DiscoveryScope: discovery.GlobalOnly}, nil)
	if !ok {
		t.Fatal("expected resolved")
	}
	if len(results) != 2 {
		t.Fatalf("expected LRU eviction to keep capacity at 2, got %d: %+v", len(results), results)
	}
	for _, r := range results {
		if r.ParticipantID == "a" {
			t.Error("expected oldest entry 'a' to have been evicted")
		}
	}
}

func TestPurgeExpiredRemovesFromBothStores(t *testing.T) {
	s := New()
	s.InsertLocal(discovery.Entry{ParticipantID: "local-expired", Domain: "d", InterfaceName: "i", ExpiryDateMs: 1})
	s.InsertGlobal(discovery.Entry{ParticipantID: "global-expired", Domain: "d", InterfaceName: "i", ExpiryDateMs: 1}, []string{"g"})
	s.InsertLocal(localEntryFor("alive", "d", "i"))

	removed := s.PurgeExpired(1000)
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed, got %v", removed)
	}
	if _, ok := s.LocalEntry("local-expired"); ok {
		t.Error("expired local entry should be gone")
	}
	if _, ok := s.LocalEntry("alive"); !ok {
		t.Error("non-expired local entry should survive purge")
	}
	if _, ok := s.GbidsFor("local-expired"); ok {
		t.Error("expired local entry's gbid mapping should be purged too")
	}
	if _, ok := s.GbidsFor("global-expired"); ok {
		t.Error("expired global entry's gbid mapping should be purged too")
	}
}
