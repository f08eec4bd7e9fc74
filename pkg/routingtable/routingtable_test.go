package routingtable

import (
	"math"
	"testing"

	"github.com/go-test/deep"

	"github.com/meshbus/clustercontroller/pkg/address"
)

func TestAddLookupRemove(t *testing.T) {
	tbl := New()
	a1 := address.NewMqtt("b1", "t1")

	res := tbl.Add("P", a1, false, math.MaxInt64, false, "")
	if !res.Added {
		t.Fatalf("expected Added, got %+v", res)
	}

	got, ok := tbl.LookupByParticipantID("P")
	if !ok {
		t.Fatal("expected entry to be present")
	}
	if diff := deep.Equal(got.Address, a1); diff != nil {
		t.Errorf("unexpected address: %v", diff)
	}

	if !tbl.Resolve("P") {
		t.Error("expected resolve true")
	}

	tbl.Remove("P")
	if tbl.Resolve("P") {
		t.Error("expected resolve false after remove")
	}
}

// A sticky entry is never replaced by a conflicting add for the same
// participant id.
func TestStickyNotReplaceable(t *testing.T) {
	tbl := New()
	a1 := address.NewMqtt("b1", "t1")
	a2 := address.NewMqtt("b2", "t2")

	res := tbl.Add("P", a1, false, 100, true, "")
	if !res.Added {
		t.Fatalf("expected Added, got %+v", res)
	}

	res = tbl.Add("P", a2, false, 200, false, "")
	if !res.Refused {
		t.Fatalf("expected Refused when replacing sticky entry, got %+v", res)
	}

	got, ok := tbl.LookupByParticipantID("P")
	if !ok {
		t.Fatal("expected entry present")
	}
	if !got.Address.Equal(a1) {
		t.Errorf("sticky entry address changed: got %v want %v", got.Address, a1)
	}
}

func TestExpiryNeverDecreasesOnReplace(t *testing.T) {
	tbl := New()
	a1 := address.NewMqtt("b1", "t1")

	tbl.Add("P", a1, false, 1000, false, "")
	// Replace with the same address but a lower expiry: must keep the max.
	tbl.Add("P", a1, false, 100, false, "")

	got, _ := tbl.LookupByParticipantID("P")
	if got.ExpiryDateMs != 1000 {
		t.Errorf("expiry decreased on replace: got %d want 1000", got.ExpiryDateMs)
	}
}

func TestAtMostOneEntryPerParticipant(t *testing.T) {
	tbl := New()
	a1 := address.NewMqtt("b1", "t1")
	a2 := address.NewMqtt("b2", "t2")

	tbl.Add("P", a1, false, math.MaxInt64, false, "")
	tbl.Add("P", a2, false, math.MaxInt64, false, "")

	got, _ := tbl.LookupByParticipantID("P")
	if !got.Address.Equal(a2) {
		t.Errorf("expected second (non-sticky) add to replace address, got %v", got.Address)
	}
}

func TestPurgeRemovesExpiredNonSticky(t *testing.T) {
	tbl := New()
	tbl.Add("expired", address.NewMqtt("b", "t"), false, 1, false, "")
	tbl.Add("sticky-expired", address.NewMqtt("b", "t2"), false, 1, true, "")
	tbl.Add("alive", address.NewMqtt("b", "t3"), false, math.MaxInt64, false, "")

	removed := tbl.Purge(1000)
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if tbl.Resolve("expired") {
		t.Error("expired entry should have been purged")
	}
	if !tbl.Resolve("sticky-expired") {
		t.Error("sticky entry must survive purge even when expired")
	}
	if !tbl.Resolve("alive") {
		t.Error("non-expired entry should survive purge")
	}
}

func TestSaveLoadRoundTripExcludesInProcess(t *testing.T) {
	tbl := New()
	tbl.Add("remote", address.NewMqtt("broker", "topic"), true, math.MaxInt64, false, "gbid1")
	tbl.Add("local", address.NewInProcess(nil), false, math.MaxInt64, false, "")

	data, err := tbl.Save()
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := New()
	if err := restored.Load(data); err != nil {
		t.Fatalf("load: %v", err)
	}

	got, ok := restored.LookupByParticipantID("remote")
	if !ok {
		t.Fatal("expected restored entry")
	}
	if got.GBID != "gbid1" || !got.IsGloballyVisible {
		t.Errorf("unexpected restored entry: %+v", got)
	}
	if restored.Resolve("local") {
		t.Error("in-process entry must not be persisted")
	}
}

func TestLoadTolerantOfInvalidEntries(t *testing.T) {
	tbl := New()
	// Missing participantId is invalid and must be dropped,
	// not fatal the whole load.
	data := []byte(`[{"address":{"kind":"mqtt"},"isGloballyVisible":true,"expiryDateMs":1}]`)
	if err := tbl.Load(data); err != nil {
		t.Fatalf("load should tolerate invalid entries, got error: %v", err)
	}
	if tbl.Size() != 0 {
		t.Errorf("expected invalid entry to be dropped, size=%d", tbl.Size())
	}
}
