package lcd

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/meshbus/clustercontroller/pkg/address"
	"github.com/meshbus/clustercontroller/pkg/discovery"
	"github.com/meshbus/clustercontroller/pkg/lcdstore"
	"github.com/meshbus/clustercontroller/pkg/routingtable"
)

type fakeGlobal struct {
	mu            sync.Mutex
	addCalls      []discovery.Entry
	lookupResults []discovery.Entry
	lookupErr     error
	removeCalls   []string
	touchGroups   map[string][]string
}

func (f *fakeGlobal) Add(ctx context.Context, entry discovery.Entry, gbids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls = append(f.addCalls, entry)
	return nil
}

func (f *fakeGlobal) Remove(ctx context.Context, participantID string, gbids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeCalls = append(f.removeCalls, participantID)
	return nil
}

func (f *fakeGlobal) LookupByInterface(ctx context.Context, domains []string, interfaceName string, gbids []string, ttlMs int64) ([]discovery.Entry, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.lookupResults, nil
}

func (f *fakeGlobal) LookupByParticipantID(ctx context.Context, participantID string, gbids []string, ttlMs int64) (discovery.Entry, error) {
	if f.lookupErr != nil {
		return discovery.Entry{}, f.lookupErr
	}
	for _, e := range f.lookupResults {
		if e.ParticipantID == participantID {
			return e, nil
		}
	}
	return discovery.Entry{}, errors.New("not found")
}

func (f *fakeGlobal) Touch(ctx context.Context, clusterControllerID string, participantIDs []string, gbid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchGroups == nil {
		f.touchGroups = make(map[string][]string)
	}
	f.touchGroups[gbid] = participantIDs
	return nil
}

func (f *fakeGlobal) RemoveStale(ctx context.Context, clusterControllerID string, maxLastSeenDateMs int64, gbid string) error {
	return nil
}

type fakeRouter struct {
	mu        sync.Mutex
	added     map[string]address.Address
	removed   []string
}

func (r *fakeRouter) AddNextHop(participantID string, addr address.Address, isGloballyVisible bool, expiryDateMs int64, isSticky bool, gbid string) routingtable.AddResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.added == nil {
		r.added = make(map[string]address.Address)
	}
	r.added[participantID] = addr
	return routingtable.AddResult{Added: true}
}

func (r *fakeRouter) RemoveNextHop(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, participantID)
}

func newTestDirectory(global GlobalDirectory, router RouterBinder) *Directory {
	cfg := Config{
		ClusterControllerID: "cc1",
		KnownGbids:           []string{"gbid-a", "gbid-b"},
		DefaultGbid:          "gbid-a",
		DiscoveryTimeoutMs:   5000,
	}
	return New(cfg, lcdstore.New(), global, router, nil)
}

func TestValidateGbidsRejectsEmptyAndDuplicateAndUnknown(t *testing.T) {
	d := newTestDirectory(&fakeGlobal{}, &fakeRouter{})

	if _, err := d.validateGbids([]string{""}); !errors.Is(err, ErrInvalidGbid) {
		t.Errorf("expected ErrInvalidGbid for empty entry, got %v", err)
	}
	if _, err := d.validateGbids([]string{"gbid-a", "gbid-a"}); !errors.Is(err, ErrInvalidGbid) {
		t.Errorf("expected ErrInvalidGbid for duplicate, got %v", err)
	}
	if _, err := d.validateGbids([]string{"gbid-z"}); !errors.Is(err, ErrUnknownGbid) {
		t.Errorf("expected ErrUnknownGbid, got %v", err)
	}
	got, err := d.validateGbids(nil)
	if err != nil || len(got) != 2 {
		t.Errorf("expected empty gbids to expand to known gbids, got %v, %v", got, err)
	}
}

func TestAddLocalEntryIsImmediatelyVisible(t *testing.T) {
	d := newTestDirectory(&fakeGlobal{}, &fakeRouter{})
	entry := discovery.Entry{
		ParticipantID: "p1", Domain: "d", InterfaceName: "i",
		ProviderQos: discovery.ProviderQos{Scope: discovery.Local},
	}
	if err := d.Add(context.Background(), entry, true, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, ok := d.store.LocalEntry("p1")
	if !ok || got.ParticipantID != "p1" {
		t.Fatal("expected entry to be locally visible immediately")
	}
}

func TestLookupPrefersLocalOverGlobal(t *testing.T) {
	global := &fakeGlobal{lookupResults: []discovery.Entry{{ParticipantID: "remote"}}}
	d := newTestDirectory(global, &fakeRouter{})
	entry := discovery.Entry{
		ParticipantID: "p1", Domain: "d", InterfaceName: "i",
		ProviderQos: discovery.ProviderQos{Scope: discovery.Local},
	}
	_ = d.Add(context.Background(), entry, true, nil)

	results, err := d.LookupByInterface(context.Background(), []string{"d"}, "i", discovery.Qos{DiscoveryScope: discovery.LocalThenGlobal}, nil)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(results) != 1 || results[0].ParticipantID != "p1" {
		t.Fatalf("expected local entry only, got %+v", results)
	}
}

func TestLookupFallsBackToGlobalAndRegistersNextHop(t *testing.T) {
	addrJSON, err := DefaultAddressSerializer(address.NewMqtt("tcp://broker", "t"))
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	global := &fakeGlobal{lookupResults: []discovery.Entry{{
		ParticipantID: "remote1", Domain: "d", InterfaceName: "i",
		ExpiryDateMs: 1 << 40, SerializedAddress: addrJSON,
	}}}
	router := &fakeRouter{}
	d := newTestDirectory(global, router)

	results, err := d.LookupByInterface(context.Background(), []string{"d"}, "i", discovery.Qos{DiscoveryScope: discovery.LocalThenGlobal}, nil)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(results) != 1 || results[0].ParticipantID != "remote1" {
		t.Fatalf("unexpected results: %+v", results)
	}
	if _, ok := router.added["remote1"]; !ok {
		t.Error("expected global lookup result to register a router next hop")
	}
}

func TestLookupByParticipantIDNoEntry(t *testing.T) {
	global := &fakeGlobal{lookupErr: errors.New("boom")}
	d := newTestDirectory(global, &fakeRouter{})
	_, err := d.LookupByParticipantID(context.Background(), "missing", discovery.Qos{DiscoveryScope: discovery.LocalThenGlobal}, nil)
	if err == nil {
		t.Fatal("expected an error for a missing participant")
	}
}

func TestRemoveClearsLocalAndRouterAndGlobal(t *testing.T) {
	global := &fakeGlobal{}
	router := &fakeRouter{}
	d := newTestDirectory(global, router)
	entry := discovery.Entry{
		ParticipantID: "p1", Domain: "d", InterfaceName: "i",
		ProviderQos: discovery.ProviderQos{Scope: discovery.Global},
	}
	_ = d.Add(context.Background(), entry, false, []string{"gbid-a"})

	if err := d.Remove(context.Background(), "p1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := d.store.LocalEntry("p1"); ok {
		t.Error("expected entry to be removed locally")
	}
	if len(global.removeCalls) != 1 || global.removeCalls[0] != "p1" {
		t.Errorf("expected global Remove to be called once for p1, got %v", global.removeCalls)
	}
	if len(router.removed) != 1 || router.removed[0] != "p1" {
		t.Errorf("expected router next hop removed, got %v", router.removed)
	}
}

func TestTouchAllGroupsByGbid(t *testing.T) {
	global := &fakeGlobal{}
	d := newTestDirectory(global, &fakeRouter{})
	e1 := discovery.Entry{ParticipantID: "p1", Domain: "d", InterfaceName: "i", ProviderQos: discovery.ProviderQos{Scope: discovery.Global}}
	e2 := discovery.Entry{ParticipantID: "p2", Domain: "d", InterfaceName: "i", ProviderQos: discovery.ProviderQos{Scope: discovery.Global}}
	_ = d.Add(context.Background(), e1, false, []string{"gbid-a"})
	_ = d.Add(context.Background(), e2, false, []string{"gbid-b"})

	d.touchAllGroupedByGbid(context.Background())

	if len(global.touchGroups["gbid-a"]) != 1 || global.touchGroups["gbid-a"][0] != "p1" {
		t.Errorf("expected p1 touched under gbid-a, got %v", global.touchGroups)
	}
	if len(global.touchGroups["gbid-b"]) != 1 || global.touchGroups["gbid-b"][0] != "p2" {
		t.Errorf("expected p2 touched under gbid-b, got %v", global.touchGroups)
	}
}
