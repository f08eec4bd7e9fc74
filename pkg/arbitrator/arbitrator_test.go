package arbitrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meshbus/clustercontroller/pkg/discovery"
)

type fakeProxy struct {
	mu      sync.Mutex
	results [][]discovery.WithMetaInfo
	errs    []error
	calls   int
}

func (f *fakeProxy) LookupByInterface(ctx context.Context, domains []string, interfaceName string, qos discovery.Qos, gbids []string) ([]discovery.WithMetaInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.results[i], err
}

func (f *fakeProxy) LookupByParticipantID(ctx context.Context, participantID string, qos discovery.Qos, gbids []string) (discovery.WithMetaInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.results) == 0 || len(f.results[0]) == 0 {
		return discovery.WithMetaInfo{}, errors.New("not found")
	}
	return f.results[0][0], nil
}

func waitResult(t *testing.T, success chan discovery.WithMetaInfo, failure chan error) {
	t.Helper()
	select {
	case <-success:
	case err := <-failure:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("arbitration never completed")
	}
}

func TestStartArbitrationSucceedsImmediately(t *testing.T) {
	proxy := &fakeProxy{results: [][]discovery.WithMetaInfo{{{Entry: discovery.Entry{ParticipantID: "p1"}}}}}
	a := New(proxy)
	success := make(chan discovery.WithMetaInfo, 1)
	failure := make(chan error, 1)

	req := Request{InterfaceName: "i", DiscoveryQos: discovery.Qos{DiscoveryTimeoutMs: 1000, RetryIntervalMs: 10}}
	a.StartArbitration(context.Background(), req, LastSeenStrategy, func(r discovery.WithMetaInfo) { success <- r }, func(err error) { failure <- err })

	waitResult(t, success, failure)
}

func TestStartArbitrationRetriesThenSucceeds(t *testing.T) {
	proxy := &fakeProxy{
		results: [][]discovery.WithMetaInfo{
			nil,
			nil,
			{{Entry: discovery.Entry{ParticipantID: "p1"}}},
		},
	}
	a := New(proxy)
	success := make(chan discovery.WithMetaInfo, 1)
	failure := make(chan error, 1)

	req := Request{InterfaceName: "i", DiscoveryQos: discovery.Qos{DiscoveryTimeoutMs: 2000, RetryIntervalMs: 20}}
	a.StartArbitration(context.Background(), req, LastSeenStrategy, func(r discovery.WithMetaInfo) { success <- r }, func(err error) { failure <- err })

	waitResult(t, success, failure)
}

func TestStartArbitrationFailsOnDeadline(t *testing.T) {
	proxy := &fakeProxy{results: [][]discovery.WithMetaInfo{nil}}
	a := New(proxy)
	success := make(chan discovery.WithMetaInfo, 1)
	failure := make(chan error, 1)

	req := Request{InterfaceName: "i", DiscoveryQos: discovery.Qos{DiscoveryTimeoutMs: 60, RetryIntervalMs: 10}}
	a.StartArbitration(context.Background(), req, LastSeenStrategy, func(r discovery.WithMetaInfo) { success <- r }, func(err error) { failure <- err })

	select {
	case r := <-success:
		t.Fatalf("expected failure, got success: %+v", r)
	case err := <-failure:
		if err == nil {
			t.Fatal("expected non-nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("arbitration never completed")
	}
}

func TestStopPreventsCallbacks(t *testing.T) {
	proxy := &fakeProxy{results: [][]discovery.WithMetaInfo{nil}}
	a := New(proxy)
	called := false
	var mu sync.Mutex

	req := Request{InterfaceName: "i", DiscoveryQos: discovery.Qos{DiscoveryTimeoutMs: 5000, RetryIntervalMs: 10}}
	handle := a.StartArbitration(context.Background(), req, LastSeenStrategy,
		func(r discovery.WithMetaInfo) { mu.Lock(); called = true; mu.Unlock() },
		func(err error) { mu.Lock(); called = true; mu.Unlock() })

	handle.Stop()
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if called {
		t.Error("expected no callback after Stop")
	}
}

func TestVersionFilteringRejectsIncompatibleCandidates(t *testing.T) {
	proxy := &fakeProxy{results: [][]discovery.WithMetaInfo{{
		{Entry: discovery.Entry{ParticipantID: "old", ProviderVersion: discovery.Version{Major: 1, Minor: 0}}},
	}}}
	a := New(proxy)
	success := make(chan discovery.WithMetaInfo, 1)
	failure := make(chan error, 1)

	req := Request{
		InterfaceName:   "i",
		ExpectedVersion: discovery.Version{Major: 2, Minor: 0},
		DiscoveryQos:    discovery.Qos{DiscoveryTimeoutMs: 60, RetryIntervalMs: 10},
	}
	a.StartArbitration(context.Background(), req, LastSeenStrategy, func(r discovery.WithMetaInfo) { success <- r }, func(err error) { failure <- err })

	select {
	case r := <-success:
		t.Fatalf("expected failure, got success: %+v", r)
	case err := <-failure:
		var nc *NoCompatibleProviderError
		if !errors.As(err, &nc) {
			t.Fatalf("expected *NoCompatibleProviderError, got %v (%T)", err, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("arbitration never completed")
	}
}
