// Package arbitrator implements the consumer-side provider selection loop
// described in repeatedly query discovery until a matching
// provider is found, a strategy rejects every candidate, or the deadline
// passes.
package arbitrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/meshbus/clustercontroller/pkg/discovery"
)

// DiscoveryProxy is the lookup contract the arbitrator drives. A
// FIXED_PARTICIPANT strategy uses LookupByParticipantID; every other
// strategy uses LookupByInterface.
type DiscoveryProxy interface {
	LookupByInterface(ctx context.Context, domains []string, interfaceName string, qos discovery.Qos, gbids []string) ([]discovery.WithMetaInfo, error)
	LookupByParticipantID(ctx context.Context, participantID string, qos discovery.Qos, gbids []string) (discovery.WithMetaInfo, error)
}

// Strategy picks one candidate from a filtered set, or fails. Strategies
// are pure functions: no I/O.
type Strategy func(candidates []discovery.WithMetaInfo, qos discovery.Qos) (discovery.WithMetaInfo, error)

// Name identifies a built-in strategy.
type Name string

const (
	LastSeen         Name = "LAST_SEEN"
	HighestPriority  Name = "HIGHEST_PRIORITY"
	Keyword          Name = "KEYWORD"
	FixedParticipant Name = "FIXED_PARTICIPANT"
	LocalOnlyName    Name = "LOCAL_ONLY"
	Qos_             Name = "QOS"
)

// ErrNoCompatibleProvider is wrapped into a *NoCompatibleProviderError
// when every candidate returned by discovery was version-incompatible.
var ErrNoCompatibleProvider = errors.New("arbitrator: no compatible provider found")

// NoCompatibleProviderError carries the incompatible versions observed
// during the failed arbitration.
type NoCompatibleProviderError struct {
	IncompatibleVersions []discovery.Version
}

func (e *NoCompatibleProviderError) Error() string {
	return fmt.Sprintf("%v: %d incompatible versions observed", ErrNoCompatibleProvider, len(e.IncompatibleVersions))
}
func (e *NoCompatibleProviderError) Unwrap() error { return ErrNoCompatibleProvider }

// DiscoveryError wraps the last underlying cause
type DiscoveryError struct {
	Cause error
}

func (e *DiscoveryError) Error() string { return fmt.Sprintf("arbitrator: discovery failed: %v", e.Cause) }
func (e *DiscoveryError) Unwrap() error { return e.Cause }

// Request describes one arbitration: what to look up, how, and with what
// strategy.
type Request struct {
	Domains       []string
	InterfaceName string
	ParticipantID string // used only when StrategyName == FixedParticipant
	ExpectedVersion discovery.Version
	DiscoveryQos  discovery.Qos
	Gbids         []string
	StrategyName  Name
	VersionFilteringDisabled bool
}

// Arbitrator drives one arbitration attempt loop against a DiscoveryProxy.
type Arbitrator struct {
	proxy DiscoveryProxy
	log   *log.Entry
}

// New returns an Arbitrator backed by proxy.
func New(proxy DiscoveryProxy) *Arbitrator {
	return &Arbitrator{proxy: proxy, log: log.WithField("component", "arbitrator")}
}

// Handle is returned by StartArbitration; call Stop to request cooperative
// cancellation.
type Handle struct {
	cancel context.CancelFunc
}

// Stop sets the cancellation flag observed between retries. The
// arbitration goroutine exits at the next iteration boundary.
func (h *Handle) Stop() { h.cancel() }

// StartArbitration runs the arbitration loop on its own goroutine and invokes exactly one of
// onSuccess/onError, unless Stop was called first.
func (a *Arbitrator) StartArbitration(ctx context.Context, req Request, strategy Strategy, onSuccess func(discovery.WithMetaInfo), onError func(error)) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	handle := &Handle{cancel: cancel}

	go func() {
		deadline := time.Now().Add(time.Duration(req.DiscoveryQos.DiscoveryTimeoutMs) * time.Millisecond)
		result, err := a.run(ctx, req, strategy, deadline)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			onError(err)
			return
		}
		onSuccess(result)
	}()

	return handle
}

func (a *Arbitrator) run(ctx context.Context, req Request, strategy Strategy, deadline time.Time) (discovery.WithMetaInfo, error) {
	var incompatible []discovery.Version
	var lastErr error

	backoff := wait.Backoff{
		Duration: time.Duration(req.DiscoveryQos.RetryIntervalMs) * time.Millisecond,
		Factor:   1.0,
		Steps:    1 << 30,
	}

	for {
		if ctx.Err() != nil {
			return discovery.WithMetaInfo{}, ctx.Err()
		}

		result, newlyIncompatible, err := a.attempt(ctx, req, strategy)
		if err == nil {
			return result, nil
		}
		incompatible = append(incompatible, newlyIncompatible...)
		lastErr = err

		if time.Now().After(deadline) {
			if len(incompatible) > 0 && allIncompatible(incompatible, lastErr) {
				return discovery.WithMetaInfo{}, &NoCompatibleProviderError{IncompatibleVersions: incompatible}
			}
			return discovery.WithMetaInfo{}, &DiscoveryError{Cause: lastErr}
		}

		step := backoff.Step()
		select {
		case <-ctx.Done():
			return discovery.WithMetaInfo{}, ctx.Err()
		case <-time.After(step):
		}
	}
}

// allIncompatible reports whether the failure was entirely due to version
// filtering (as opposed to a transport/lookup error)
// "On deadline with all-incompatible results" branch.
func allIncompatible(incompatible []discovery.Version, lastErr error) bool {
	var incompatErr *incompatibleCandidatesError
	return errors.As(lastErr, &incompatErr) && len(incompatible) > 0
}

type incompatibleCandidatesError struct {
	versions []discovery.Version
}

func (e *incompatibleCandidatesError) Error() string {
	return fmt.Sprintf("arbitrator: %d candidates filtered for version incompatibility", len(e.versions))
}

func (a *Arbitrator) attempt(ctx context.Context, req Request, strategy Strategy) (discovery.WithMetaInfo, []discovery.Version, error) {
	var candidates []discovery.WithMetaInfo
	var err error

	if req.StrategyName == FixedParticipant {
		var single discovery.WithMetaInfo
		single, err = a.proxy.LookupByParticipantID(ctx, req.ParticipantID, req.DiscoveryQos, req.Gbids)
		if err == nil {
			candidates = []discovery.WithMetaInfo{single}
		}
	} else {
		candidates, err = a.proxy.LookupByInterface(ctx, req.Domains, req.InterfaceName, req.DiscoveryQos, req.Gbids)
	}
	if err != nil {
		return discovery.WithMetaInfo{}, nil, err
	}

	if req.DiscoveryQos.ProviderMustSupportOnChange {
		candidates = filter(candidates, func(c discovery.WithMetaInfo) bool {
			return c.ProviderQos.SupportsOnChangeSubscriptions
		})
	}

	var incompatible []discovery.Version
	if !req.VersionFilteringDisabled {
		compatible := make([]discovery.WithMetaInfo, 0, len(candidates))
		for _, c := range candidates {
			if c.ProviderVersion.CompatibleWith(req.ExpectedVersion) {
				compatible = append(compatible, c)
			} else {
				incompatible = append(incompatible, c.ProviderVersion)
			}
		}
		candidates = compatible
	}

	selected, err := strategy(candidates, req.DiscoveryQos)
	if err != nil {
		if len(incompatible) > 0 && len(candidates) == 0 {
			return discovery.WithMetaInfo{}, incompatible, &incompatibleCandidatesError{versions: incompatible}
		}
		return discovery.WithMetaInfo{}, incompatible, err
	}
	return selected, incompatible, nil
}

func filter(in []discovery.WithMetaInfo, keep func(discovery.WithMetaInfo) bool) []discovery.WithMetaInfo {
	out := make([]discovery.WithMetaInfo, 0, len(in))
	for _, c := range in {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}
