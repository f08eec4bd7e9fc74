package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/meshbus/clustercontroller/pkg/address"
	"github.com/meshbus/clustercontroller/pkg/multicast"
	"github.com/meshbus/clustercontroller/pkg/msgqueue"
	"github.com/meshbus/clustercontroller/pkg/routingtable"
	"github.com/meshbus/clustercontroller/pkg/scheduler"
	"github.com/meshbus/clustercontroller/pkg/transport"
)

// MulticastSubscriber is implemented by a provider's in-process skeleton
// when the underlying address owns a broker-subscribe primitive (e.g. an
// Mqtt topic). AddMulticastReceiver/RemoveMulticastReceiver call it when
// present.
type MulticastSubscriber interface {
	address.Receiver
	RegisterMulticastSubscription(multicastID string) error
	UnregisterMulticastSubscription(multicastID string) error
}

type pendingSend struct {
	msg      *Message
	addr     address.Address
	tryCount int
}

func pendingSendExpiry(p pendingSend) int64 { return p.msg.ExpiryDateMsValue }

// Config bundles the router's tunables, all named after the configuration
// options a deployment is expected to set explicitly.
type Config struct {
	// SendMsgRetryIntervalMs is the base interval for computeBackoff.
	SendMsgRetryIntervalMs int64
	// MaxAclRetryIntervalMs caps computeBackoff. Defaults to one hour if zero.
	MaxAclRetryIntervalMs int64
	// MessageQueueCleanerPeriod is how often expired queued messages are swept.
	MessageQueueCleanerPeriod time.Duration
	// RoutingTableCleanupInterval is how often the routing table is purged.
	RoutingTableCleanupInterval time.Duration
	// Workers sizes the delayed-scheduler worker pool.
	Workers int
}

func (c Config) maxRetryMs() int64 {
	if c.MaxAclRetryIntervalMs > 0 {
		return c.MaxAclRetryIntervalMs
	}
	return int64(time.Hour / time.Millisecond)
}

// Router is the message router: destination resolution, transport
// dispatch, retry-with-backoff, and multicast fan-out, composed from the
// routing table, multicast directory, per-destination queues, and a
// pluggable transport layer.
type Router struct {
	cfg Config

	table        *routingtable.Table
	multicastDir *multicast.Directory
	retryQueue   *msgqueue.Queue[pendingSend]

	stubFactory transport.StubFactory
	statuses    []transport.Status

	transportMu sync.Mutex
	unavailable map[string]*msgqueue.Queue[pendingSend] // status name -> queue

	sched *scheduler.Scheduler

	accessController  AccessController
	addressCalculator MulticastAddressCalculator

	metrics *metrics
	log     *log.Entry

	weak         *weakRouter
	shutdownOnce sync.Once
}

type weakRouter struct {
	ptr atomic.Pointer[Router]
}

func (w *weakRouter) get() *Router { return w.ptr.Load() }

// New constructs a Router over the given subsystems. statuses gates
// delivery per address kind; stubFactory produces the active send
// capability. accessController and addressCalculator may be nil.
func New(cfg Config, table *routingtable.Table, multicastDir *multicast.Directory, stubFactory transport.StubFactory, statuses []transport.Status, accessController AccessController, addressCalculator MulticastAddressCalculator) *Router {
	r := &Router{
		cfg:               cfg,
		table:             table,
		multicastDir:      multicastDir,
		retryQueue:        msgqueue.New(pendingSendExpiry),
		stubFactory:       stubFactory,
		statuses:          statuses,
		unavailable:       make(map[string]*msgqueue.Queue[pendingSend]),
		sched:             scheduler.New(cfg.Workers),
		accessController:  accessController,
		addressCalculator: addressCalculator,
		log:               log.WithField("component", "router"),
		weak:              &weakRouter{},
	}
	r.weak.ptr.Store(r)

	for _, st := range statuses {
		r.unavailable[st.Name()] = msgqueue.New(pendingSendExpiry)
		name := st.Name()
		st.OnAvailabilityChanged(func(available bool) {
			if available {
				r.drainUnavailable(name)
			}
		})
	}

	r.metrics = newMetrics(
		func() float64 { return float64(r.retryQueue.Size()) },
		func() float64 { return float64(r.unavailableSize()) },
		func() float64 { return float64(r.table.Size()) },
	)

	return r
}

// Metrics returns the collectors to register with a Prometheus registry.
func (r *Router) Metrics() []prometheus.Collector {
	return r.metrics.Collectors()
}

func (r *Router) unavailableSize() int {
	r.transportMu.Lock()
	defer r.transportMu.Unlock()
	n := 0
	for _, q := range r.unavailable {
		n += q.Size()
	}
	return n
}

// Route resolves destinations for msg and schedules delivery, queueing or
// dropping per the documented failure semantics.
func (r *Router) Route(msg *Message) error {
	if routingtable.NowMs() > msg.ExpiryDateMsValue {
		return ErrMessageExpired
	}
	r.metrics.routedMessages.Inc()

	unlock := r.table.RLock()
	dests := r.computeDestinationsLocked(msg)
	unlock()

	if msg.IsMulticast {
		for _, addr := range dests {
			r.schedule(msg, addr, 0, 0)
		}
		return nil
	}

	if len(dests) == 0 {
		r.retryQueue.Enqueue(msg.RecipientParticipantID, pendingSend{msg: msg})
		return nil
	}
	for _, addr := range dests {
		r.schedule(msg, addr, 0, 0)
	}
	return nil
}

// computeDestinationsLocked must be called while holding at least the
// table's read lock.
func (r *Router) computeDestinationsLocked(msg *Message) []address.Address {
	if !msg.IsMulticast {
		var entry routingtable.Entry
		var ok bool
		if msg.GBID != "" {
			entry, ok = r.table.LookupByParticipantIDAndGBID(msg.RecipientParticipantID, msg.GBID)
		} else {
			entry, ok = r.table.LookupByParticipantID(msg.RecipientParticipantID)
		}
		if !ok {
			return nil
		}
		return []address.Address{entry.Address}
	}

	var dests []address.Address
	seen := make(map[string]struct{})
	for _, subscriberID := range r.multicastDir.Receivers(msg.MulticastID) {
		entry, ok := r.table.LookupByParticipantID(subscriberID)
		if !ok {
			continue
		}
		h := entry.Address.Hash()
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		dests = append(dests, entry.Address)
	}

	if !msg.FromGlobalBackend && r.addressCalculator != nil {
		if provider, ok := r.table.LookupByParticipantID(msg.ProviderParticipantID); ok && provider.IsGloballyVisible {
			for _, addr := range r.addressCalculator.CalculateAddresses(msg) {
				h := addr.Hash()
				if _, dup := seen[h]; dup {
					continue
				}
				seen[h] = struct{}{}
				dests = append(dests, addr)
			}
		}
	}
	return dests
}

// AddNextHop inserts or replaces the routing entry for participantID and
// drains any messages queued while the route was unknown.
func (r *Router) AddNextHop(participantID string, addr address.Address, isGloballyVisible bool, expiryDateMs int64, isSticky bool, gbid string) routingtable.AddResult {
	res := r.table.Add(participantID, addr, isGloballyVisible, expiryDateMs, isSticky, gbid)
	if res.Added || res.Replaced {
		for _, pending := range r.retryQueue.Drain(participantID) {
			r.schedule(pending.msg, addr, 0, 0)
		}
	}
	return res
}

// RemoveNextHop deletes the routing entry for participantID, if any.
func (r *Router) RemoveNextHop(participantID string) {
	r.table.Remove(participantID)
}

// ResolveNextHop reports whether a routing entry exists for participantID.
func (r *Router) ResolveNextHop(participantID string) bool {
	return r.table.Resolve(participantID)
}

// AddMulticastReceiver registers subscriberParticipantID against
// multicastID and, when the provider's address owns a subscribe
// primitive, arms its subscription.
func (r *Router) AddMulticastReceiver(multicastID, subscriberParticipantID, providerParticipantID string) error {
	provider, ok := r.table.LookupByParticipantID(providerParticipantID)
	if !ok {
		return &ProviderRuntimeError{Cause: fmt.Errorf("router: no routing entry for provider participantId=%q", providerParticipantID)}
	}
	if err := r.multicastDir.Add(multicastID, subscriberParticipantID); err != nil {
		return &ProviderRuntimeError{Cause: err}
	}
	if sub, ok := provider.Address.Skeleton().(MulticastSubscriber); ok {
		if err := sub.RegisterMulticastSubscription(multicastID); err != nil {
			return &ProviderRuntimeError{Cause: err}
		}
	}
	return nil
}

// RemoveMulticastReceiver is the symmetric unregistration.
func (r *Router) RemoveMulticastReceiver(multicastID, subscriberParticipantID, providerParticipantID string) {
	r.multicastDir.Remove(multicastID, subscriberParticipantID)
	provider, ok := r.table.LookupByParticipantID(providerParticipantID)
	if !ok {
		return
	}
	if sub, ok := provider.Address.Skeleton().(MulticastSubscriber); ok {
		_ = sub.UnregisterMulticastSubscription(multicastID)
	}
}

// schedule implements the router's retry/transport-gating decision tree
// for one (message, destination) pair.
func (r *Router) schedule(msg *Message, addr address.Address, tryCount int, delay time.Duration) {
	if status := r.responsibleStatus(addr); status != nil && !status.IsAvailable() {
		r.transportMu.Lock()
		q := r.unavailable[status.Name()]
		r.transportMu.Unlock()
		q.Enqueue(addr.Hash(), pendingSend{msg: msg, addr: addr, tryCount: tryCount})
		return
	}

	stub := r.stubFactory.Create(addr)
	if stub == nil {
		if msg.IsMulticast {
			r.log.Warnf("no stub for multicast destination %s, dropping", addr)
			return
		}
		r.log.Debugf("no stub for %s, queueing for retry", addr)
		r.retryQueue.Enqueue(msg.RecipientParticipantID, pendingSend{msg: msg, addr: addr, tryCount: tryCount})
		return
	}

	weak := r.weak
	task := func() {
		if weak.get() == nil {
			return
		}
		if routingtable.NowMs() > msg.ExpiryDateMsValue {
			return
		}
		if r.accessController != nil && !r.accessController.CanMessageBeTransmitted(msg) {
			r.log.Debugf("access controller denied transmission of %s to %s", msg.ID, addr)
			return
		}
		stub.Transmit(msg, func(err error) {
			if weak.get() == nil {
				return
			}
			var de *transport.DelayError
			if errors.As(err, &de) {
				r.schedule(msg, addr, tryCount+1, de.Delay)
				return
			}
			r.log.Warnf("transmit to %s failed: %v", addr, err)
		})
	}
	r.sched.Schedule(task, delay)
}

func (r *Router) responsibleStatus(addr address.Address) transport.Status {
	for _, st := range r.statuses {
		if st.IsResponsibleFor(addr) {
			return st
		}
	}
	return nil
}

func (r *Router) drainUnavailable(statusName string) {
	r.transportMu.Lock()
	q, ok := r.unavailable[statusName]
	r.transportMu.Unlock()
	if !ok {
		return
	}
	for _, pending := range q.DrainAll() {
		r.schedule(pending.msg, pending.addr, pending.tryCount, 0)
	}
}

// computeBackoff implements min(baseMs * 2^tryCount, capMs), saturating on
// overflow rather than wrapping.
func computeBackoff(baseMs int64, tryCount int, capMs int64) time.Duration {
	if tryCount < 0 {
		tryCount = 0
	}
	backoff := float64(baseMs) * math.Pow(2, float64(tryCount))
	if math.IsInf(backoff, 1) || backoff <= 0 || backoff > float64(capMs) {
		return time.Duration(capMs) * time.Millisecond
	}
	return time.Duration(int64(backoff)) * time.Millisecond
}

// ComputeBackoff is the exported form used by callers that need to
// pre-compute a delay using the router's own configuration.
func (r *Router) ComputeBackoff(tryCount int) time.Duration {
	return computeBackoff(r.cfg.SendMsgRetryIntervalMs, tryCount, r.cfg.maxRetryMs())
}

// StartMaintenance arms the queue cleaner and routing-table cleaner
// timers. Call once after construction.
func (r *Router) StartMaintenance() {
	if r.cfg.MessageQueueCleanerPeriod > 0 {
		r.armQueueCleaner()
	}
	if r.cfg.RoutingTableCleanupInterval > 0 {
		r.armRoutingTableCleaner()
	}
}

func (r *Router) armQueueCleaner() {
	var tick func()
	tick = func() {
		if r.weak.get() == nil {
			return
		}
		removed := r.retryQueue.RemoveOutdated(time.Now())
		r.transportMu.Lock()
		queues := make([]*msgqueue.Queue[pendingSend], 0, len(r.unavailable))
		for _, q := range r.unavailable {
			queues = append(queues, q)
		}
		r.transportMu.Unlock()
		for _, q := range queues {
			removed += q.RemoveOutdated(time.Now())
		}
		if removed > 0 {
			r.log.Debugf("queue cleaner: removed %d expired messages", removed)
		}
		r.sched.Schedule(tick, r.cfg.MessageQueueCleanerPeriod)
	}
	r.sched.Schedule(tick, r.cfg.MessageQueueCleanerPeriod)
}

func (r *Router) armRoutingTableCleaner() {
	var tick func()
	tick = func() {
		if r.weak.get() == nil {
			return
		}
		removed := r.table.Purge(routingtable.NowMs())
		if removed > 0 {
			r.log.Debugf("routing-table cleaner: purged %d expired entries", removed)
		}
		r.sched.Schedule(tick, r.cfg.RoutingTableCleanupInterval)
	}
	r.sched.Schedule(tick, r.cfg.RoutingTableCleanupInterval)
}

// SaveRoutingTable serializes the routing table for persistence.
func (r *Router) SaveRoutingTable() ([]byte, error) { return r.table.Save() }

// LoadRoutingTable merges a previously saved routing table document.
func (r *Router) LoadRoutingTable(data []byte) error { return r.table.Load(data) }

// Shutdown clears the weak-reference pointer observed by in-flight tasks
// and drains the scheduler's worker pool.
func (r *Router) Shutdown(ctx context.Context) {
	r.shutdownOnce.Do(func() {
		r.weak.ptr.Store(nil)
	})
	r.sched.Shutdown(ctx)
}
