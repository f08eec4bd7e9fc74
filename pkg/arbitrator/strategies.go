package arbitrator

import (
	"errors"
	"sort"

	"github.com/meshbus/clustercontroller/pkg/discovery"
)

// ErrNoCandidates is returned by every built-in strategy when it is handed
// an empty candidate slice.
var ErrNoCandidates = errors.New("arbitrator: no candidates to arbitrate over")

// LastSeenStrategy picks the candidate with the greatest LastSeenDateMs.
func LastSeenStrategy(candidates []discovery.WithMetaInfo, qos discovery.Qos) (discovery.WithMetaInfo, error) {
	if len(candidates) == 0 {
		return discovery.WithMetaInfo{}, ErrNoCandidates
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.LastSeenDateMs > best.LastSeenDateMs {
			best = c
		}
	}
	return best, nil
}

// HighestPriorityStrategy picks the candidate with the greatest
// ProviderQos.Priority, breaking ties by LastSeenDateMs.
func HighestPriorityStrategy(candidates []discovery.WithMetaInfo, qos discovery.Qos) (discovery.WithMetaInfo, error) {
	if len(candidates) == 0 {
		return discovery.WithMetaInfo{}, ErrNoCandidates
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.ProviderQos.Priority > best.ProviderQos.Priority ||
			(c.ProviderQos.Priority == best.ProviderQos.Priority && c.LastSeenDateMs > best.LastSeenDateMs) {
			best = c
		}
	}
	return best, nil
}

// KeywordStrategyParameterName is the discovery QoS custom parameter name
// carrying the keyword to match against a provider's own custom
// parameters (mirrors the "keyword" QoS parameter of the arbitration
// strategy it's named after).
const KeywordStrategyParameterName = "keyword"

// ErrKeywordNotFound is returned when no candidate's provider QoS exposes
// a matching "keyword" custom parameter.
var ErrKeywordNotFound = errors.New("arbitrator: no candidate matches requested keyword")

// KeywordStrategy picks the first candidate whose ProviderQos carries a
// "keyword" custom parameter equal to the discovery QoS's own "keyword"
// parameter.
func KeywordStrategy(candidates []discovery.WithMetaInfo, qos discovery.Qos) (discovery.WithMetaInfo, error) {
	want, ok := qos.Get(KeywordStrategyParameterName)
	if !ok {
		return discovery.WithMetaInfo{}, errors.New("arbitrator: KEYWORD strategy requires a \"keyword\" discovery QoS parameter")
	}
	for _, c := range candidates {
		if got, ok := c.ProviderQos.Get(KeywordStrategyParameterName); ok && got == want {
			return c, nil
		}
	}
	return discovery.WithMetaInfo{}, ErrKeywordNotFound
}

// FixedParticipantStrategy is used with the FixedParticipant request mode:
// the arbitrator already looked up exactly one candidate by participant
// id, so this just validates it survived filtering.
func FixedParticipantStrategy(candidates []discovery.WithMetaInfo, qos discovery.Qos) (discovery.WithMetaInfo, error) {
	if len(candidates) == 0 {
		return discovery.WithMetaInfo{}, ErrNoCandidates
	}
	return candidates[0], nil
}

// QosStrategy ranks candidates by a weighted blend of priority and
// recency, controlled by qos.QosArbitrationWeight in [0,1]: weight 1
// behaves like HighestPriorityStrategy, weight 0 like LastSeenStrategy.
// Recovered from the provider-side QoS arbitration strategy that scores
// candidates on a normalized priority/age blend rather than picking a
// single dimension outright.
func QosStrategy(candidates []discovery.WithMetaInfo, qos discovery.Qos) (discovery.WithMetaInfo, error) {
	if len(candidates) == 0 {
		return discovery.WithMetaInfo{}, ErrNoCandidates
	}
	w := qos.QosArbitrationWeight
	if w < 0 {
		w = 0
	}
	if w > 1 {
		w = 1
	}

	maxPriority, maxLastSeen := candidates[0].ProviderQos.Priority, candidates[0].LastSeenDateMs
	for _, c := range candidates[1:] {
		if c.ProviderQos.Priority > maxPriority {
			maxPriority = c.ProviderQos.Priority
		}
		if c.LastSeenDateMs > maxLastSeen {
			maxLastSeen = c.LastSeenDateMs
		}
	}

	score := func(c discovery.WithMetaInfo) float64 {
		var p, s float64
		if maxPriority > 0 {
			p = float64(c.ProviderQos.Priority) / float64(maxPriority)
		}
		if maxLastSeen > 0 {
			s = float64(c.LastSeenDateMs) / float64(maxLastSeen)
		}
		return w*p + (1-w)*s
	}

	ranked := append([]discovery.WithMetaInfo(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool { return score(ranked[i]) > score(ranked[j]) })
	return ranked[0], nil
}

// LocalOnlyStrategy is unimplemented: LOCAL_ONLY arbitration always fails
// with a DiscoveryException, never selecting a candidate.
func LocalOnlyStrategy(candidates []discovery.WithMetaInfo, qos discovery.Qos) (discovery.WithMetaInfo, error) {
	return discovery.WithMetaInfo{}, &DiscoveryError{Cause: errors.New("LOCAL_ONLY strategy is unimplemented")}
}

// Lookup resolves a strategy Name to its implementation.
func Lookup(name Name) (Strategy, error) {
	switch name {
	case LastSeen:
		return LastSeenStrategy, nil
	case HighestPriority:
		return HighestPriorityStrategy, nil
	case Keyword:
		return KeywordStrategy, nil
	case FixedParticipant:
		return FixedParticipantStrategy, nil
	case LocalOnlyName:
		return LocalOnlyStrategy, nil
	case Qos_:
		return QosStrategy, nil
	default:
		return nil, errors.New("arbitrator: unknown strategy name " + string(name))
	}
}
