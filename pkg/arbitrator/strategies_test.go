package arbitrator

import (
	"errors"
	"testing"

	"github.com/meshbus/clustercontroller/pkg/discovery"
)

func TestLocalOnlyStrategyAlwaysFails(t *testing.T) {
	local := discovery.WithMetaInfo{
		Entry:   discovery.Entry{ParticipantID: "p1"},
		IsLocal: true,
	}
	_, err := LocalOnlyStrategy([]discovery.WithMetaInfo{local}, discovery.Qos{})
	if err == nil {
		t.Fatal("expected LOCAL_ONLY to always fail")
	}
	var discErr *DiscoveryError
	if !errors.As(err, &discErr) {
		t.Errorf("expected a *DiscoveryError, got %T: %v", err, err)
	}
}
