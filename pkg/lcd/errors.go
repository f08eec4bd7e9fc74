package lcd

import "fmt"

// ErrInvalidGbid is returned when a submitted gbid list contains an empty
// string or a duplicate.
var ErrInvalidGbid = fmt.Errorf("lcd: invalid gbid")

// ErrUnknownGbid is returned when a submitted gbid is not among the
// configured known gbids.
var ErrUnknownGbid = fmt.Errorf("lcd: unknown gbid")

// ErrNoEntryForParticipant is returned by LookupByParticipantID when no
// provider is registered under the requested participant id.
var ErrNoEntryForParticipant = fmt.Errorf("lcd: no entry for participant")

// ProviderRuntimeError wraps a provider-permission denial from the
// configured AccessController.
type ProviderRuntimeError struct {
	ParticipantID string
	Cause         error
}

func (e *ProviderRuntimeError) Error() string {
	return fmt.Sprintf("lcd: provider runtime error for participantId=%q: %v", e.ParticipantID, e.Cause)
}

func (e *ProviderRuntimeError) Unwrap() error { return e.Cause }
