package multicast

import (
	"sync"

	"github.com/clarketm/json"
)

// Directory maps compiled multicast id patterns to the set of subscriber
// participant ids registered against them.
// Invariant: no empty sets; when the last subscriber is removed, the
// pattern entry is removed entirely.
type Directory struct {
	mu   sync.RWMutex // no method here ever calls another locking method, so RWMutex suffices
	subs map[string]*entry
}

type entry struct {
	matcher     Matcher
	subscribers map[string]struct{}
}

// New returns an empty multicast receiver directory.
func New() *Directory {
	return &Directory{subs: make(map[string]*entry)}
}

// Add registers subscriberParticipantID against pattern, compiling it if
// this is the first subscriber for that pattern.
func (d *Directory) Add(pattern, subscriberParticipantID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.subs[pattern]
	if !ok {
		m, err := Compile(pattern)
		if err != nil {
			return err
		}
		e = &entry{matcher: m, subscribers: make(map[string]struct{})}
		d.subs[pattern] = e
	}
	e.subscribers[subscriberParticipantID] = struct{}{}
	return nil
}

// Remove unregisters subscriberParticipantID from pattern. Once the last
// subscriber is removed the pattern entry itself is deleted.
func (d *Directory) Remove(pattern, subscriberParticipantID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.subs[pattern]
	if !ok {
		return
	}
	delete(e.subscribers, subscriberParticipantID)
	if len(e.subscribers) == 0 {
		delete(d.subs, pattern)
	}
}

// Receivers returns the union of subscriber participant ids whose pattern
// matches multicastID.
func (d *Directory) Receivers(multicastID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, e := range d.subs {
		if !e.matcher.Matches(multicastID) {
			continue
		}
		for sub := range e.subscribers {
			if _, dup := seen[sub]; dup {
				continue
			}
			seen[sub] = struct{}{}
			out = append(out, sub)
		}
	}
	return out
}

// persistedDirectory is the JSON wire shape: multicastId pattern -> set of
// subscriber participant ids.
type persistedDirectory map[string][]string

// Save serializes the directory to the persistence document shape.
func (d *Directory) Save() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(persistedDirectory, len(d.subs))
	for pattern, e := range d.subs {
		subs := make([]string, 0, len(e.subscribers))
		for s := range e.subscribers {
			subs = append(subs, s)
		}
		out[pattern] = subs
	}
	return json.Marshal(out)
}

// Load deserializes a persistence document and merges it into the
// directory.
func (d *Directory) Load(data []byte) error {
	var in persistedDirectory
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	for pattern, subs := range in {
		for _, s := range subs {
			if err := d.Add(pattern, s); err != nil {
				return err
			}
		}
	}
	return nil
}
