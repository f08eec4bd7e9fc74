package multicast

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
)

func init() {
	testing.Init()
}

// FuzzCompileAndMatch fuzzes pattern compilation and matching together: a
// pattern that fails to Compile is skipped, a pattern that compiles is
// matched against a second fuzzed multicast id. Neither call should ever
// panic, regardless of how the wildcard segments are arranged.
func FuzzCompileAndMatch(data []byte) int {
	f := fuzz.NewConsumer(data)

	pattern, err := f.GetString()
	if err != nil {
		return 0
	}
	id, err := f.GetString()
	if err != nil {
		return 0
	}

	m, err := Compile(pattern)
	if err != nil {
		return 0
	}
	m.Matches(id)
	return 1
}
