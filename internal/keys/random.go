package keys

import "github.com/shopmindai/chatcore/internal/clock"

// randomAlphanumeric is a thin wrapper kept local so this package's
// production code does not reach past internal/clock for its only other
// dependency.
func randomAlphanumeric(n int) (string, error) {
	return clock.RandomAlphanumeric(n)
}
