// Package ids generates ULIDs for complaints, principals and escalation
// records. Sorting ids sorts by creation time, which keeps paginated listings
// and the escalation history in insertion order without extra columns.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a fresh ULID. The monotonic entropy source is not safe for
// concurrent use, so calls serialize on a lock.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
