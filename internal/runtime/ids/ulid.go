// Package ids generates the sortable identifiers used for pipelines and
// spawned worker units.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
	now     = time.Now
)

// New returns a fresh monotonic ULID.
func New() ulid.ULID {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now()), entropy)
}

// CreateULID returns New() in its 26-character text form.
func CreateULID() string {
	return New().String()
}

// CreatedAt extracts the embedded timestamp from a ULID string.
func CreatedAt(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()).UTC(), nil
}
