// Package codec converts events to and from bytes for stream backends that
// store or transmit them outside the process.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/drblury/eventscore/event"
)

var (
	// ErrUnknownSerializer is returned by ByName for unregistered names.
	ErrUnknownSerializer = errors.New("eventscore: unknown serializer")
	// ErrMalformed wraps decoding failures.
	ErrMalformed = errors.New("eventscore: malformed event encoding")
)

// Serializer turns an event into bytes and back. Decode(Encode(e)) must
// yield an event equal to e.
type Serializer interface {
	Name() string
	Encode(evt event.Event) ([]byte, error)
	Decode(data []byte) (event.Event, error)
}

// Default is used when a backend is not given a serializer.
var Default Serializer = JSON{}

var known = map[string]Serializer{
	JSON{}.Name():        JSON{},
	Proto{}.Name():       Proto{},
	CloudEvents{}.Name(): CloudEvents{},
}

// ByName returns the serializer registered under name ("json", "proto" or
// "cloudevents").
// An empty name selects Default.
func ByName(name string) (Serializer, error) {
	if name == "" {
		return Default, nil
	}
	s, ok := known[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownSerializer, name, strings.Join(Names(), ", "))
	}
	return s, nil
}

// Names lists the registered serializer names.
func Names() []string {
	names := make([]string, 0, len(known))
	for name := range known {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
