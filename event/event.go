// Package event defines the immutable event value that flows through
// eventscore streams, together with the names used to address it.
package event

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	// ErrTypeRequired is returned when an event is created without a type.
	ErrTypeRequired = errors.New("eventscore: event type is required")
	// ErrUnsupportedPayloadValue is returned for payload values other than
	// strings, integers and byte slices.
	ErrUnsupportedPayloadValue = errors.New("eventscore: unsupported payload value")
	// ErrInvalidText is returned when a type, payload key or string value is
	// not valid UTF-8. Arbitrary bytes belong in []byte values.
	ErrInvalidText = errors.New("eventscore: text is not valid UTF-8")
)

// Type names an event stream. All events of one type share one log.
type Type string

// Group names a consumer group. Every (Type, Group) pair owns one cursor.
type Group string

func (t Type) String() string  { return string(t) }
func (g Group) String() string { return string(g) }

// Payload is the flat key/value body of an event. Values are always string,
// int64 or []byte.
type Payload map[string]any

// Event is an immutable record. Copy it freely; use the With methods to
// derive modified copies.
type Event struct {
	ID        uuid.UUID
	Type      Type
	CreatedAt time.Time
	Payload   Payload
}

// newID is swapped in tests that need deterministic identifiers.
var newID = uuid.New

// New creates an event of the given type with a fresh ID and UTC timestamp.
func New(eventType Type, payload map[string]any) (Event, error) {
	return NewWithID(newID(), eventType, time.Now().UTC(), payload)
}

// MustNew is like New but panics on invalid input.
func MustNew(eventType Type, payload map[string]any) Event {
	evt, err := New(eventType, payload)
	if err != nil {
		panic(err)
	}
	return evt
}

// NewWithID rebuilds an event from its parts. Codecs use it when decoding.
func NewWithID(id uuid.UUID, eventType Type, createdAt time.Time, payload map[string]any) (Event, error) {
	if eventType == "" {
		return Event{}, ErrTypeRequired
	}
	if !utf8.ValidString(string(eventType)) {
		return Event{}, fmt.Errorf("%w: type %q", ErrInvalidText, eventType)
	}
	normalized, err := NormalizePayload(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        id,
		Type:      eventType,
		CreatedAt: createdAt.UTC(),
		Payload:   normalized,
	}, nil
}

// NormalizePayload copies the supplied map, converting integer kinds to int64
// and copying byte slices.
func NormalizePayload(in map[string]any) (Payload, error) {
	out := make(Payload, len(in))
	for key, value := range in {
		normalized, err := normalizeEntry(key, value)
		if err != nil {
			return nil, err
		}
		out[key] = normalized
	}
	return out, nil
}

func normalizeEntry(key string, value any) (any, error) {
	if !utf8.ValidString(key) {
		return nil, fmt.Errorf("%w: key %q", ErrInvalidText, key)
	}
	normalized, err := normalizeValue(value)
	if err != nil {
		return nil, fmt.Errorf("%w: key %q has %T", err, key, value)
	}
	return normalized, nil
}

func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case string:
		if !utf8.ValidString(v) {
			return nil, ErrInvalidText
		}
		return v, nil
	case []byte:
		return bytes.Clone(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	default:
		return nil, ErrUnsupportedPayloadValue
	}
}

// WithValue returns a copy of the event with key set to value.
func (e Event) WithValue(key string, value any) (Event, error) {
	normalized, err := normalizeEntry(key, value)
	if err != nil {
		return Event{}, err
	}
	out := e.Clone()
	out.Payload[key] = normalized
	return out, nil
}

// WithPayload returns a copy of the event carrying a new payload.
func (e Event) WithPayload(payload map[string]any) (Event, error) {
	normalized, err := NormalizePayload(payload)
	if err != nil {
		return Event{}, err
	}
	out := e
	out.Payload = normalized
	return out, nil
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	out := e
	out.Payload = make(Payload, len(e.Payload))
	for key, value := range e.Payload {
		if b, ok := value.([]byte); ok {
			value = bytes.Clone(b)
		}
		out.Payload[key] = value
	}
	return out
}

// StringValue returns the string value stored under key.
func (e Event) StringValue(key string) (string, bool) {
	v, ok := e.Payload[key].(string)
	return v, ok
}

// IntValue returns the integer value stored under key.
func (e Event) IntValue(key string) (int64, bool) {
	v, ok := e.Payload[key].(int64)
	return v, ok
}

// BytesValue returns a copy of the byte value stored under key.
func (e Event) BytesValue(key string) ([]byte, bool) {
	v, ok := e.Payload[key].([]byte)
	if !ok {
		return nil, false
	}
	return bytes.Clone(v), true
}

// Equal reports whether both events carry the same identity, type, timestamp
// and payload.
func (e Event) Equal(other Event) bool {
	if e.ID != other.ID || e.Type != other.Type || !e.CreatedAt.Equal(other.CreatedAt) {
		return false
	}
	return e.Payload.Equal(other.Payload)
}

// Keys returns the payload keys in lexical order.
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p))
	for key := range p {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Equal compares two payloads value by value.
func (p Payload) Equal(other Payload) bool {
	if len(p) != len(other) {
		return false
	}
	for key, value := range p {
		otherValue, ok := other[key]
		if !ok {
			return false
		}
		switch v := value.(type) {
		case []byte:
			ob, ok := otherValue.([]byte)
			if !ok || !bytes.Equal(v, ob) {
				return false
			}
		default:
			if value != otherValue {
				return false
			}
		}
	}
	return true
}
