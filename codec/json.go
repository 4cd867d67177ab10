package codec

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/internal/runtime/jsoncodec"
)

// JSON encodes events as JSON documents. Payload values are tagged with
// their kind so byte slices and strings stay distinguishable. Text that is
// not valid UTF-8 fails to encode instead of being replaced.
type JSON struct{}

type jsonEnvelope struct {
	ID        string               `json:"id"`
	Type      string               `json:"type"`
	CreatedAt time.Time            `json:"created_at"`
	Payload   map[string]jsonValue `json:"payload"`
}

type jsonValue struct {
	String *string `json:"string,omitempty"`
	Int    *int64  `json:"int,omitempty"`
	Bytes  *[]byte `json:"bytes,omitempty"`
}

func (JSON) Name() string { return "json" }

func (JSON) Encode(evt event.Event) ([]byte, error) {
	if !utf8.ValidString(string(evt.Type)) {
		return nil, fmt.Errorf("%w: type %q is not valid UTF-8", ErrMalformed, evt.Type)
	}
	payload, err := encodePayload(evt.Payload)
	if err != nil {
		return nil, err
	}
	env := jsonEnvelope{
		ID:        evt.ID.String(),
		Type:      string(evt.Type),
		CreatedAt: evt.CreatedAt,
		Payload:   payload,
	}
	return jsoncodec.Marshal(env)
}

func (JSON) Decode(data []byte) (event.Event, error) {
	var env jsonEnvelope
	if err := jsoncodec.Unmarshal(data, &env); err != nil {
		return event.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	id, err := uuid.Parse(env.ID)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: id: %v", ErrMalformed, err)
	}
	payload, err := decodePayload(env.Payload)
	if err != nil {
		return event.Event{}, err
	}
	evt, err := event.NewWithID(id, event.Type(env.Type), env.CreatedAt, payload)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return evt, nil
}

func encodePayload(p event.Payload) (map[string]jsonValue, error) {
	out := make(map[string]jsonValue, len(p))
	for key, value := range p {
		if !utf8.ValidString(key) {
			return nil, fmt.Errorf("%w: key %q is not valid UTF-8", ErrMalformed, key)
		}
		switch v := value.(type) {
		case string:
			if !utf8.ValidString(v) {
				return nil, fmt.Errorf("%w: key %q holds invalid UTF-8", ErrMalformed, key)
			}
			out[key] = jsonValue{String: &v}
		case int64:
			out[key] = jsonValue{Int: &v}
		case []byte:
			if v == nil {
				v = []byte{}
			}
			out[key] = jsonValue{Bytes: &v}
		default:
			return nil, fmt.Errorf("%w: key %q has %T", event.ErrUnsupportedPayloadValue, key, value)
		}
	}
	return out, nil
}

func decodePayload(in map[string]jsonValue) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for key, value := range in {
		switch {
		case value.String != nil:
			out[key] = *value.String
		case value.Int != nil:
			out[key] = *value.Int
		case value.Bytes != nil:
			out[key] = *value.Bytes
		default:
			return nil, fmt.Errorf("%w: payload key %q has no value", ErrMalformed, key)
		}
	}
	return out, nil
}
