package codec

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/internal/runtime/jsoncodec"
)

// CloudEventsSpecVersion is the CloudEvents version produced by CloudEvents.
const CloudEventsSpecVersion = "1.0"

// DefaultCloudEventsSource is the source attribute used when none is set.
const DefaultCloudEventsSource = "eventscore"

const cloudEventsContentType = "application/json"

// CloudEvents encodes events as structured-mode CloudEvents 1.0 JSON. The
// data attribute carries the same tagged payload as JSON.
type CloudEvents struct {
	// Source is written to the source attribute and ignored on decode.
	Source string
}

type cloudEvent struct {
	SpecVersion     string               `json:"specversion"`
	ID              string               `json:"id"`
	Source          string               `json:"source"`
	Type            string               `json:"type"`
	Time            string               `json:"time"`
	DataContentType string               `json:"datacontenttype"`
	Data            map[string]jsonValue `json:"data"`
}

func (CloudEvents) Name() string { return "cloudevents" }

func (c CloudEvents) Encode(evt event.Event) ([]byte, error) {
	if !utf8.ValidString(string(evt.Type)) {
		return nil, fmt.Errorf("%w: type %q is not valid UTF-8", ErrMalformed, evt.Type)
	}
	data, err := encodePayload(evt.Payload)
	if err != nil {
		return nil, err
	}
	source := c.Source
	if source == "" {
		source = DefaultCloudEventsSource
	}
	return jsoncodec.Marshal(cloudEvent{
		SpecVersion:     CloudEventsSpecVersion,
		ID:              evt.ID.String(),
		Source:          source,
		Type:            string(evt.Type),
		Time:            evt.CreatedAt.UTC().Format(time.RFC3339Nano),
		DataContentType: cloudEventsContentType,
		Data:            data,
	})
}

func (CloudEvents) Decode(raw []byte) (event.Event, error) {
	var ce cloudEvent
	if err := jsoncodec.Unmarshal(raw, &ce); err != nil {
		return event.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ce.SpecVersion != CloudEventsSpecVersion {
		return event.Event{}, fmt.Errorf("%w: unsupported specversion %q", ErrMalformed, ce.SpecVersion)
	}
	if ce.DataContentType != "" && ce.DataContentType != cloudEventsContentType {
		return event.Event{}, fmt.Errorf("%w: unsupported datacontenttype %q", ErrMalformed, ce.DataContentType)
	}
	id, err := uuid.Parse(ce.ID)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: id: %v", ErrMalformed, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ce.Time)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: time: %v", ErrMalformed, err)
	}
	payload, err := decodePayload(ce.Data)
	if err != nil {
		return event.Event{}, err
	}
	evt, err := event.NewWithID(id, event.Type(ce.Type), createdAt, payload)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return evt, nil
}
