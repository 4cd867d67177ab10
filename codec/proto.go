package codec

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/drblury/eventscore/event"
)

// Proto encodes events in protobuf wire format:
//
//	message Event {
//	  bytes  id         = 1;
//	  string type       = 2;
//	  sint64 created_at = 3; // unix nanoseconds
//	  repeated Entry payload = 4;
//	}
//	message Entry {
//	  string key = 1;
//	  oneof value { string str = 2; sint64 int = 3; bytes raw = 4; }
//	}
type Proto struct{}

const (
	fieldID        protowire.Number = 1
	fieldType      protowire.Number = 2
	fieldCreatedAt protowire.Number = 3
	fieldEntry     protowire.Number = 4

	entryKey    protowire.Number = 1
	entryString protowire.Number = 2
	entryInt    protowire.Number = 3
	entryBytes  protowire.Number = 4
)

func (Proto) Name() string { return "proto" }

func (Proto) Encode(evt event.Event) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendBytes(b, evt.ID[:])
	b = protowire.AppendTag(b, fieldType, protowire.BytesType)
	b = protowire.AppendString(b, string(evt.Type))
	b = protowire.AppendTag(b, fieldCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(evt.CreatedAt.UnixNano()))

	for _, key := range evt.Payload.Keys() {
		entry, err := encodeEntry(key, evt.Payload[key])
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b, nil
}

func encodeEntry(key string, value any) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, entryKey, protowire.BytesType)
	b = protowire.AppendString(b, key)
	switch v := value.(type) {
	case string:
		b = protowire.AppendTag(b, entryString, protowire.BytesType)
		b = protowire.AppendString(b, v)
	case int64:
		b = protowire.AppendTag(b, entryInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(v))
	case []byte:
		b = protowire.AppendTag(b, entryBytes, protowire.BytesType)
		b = protowire.AppendBytes(b, v)
	default:
		return nil, fmt.Errorf("%w: key %q has %T", event.ErrUnsupportedPayloadValue, key, value)
	}
	return b, nil
}

func (Proto) Decode(data []byte) (event.Event, error) {
	var (
		id        uuid.UUID
		eventType string
		createdAt int64
		payload   = map[string]any{}
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return event.Event{}, malformed(protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldID && typ == protowire.BytesType:
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return event.Event{}, malformed(protowire.ParseError(m))
			}
			parsed, err := uuid.FromBytes(raw)
			if err != nil {
				return event.Event{}, malformed(err)
			}
			id, n = parsed, m
		case num == fieldType && typ == protowire.BytesType:
			eventType, n = protowire.ConsumeString(data)
		case num == fieldCreatedAt && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(data)
			createdAt = protowire.DecodeZigZag(v)
		case num == fieldEntry && typ == protowire.BytesType:
			var raw []byte
			raw, n = protowire.ConsumeBytes(data)
			if n >= 0 {
				key, value, err := decodeEntry(raw)
				if err != nil {
					return event.Event{}, err
				}
				payload[key] = value
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return event.Event{}, malformed(protowire.ParseError(n))
		}
		data = data[n:]
	}

	evt, err := event.NewWithID(id, event.Type(eventType), time.Unix(0, createdAt), payload)
	if err != nil {
		return event.Event{}, malformed(err)
	}
	return evt, nil
}

func decodeEntry(data []byte) (string, any, error) {
	var (
		key   string
		value any
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", nil, malformed(protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == entryKey && typ == protowire.BytesType:
			key, n = protowire.ConsumeString(data)
		case num == entryString && typ == protowire.BytesType:
			var s string
			s, n = protowire.ConsumeString(data)
			value = s
		case num == entryInt && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(data)
			value = protowire.DecodeZigZag(v)
		case num == entryBytes && typ == protowire.BytesType:
			var raw []byte
			raw, n = protowire.ConsumeBytes(data)
			value = append([]byte{}, raw...)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return "", nil, malformed(protowire.ParseError(n))
		}
		data = data[n:]
	}
	if value == nil {
		return "", nil, fmt.Errorf("%w: payload key %q has no value", ErrMalformed, key)
	}
	return key, value, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
