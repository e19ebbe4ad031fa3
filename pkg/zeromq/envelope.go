package zeromq

import (
	"encoding/json"
	"fmt"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	message "github.com/open-teleop/rov-controller/pkg/flatbuffers/open_teleop/message"
)

// envelopeVersion is written into every OttMessage we build.
const envelopeVersion = 1

// minEnvelopeSize is the smallest buffer holding a root offset and a vtable.
const minEnvelopeSize = 12

// Envelope is the decoded form of an OttMessage.
type Envelope struct {
	Topic       string
	ContentType message.ContentType
	Payload     []byte
	Timestamp   time.Time
	Version     byte
}

// EncodeEnvelope wraps payload in an OttMessage FlatBuffer.
func EncodeEnvelope(topic string, contentType message.ContentType, payload []byte, ts time.Time) []byte {
	builder := flatbuffers.NewBuilder(64 + len(topic) + len(payload))
	topicOffset := builder.CreateString(topic)
	payloadOffset := builder.CreateByteVector(payload)

	message.OttMessageStart(builder)
	message.OttMessageAddVersion(builder, envelopeVersion)
	message.OttMessageAddOtt(builder, topicOffset)
	message.OttMessageAddContentType(builder, contentType)
	message.OttMessageAddPayload(builder, payloadOffset)
	message.OttMessageAddTimestampNs(builder, ts.UnixNano())
	builder.Finish(message.OttMessageEnd(builder))

	return builder.FinishedBytes()
}

// EncodeJSONEnvelope marshals v as JSON and wraps it in an OttMessage.
func EncodeJSONEnvelope(topic string, contentType message.ContentType, v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload for topic '%s': %w", topic, err)
	}
	return EncodeEnvelope(topic, contentType, payload, time.Now()), nil
}

// DecodeEnvelope parses an OttMessage. The returned payload is a copy, so the
// caller may reuse data.
func DecodeEnvelope(data []byte) (env Envelope, err error) {
	if len(data) < minEnvelopeSize {
		return Envelope{}, fmt.Errorf("%w: %d bytes is too short for an envelope", ErrInvalidMessage, len(data))
	}

	// The generated accessors index the buffer directly and panic on
	// offsets that point outside it.
	defer func() {
		if r := recover(); r != nil {
			env = Envelope{}
			err = fmt.Errorf("%w: %v", ErrInvalidMessage, r)
		}
	}()

	ottMsg := message.GetRootAsOttMessage(data, 0)
	topic := ottMsg.Ott()
	if len(topic) == 0 {
		return Envelope{}, fmt.Errorf("%w: envelope has no topic", ErrInvalidMessage)
	}

	payload := append([]byte(nil), ottMsg.PayloadBytes()...)
	return Envelope{
		Topic:       string(topic),
		ContentType: ottMsg.ContentType(),
		Payload:     payload,
		Timestamp:   time.Unix(0, ottMsg.TimestampNs()),
		Version:     ottMsg.Version(),
	}, nil
}
