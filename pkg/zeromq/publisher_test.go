package zeromq

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/open-teleop/rov-controller/pkg/config"
	message "github.com/open-teleop/rov-controller/pkg/flatbuffers/open_teleop/message"
	"github.com/open-teleop/rov-controller/pkg/msgs"
)

type published struct {
	topic string
	data  []byte
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) PublishMessage(topic string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{topic: topic, data: data})
	return nil
}

func decodeSent(t *testing.T, p published, v interface{}) Envelope {
	t.Helper()
	env, err := DecodeEnvelope(p.data)
	if err != nil {
		t.Fatalf("Published data is not an envelope: %v", err)
	}
	if env.Topic != p.topic {
		t.Errorf("Expected envelope topic %s to match frame topic %s", env.Topic, p.topic)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	return env
}

func TestVehiclePublisherOverride(t *testing.T) {
	fake := &fakePublisher{}
	p := NewVehiclePublisher(fake, config.Default(), testLogger())

	want := msgs.OverrideRCIn{Channels: [8]uint16{1700, 1300, 1500, 1500, 1500, 1500, 0, 0}}
	if err := p.PublishOverride(want); err != nil {
		t.Fatalf("PublishOverride failed: %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(fake.sent))
	}
	if fake.sent[0].topic != "mavros.rc.override" {
		t.Errorf("Expected topic mavros.rc.override, got %s", fake.sent[0].topic)
	}

	var got msgs.OverrideRCIn
	env := decodeSent(t, fake.sent[0], &got)
	if env.ContentType != message.ContentTypeJSON_COMMAND {
		t.Errorf("Expected JSON_COMMAND, got %s", env.ContentType)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Override mismatch (-want +got):\n%s", diff)
	}
}

func TestVehiclePublisherThrusterInput(t *testing.T) {
	fake := &fakePublisher{}
	p := NewVehiclePublisher(fake, config.Default(), testLogger())
	stamp := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return stamp }

	if err := p.PublishThrusterInput(4, -0.25); err != nil {
		t.Fatalf("PublishThrusterInput failed: %v", err)
	}
	if fake.sent[0].topic != "bluerov2.thrusters.4.input" {
		t.Errorf("Expected topic bluerov2.thrusters.4.input, got %s", fake.sent[0].topic)
	}

	var got msgs.FloatStamped
	decodeSent(t, fake.sent[0], &got)
	if got.Data != -0.25 {
		t.Errorf("Expected thrust -0.25, got %v", got.Data)
	}
	if !got.Header.Stamp.Equal(stamp) {
		t.Errorf("Expected stamp %v, got %v", stamp, got.Header.Stamp)
	}
}

func TestVehiclePublisherUnmappedVelocity(t *testing.T) {
	cfg := config.Default()
	var mappings []config.TopicMapping
	for _, m := range cfg.TopicMappings {
		if m.TopicID != config.TopicVelocity {
			mappings = append(mappings, m)
		}
	}
	cfg.TopicMappings = mappings

	fake := &fakePublisher{}
	p := NewVehiclePublisher(fake, cfg, testLogger())

	if err := p.PublishVelocity(msgs.TwistStamped{}); !errors.Is(err, ErrTopicUnmapped) {
		t.Errorf("Expected ErrTopicUnmapped, got %v", err)
	}
	if len(fake.sent) != 0 {
		t.Errorf("Expected nothing published, got %d messages", len(fake.sent))
	}
}

func TestVehiclePublisherPropagatesErrors(t *testing.T) {
	fake := &fakePublisher{err: ErrServiceClosed}
	p := NewVehiclePublisher(fake, config.Default(), testLogger())

	if err := p.PublishOverride(msgs.OverrideRCIn{}); !errors.Is(err, ErrServiceClosed) {
		t.Errorf("Expected ErrServiceClosed, got %v", err)
	}
}
