package zeromq

import (
	"errors"
	"fmt"
	"time"

	"github.com/open-teleop/rov-controller/pkg/config"
	message "github.com/open-teleop/rov-controller/pkg/flatbuffers/open_teleop/message"
	customlog "github.com/open-teleop/rov-controller/pkg/log"
	"github.com/open-teleop/rov-controller/pkg/msgs"
)

// ErrTopicUnmapped is returned when a command has no topic mapping.
var ErrTopicUnmapped = errors.New("topic is not mapped")

// MessagePublisher defines the interface for publishing raw envelopes
type MessagePublisher interface {
	PublishMessage(topic string, data []byte) error
}

// VehiclePublisher publishes control commands toward the vehicle bridge,
// resolving topics through the vehicle config.
type VehiclePublisher struct {
	publisher MessagePublisher
	config    *config.Config
	logger    customlog.Logger
	now       func() time.Time
}

// NewVehiclePublisher creates a new publisher for control commands
func NewVehiclePublisher(publisher MessagePublisher, cfg *config.Config, logger customlog.Logger) *VehiclePublisher {
	return &VehiclePublisher{
		publisher: publisher,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// PublishOverride publishes the rc override channels.
func (p *VehiclePublisher) PublishOverride(override msgs.OverrideRCIn) error {
	return p.publish(p.config.Topic(config.TopicOverride), override)
}

// PublishVelocity publishes a velocity setpoint.
func (p *VehiclePublisher) PublishVelocity(setpoint msgs.TwistStamped) error {
	return p.publish(p.config.Topic(config.TopicVelocity), setpoint)
}

// PublishThrusterInput publishes the thrust of one thruster on its own topic.
func (p *VehiclePublisher) PublishThrusterInput(index int, thrust float64) error {
	input := msgs.FloatStamped{
		Header: msgs.Header{Stamp: p.now()},
		Data:   thrust,
	}
	return p.publish(p.config.ThrusterTopic(index), input)
}

func (p *VehiclePublisher) publish(topic string, v interface{}) error {
	if topic == "" {
		return ErrTopicUnmapped
	}

	envelope, err := EncodeJSONEnvelope(topic, message.ContentTypeJSON_COMMAND, v)
	if err != nil {
		return err
	}
	if err := p.publisher.PublishMessage(topic, envelope); err != nil {
		return fmt.Errorf("failed to publish on '%s': %w", topic, err)
	}

	p.logger.Debugf("Published %d bytes on '%s'", len(envelope), topic)
	return nil
}
