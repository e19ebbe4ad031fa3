package processing

import (
	"fmt"

	customlog "github.com/open-teleop/rov-controller/pkg/log"
	"github.com/open-teleop/rov-controller/pkg/msgs"
)

// MessageDecoder decodes message payloads by the type registered for their topic
type MessageDecoder struct {
	logger        customlog.Logger
	topicRegistry *TopicRegistry
}

// NewMessageDecoder creates a new message decoder
func NewMessageDecoder(logger customlog.Logger, topicRegistry *TopicRegistry) *MessageDecoder {
	return &MessageDecoder{
		logger:        logger,
		topicRegistry: topicRegistry,
	}
}

// ProcessMessage decodes msg and returns its message type and value.
func (p *MessageDecoder) ProcessMessage(msg *Message) (string, interface{}, error) {
	messageType, exists := p.topicRegistry.GetMessageType(msg.Topic)
	if !exists {
		return "", nil, fmt.Errorf("unknown message type for topic '%s'", msg.Topic)
	}

	if len(msg.Payload) == 0 {
		return messageType, nil, fmt.Errorf("empty payload for topic '%s'", msg.Topic)
	}

	p.logger.Debugf("Decoding message for topic '%s' (type: %s, %d bytes)",
		msg.Topic, messageType, len(msg.Payload))

	value, err := msgs.Decode(messageType, msg.Payload)
	if err != nil {
		return messageType, nil, fmt.Errorf("failed to parse message for topic '%s': %w", msg.Topic, err)
	}
	return messageType, value, nil
}

// CreateProcessorFunc creates a MessageProcessor function for the MessageDirector
func (p *MessageDecoder) CreateProcessorFunc() MessageProcessor {
	return p.ProcessMessage
}
