package processing

import (
	"sort"
	"sync"

	"github.com/open-teleop/rov-controller/pkg/config"
	customlog "github.com/open-teleop/rov-controller/pkg/log"
)

// Pools messages are routed to
const (
	PoolCommand   = "COMMAND"
	PoolTelemetry = "TELEMETRY"
)

// TopicInfo holds metadata for a topic
type TopicInfo struct {
	TopicID      string `json:"topic_id"`
	OttTopic     string `json:"ott"`
	MessageType  string `json:"type"`
	Pool         string `json:"pool"`
	Direction    string `json:"direction"`
	StatCount    int64  `json:"count"`
	LastReceived int64  `json:"last_received"`
}

// TopicRegistry maintains information about topics
type TopicRegistry struct {
	logger customlog.Logger
	topics map[string]*TopicInfo
	mu     sync.RWMutex
}

// NewTopicRegistry creates a new topic registry
func NewTopicRegistry(logger customlog.Logger) *TopicRegistry {
	return &TopicRegistry{
		logger: logger,
		topics: make(map[string]*TopicInfo),
	}
}

// LoadFromConfig replaces the registry contents with the config's topic
// mappings. The thruster template is skipped since it names no single topic.
func (r *TopicRegistry) LoadFromConfig(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.topics = make(map[string]*TopicInfo)

	for _, mapping := range cfg.TopicMappings {
		if mapping.TopicID == config.TopicThrusterInput {
			continue
		}
		direction := mapping.Direction
		if direction == "" {
			direction = cfg.Defaults.Direction
		}

		pool := PoolTelemetry
		if mapping.TopicID == config.TopicJoystick {
			pool = PoolCommand
		}

		r.topics[mapping.OttTopic] = &TopicInfo{
			TopicID:     mapping.TopicID,
			OttTopic:    mapping.OttTopic,
			MessageType: mapping.MessageType,
			Pool:        pool,
			Direction:   direction,
		}
	}

	r.logger.Infof("Loaded %d topics into registry", len(r.topics))
}

// GetTopicInfo gets information for a topic
func (r *TopicRegistry) GetTopicInfo(topic string) (TopicInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.topics[topic]
	if !exists {
		return TopicInfo{}, false
	}
	return *info, true
}

// UpdateTopicStats counts a message received on a known topic
func (r *TopicRegistry) UpdateTopicStats(topic string, timestamp int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.topics[topic]
	if !exists {
		return
	}
	info.StatCount++
	info.LastReceived = timestamp
}

// GetMessageType gets the message type for a topic
func (r *TopicRegistry) GetMessageType(topic string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.topics[topic]
	if !exists {
		return "", false
	}
	return info.MessageType, true
}

// GetTopicsByDirection returns the sorted wire topics with the given direction
func (r *TopicRegistry) GetTopicsByDirection(direction string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.topics))
	for topic, info := range r.topics {
		if info.Direction == direction {
			topics = append(topics, topic)
		}
	}
	sort.Strings(topics)
	return topics
}

// GetTopicStats returns a copy of every topic's info keyed by wire topic
func (r *TopicRegistry) GetTopicStats() map[string]TopicInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]TopicInfo, len(r.topics))
	for topic, info := range r.topics {
		stats[topic] = *info
	}
	return stats
}
