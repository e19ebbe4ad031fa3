package processing

import (
	"errors"
	"fmt"
	"sync"

	"github.com/open-teleop/rov-controller/pkg/config"
	message "github.com/open-teleop/rov-controller/pkg/flatbuffers/open_teleop/message"
	customlog "github.com/open-teleop/rov-controller/pkg/log"
)

// Routing errors
var (
	ErrDirectorStopped = errors.New("message director is not running")
	ErrUnknownTopic    = errors.New("topic is not registered")
	ErrNotInbound      = errors.New("topic is not inbound")
	ErrQueueFull       = errors.New("processing queue is full")
)

// Message is an inbound envelope waiting to be decoded
type Message struct {
	Topic       string
	ContentType message.ContentType
	Payload     []byte
	Timestamp   int64
}

// MessageDirector routes inbound messages to a pool by topic. Operator
// commands get their own pool so a telemetry burst cannot delay them.
type MessageDirector struct {
	logger        customlog.Logger
	commandPool   *ProcessingPool
	telemetryPool *ProcessingPool
	topicRegistry *TopicRegistry
	running       bool
	mu            sync.RWMutex
}

// NewMessageDirector creates a director with one command worker and
// cfg.DecodeWorkers telemetry workers.
func NewMessageDirector(cfg config.ProcessingConfig, topicRegistry *TopicRegistry, logger customlog.Logger) *MessageDirector {
	d := &MessageDirector{
		logger:        logger,
		topicRegistry: topicRegistry,
		commandPool:   NewProcessingPool(PoolCommand, 1, cfg.QueueSize, logger),
		telemetryPool: NewProcessingPool(PoolTelemetry, cfg.DecodeWorkers, cfg.QueueSize, logger),
	}

	logger.Infof("Message Director initialized with pools: %s(1), %s(%d)",
		PoolCommand, PoolTelemetry, cfg.DecodeWorkers)
	return d
}

// SetProcessor sets the message processor function for all pools
func (d *MessageDirector) SetProcessor(processor MessageProcessor) {
	d.commandPool.SetProcessor(processor)
	d.telemetryPool.SetProcessor(processor)
}

// SetResultHandler sets the result handler function for all pools
func (d *MessageDirector) SetResultHandler(handler ResultHandler) {
	d.commandPool.SetResultHandler(handler)
	d.telemetryPool.SetResultHandler(handler)
}

// RouteMessage queues msg on the pool registered for its topic.
func (d *MessageDirector) RouteMessage(msg *Message) error {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()

	if !running {
		return ErrDirectorStopped
	}

	info, exists := d.topicRegistry.GetTopicInfo(msg.Topic)
	if !exists {
		return fmt.Errorf("%w: '%s'", ErrUnknownTopic, msg.Topic)
	}
	if info.Direction != config.DirectionInbound {
		return fmt.Errorf("%w: '%s' is %s", ErrNotInbound, msg.Topic, info.Direction)
	}

	d.topicRegistry.UpdateTopicStats(msg.Topic, msg.Timestamp)

	pool := d.telemetryPool
	if info.Pool == PoolCommand {
		pool = d.commandPool
	}

	if !pool.ProcessMessage(msg) {
		return fmt.Errorf("%w: topic '%s' (pool %s)", ErrQueueFull, msg.Topic, pool.GetName())
	}
	return nil
}

// Start starts all processing pools
func (d *MessageDirector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}

	d.running = true
	d.logger.Infof("Starting Message Director")

	d.commandPool.Start()
	d.telemetryPool.Start()
}

// Stop stops all processing pools
func (d *MessageDirector) Stop() {
	d.mu.Lock()
	running := d.running
	d.running = false
	d.mu.Unlock()

	if !running {
		return
	}

	d.logger.Infof("Stopping Message Director")

	d.commandPool.Stop()
	d.telemetryPool.Stop()

	d.logger.Infof("Message Director stopped")
}

// GetPoolMetrics returns metrics for all pools
func (d *MessageDirector) GetPoolMetrics() map[string]PoolMetrics {
	return map[string]PoolMetrics{
		PoolCommand:   d.commandPool.GetMetrics(),
		PoolTelemetry: d.telemetryPool.GetMetrics(),
	}
}
