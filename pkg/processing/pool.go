package processing

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	customlog "github.com/open-teleop/rov-controller/pkg/log"
)

// ProcessResult is a decoded message, or the error decoding it
type ProcessResult struct {
	Topic       string
	MessageType string
	Value       interface{}
	Timestamp   int64
	Error       error
}

// ResultHandler receives every ProcessResult of a pool
type ResultHandler func(result *ProcessResult)

// MessageProcessor turns a raw message into its message type and value
type MessageProcessor func(msg *Message) (string, interface{}, error)

// PoolMetrics is a snapshot of a pool's counters
type PoolMetrics struct {
	Processed     int64 `json:"processed"`
	Errors        int64 `json:"errors"`
	Queued        int64 `json:"queued"`
	Dropped       int64 `json:"dropped"`
	QueueLength   int   `json:"queue_length"`
	QueueCapacity int   `json:"queue_capacity"`
	LastProcessed int64 `json:"last_processed_ns"`
	DecodeMaxUs   int64 `json:"decode_max_us"`
}

// ProcessingPool decodes queued messages on a fixed number of workers.
// Producers never block: a full queue drops the message.
type ProcessingPool struct {
	name        string
	workerCount int
	logger      customlog.Logger
	queue       chan *Message

	mu            sync.Mutex
	running       bool
	processor     MessageProcessor
	resultHandler ResultHandler
	wg            sync.WaitGroup

	processed     atomic.Int64
	errors        atomic.Int64
	queued        atomic.Int64
	dropped       atomic.Int64
	lastProcessed atomic.Int64
	decodeMaxUs   atomic.Int64
}

// NewProcessingPool creates a stopped pool with queueSize slots.
func NewProcessingPool(name string, workerCount, queueSize int, logger customlog.Logger) *ProcessingPool {
	return &ProcessingPool{
		name:        name,
		workerCount: max(workerCount, 1),
		logger:      logger,
		queue:       make(chan *Message, max(queueSize, 1)),
	}
}

// SetProcessor sets the decode function
func (p *ProcessingPool) SetProcessor(processor MessageProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processor = processor
}

// SetResultHandler sets the function receiving decode results
func (p *ProcessingPool) SetResultHandler(handler ResultHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resultHandler = handler
}

// ProcessMessage queues msg without blocking. It reports false when the pool
// is stopped or its queue is full.
func (p *ProcessingPool) ProcessMessage(msg *Message) bool {
	// Held across the send so Stop cannot close the queue underneath it
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return false
	}

	select {
	case p.queue <- msg:
		p.queued.Add(1)
		return true
	default:
		if p.dropped.Add(1)%100 == 1 {
			p.logger.Warnf("%s pool queue is full, dropping messages (topic '%s', %d dropped so far)",
				p.name, msg.Topic, p.dropped.Load())
		}
		return false
	}
}

// Start launches the workers
func (p *ProcessingPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.logger.Infof("Starting %s pool with %d workers", p.name, p.workerCount)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop closes the queue, lets the workers drain it and waits for them.
func (p *ProcessingPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()

	m := p.GetMetrics()
	p.logger.Infof("%s pool stopped: processed=%d errors=%d dropped=%d max_decode=%dµs",
		p.name, m.Processed, m.Errors, m.Dropped, m.DecodeMaxUs)
}

func (p *ProcessingPool) worker(id int) {
	defer p.wg.Done()
	p.logger.Debugf("%s pool worker %d started", p.name, id)

	for msg := range p.queue {
		p.mu.Lock()
		processor, handler := p.processor, p.resultHandler
		p.mu.Unlock()

		if processor == nil {
			p.logger.Errorf("No message processor set for %s pool", p.name)
			continue
		}

		result := p.decode(processor, msg)
		if result.Error != nil {
			p.errors.Add(1)
			p.logger.Errorf("Error processing message in %s pool: %v", p.name, result.Error)
		}
		if handler != nil {
			handler(result)
		}
	}
}

// decode runs processor on msg, turning a panic into an error result.
func (p *ProcessingPool) decode(processor MessageProcessor, msg *Message) (result *ProcessResult) {
	result = &ProcessResult{Topic: msg.Topic, Timestamp: msg.Timestamp}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result.Value = nil
			result.Error = fmt.Errorf("decoder panicked on topic '%s': %v", msg.Topic, r)
		}

		took := time.Since(start).Microseconds()
		for {
			cur := p.decodeMaxUs.Load()
			if took <= cur || p.decodeMaxUs.CompareAndSwap(cur, took) {
				break
			}
		}
		p.processed.Add(1)
		p.lastProcessed.Store(time.Now().UnixNano())
	}()

	result.MessageType, result.Value, result.Error = processor(msg)
	return result
}

// GetMetrics returns a snapshot of the pool counters
func (p *ProcessingPool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		Processed:     p.processed.Load(),
		Errors:        p.errors.Load(),
		Queued:        p.queued.Load(),
		Dropped:       p.dropped.Load(),
		QueueLength:   len(p.queue),
		QueueCapacity: cap(p.queue),
		LastProcessed: p.lastProcessed.Load(),
		DecodeMaxUs:   p.decodeMaxUs.Load(),
	}
}

// GetName returns the pool name
func (p *ProcessingPool) GetName() string {
	return p.name
}
