package zeromq

import (
	"fmt"
	"sync"
	"sync/atomic"

	customlog "github.com/open-teleop/rov-controller/pkg/log"
	"github.com/open-teleop/rov-controller/pkg/processing"
	"github.com/pebbe/zmq4"
)

// MessageRouter accepts decoded inbound messages.
type MessageRouter interface {
	RouteMessage(msg *processing.Message) error
}

// SubscriberStats counts what the SUB loop did with inbound frames.
type SubscriberStats struct {
	Received int64 `json:"received"`
	Invalid  int64 `json:"invalid"`
	Dropped  int64 `json:"dropped"`
}

// Subscriber listens to the vehicle bridge PUB socket and routes every
// envelope it receives.
type Subscriber struct {
	socket  *zmq4.Socket
	poller  *zmq4.Poller
	router  MessageRouter
	logger  customlog.Logger
	address string
	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup

	received atomic.Int64
	invalid  atomic.Int64
	dropped  atomic.Int64
}

// newSubscriber connects a SUB socket to address. An empty topics list
// subscribes to everything.
func newSubscriber(ctx *zmq4.Context, address string, topics []string, router MessageRouter, logger customlog.Logger) (*Subscriber, error) {
	socket, err := ctx.NewSocket(zmq4.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create SUB socket: %w", err)
	}

	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}

	if len(topics) == 0 {
		topics = []string{""}
	}
	for _, topic := range topics {
		if err := socket.SetSubscribe(topic); err != nil {
			socket.Close()
			return nil, fmt.Errorf("failed to subscribe to '%s': %w", topic, err)
		}
	}

	if err := socket.Connect(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)

	logger.Infof("Subscriber connected to %s (%d topic filters)", address, len(topics))

	return &Subscriber{
		socket:  socket,
		poller:  poller,
		router:  router,
		logger:  logger,
		address: address,
	}, nil
}

// Start begins the receive loop
func (l *Subscriber) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true

	l.wg.Add(1)
	go l.receiveLoop()
}

// Stop ends the receive loop and waits for it to close the socket.
func (l *Subscriber) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		l.socket.Close()
		return
	}
	l.running = false
	l.mu.Unlock()

	l.wg.Wait()
}

// Stats returns a snapshot of the receive counters.
func (l *Subscriber) Stats() SubscriberStats {
	return SubscriberStats{
		Received: l.received.Load(),
		Invalid:  l.invalid.Load(),
		Dropped:  l.dropped.Load(),
	}
}

func (l *Subscriber) isRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// receiveLoop continuously receives and routes envelopes
func (l *Subscriber) receiveLoop() {
	defer l.wg.Done()
	defer l.socket.Close()

	for l.isRunning() {
		sockets, err := l.poller.Poll(pollInterval)
		if err != nil {
			l.logger.Errorf("Error polling SUB socket: %v", err)
			continue
		}
		if len(sockets) == 0 {
			continue
		}

		frames, err := l.socket.RecvMessageBytes(0)
		if err != nil {
			l.logger.Errorf("Error receiving message: %v", err)
			continue
		}
		l.handleFrames(frames)
	}

	l.logger.Infof("Subscriber on %s stopped", l.address)
}

// handleFrames expects [topic, envelope] and routes the decoded envelope.
func (l *Subscriber) handleFrames(frames [][]byte) {
	l.received.Add(1)

	if len(frames) != 2 {
		l.invalid.Add(1)
		l.logger.Warnf("Discarding message with %d frames, expected topic and envelope", len(frames))
		return
	}

	env, err := DecodeEnvelope(frames[1])
	if err != nil {
		l.invalid.Add(1)
		l.logger.Warnf("Discarding message on '%s': %v", frames[0], err)
		return
	}
	if env.Topic != string(frames[0]) {
		l.logger.Debugf("Envelope topic '%s' differs from frame topic '%s'", env.Topic, frames[0])
	}

	msg := &processing.Message{
		Topic:       env.Topic,
		ContentType: env.ContentType,
		Payload:     env.Payload,
		Timestamp:   env.Timestamp.UnixNano(),
	}
	if err := l.router.RouteMessage(msg); err != nil {
		l.dropped.Add(1)
		l.logger.Warnf("Failed to route message for topic '%s': %v", env.Topic, err)
	}
}
