package zeromq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	customlog "github.com/open-teleop/rov-controller/pkg/log"
	"github.com/pebbe/zmq4"
)

var endpointSeq atomic.Int64

func testEndpoint(name string) string {
	return fmt.Sprintf("inproc://%s-%d", name, endpointSeq.Add(1))
}

func testLogger() customlog.Logger {
	return customlog.NewWriterLogger("debug", io.Discard)
}

// armingServer is a REP socket playing the vehicle side of the arming service.
type armingServer struct {
	requests atomic.Int64
	stop     chan struct{}
	done     chan struct{}
}

// startArmingServer binds a REP socket on address and answers every request
// with reply. reply sees the request type and the raw data field.
func startArmingServer(t *testing.T, ctx *zmq4.Context, address string, reply func(n int64, msgType string, data json.RawMessage) ZeroMQMessage) *armingServer {
	t.Helper()

	socket, err := ctx.NewSocket(zmq4.REP)
	if err != nil {
		t.Fatalf("Failed to create REP socket: %v", err)
	}
	if err := socket.SetLinger(0); err != nil {
		t.Fatalf("Failed to set linger: %v", err)
	}
	if err := socket.SetRcvtimeo(50 * time.Millisecond); err != nil {
		t.Fatalf("Failed to set receive timeout: %v", err)
	}
	if err := socket.Bind(address); err != nil {
		t.Fatalf("Failed to bind %s: %v", address, err)
	}

	s := &armingServer{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(s.done)
		defer socket.Close()
		for {
			select {
			case <-s.stop:
				return
			default:
			}

			raw, err := socket.RecvBytes(0)
			if err != nil {
				continue
			}
			n := s.requests.Add(1)

			var req response
			if err := json.Unmarshal(raw, &req); err != nil {
				t.Errorf("Server received invalid JSON: %v", err)
				return
			}
			out, _ := json.Marshal(reply(n, req.Type, req.Data))
			socket.SendBytes(out, 0)
		}
	}()

	var once sync.Once
	t.Cleanup(func() {
		once.Do(func() { close(s.stop) })
		<-s.done
	})
	return s
}

func newTestContext(t *testing.T) *zmq4.Context {
	t.Helper()
	ctx, err := zmq4.NewContext()
	if err != nil {
		t.Fatalf("Failed to create ZMQ context: %v", err)
	}
	return ctx
}

func armReply(success bool) func(int64, string, json.RawMessage) ZeroMQMessage {
	return func(_ int64, msgType string, data json.RawMessage) ZeroMQMessage {
		switch msgType {
		case MsgTypeServiceProbe:
			return newMessage(MsgTypeServiceReady, nil)
		case MsgTypeArmRequest:
			var req ArmRequest
			json.Unmarshal(data, &req)
			return newMessage(MsgTypeArmResponse, ArmResult{Success: success, RequestID: req.RequestID})
		default:
			return newMessage(MsgTypeError, ErrorResponse{Message: "unexpected " + msgType, Code: 400})
		}
	}
}

func TestArmingClientArmsAndDisarms(t *testing.T) {
	zctx := newTestContext(t)
	address := testEndpoint("arming")
	server := startArmingServer(t, zctx, address, armReply(true))

	client := NewArmingClient(zctx, address, time.Second, 200*time.Millisecond, testLogger())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.WaitForService(ctx); err != nil {
		t.Fatalf("WaitForService failed: %v", err)
	}
	if err := client.SetArmed(ctx, true); err != nil {
		t.Fatalf("SetArmed(true) failed: %v", err)
	}
	if err := client.SetArmed(ctx, false); err != nil {
		t.Fatalf("SetArmed(false) failed: %v", err)
	}
	if got := server.requests.Load(); got != 3 {
		t.Errorf("Expected 3 requests at the server, got %d", got)
	}
}

func TestArmingClientRejected(t *testing.T) {
	zctx := newTestContext(t)
	address := testEndpoint("arming-reject")
	startArmingServer(t, zctx, address, armReply(false))

	client := NewArmingClient(zctx, address, time.Second, 200*time.Millisecond, testLogger())
	defer client.Close()

	err := client.SetArmed(context.Background(), true)
	if !errors.Is(err, ErrRequestRejected) {
		t.Errorf("Expected ErrRequestRejected, got %v", err)
	}
}

func TestArmingClientErrorReply(t *testing.T) {
	zctx := newTestContext(t)
	address := testEndpoint("arming-error")
	startArmingServer(t, zctx, address, func(int64, string, json.RawMessage) ZeroMQMessage {
		return newMessage(MsgTypeError, ErrorResponse{Message: "autopilot busy", Code: 503})
	})

	client := NewArmingClient(zctx, address, time.Second, 200*time.Millisecond, testLogger())
	defer client.Close()

	err := client.SetArmed(context.Background(), true)
	if !errors.Is(err, ErrRequestRejected) {
		t.Errorf("Expected ErrRequestRejected, got %v", err)
	}
}

func TestArmingClientWaitForServiceHonoursContext(t *testing.T) {
	zctx := newTestContext(t)

	// Nobody binds this endpoint, so probes are never answered
	client := NewArmingClient(zctx, testEndpoint("arming-absent"), time.Second, 50*time.Millisecond, testLogger())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := client.WaitForService(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Expected WaitForService to give up near its deadline, took %v", elapsed)
	}
}

func TestArmingClientRequestTimeout(t *testing.T) {
	zctx := newTestContext(t)

	client := NewArmingClient(zctx, testEndpoint("arming-silent"), 100*time.Millisecond, 50*time.Millisecond, testLogger())
	defer client.Close()

	err := client.SetArmed(context.Background(), false)
	if !errors.Is(err, ErrRequestTimeout) {
		t.Errorf("Expected ErrRequestTimeout, got %v", err)
	}
}

func TestArmingClientRecoversAfterSlowReply(t *testing.T) {
	zctx := newTestContext(t)
	address := testEndpoint("arming-slow")

	answer := armReply(true)
	startArmingServer(t, zctx, address, func(n int64, msgType string, data json.RawMessage) ZeroMQMessage {
		if n == 1 {
			// The client gives up on this probe and reopens its socket
			time.Sleep(250 * time.Millisecond)
		}
		return answer(n, msgType, data)
	})

	client := NewArmingClient(zctx, address, time.Second, 100*time.Millisecond, testLogger())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.WaitForService(ctx); err != nil {
		t.Fatalf("Expected WaitForService to recover, got %v", err)
	}
	if err := client.SetArmed(ctx, true); err != nil {
		t.Errorf("Expected SetArmed to succeed on the reopened socket, got %v", err)
	}
}
