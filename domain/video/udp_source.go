package video

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"net"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	customlog "github.com/open-teleop/rov-controller/pkg/log"
	"github.com/pion/rtp"
)

// maxDatagram is the largest UDP payload we accept.
const maxDatagram = 65536

// maxFrameSize bounds the reassembly buffer of a single frame.
const maxFrameSize = 8 << 20

// SourceStats counts what the receiver did.
type SourceStats struct {
	Packets       int64 `json:"packets"`
	BadPackets    int64 `json:"bad_packets"`
	Frames        int64 `json:"frames"`
	DroppedFrames int64 `json:"dropped_frames"`
	DecodeErrors  int64 `json:"decode_errors"`
}

// UDPSource receives RTP packets carrying JPEG frames. The payloads of one
// frame share an RTP timestamp and the last one has the marker bit set;
// their concatenation is a complete JPEG image.
type UDPSource struct {
	conn   net.PacketConn
	logger customlog.Logger
	wg     sync.WaitGroup

	// assembly state, owned by the receive goroutine
	assembling bool
	timestamp  uint32
	nextSeq    uint16
	broken     bool
	buf        bytes.Buffer

	latest atomic.Value // image.Image
	fresh  atomic.Bool

	packets       atomic.Int64
	badPackets    atomic.Int64
	frames        atomic.Int64
	droppedFrames atomic.Int64
	decodeErrors  atomic.Int64
}

// ListenUDP opens a UDPSource on port of every local interface.
func ListenUDP(port int, logger customlog.Logger) (*UDPSource, error) {
	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen for video on udp port %d: %w", port, err)
	}
	logger.Infof("Listening for video on udp port %d", port)
	return NewUDPSource(conn, logger), nil
}

// NewUDPSource receives from an already open connection.
func NewUDPSource(conn net.PacketConn, logger customlog.Logger) *UDPSource {
	return &UDPSource{conn: conn, logger: logger}
}

// Addr returns the local address packets are received on.
func (s *UDPSource) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Start begins receiving in the background.
func (s *UDPSource) Start() {
	s.wg.Add(1)
	go s.receiveLoop()
}

// Close stops receiving and waits for the receive goroutine.
func (s *UDPSource) Close() error {
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// FrameAvailable reports whether a frame arrived since the last Frame call.
func (s *UDPSource) FrameAvailable() bool {
	return s.fresh.Load()
}

// Frame returns the latest frame and marks it consumed.
func (s *UDPSource) Frame() (image.Image, error) {
	img, ok := s.latest.Load().(image.Image)
	if !ok || !s.fresh.Swap(false) {
		return nil, ErrNoFrame
	}
	return img, nil
}

// Stats returns a snapshot of the receive counters.
func (s *UDPSource) Stats() SourceStats {
	return SourceStats{
		Packets:       s.packets.Load(),
		BadPackets:    s.badPackets.Load(),
		Frames:        s.frames.Load(),
		DroppedFrames: s.droppedFrames.Load(),
		DecodeErrors:  s.decodeErrors.Load(),
	}
}

func (s *UDPSource) receiveLoop() {
	defer s.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warnf("Error reading video packet: %v", err)
			continue
		}
		s.handlePacket(buf[:n])
	}
}

// handlePacket adds one datagram to the frame being assembled.
func (s *UDPSource) handlePacket(data []byte) {
	s.packets.Add(1)

	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		s.badPackets.Add(1)
		s.logger.Debugf("Discarding malformed RTP packet: %v", err)
		return
	}

	if s.assembling && pkt.Timestamp != s.timestamp {
		// The previous frame never saw its marker
		s.droppedFrames.Add(1)
		s.resetFrame()
	}
	if !s.assembling {
		s.assembling = true
		s.timestamp = pkt.Timestamp
		s.nextSeq = pkt.SequenceNumber
	}

	if pkt.SequenceNumber != s.nextSeq {
		s.broken = true
	}
	s.nextSeq = pkt.SequenceNumber + 1

	if s.buf.Len()+len(pkt.Payload) > maxFrameSize {
		s.broken = true
	} else if !s.broken {
		s.buf.Write(pkt.Payload)
	}

	if !pkt.Marker {
		return
	}

	if s.broken {
		s.droppedFrames.Add(1)
		s.resetFrame()
		return
	}

	img, err := imaging.Decode(bytes.NewReader(s.buf.Bytes()))
	s.resetFrame()
	if err != nil {
		s.decodeErrors.Add(1)
		s.logger.Debugf("Discarding undecodable video frame: %v", err)
		return
	}

	s.latest.Store(img)
	s.fresh.Store(true)
	s.frames.Add(1)
}

func (s *UDPSource) resetFrame() {
	s.assembling = false
	s.broken = false
	s.buf.Reset()
}
