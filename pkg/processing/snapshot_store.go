package processing

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/open-teleop/rov-controller/pkg/msgs"
)

// ErrStale is returned by Update for a value older than the one stored.
var ErrStale = errors.New("older than the stored value")

// snapshot is one latest value, its message timestamp and when it arrived.
type snapshot[T any] struct {
	value    T
	stamp    int64
	received time.Time
	ok       bool
}

// set stores v unless a newer message is already held. A zero stamp is
// always accepted.
func (s *snapshot[T]) set(v T, stamp int64, at time.Time) error {
	if s.ok && stamp != 0 && stamp < s.stamp {
		return fmt.Errorf("%w (message %d, stored %d)", ErrStale, stamp, s.stamp)
	}
	s.value = v
	s.stamp = stamp
	s.received = at
	s.ok = true
	return nil
}

// SnapshotStore keeps the latest value of every inbound stream the control
// loop reads. Readers get copies; a missing value reports ok=false.
type SnapshotStore struct {
	mu       sync.RWMutex
	joystick snapshot[msgs.Joy]
	battery  snapshot[msgs.BatteryState]
	rcIn     snapshot[msgs.RCIn]
	rcOut    snapshot[msgs.RCOut]
	now      func() time.Time
}

// NewSnapshotStore creates an empty store
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{now: time.Now}
}

// Update stores v as the latest value of its kind. stamp is the message
// timestamp; decode workers finish out of order, so a value stamped before
// the stored one is rejected with ErrStale.
func (s *SnapshotStore) Update(v interface{}, stamp int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	switch m := v.(type) {
	case msgs.Joy:
		m.Axes = append([]float64(nil), m.Axes...)
		m.Buttons = append([]int32(nil), m.Buttons...)
		return s.joystick.set(m, stamp, at)
	case msgs.BatteryState:
		return s.battery.set(m, stamp, at)
	case msgs.RCIn:
		m.Channels = append([]uint16(nil), m.Channels...)
		return s.rcIn.set(m, stamp, at)
	case msgs.RCOut:
		m.Channels = append([]uint16(nil), m.Channels...)
		return s.rcOut.set(m, stamp, at)
	default:
		return fmt.Errorf("snapshot store does not hold %T", v)
	}
}

// Joystick returns the latest joystick snapshot.
func (s *SnapshotStore) Joystick() (msgs.Joy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j := s.joystick.value
	j.Axes = append([]float64(nil), j.Axes...)
	j.Buttons = append([]int32(nil), j.Buttons...)
	return j, s.joystick.ok
}

// Battery returns the latest battery state.
func (s *SnapshotStore) Battery() (msgs.BatteryState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.battery.value, s.battery.ok
}

// RCIn returns the latest radio input channels.
func (s *SnapshotStore) RCIn() (msgs.RCIn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc := s.rcIn.value
	rc.Channels = append([]uint16(nil), rc.Channels...)
	return rc, s.rcIn.ok
}

// RCOut returns the latest servo output channels.
func (s *SnapshotStore) RCOut() (msgs.RCOut, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc := s.rcOut.value
	rc.Channels = append([]uint16(nil), rc.Channels...)
	return rc, s.rcOut.ok
}

// StreamAge reports how long ago each stream last updated. Streams never
// seen are absent.
func (s *SnapshotStore) StreamAge() map[string]time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	ages := make(map[string]time.Duration, 4)
	add := func(name string, ok bool, at time.Time) {
		if ok {
			ages[name] = now.Sub(at)
		}
	}
	add("joystick", s.joystick.ok, s.joystick.received)
	add("battery", s.battery.ok, s.battery.received)
	add("rc_in", s.rcIn.ok, s.rcIn.received)
	add("rc_out", s.rcOut.ok, s.rcOut.received)
	return ages
}
