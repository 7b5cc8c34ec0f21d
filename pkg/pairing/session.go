package pairing

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/glothriel/airlink/pkg/ble"
	"github.com/glothriel/airlink/pkg/chunked"
	"github.com/glothriel/airlink/pkg/queue"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Snapshot is an immutable view of a session, handed to observers and the API
type Snapshot struct {
	ID          string     `json:"id"`
	Address     string     `json:"address"`
	State       State      `json:"state"`
	PIN         string     `json:"pin,omitempty"`
	FastConnect bool       `json:"fastConnect"`
	CertSize    int        `json:"certificateSize"`
	Error       string     `json:"error,omitempty"`
	ErrorClass  ErrorClass `json:"errorClass,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Session is a single pairing attempt and, once secured, the link it produced
type Session struct {
	id        string
	address   string
	endpoints Endpoints
	observers []Observer
	startedAt time.Time

	// notifyLock keeps observers seeing changes in the order they were made
	notifyLock sync.Mutex

	lock        sync.RWMutex
	state       State
	cert        []byte
	pin         *uint32
	fastConnect bool
	err         error
	updatedAt   time.Time

	link    ble.Link
	queue   *queue.Queue
	onClose func()

	closeOnce sync.Once
}

// ID returns the unique id of the session
func (s *Session) ID() string {
	return s.id
}

// Address returns the address of the paired device
func (s *Session) Address() string {
	return s.address
}

// State returns the current state
func (s *Session) State() State {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.state
}

// PIN returns the PIN the operator must enter, once it is known
func (s *Session) PIN() (uint32, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.pin == nil {
		return 0, false
	}
	return *s.pin, true
}

// Certificate returns the device certificate read during the exchange, if any
func (s *Session) Certificate() []byte {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]byte{}, s.cert...)
}

// Err returns the error that ended the session, if any
func (s *Session) Err() error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.err
}

// Queue returns the queue serializing every operation on the session's link. Anything else that
// talks to the device, like a status screen, must go through it.
func (s *Session) Queue() *queue.Queue {
	return s.queue
}

// Snapshot returns the current view of the session
func (s *Session) Snapshot() Snapshot {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.snapshot()
}

func (s *Session) snapshot() Snapshot {
	snapshot := Snapshot{
		ID:          s.id,
		Address:     s.address,
		State:       s.state,
		FastConnect: s.fastConnect,
		CertSize:    len(s.cert),
		StartedAt:   s.startedAt,
		UpdatedAt:   s.updatedAt,
	}
	if s.pin != nil {
		snapshot.PIN = strconv.FormatUint(uint64(*s.pin), 10)
	}
	if s.err != nil {
		snapshot.Error = s.err.Error()
		snapshot.ErrorClass = Classify(s.err)
	}
	return snapshot
}

// ReadEndpoint reads an endpoint of the device through the session's queue
func (s *Session) ReadEndpoint(ctx context.Context, id ble.EndpointID) ([]byte, error) {
	endpoint, err := s.endpoint(id)
	if err != nil {
		return nil, err
	}
	return queue.Do(ctx, s.queue, endpoint.Read)
}

// Debug sends a command to the device's debug endpoint and returns its length-prefixed answer
func (s *Session) Debug(ctx context.Context, command []byte) ([]byte, error) {
	endpoint, err := s.endpoint(s.endpoints.Debug)
	if err != nil {
		return nil, err
	}
	return chunked.NewChannel(s.queue, endpoint).Exchange(ctx, command)
}

func (s *Session) endpoint(id ble.EndpointID) (ble.Endpoint, error) {
	s.lock.RLock()
	link := s.link
	s.lock.RUnlock()
	if link == nil {
		return nil, ble.ErrDisconnected
	}
	return link.Endpoint(id)
}

func (s *Session) attach(link ble.Link) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.link = link
}

// Close tears the link down. It is safe to call multiple times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.lock.RLock()
		link := s.link
		s.lock.RUnlock()
		if link != nil {
			err = multierr.Append(err, link.Close())
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
	return err
}

func (s *Session) transition(state State) {
	s.update(func() { s.state = state })
}

func (s *Session) setPIN(pin uint32) {
	s.update(func() {
		s.pin = &pin
		s.state = StateAwaitingPinEntry
	})
}

// secure marks the session secured unless the attempt's context was already canceled, which
// keeps it consistent with watch.
func (s *Session) secure(ctx context.Context) bool {
	secured := false
	s.update(func() {
		if ctx.Err() == nil {
			s.state = StateSecured
			secured = true
		}
	})
	return secured
}

func (s *Session) fail(state State, err error) {
	s.update(func() {
		s.state = state
		s.err = err
	})
}

func (s *Session) update(change func()) {
	s.notifyLock.Lock()
	defer s.notifyLock.Unlock()

	s.lock.Lock()
	previous := s.state
	change()
	s.updatedAt = time.Now()
	snapshot := s.snapshot()
	s.lock.Unlock()

	if previous != snapshot.State {
		logrus.WithFields(logrus.Fields{
			"session": s.id,
			"address": s.address,
		}).Debugf("Pairing state %s -> %s", previous, snapshot.State)
	}
	for _, observer := range s.observers {
		observer.OnStateChange(snapshot)
	}
}

// watch moves a secured session to StateDisconnected when its link goes away. Link loss during the
// handshake is reported through cancel and handled by the attempt itself.
func (s *Session) watch(link ble.Link, cancel context.CancelCauseFunc) {
	<-link.Disconnected()
	cancel(ble.ErrDisconnected)
	s.lock.RLock()
	secured := s.state == StateSecured
	s.lock.RUnlock()
	if secured {
		s.transition(StateDisconnected)
	}
}

func newSession(address string, endpoints Endpoints, observers []Observer, onClose func(*Session)) *Session {
	now := time.Now()
	session := &Session{
		id:        uuid.NewString(),
		address:   address,
		endpoints: endpoints,
		observers: observers,
		startedAt: now,
		updatedAt: now,
		state:     StateIdle,
		queue:     queue.New(address),
	}
	session.onClose = func() { onClose(session) }
	return session
}
