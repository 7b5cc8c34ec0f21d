package pairing

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/glothriel/airlink/pkg/ble"
	"github.com/glothriel/airlink/pkg/chunked"
	"github.com/glothriel/airlink/pkg/fastconnect"
	"github.com/glothriel/airlink/pkg/queue"
	"github.com/glothriel/airlink/pkg/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

var attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "airlink_pairing_attempts_total",
	Help: "Finished pairing attempts by outcome",
}, []string{"outcome"})

var encryptionPollsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "airlink_pairing_encryption_polls_total",
	Help: "Reads of the encrypted indicator issued while waiting for PIN entry",
})

var errNotEncrypted = errors.New("link not encrypted yet")

// Options tune a Machine
type Options struct {
	// PinTimeout bounds how long the operator has to enter the PIN
	PinTimeout time.Duration
	// PollDelay is the initial delay between encrypted indicator reads, doubled up to PollMaxDelay
	PollDelay    time.Duration
	PollMaxDelay time.Duration
	// PollAttempts caps the number of indicator reads, 0 means until PinTimeout
	PollAttempts uint
	// ConnectTimeout bounds discovery and connection, 0 means only the caller's context applies
	ConnectTimeout time.Duration
	// MaxMessageSize bounds certificates and device responses
	MaxMessageSize int
	Endpoints      Endpoints
	Observers      []Observer
}

// Option modifies Options
type Option func(*Options)

// WithPinTimeout sets Options.PinTimeout
func WithPinTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.PinTimeout = timeout
	}
}

// WithPolling sets the encrypted indicator polling backoff
func WithPolling(delay, maxDelay time.Duration, attempts uint) Option {
	return func(o *Options) {
		o.PollDelay = delay
		o.PollMaxDelay = maxDelay
		o.PollAttempts = attempts
	}
}

// WithConnectTimeout sets Options.ConnectTimeout
func WithConnectTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.ConnectTimeout = timeout
	}
}

// WithMaxMessageSize sets Options.MaxMessageSize
func WithMaxMessageSize(size int) Option {
	return func(o *Options) {
		o.MaxMessageSize = size
	}
}

// WithEndpoints overrides the device endpoints
func WithEndpoints(endpoints Endpoints) Option {
	return func(o *Options) {
		o.Endpoints = endpoints
	}
}

// WithObservers registers observers notified about every state change
func WithObservers(observers ...Observer) Option {
	return func(o *Options) {
		o.Observers = append(o.Observers, observers...)
	}
}

// Machine runs pairing attempts
type Machine struct {
	connector ble.Connector
	relay     relay.Client
	tokens    fastconnect.Store
	options   Options

	lock     sync.RWMutex
	sessions map[string]*Session
}

// Session returns a live session by id. Sessions leave the machine when they are closed.
func (m *Machine) Session(id string) (*Session, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	session, ok := m.sessions[id]
	return session, ok
}

// Sessions returns all live sessions, oldest first
func (m *Machine) Sessions() []*Session {
	m.lock.RLock()
	defer m.lock.RUnlock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].startedAt.Before(sessions[j].startedAt)
	})
	return sessions
}

// Close closes every live session
func (m *Machine) Close() error {
	var err error
	for _, session := range m.Sessions() {
		err = multierr.Append(err, session.Close())
	}
	return err
}

func (m *Machine) track(session *Session) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.sessions[session.id] = session
}

func (m *Machine) forget(session *Session) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.sessions, session.id)
}

// Pair connects to the device at address and drives it to StateSecured. The returned session is
// never nil: on failure it carries the terminal state and its link is already closed. On success
// the caller owns the session and must Close it.
func (m *Machine) Pair(ctx context.Context, address string) (*Session, error) {
	session := newSession(address, m.options.Endpoints, m.options.Observers, m.forget)
	m.track(session)

	session.transition(StateConnecting)
	link, connectErr := m.connect(ctx, address)
	if connectErr != nil {
		class := ClassLink
		if ctx.Err() != nil {
			class = ClassCanceled
		}
		err := &Error{Class: class, State: StateConnecting, Err: connectErr}
		session.fail(StateIdle, err)
		m.forget(session)
		m.finish(session, "connect_failed", StateIdle, err)
		return session, err
	}
	session.attach(link)

	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go session.watch(link, cancel)

	if err := m.handshake(attemptCtx, session); err != nil {
		state := session.State()
		class := classOf(attemptCtx, err)
		terminal := StateError
		if linkLost(attemptCtx, link, err) {
			terminal = StateDisconnected
			class = ClassLink
			if !errors.Is(err, ble.ErrDisconnected) {
				err = fmt.Errorf("%w: %v", ble.ErrDisconnected, err)
			}
		}
		pairingErr := &Error{Class: class, State: state, Err: err}
		session.fail(terminal, pairingErr)
		if closeErr := session.Close(); closeErr != nil {
			logrus.Debugf("Failed to close link to %s: %v", address, closeErr)
		}
		m.finish(session, string(terminal), terminal, pairingErr)
		return session, pairingErr
	}
	m.finish(session, string(StateSecured), StateSecured, nil)
	return session, nil
}

func linkLost(ctx context.Context, link ble.Link, err error) bool {
	if errors.Is(context.Cause(ctx), ble.ErrDisconnected) || errors.Is(err, ble.ErrDisconnected) {
		return true
	}
	select {
	case <-link.Disconnected():
		return true
	default:
		return false
	}
}

func (m *Machine) connect(ctx context.Context, address string) (ble.Link, error) {
	if m.options.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.options.ConnectTimeout)
		defer cancel()
	}
	return m.connector.Connect(ctx, address)
}

// finish records the outcome of an attempt. The state is passed in because a secured link may
// already be gone by the time this runs.
func (m *Machine) finish(session *Session, outcome string, state State, err error) {
	attemptsTotal.WithLabelValues(outcome).Inc()
	entry := logrus.WithFields(logrus.Fields{
		"session": session.ID(),
		"address": session.Address(),
	})
	if err != nil {
		entry.Warnf("Pairing ended in state %s: %v", state, err)
		return
	}
	entry.Infof("Pairing ended in state %s", state)
}

func (m *Machine) handshake(ctx context.Context, s *Session) error {
	s.transition(StateCheckingEncryption)
	encrypted, readErr := m.readEncrypted(ctx, s)
	if readErr != nil {
		return readErr
	}
	if encrypted {
		logrus.Infof("Link to %s is already encrypted", s.address)
		return m.secure(ctx, s)
	}

	accepted, fastErr := m.fastAuthenticate(ctx, s)
	if fastErr != nil {
		return fastErr
	}
	if !accepted {
		if exchangeErr := m.exchange(ctx, s); exchangeErr != nil {
			return exchangeErr
		}
	}

	if pollErr := m.awaitEncryption(ctx, s); pollErr != nil {
		return pollErr
	}
	return m.secure(ctx, s)
}

func (m *Machine) secure(ctx context.Context, s *Session) error {
	if !s.secure(ctx) {
		return context.Cause(ctx)
	}
	return nil
}

// fastAuthenticate presents a cached token. A device without the fast-connect endpoint, a missing
// token and a rejected token all fall back to the full exchange.
func (m *Machine) fastAuthenticate(ctx context.Context, s *Session) (bool, error) {
	if m.tokens == nil {
		return false, nil
	}
	entry, found, getErr := m.tokens.Get(s.address)
	if getErr != nil {
		logrus.Warnf("Failed to read fast-connect token for %s, doing full exchange: %v", s.address, getErr)
		return false, nil
	}
	if !found {
		return false, nil
	}
	endpoint, available, lookupErr := ble.Lookup(s.link, m.options.Endpoints.FastConnect)
	if lookupErr != nil {
		return false, lookupErr
	}
	if !available {
		logrus.Debugf("Device %s does not support fast-connect", s.address)
		return false, nil
	}

	s.transition(StateFastAuthenticating)
	token := make([]byte, 4)
	binary.LittleEndian.PutUint32(token, entry.TokenID)
	if writeErr := queue.Exec(ctx, s.queue, func() error { return endpoint.Write(token) }); writeErr != nil {
		return false, writeErr
	}
	verdict, readErr := queue.Do(ctx, s.queue, endpoint.Read)
	if readErr != nil {
		return false, readErr
	}
	if len(verdict) == 1 && verdict[0] == FastConnectAccepted {
		s.update(func() {
			s.fastConnect = true
			s.pin = &entry.PIN
			s.state = StateAwaitingPinEntry
		})
		return true, nil
	}

	logrus.Infof("Device %s rejected fast-connect token %d, doing full exchange", s.address, entry.TokenID)
	if removeErr := m.tokens.Remove(s.address); removeErr != nil {
		logrus.Warnf("Failed to forget rejected fast-connect token for %s: %v", s.address, removeErr)
	}
	return false, nil
}

func (m *Machine) exchange(ctx context.Context, s *Session) error {
	certEndpoint, certErr := s.endpoint(m.options.Endpoints.Certificate)
	if certErr != nil {
		return certErr
	}
	proxiedEndpoint, proxiedErr := s.endpoint(m.options.Endpoints.Proxied)
	if proxiedErr != nil {
		return proxiedErr
	}

	s.transition(StateExchangingCertificate)
	if resetErr := queue.Exec(ctx, s.queue, func() error {
		return certEndpoint.Write([]byte{CertificateReset})
	}); resetErr != nil {
		return resetErr
	}
	cert, readErr := m.channel(s, certEndpoint).ReadUntilEmpty(ctx)
	if readErr != nil {
		return readErr
	}
	s.update(func() { s.cert = cert })
	payload, connectErr := m.relay.Connect(ctx, string(cert))
	if connectErr != nil {
		return connectErr
	}

	s.transition(StateRelayingToDevice)
	proxied := m.channel(s, proxiedEndpoint)
	if sendErr := proxied.Send(ctx, payload); sendErr != nil {
		return sendErr
	}
	response, responseErr := proxied.ReadLengthPrefixed(ctx)
	if responseErr != nil {
		return responseErr
	}
	confirmation, confirmErr := m.relay.Confirm(ctx, response, string(cert))
	if confirmErr != nil {
		return confirmErr
	}
	if confirmation.TokenID != nil && m.tokens != nil {
		if saveErr := m.tokens.Save(s.address, *confirmation.TokenID, confirmation.PIN); saveErr != nil {
			logrus.Warnf("Failed to store fast-connect token for %s: %v", s.address, saveErr)
		}
	}
	s.setPIN(confirmation.PIN)
	return nil
}

// awaitEncryption polls the encrypted indicator while the operator enters the PIN
func (m *Machine) awaitEncryption(ctx context.Context, s *Session) error {
	pollCtx, cancel := context.WithTimeout(ctx, m.options.PinTimeout)
	defer cancel()
	err := retry.Do(
		func() error {
			encryptionPollsTotal.Inc()
			encrypted, readErr := m.readEncrypted(pollCtx, s)
			if readErr != nil {
				if pollCtx.Err() != nil {
					return readErr
				}
				return retry.Unrecoverable(readErr)
			}
			if !encrypted {
				return errNotEncrypted
			}
			return nil
		},
		retry.Context(pollCtx),
		retry.Attempts(m.options.PollAttempts),
		retry.Delay(m.options.PollDelay),
		retry.MaxDelay(m.options.PollMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if errors.Is(err, errNotEncrypted) || errors.Is(err, context.DeadlineExceeded) {
		return ErrPinTimeout
	}
	return err
}

func (m *Machine) readEncrypted(ctx context.Context, s *Session) (bool, error) {
	endpoint, endpointErr := s.endpoint(m.options.Endpoints.Encrypted)
	if endpointErr != nil {
		return false, endpointErr
	}
	value, readErr := queue.Do(ctx, s.queue, endpoint.Read)
	if readErr != nil {
		return false, readErr
	}
	if len(value) != 1 {
		return false, fmt.Errorf("%w: got %d bytes", ErrMalformedIndicator, len(value))
	}
	return value[0] != 0, nil
}

func (m *Machine) channel(s *Session, endpoint ble.Endpoint) *chunked.Channel {
	return chunked.NewChannel(s.queue, endpoint, chunked.WithMaxMessageSize(m.options.MaxMessageSize))
}

// NewMachine creates Machine instances. tokens may be nil, which disables fast-connect.
func NewMachine(connector ble.Connector, relayClient relay.Client, tokens fastconnect.Store, opts ...Option) *Machine {
	options := Options{
		PinTimeout:     2 * time.Minute,
		PollDelay:      250 * time.Millisecond,
		PollMaxDelay:   2 * time.Second,
		MaxMessageSize: chunked.DefaultMaxMessageSize,
		Endpoints:      DefaultEndpoints,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Machine{
		connector: connector,
		relay:     relayClient,
		tokens:    tokens,
		options:   options,
		sessions:  map[string]*Session{},
	}
}
