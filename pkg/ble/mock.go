package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// MockOperation is a single recorded endpoint operation
type MockOperation struct {
	Kind     string // "read" or "write"
	Endpoint EndpointID
	Data     []byte
}

// MockEndpoint implements Endpoint and can be used for unit tests
type MockEndpoint struct {
	id   EndpointID
	link *MockLink

	lock   sync.Mutex
	reads  [][]byte
	count  int
	writes [][]byte

	// OnRead, when set, replaces the scripted reads. It receives the zero-based index of the read.
	OnRead func(n int) ([]byte, error)
	// OnWrite, when set, is called after a write was recorded
	OnWrite func(data []byte) error

	subscribers []func([]byte)
}

// ID implements Endpoint
func (e *MockEndpoint) ID() EndpointID {
	return e.id
}

// Script appends values that subsequent reads will return, in order. Once the script is exhausted,
// reads return an empty value.
func (e *MockEndpoint) Script(values ...[]byte) *MockEndpoint {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.reads = append(e.reads, values...)
	return e
}

// Read implements Endpoint
func (e *MockEndpoint) Read() ([]byte, error) {
	done, err := e.link.begin()
	defer done()
	if err != nil {
		return nil, err
	}
	e.lock.Lock()
	n := e.count
	e.count++
	onRead := e.OnRead
	var value []byte
	if onRead == nil && len(e.reads) > 0 {
		value, e.reads = e.reads[0], e.reads[1:]
	}
	e.lock.Unlock()
	if onRead != nil {
		var readErr error
		value, readErr = onRead(n)
		if readErr != nil {
			return nil, readErr
		}
	}
	e.link.record(MockOperation{Kind: "read", Endpoint: e.id, Data: value})
	return value, nil
}

// Write implements Endpoint
func (e *MockEndpoint) Write(data []byte) error {
	done, err := e.link.begin()
	defer done()
	if err != nil {
		return err
	}
	copied := append([]byte{}, data...)
	e.lock.Lock()
	e.writes = append(e.writes, copied)
	onWrite := e.OnWrite
	e.lock.Unlock()
	e.link.record(MockOperation{Kind: "write", Endpoint: e.id, Data: copied})
	if onWrite != nil {
		return onWrite(copied)
	}
	return nil
}

// Subscribe implements Endpoint
func (e *MockEndpoint) Subscribe(onChange func([]byte)) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.subscribers = append(e.subscribers, onChange)
	return nil
}

// Notify delivers a value to all subscribers
func (e *MockEndpoint) Notify(value []byte) {
	e.lock.Lock()
	subscribers := append([]func([]byte){}, e.subscribers...)
	e.lock.Unlock()
	for _, subscriber := range subscribers {
		subscriber(value)
	}
}

// Writes returns all values written to the endpoint
func (e *MockEndpoint) Writes() [][]byte {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([][]byte{}, e.writes...)
}

// Reads returns the number of reads issued against the endpoint
func (e *MockEndpoint) Reads() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.count
}

// MockLink implements Link and can be used for unit tests
type MockLink struct {
	address string

	lock       sync.Mutex
	endpoints  map[EndpointID]*MockEndpoint
	operations []MockOperation

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	disconnected chan struct{}
	once         sync.Once
}

// Add registers an endpoint on the link
func (l *MockLink) Add(id EndpointID) *MockEndpoint {
	l.lock.Lock()
	defer l.lock.Unlock()
	endpoint := &MockEndpoint{id: id, link: l}
	l.endpoints[id] = endpoint
	return endpoint
}

// Address implements Link
func (l *MockLink) Address() string {
	return l.address
}

// Endpoint implements Link
func (l *MockLink) Endpoint(id EndpointID) (Endpoint, error) {
	select {
	case <-l.disconnected:
		return nil, ErrDisconnected
	default:
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	endpoint, ok := l.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("endpoint %s: %w", id, ErrCapabilityUnavailable)
	}
	return endpoint, nil
}

// Disconnected implements Link
func (l *MockLink) Disconnected() <-chan struct{} {
	return l.disconnected
}

// Disconnect simulates a link loss
func (l *MockLink) Disconnect() {
	l.once.Do(func() {
		close(l.disconnected)
	})
}

// Close implements Link
func (l *MockLink) Close() error {
	l.Disconnect()
	return nil
}

// Operations returns every read and write in the order they hit the link
func (l *MockLink) Operations() []MockOperation {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]MockOperation{}, l.operations...)
}

// MaxInFlight returns the highest number of operations that were ever executing at the same time
func (l *MockLink) MaxInFlight() int {
	return int(l.maxInFlight.Load())
}

func (l *MockLink) begin() (func(), error) {
	current := l.inFlight.Add(1)
	for {
		seen := l.maxInFlight.Load()
		if current <= seen || l.maxInFlight.CompareAndSwap(seen, current) {
			break
		}
	}
	done := func() { l.inFlight.Add(-1) }
	select {
	case <-l.disconnected:
		return done, ErrDisconnected
	default:
		return done, nil
	}
}

func (l *MockLink) record(op MockOperation) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.operations = append(l.operations, op)
}

// NewMockLink creates MockLink instances
func NewMockLink(address string) *MockLink {
	return &MockLink{
		address:      address,
		endpoints:    map[EndpointID]*MockEndpoint{},
		disconnected: make(chan struct{}),
	}
}

// MockConnector implements Connector, handing out prepared links by address
type MockConnector struct {
	lock  sync.Mutex
	links map[string]*MockLink
	// Err, when set, is returned by every Connect call
	Err error
}

// Connect implements Connector
func (c *MockConnector) Connect(ctx context.Context, address string) (Link, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if c.Err != nil {
		return nil, c.Err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	for known, link := range c.links {
		if SameAddress(known, address) {
			return link, nil
		}
	}
	return nil, errors.New("device not found")
}

// NewMockConnector creates MockConnector instances
func NewMockConnector(links ...*MockLink) *MockConnector {
	connector := &MockConnector{links: map[string]*MockLink{}}
	for _, link := range links {
		connector.links[link.address] = link
	}
	return connector
}
