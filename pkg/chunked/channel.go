// Package chunked exchanges variable-length messages over an endpoint that only accepts small writes
// and returns unframed reads. Every read and write is issued through the link's queue.
package chunked

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/glothriel/airlink/pkg/ble"
	"github.com/glothriel/airlink/pkg/queue"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultChunkSize is the largest write the device firmware accepts
	DefaultChunkSize = 200
	// LengthPrefixSize is the size of the little-endian total length sent ahead of a length-prefixed message
	LengthPrefixSize = 4
	// DefaultMaxMessageSize bounds inbound messages
	DefaultMaxMessageSize = 1 << 20
)

var (
	// ErrMalformedLength is returned when the length prefix is not exactly LengthPrefixSize bytes
	ErrMalformedLength = errors.New("malformed length prefix")
	// ErrMessageTooLarge is returned when an inbound message exceeds the configured maximum
	ErrMessageTooLarge = errors.New("message too large")
)

// ExchangeError is returned when the underlying endpoint failed mid-message
type ExchangeError struct {
	Op       string
	Endpoint ble.EndpointID
	Chunk    int
	Err      error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("%s %s failed at chunk %d: %v", e.Op, e.Endpoint, e.Chunk, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// Channel frames messages on a single endpoint
type Channel struct {
	queue          *queue.Queue
	endpoint       ble.Endpoint
	chunkSize      int
	maxMessageSize int
}

// Option configures a Channel
type Option func(*Channel)

// WithChunkSize overrides the maximum size of a single outbound write. Non-positive sizes are ignored.
func WithChunkSize(size int) Option {
	return func(c *Channel) {
		if size <= 0 {
			logrus.Warnf("Ignoring invalid chunk size %d, keeping %d", size, c.chunkSize)
			return
		}
		c.chunkSize = size
	}
}

// WithMaxMessageSize overrides the maximum size of an inbound message
func WithMaxMessageSize(size int) Option {
	return func(c *Channel) {
		c.maxMessageSize = size
	}
}

// NewChannel creates a Channel on the given endpoint
func NewChannel(q *queue.Queue, endpoint ble.Endpoint, opts ...Option) *Channel {
	c := &Channel{
		queue:          q,
		endpoint:       endpoint,
		chunkSize:      DefaultChunkSize,
		maxMessageSize: DefaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the endpoint the channel is bound to
func (c *Channel) Endpoint() ble.Endpoint {
	return c.endpoint
}

// Send writes msg as consecutive chunks of at most the chunk size. An empty message is sent as
// a single empty write.
func (c *Channel) Send(ctx context.Context, msg []byte) error {
	chunks := Split(msg, c.chunkSize)
	for i, chunk := range chunks {
		chunk := chunk
		if writeErr := queue.Exec(ctx, c.queue, func() error {
			return c.endpoint.Write(chunk)
		}); writeErr != nil {
			return c.wrap("write", i, writeErr)
		}
	}
	logrus.Debugf("Sent %d bytes in %d chunks to %s", len(msg), len(chunks), c.endpoint.ID())
	return nil
}

// SendTerminated sends msg followed by a zero-length write, for peers that detect the end of an
// inbound message by an empty chunk
func (c *Channel) SendTerminated(ctx context.Context, msg []byte) error {
	if sendErr := c.Send(ctx, msg); sendErr != nil {
		return sendErr
	}
	if len(msg) == 0 {
		return nil
	}
	if writeErr := queue.Exec(ctx, c.queue, func() error {
		return c.endpoint.Write([]byte{})
	}); writeErr != nil {
		return c.wrap("write", len(Split(msg, c.chunkSize)), writeErr)
	}
	return nil
}

// ReadUntilEmpty reads chunks until the endpoint returns a zero-length value
func (c *Channel) ReadUntilEmpty(ctx context.Context) ([]byte, error) {
	var message bytes.Buffer
	for i := 0; ; i++ {
		chunk, readErr := c.read(ctx)
		if readErr != nil {
			return nil, c.wrap("read", i, readErr)
		}
		if len(chunk) == 0 {
			logrus.Debugf("Received %d bytes in %d chunks from %s", message.Len(), i, c.endpoint.ID())
			return message.Bytes(), nil
		}
		if message.Len()+len(chunk) > c.maxMessageSize {
			return nil, c.wrap("read", i, ErrMessageTooLarge)
		}
		message.Write(chunk)
	}
}

// ReadLengthPrefixed reads a 4-byte little-endian total length and then reads chunks until at least
// that many bytes were received. Bytes past the announced length in the last chunk are dropped.
func (c *Channel) ReadLengthPrefixed(ctx context.Context) ([]byte, error) {
	prefix, readErr := c.read(ctx)
	if readErr != nil {
		return nil, c.wrap("read", 0, readErr)
	}
	if len(prefix) != LengthPrefixSize {
		return nil, c.wrap("read", 0, fmt.Errorf("%w: got %d bytes", ErrMalformedLength, len(prefix)))
	}
	expected := binary.LittleEndian.Uint32(prefix)
	if uint64(expected) > uint64(c.maxMessageSize) {
		return nil, c.wrap("read", 0, fmt.Errorf("%w: announced %d bytes", ErrMessageTooLarge, expected))
	}
	message := make([]byte, 0, expected)
	for i := 1; len(message) < int(expected); i++ {
		chunk, chunkErr := c.read(ctx)
		if chunkErr != nil {
			return nil, c.wrap("read", i, chunkErr)
		}
		message = append(message, chunk...)
	}
	if len(message) > int(expected) {
		logrus.Debugf("Dropping %d bytes past the announced length from %s", len(message)-int(expected), c.endpoint.ID())
		message = message[:expected]
	}
	logrus.Debugf("Received %d length-prefixed bytes from %s", len(message), c.endpoint.ID())
	return message, nil
}

// Exchange sends a request and reads the length-prefixed response on the same endpoint
func (c *Channel) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	if sendErr := c.Send(ctx, request); sendErr != nil {
		return nil, sendErr
	}
	return c.ReadLengthPrefixed(ctx)
}

func (c *Channel) read(ctx context.Context) ([]byte, error) {
	return queue.Do(ctx, c.queue, c.endpoint.Read)
}

func (c *Channel) wrap(op string, chunk int, err error) error {
	return &ExchangeError{Op: op, Endpoint: c.endpoint.ID(), Chunk: chunk, Err: err}
}

// Split cuts data into consecutive chunks of at most size bytes. It always returns at least one chunk.
// A non-positive size falls back to DefaultChunkSize.
func Split(data []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(data) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, len(data)/size+1)
	for len(data) > size {
		chunks = append(chunks, data[:size])
		data = data[size:]
	}
	return append(chunks, data)
}
