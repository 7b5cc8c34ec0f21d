package chunked

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/glothriel/airlink/pkg/ble"
	"github.com/glothriel/airlink/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var proxied = ble.EndpointID{
	Service:        "4f2a0000-5d6e-4a8b-9c1d-2e3f4a5b6c7d",
	Characteristic: "4f2a0003-5d6e-4a8b-9c1d-2e3f4a5b6c7d",
}

func newTestChannel(opts ...Option) (*Channel, *ble.MockLink, *ble.MockEndpoint) {
	link := ble.NewMockLink("AA:BB:CC:DD:EE:FF")
	endpoint := link.Add(proxied)
	return NewChannel(queue.New("test"), endpoint, opts...), link, endpoint
}

func lengthPrefix(n uint32) []byte {
	prefix := make([]byte, LengthPrefixSize)
	binary.LittleEndian.PutUint32(prefix, n)
	return prefix
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		expected []int
	}{
		{name: "empty message", size: 0, expected: []int{0}},
		{name: "single short chunk", size: 10, expected: []int{10}},
		{name: "exactly one chunk", size: 200, expected: []int{200}},
		{name: "exact multiple", size: 400, expected: []int{200, 200}},
		{name: "one byte over", size: 401, expected: []int{200, 200, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Split(bytes.Repeat([]byte{'x'}, tt.size), DefaultChunkSize)
			sizes := []int{}
			for _, chunk := range chunks {
				sizes = append(sizes, len(chunk))
			}
			assert.Equal(t, tt.expected, sizes)
		})
	}
}

func TestNonPositiveChunkSizeFallsBack(t *testing.T) {
	for _, size := range []int{0, -1} {
		// given
		channel, _, endpoint := newTestChannel(WithChunkSize(size))

		// when
		err := channel.Send(context.Background(), bytes.Repeat([]byte{'z'}, 401))

		// then
		assert.NoError(t, err)
		assert.Len(t, endpoint.Writes(), 3)
		assert.Len(t, Split([]byte("abc"), size), 1)
	}
}

func TestSendSplitsExactMultipleIntoTwoWrites(t *testing.T) {
	// given
	channel, _, endpoint := newTestChannel()
	message := bytes.Repeat([]byte{'a'}, 400)

	// when
	err := channel.Send(context.Background(), message)

	// then
	assert.NoError(t, err)
	writes := endpoint.Writes()
	require.Len(t, writes, 2)
	assert.Len(t, writes[0], 200)
	assert.Len(t, writes[1], 200)
	assert.Equal(t, message, bytes.Join(writes, nil))
}

func TestSendSplitsTrailingByteIntoThirdWrite(t *testing.T) {
	// given
	channel, _, endpoint := newTestChannel()
	message := bytes.Repeat([]byte{'b'}, 401)

	// when
	err := channel.Send(context.Background(), message)

	// then
	assert.NoError(t, err)
	writes := endpoint.Writes()
	require.Len(t, writes, 3)
	assert.Len(t, writes[2], 1)
	assert.Equal(t, message, bytes.Join(writes, nil))
}

func TestSendTerminatedAppendsEmptyWrite(t *testing.T) {
	// given
	channel, _, endpoint := newTestChannel()

	// when
	err := channel.SendTerminated(context.Background(), bytes.Repeat([]byte{'c'}, 400))

	// then
	assert.NoError(t, err)
	writes := endpoint.Writes()
	require.Len(t, writes, 3)
	assert.Empty(t, writes[2])
}

func TestSendStopsOnFirstFailedWrite(t *testing.T) {
	// given
	channel, _, endpoint := newTestChannel()
	endpoint.OnWrite = func(data []byte) error {
		if len(endpoint.Writes()) == 2 {
			return errors.New("device disconnected")
		}
		return nil
	}

	// when
	err := channel.Send(context.Background(), bytes.Repeat([]byte{'d'}, 1000))

	// then
	var exchangeErr *ExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	assert.Equal(t, 1, exchangeErr.Chunk)
	assert.Equal(t, "write", exchangeErr.Op)
	assert.Len(t, endpoint.Writes(), 2)
}

func TestReadUntilEmptyReassemblesMessage(t *testing.T) {
	// given
	channel, link, endpoint := newTestChannel()
	original := []byte{}
	for i := 0; i < 1234; i++ {
		original = append(original, byte('A'+i%26))
	}
	for _, chunk := range Split(original, 200) {
		endpoint.Script(chunk)
	}
	endpoint.Script([]byte{})

	// when
	received, err := channel.ReadUntilEmpty(context.Background())

	// then
	assert.NoError(t, err)
	assert.Equal(t, original, received)
	assert.Equal(t, 8, endpoint.Reads())
	assert.Equal(t, 1, link.MaxInFlight())
}

func TestReadUntilEmptyRejectsOversizedMessage(t *testing.T) {
	// given
	channel, _, endpoint := newTestChannel(WithMaxMessageSize(300))
	endpoint.Script(bytes.Repeat([]byte{'x'}, 200), bytes.Repeat([]byte{'x'}, 200), []byte{})

	// when
	_, err := channel.ReadUntilEmpty(context.Background())

	// then
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestReadLengthPrefixedStopsAtAnnouncedLength(t *testing.T) {
	// given
	channel, _, endpoint := newTestChannel()
	payload := bytes.Repeat([]byte{'p'}, 137)
	endpoint.Script(lengthPrefix(137), payload[:100], payload[100:])
	endpoint.Script([]byte("must not be read"))

	// when
	received, err := channel.ReadLengthPrefixed(context.Background())

	// then
	assert.NoError(t, err)
	assert.Equal(t, payload, received)
	assert.Equal(t, 3, endpoint.Reads())
}

func TestReadLengthPrefixedSkipsEmptyChunks(t *testing.T) {
	// given
	channel, _, endpoint := newTestChannel()
	endpoint.Script(lengthPrefix(5), []byte("he"), []byte{}, []byte("llo"))

	// when
	received, err := channel.ReadLengthPrefixed(context.Background())

	// then
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), received)
}

func TestReadLengthPrefixedZeroLength(t *testing.T) {
	// given
	channel, _, endpoint := newTestChannel()
	endpoint.Script(lengthPrefix(0))

	// when
	received, err := channel.ReadLengthPrefixed(context.Background())

	// then
	assert.NoError(t, err)
	assert.Empty(t, received)
	assert.Equal(t, 1, endpoint.Reads())
}

func TestReadLengthPrefixedErrors(t *testing.T) {
	tests := []struct {
		name     string
		reads    [][]byte
		expected error
	}{
		{name: "short prefix", reads: [][]byte{{0x01, 0x00}}, expected: ErrMalformedLength},
		{name: "long prefix", reads: [][]byte{{0x01, 0x00, 0x00, 0x00, 0x00}}, expected: ErrMalformedLength},
		{name: "announced length too large", reads: [][]byte{lengthPrefix(5000)}, expected: ErrMessageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			channel, _, endpoint := newTestChannel(WithMaxMessageSize(1000))
			endpoint.Script(tt.reads...)

			_, err := channel.ReadLengthPrefixed(context.Background())

			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestReadLengthPrefixedAcceptsPaddedLastChunk(t *testing.T) {
	// given
	channel, _, endpoint := newTestChannel()
	endpoint.Script(lengthPrefix(3), []byte("abcd"))
	endpoint.Script([]byte("must not be read"))

	// when
	received, err := channel.ReadLengthPrefixed(context.Background())

	// then
	assert.NoError(t, err)
	assert.Equal(t, []byte("abc"), received)
	assert.Equal(t, 2, endpoint.Reads())
}

func TestReadLengthPrefixedHonoursContext(t *testing.T) {
	// given
	channel, _, endpoint := newTestChannel()
	endpoint.Script(lengthPrefix(10))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// when
	_, err := channel.ReadLengthPrefixed(ctx)

	// then
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExchangeSendsThenReadsResponse(t *testing.T) {
	// given
	channel, link, endpoint := newTestChannel()
	endpoint.Script(lengthPrefix(4), []byte("pong"))

	// when
	response, err := channel.Exchange(context.Background(), []byte("ping"))

	// then
	assert.NoError(t, err)
	assert.Equal(t, []byte("pong"), response)
	operations := link.Operations()
	require.Len(t, operations, 3)
	assert.Equal(t, "write", operations[0].Kind)
	assert.Equal(t, "read", operations[1].Kind)
	assert.Equal(t, "read", operations[2].Kind)
}
