package ble

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var testEndpoint = EndpointID{Service: "0000AA00-0000-1000-8000-00805F9B34FB", Characteristic: "0000AA01-0000-1000-8000-00805F9B34FB"}

type failingLink struct {
	*MockLink
	err error
}

func (l *failingLink) Endpoint(EndpointID) (Endpoint, error) {
	return nil, l.err
}

func TestLookupReturnsPresentEndpoint(t *testing.T) {
	// given
	link := NewMockLink("AA:BB:CC:DD:EE:FF")
	link.Add(testEndpoint)

	// when
	endpoint, ok, err := Lookup(link, testEndpoint)

	// then
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, testEndpoint, endpoint.ID())
}

func TestLookupTreatsMissingEndpointAsValue(t *testing.T) {
	// given
	link := NewMockLink("AA:BB:CC:DD:EE:FF")

	// when
	endpoint, ok, err := Lookup(link, testEndpoint)

	// then
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, endpoint)
}

func TestLookupPropagatesLinkErrors(t *testing.T) {
	// given
	link := &failingLink{MockLink: NewMockLink("AA:BB:CC:DD:EE:FF"), err: errors.New("GATT failure")}

	// when
	_, ok, err := Lookup(link, testEndpoint)

	// then
	assert.False(t, ok)
	assert.EqualError(t, err, "GATT failure")
}

func TestSameAddress(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected bool
	}{
		{name: "identical", a: "AA:BB:CC:DD:EE:FF", b: "AA:BB:CC:DD:EE:FF", expected: true},
		{name: "case", a: "aa:bb:cc:dd:ee:ff", b: "AA:BB:CC:DD:EE:FF", expected: true},
		{name: "dashes", a: "aa-bb-cc-dd-ee-ff", b: "AA:BB:CC:DD:EE:FF", expected: true},
		{name: "different", a: "AA:BB:CC:DD:EE:00", b: "AA:BB:CC:DD:EE:FF", expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SameAddress(tt.a, tt.b))
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", NormalizeAddress(" aa-bb-cc-dd-ee-ff "))
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", NormalizeAddress("aa.bb.cc.dd.ee.ff"))
}

func TestMockEndpointFailsAfterDisconnect(t *testing.T) {
	// given
	link := NewMockLink("AA:BB:CC:DD:EE:FF")
	endpoint := link.Add(testEndpoint).Script([]byte("hello"))

	// when
	link.Disconnect()
	_, readErr := endpoint.Read()
	_, lookupErr := link.Endpoint(testEndpoint)

	// then
	assert.ErrorIs(t, readErr, ErrDisconnected)
	assert.ErrorIs(t, lookupErr, ErrDisconnected)
	assert.Empty(t, link.Operations())
}

func TestMockEndpointRecordsOperationsInOrder(t *testing.T) {
	// given
	link := NewMockLink("AA:BB:CC:DD:EE:FF")
	endpoint := link.Add(testEndpoint).Script([]byte{0x01})

	// when
	assert.NoError(t, endpoint.Write([]byte{0x02}))
	value, readErr := endpoint.Read()
	empty, emptyErr := endpoint.Read()

	// then
	assert.NoError(t, readErr)
	assert.NoError(t, emptyErr)
	assert.Equal(t, []byte{0x01}, value)
	assert.Empty(t, empty)
	assert.Equal(t, []MockOperation{
		{Kind: "write", Endpoint: testEndpoint, Data: []byte{0x02}},
		{Kind: "read", Endpoint: testEndpoint, Data: []byte{0x01}},
		{Kind: "read", Endpoint: testEndpoint, Data: nil},
	}, link.Operations())
}
