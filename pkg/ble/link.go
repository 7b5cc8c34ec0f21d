// Package ble contains the wireless link abstraction used by the pairing subsystem: a connected
// device exposes read/write/notify endpoints addressed by a (service, characteristic) pair.
//
// Nothing in this package serializes access. The platform stack rejects overlapping GATT operations,
// so every Read and Write must be issued through a queue.Queue owned by the link's session.
package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrCapabilityUnavailable is returned when the connected device does not expose a requested endpoint
var ErrCapabilityUnavailable = errors.New("capability unavailable")

// ErrDisconnected is returned by endpoints of a link that was lost or closed
var ErrDisconnected = errors.New("link disconnected")

// EndpointID addresses a single characteristic of a service
type EndpointID struct {
	Service        string
	Characteristic string
}

func (id EndpointID) String() string {
	return fmt.Sprintf("%s/%s", strings.ToLower(id.Service), strings.ToLower(id.Characteristic))
}

// Endpoint is a single read/write/notify channel on a connected device
type Endpoint interface {
	ID() EndpointID
	Read() ([]byte, error)
	Write([]byte) error
	Subscribe(func([]byte)) error
}

// Link is an established connection to a device
type Link interface {
	// Address is the physical address of the remote device
	Address() string
	// Endpoint resolves an endpoint, returning an error wrapping ErrCapabilityUnavailable
	// when the device does not expose it
	Endpoint(EndpointID) (Endpoint, error)
	// Disconnected is closed when the link is lost or closed
	Disconnected() <-chan struct{}
	Close() error
}

// Connector establishes links
type Connector interface {
	Connect(ctx context.Context, address string) (Link, error)
}

// Lookup probes the link for an optional endpoint. A device that simply does not expose the endpoint
// yields (nil, false, nil); only real link failures are returned as errors.
func Lookup(link Link, id EndpointID) (Endpoint, bool, error) {
	endpoint, err := link.Endpoint(id)
	if err != nil {
		if errors.Is(err, ErrCapabilityUnavailable) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return endpoint, true, nil
}

// NormalizeAddress upper-cases a physical address and unifies its separators
func NormalizeAddress(address string) string {
	return strings.ToUpper(strings.NewReplacer("-", ":", ".", ":").Replace(strings.TrimSpace(address)))
}

// SameAddress compares two physical addresses ignoring case and separator style
func SameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}
