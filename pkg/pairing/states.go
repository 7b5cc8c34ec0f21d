// Package pairing drives a sensor device from an unauthenticated wireless link to an encrypted,
// authenticated one, relaying the certificate exchange between the device and the backend.
package pairing

import "github.com/glothriel/airlink/pkg/ble"

// State is a step of a pairing attempt
type State string

const (
	// StateIdle - no link
	StateIdle State = "idle"
	// StateConnecting - discovering and connecting to the device
	StateConnecting State = "connecting"
	// StateCheckingEncryption - reading the device's link-encrypted indicator
	StateCheckingEncryption State = "checking_encryption"
	// StateFastAuthenticating - presenting a cached fast-connect token to the device
	StateFastAuthenticating State = "fast_authenticating"
	// StateExchangingCertificate - draining the device certificate and posting it to the backend
	StateExchangingCertificate State = "exchanging_certificate"
	// StateRelayingToDevice - ferrying the backend payload to the device and the device answer back
	StateRelayingToDevice State = "relaying_to_device"
	// StateAwaitingPinEntry - the operator enters the PIN in the platform pairing prompt
	StateAwaitingPinEntry State = "awaiting_pin_entry"
	// StateSecured - the link is authenticated and encrypted
	StateSecured State = "secured"
	// StateDisconnected - the link was lost
	StateDisconnected State = "disconnected"
	// StateError - the attempt failed for a reason other than link loss
	StateError State = "error"
)

// Terminal returns true for states an attempt never leaves
func (s State) Terminal() bool {
	return s == StateSecured || s == StateDisconnected || s == StateError
}

const (
	// CertificateReset is written to the certificate endpoint to rewind the device's certificate buffer
	CertificateReset byte = 0x01
	// FastConnectAccepted is the device's verdict for a valid fast-connect token
	FastConnectAccepted byte = 0x01
)

// Endpoints names the device endpoints used during pairing
type Endpoints struct {
	Encrypted   ble.EndpointID
	Certificate ble.EndpointID
	Proxied     ble.EndpointID
	FastConnect ble.EndpointID
	Debug       ble.EndpointID
}

// SensorService is the GATT service exposed by the environmental sensors
const SensorService = "4f2a0000-5d6e-4a8b-9c1d-2e3f4a5b6c7d"

// DefaultEndpoints are the endpoints of the sensor firmware
var DefaultEndpoints = Endpoints{
	Encrypted:   ble.EndpointID{Service: SensorService, Characteristic: "4f2a0001-5d6e-4a8b-9c1d-2e3f4a5b6c7d"},
	Certificate: ble.EndpointID{Service: SensorService, Characteristic: "4f2a0002-5d6e-4a8b-9c1d-2e3f4a5b6c7d"},
	Proxied:     ble.EndpointID{Service: SensorService, Characteristic: "4f2a0003-5d6e-4a8b-9c1d-2e3f4a5b6c7d"},
	FastConnect: ble.EndpointID{Service: SensorService, Characteristic: "4f2a0004-5d6e-4a8b-9c1d-2e3f4a5b6c7d"},
	Debug:       ble.EndpointID{Service: SensorService, Characteristic: "4f2a0005-5d6e-4a8b-9c1d-2e3f4a5b6c7d"},
}
