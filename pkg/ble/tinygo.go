package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"tinygo.org/x/bluetooth"
)

// maxAttributeSize is the largest value a single ATT read can return
const maxAttributeSize = 512

type tinygoConnector struct {
	adapter     *bluetooth.Adapter
	scanTimeout time.Duration

	enableOnce sync.Once
	enableErr  error

	lock  sync.Mutex
	links map[string]*tinygoLink
}

func (c *tinygoConnector) enable() error {
	c.enableOnce.Do(func() {
		c.enableErr = c.adapter.Enable()
		if c.enableErr != nil {
			return
		}
		c.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			if connected {
				return
			}
			c.lock.Lock()
			link, ok := c.links[strings.ToUpper(device.Address.String())]
			c.lock.Unlock()
			if ok {
				logrus.Infof("Device %s disconnected", link.address)
				link.markDisconnected()
			}
		})
	})
	return c.enableErr
}

func (c *tinygoConnector) scan(ctx context.Context, address string) (bluetooth.ScanResult, error) {
	scanCtx, cancel := context.WithTimeout(ctx, c.scanTimeout)
	defer cancel()
	go func() {
		<-scanCtx.Done()
		if stopErr := c.adapter.StopScan(); stopErr != nil {
			logrus.Debugf("Failed to stop scan: %v", stopErr)
		}
	}()

	var found bluetooth.ScanResult
	var ok bool
	scanErr := c.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		logrus.Tracef("Scan result %s (%s), rssi %d", result.Address.String(), result.LocalName(), result.RSSI)
		if SameAddress(result.Address.String(), address) {
			found, ok = result, true
			cancel()
		}
	})
	if scanErr != nil {
		return bluetooth.ScanResult{}, fmt.Errorf("scan failed: %w", scanErr)
	}
	if !ok {
		if ctx.Err() != nil {
			return bluetooth.ScanResult{}, ctx.Err()
		}
		return bluetooth.ScanResult{}, fmt.Errorf("device %s not found within %s", address, c.scanTimeout)
	}
	return found, nil
}

func (c *tinygoConnector) Connect(ctx context.Context, address string) (Link, error) {
	if enableErr := c.enable(); enableErr != nil {
		return nil, fmt.Errorf("bluetooth init failed: %w", enableErr)
	}
	result, scanErr := c.scan(ctx, address)
	if scanErr != nil {
		return nil, scanErr
	}
	device, connectErr := c.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if connectErr != nil {
		return nil, fmt.Errorf("connect to %s failed: %w", address, connectErr)
	}
	link := &tinygoLink{
		address:      strings.ToUpper(result.Address.String()),
		device:       device,
		endpoints:    map[EndpointID]*tinygoEndpoint{},
		disconnected: make(chan struct{}),
	}
	c.lock.Lock()
	c.links[link.address] = link
	c.lock.Unlock()
	go func() {
		<-link.disconnected
		c.lock.Lock()
		delete(c.links, link.address)
		c.lock.Unlock()
	}()
	logrus.Infof("Connected to %s", link.address)
	return link, nil
}

// NewTinygoConnector creates a Connector backed by the platform bluetooth stack
func NewTinygoConnector(adapter *bluetooth.Adapter, scanTimeout time.Duration) Connector {
	return &tinygoConnector{
		adapter:     adapter,
		scanTimeout: scanTimeout,
		links:       map[string]*tinygoLink{},
	}
}

type tinygoLink struct {
	address string
	device  bluetooth.Device

	lock         sync.Mutex
	services     []bluetooth.DeviceService
	endpoints    map[EndpointID]*tinygoEndpoint
	disconnected chan struct{}
	closeOnce    sync.Once
}

func (l *tinygoLink) Address() string {
	return l.address
}

func (l *tinygoLink) Disconnected() <-chan struct{} {
	return l.disconnected
}

func (l *tinygoLink) markDisconnected() {
	l.closeOnce.Do(func() {
		close(l.disconnected)
	})
}

func (l *tinygoLink) isDisconnected() bool {
	select {
	case <-l.disconnected:
		return true
	default:
		return false
	}
}

func (l *tinygoLink) Endpoint(id EndpointID) (Endpoint, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.isDisconnected() {
		return nil, ErrDisconnected
	}
	if endpoint, ok := l.endpoints[id]; ok {
		return endpoint, nil
	}
	if l.services == nil {
		services, discoverErr := l.device.DiscoverServices(nil)
		if discoverErr != nil {
			return nil, fmt.Errorf("service discovery failed: %w", discoverErr)
		}
		l.services = services
	}
	for i := range l.services {
		if !strings.EqualFold(l.services[i].UUID().String(), id.Service) {
			continue
		}
		characteristics, discoverErr := l.services[i].DiscoverCharacteristics(nil)
		if discoverErr != nil {
			return nil, fmt.Errorf("characteristic discovery failed: %w", discoverErr)
		}
		for _, characteristic := range characteristics {
			if strings.EqualFold(characteristic.UUID().String(), id.Characteristic) {
				endpoint := &tinygoEndpoint{id: id, link: l, characteristic: characteristic}
				l.endpoints[id] = endpoint
				return endpoint, nil
			}
		}
	}
	return nil, fmt.Errorf("endpoint %s: %w", id, ErrCapabilityUnavailable)
}

func (l *tinygoLink) Close() error {
	if l.isDisconnected() {
		return nil
	}
	var closeErr error
	for _, endpoint := range l.subscribedEndpoints() {
		closeErr = multierr.Append(closeErr, endpoint.characteristic.EnableNotifications(nil))
	}
	closeErr = multierr.Append(closeErr, l.device.Disconnect())
	l.markDisconnected()
	return closeErr
}

func (l *tinygoLink) subscribedEndpoints() []*tinygoEndpoint {
	l.lock.Lock()
	defer l.lock.Unlock()
	subscribed := []*tinygoEndpoint{}
	for _, endpoint := range l.endpoints {
		if endpoint.subscribed {
			subscribed = append(subscribed, endpoint)
		}
	}
	return subscribed
}

type tinygoEndpoint struct {
	id             EndpointID
	link           *tinygoLink
	characteristic bluetooth.DeviceCharacteristic
	subscribed     bool // guarded by link.lock
}

func (e *tinygoEndpoint) ID() EndpointID {
	return e.id
}

func (e *tinygoEndpoint) Read() ([]byte, error) {
	if e.link.isDisconnected() {
		return nil, ErrDisconnected
	}
	buffer := make([]byte, maxAttributeSize)
	n, readErr := e.characteristic.Read(buffer)
	if readErr != nil {
		return nil, fmt.Errorf("read %s: %w", e.id, readErr)
	}
	return buffer[:n], nil
}

// Write waits for the peripheral to acknowledge the value, so a queued write only completes once
// the chunk was delivered.
func (e *tinygoEndpoint) Write(data []byte) error {
	if e.link.isDisconnected() {
		return ErrDisconnected
	}
	if _, writeErr := e.characteristic.Write(data); writeErr != nil {
		return fmt.Errorf("write %s: %w", e.id, writeErr)
	}
	return nil
}

func (e *tinygoEndpoint) Subscribe(onChange func([]byte)) error {
	if e.link.isDisconnected() {
		return ErrDisconnected
	}
	if subscribeErr := e.characteristic.EnableNotifications(onChange); subscribeErr != nil {
		return fmt.Errorf("subscribe %s: %w", e.id, subscribeErr)
	}
	e.markSubscribed()
	return nil
}

func (e *tinygoEndpoint) markSubscribed() {
	e.link.lock.Lock()
	defer e.link.lock.Unlock()
	e.subscribed = true
}
