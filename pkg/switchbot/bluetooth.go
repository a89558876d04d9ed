package switchbot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

var serviceUUIDs = []uint16{ServiceUUID, LegacyServiceUUID}

// stopRetryInterval is how often StopScan is retried while a scan is still starting
const stopRetryInterval = 10 * time.Millisecond

// Adapter is the part of *bluetooth.Adapter used for scanning. A scan that
// failed to start keeps the adapter marked as scanning until StopScan is called.
type Adapter interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// BluetoothTransport scans with a host Bluetooth adapter (BlueZ over D-Bus on Linux).
// Only one scan runs on the adapter at a time.
type BluetoothTransport struct {
	adapter Adapter

	mu      sync.Mutex
	enabled bool
}

func NewBluetoothTransport(adapter Adapter) *BluetoothTransport {
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	return &BluetoothTransport{adapter: adapter}
}

func (t *BluetoothTransport) Scan(ctx context.Context, fn func(Advertisement)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		if err := t.adapter.Enable(); err != nil {
			return fmt.Errorf("%w: enable adapter: %w", ErrTransport, err)
		}
		t.enabled = true
	}
	done := make(chan error, 1)
	go func() {
		done <- t.adapter.Scan(func(_ *bluetooth.Adapter, res bluetooth.ScanResult) {
			fn(toAdvertisement(res))
		})
	}()
	select {
	case err := <-done:
		if err != nil {
			// reset the scanning state so the next sweep can start
			_ = t.adapter.StopScan()
			return fmt.Errorf("%w: scan: %w", ErrTransport, err)
		}
		return nil
	case <-ctx.Done():
		if err := t.stopScan(done); err != nil {
			return fmt.Errorf("%w: scan: %w", ErrTransport, err)
		}
		return ctx.Err()
	}
}

// stopScan stops the running scan and waits for it to return. StopScan fails
// until the scan goroutine has registered itself, so it is retried until it
// succeeds or the scan ends by itself.
func (t *BluetoothTransport) stopScan(done <-chan error) error {
	ticker := time.NewTicker(stopRetryInterval)
	defer ticker.Stop()
	for {
		if err := t.adapter.StopScan(); err == nil {
			return <-done
		}
		select {
		case err := <-done:
			if err != nil {
				_ = t.adapter.StopScan()
			}
			return err
		case <-ticker.C:
		}
	}
}

func toAdvertisement(res bluetooth.ScanResult) Advertisement {
	adv := Advertisement{
		Address:          res.Address.String(),
		LocalName:        res.LocalName(),
		RSSI:             res.RSSI,
		ServiceData:      make(map[uint16][]byte),
		ManufacturerData: make(map[uint16][]byte),
	}
	for _, sd := range res.ServiceData() {
		for _, u := range serviceUUIDs {
			if sd.UUID == bluetooth.New16BitUUID(u) {
				adv.ServiceData[u] = sd.Data
			}
		}
	}
	for _, md := range res.ManufacturerData() {
		adv.ManufacturerData[md.CompanyID] = md.Data
	}
	return adv
}
