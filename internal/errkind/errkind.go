// Package errkind classifies errors raised while polling and saving a device.
package errkind

import (
	"errors"

	"github.com/godbus/dbus/v5"

	"github.com/niktheblak/switchbot-influxdb/pkg/sensor"
	"github.com/niktheblak/switchbot-influxdb/pkg/sink"
	"github.com/niktheblak/switchbot-influxdb/pkg/switchbot"
)

type Kind int

const (
	Other Kind = iota
	Transport
	Extraction
	Write
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Extraction:
		return "extraction"
	case Write:
		return "write"
	default:
		return "other"
	}
}

// Of returns the kind of err. Bluetooth stack errors take precedence so that
// D-Bus failures are always reported as such.
func Of(err error) Kind {
	var (
		dbusErr       dbus.Error
		dbusErrPtr    *dbus.Error
		extractionErr *sensor.ExtractionError
		writeErr      *sink.WriteError
	)
	switch {
	case err == nil:
		return Other
	case errors.Is(err, switchbot.ErrTransport), errors.As(err, &dbusErr), errors.As(err, &dbusErrPtr):
		return Transport
	case errors.As(err, &extractionErr):
		return Extraction
	case errors.As(err, &writeErr):
		return Write
	default:
		return Other
	}
}
