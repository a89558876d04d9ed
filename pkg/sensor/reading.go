package sensor

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cast"
)

var (
	ErrNoPayload    = errors.New("no data payload")
	ErrMissingField = errors.New("missing field")
	ErrInvalidField = errors.New("invalid field")
)

// Reading is one temperature/humidity measurement from a single device
type Reading struct {
	DeviceID    string    `json:"device_id"`
	DeviceName  string    `json:"name"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Battery     *float64  `json:"battery,omitempty"`
	Timestamp   time.Time `json:"ts"`
}

// ExtractionError is returned when a device snapshot does not contain a usable reading.
type ExtractionError struct {
	DeviceID string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("device %s: %v", e.DeviceID, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// FromPayload builds a reading from the decoded advertisement data of a device.
// Numeric values may be given as any integer, float or numeric string type.
func FromPayload(deviceID, deviceName string, payload map[string]any) (Reading, error) {
	if deviceID == "" {
		return Reading{}, &ExtractionError{Err: fmt.Errorf("%w: device_id", ErrMissingField)}
	}
	if payload == nil {
		return Reading{}, &ExtractionError{DeviceID: deviceID, Err: ErrNoPayload}
	}
	temperature, err := requiredFloat(payload, "temperature")
	if err != nil {
		return Reading{}, &ExtractionError{DeviceID: deviceID, Err: err}
	}
	humidity, err := requiredFloat(payload, "humidity")
	if err != nil {
		return Reading{}, &ExtractionError{DeviceID: deviceID, Err: err}
	}
	r := Reading{
		DeviceID:    deviceID,
		DeviceName:  deviceName,
		Temperature: temperature,
		Humidity:    humidity,
	}
	if v, ok := payload["battery"]; ok && v != nil {
		battery, err := toFloat("battery", v)
		if err != nil {
			return Reading{}, &ExtractionError{DeviceID: deviceID, Err: err}
		}
		r.Battery = Float64Pointer(battery)
	}
	return r, nil
}

func requiredFloat(payload map[string]any, key string) (float64, error) {
	v, ok := payload[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	return toFloat(key, v)
}

func toFloat(key string, v any) (float64, error) {
	// cast accepts bools as numbers; a sensor never reports one
	if _, isBool := v.(bool); isBool {
		return 0, fmt.Errorf("%w: %s: unexpected bool", ErrInvalidField, key)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidField, key, err)
	}
	return f, nil
}

func Float64Pointer(v float64) *float64 {
	return &v
}
