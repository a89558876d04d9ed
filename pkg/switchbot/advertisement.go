package switchbot

const (
	// ServiceUUID is the 16-bit service data UUID used by current SwitchBot firmware
	ServiceUUID uint16 = 0xfd3d
	// LegacyServiceUUID is used by older SwitchBot firmware
	LegacyServiceUUID uint16 = 0x0d00
	// WoanCompanyID is the Bluetooth SIG company identifier of Woan Technology (SwitchBot)
	WoanCompanyID uint16 = 0x0969
)

const (
	ModelMeter        = "WoSensorTH"
	ModelMeterPlus    = "WoSensorTHPlus"
	ModelOutdoorMeter = "WoIOSensorTH"
)

type modelInfo struct {
	Model        string
	FriendlyName string
}

var temperatureSensors = map[byte]modelInfo{
	'T': {Model: ModelMeter, FriendlyName: "Meter"},
	'i': {Model: ModelMeterPlus, FriendlyName: "Meter Plus"},
	'w': {Model: ModelOutdoorMeter, FriendlyName: "Outdoor Meter"},
}

// Advertisement is a single BLE advertisement as seen by a Transport.
// Manufacturer data is keyed by company ID and excludes the ID itself.
type Advertisement struct {
	Address          string
	LocalName        string
	RSSI             int16
	ServiceData      map[uint16][]byte
	ManufacturerData map[uint16][]byte
}

// Device is a snapshot of a discovered SwitchBot temperature sensor.
// Data is nil when the advertisement did not carry a decodable payload.
type Device struct {
	Address   string         `json:"address"`
	Model     string         `json:"model"`
	ModelName string         `json:"modelFriendlyName"`
	RSSI      int16          `json:"rssi"`
	Data      map[string]any `json:"data,omitempty"`
}

func (a Advertisement) serviceData() []byte {
	if d, ok := a.ServiceData[ServiceUUID]; ok {
		return d
	}
	return a.ServiceData[LegacyServiceUUID]
}

// ParseAdvertisement decodes a SwitchBot temperature sensor advertisement.
// It returns false when the advertisement is not from a supported sensor.
func ParseAdvertisement(adv Advertisement) (Device, bool) {
	svc := adv.serviceData()
	if len(svc) == 0 {
		return Device{}, false
	}
	info, ok := temperatureSensors[svc[0]&0x7f]
	if !ok {
		return Device{}, false
	}
	return Device{
		Address:   adv.Address,
		Model:     info.Model,
		ModelName: info.FriendlyName,
		RSSI:      adv.RSSI,
		Data:      parseThermometer(svc, adv.ManufacturerData[WoanCompanyID]),
	}, true
}

// parseThermometer decodes the Meter family payload. Newer firmware carries the
// temperature bytes in manufacturer data and older in service data.
func parseThermometer(svc, mfr []byte) map[string]any {
	var raw []byte
	if len(mfr) >= 11 {
		raw = mfr[8:11]
	} else if len(svc) >= 6 {
		raw = svc[3:6]
	}
	if raw == nil {
		return nil
	}
	sign := -1.0
	if raw[1]&0x80 != 0 {
		sign = 1.0
	}
	celsius := sign * (float64(raw[1]&0x7f) + float64(raw[0]&0x0f)/10)
	data := map[string]any{
		"temperature": celsius,
		"humidity":    int(raw[2] & 0x7f),
		"fahrenheit":  raw[2]&0x80 != 0,
	}
	if len(svc) >= 3 {
		data["battery"] = int(svc[2] & 0x7f)
	}
	return data
}
