package protocol

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Payload is the typed body that follows the 36-byte header. Each shape
// knows how to lay itself out in the fixed-size slice the type table
// registers for it.
type Payload interface {
	encode(b []byte)
	decode(b []byte)
}

var le = binary.LittleEndian

// putString writes s NUL-padded into b, truncating to len(b).
func putString(b []byte, s string) {
	n := copy(b, s)
	clear(b[n:])
}

// getString reads a NUL-terminated string from b.
func getString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func putBool(b []byte, v bool) {
	if v {
		b[0] = 1
	} else {
		b[0] = 0
	}
}

func putFloat32(b []byte, v float32) {
	le.PutUint32(b, math.Float32bits(v))
}

func getFloat32(b []byte) float32 {
	return math.Float32frombits(le.Uint32(b))
}

// HSBK is a color in wire units: hue, saturation and brightness scaled to
// 0..65535 and kelvin raw.
type HSBK struct {
	Hue        uint16
	Saturation uint16
	Brightness uint16
	Kelvin     uint16
}

func (c *HSBK) encode(b []byte) {
	le.PutUint16(b[0:], c.Hue)
	le.PutUint16(b[2:], c.Saturation)
	le.PutUint16(b[4:], c.Brightness)
	le.PutUint16(b[6:], c.Kelvin)
}

func (c *HSBK) decode(b []byte) {
	c.Hue = le.Uint16(b[0:])
	c.Saturation = le.Uint16(b[2:])
	c.Brightness = le.Uint16(b[4:])
	c.Kelvin = le.Uint16(b[6:])
}

// SetSite carries a site id (DEVICE_SET_SITE, DEVICE_STATE_SITE).
type SetSite struct {
	Site SiteID
}

func (p *SetSite) encode(b []byte) { copy(b, p.Site[:]) }
func (p *SetSite) decode(b []byte) { copy(p.Site[:], b) }

// Gateway service codes announced in STATE_PAN_GATEWAY.
const (
	ServiceUDP uint8 = 1
	ServiceTCP uint8 = 2
)

// StatePanGateway announces a gateway service and its port.
type StatePanGateway struct {
	Service uint8
	Port    uint32
}

func (p *StatePanGateway) encode(b []byte) {
	b[0] = p.Service
	le.PutUint32(b[1:], p.Port)
}

func (p *StatePanGateway) decode(b []byte) {
	p.Service = b[0]
	p.Port = le.Uint32(b[1:])
}

// Time is device time in nanoseconds since the Unix epoch.
type Time struct {
	Time uint64
}

func (p *Time) encode(b []byte) { le.PutUint64(b, p.Time) }
func (p *Time) decode(b []byte) { p.Time = le.Uint64(b) }

type StateResetSwitch struct {
	Position uint8
}

func (p *StateResetSwitch) encode(b []byte) { b[0] = p.Position }
func (p *StateResetSwitch) decode(b []byte) { p.Position = b[0] }

type DummyLoad struct {
	On bool
}

func (p *DummyLoad) encode(b []byte) { putBool(b, p.On) }
func (p *DummyLoad) decode(b []byte) { p.On = b[0] != 0 }

// InterfaceInfo reports radio statistics for the mesh or wifi interface.
type InterfaceInfo struct {
	Signal         float32
	Tx             uint32
	Rx             uint32
	McuTemperature int16
}

func (p *InterfaceInfo) encode(b []byte) {
	putFloat32(b[0:], p.Signal)
	le.PutUint32(b[4:], p.Tx)
	le.PutUint32(b[8:], p.Rx)
	le.PutUint16(b[12:], uint16(p.McuTemperature))
}

func (p *InterfaceInfo) decode(b []byte) {
	p.Signal = getFloat32(b[0:])
	p.Tx = le.Uint32(b[4:])
	p.Rx = le.Uint32(b[8:])
	p.McuTemperature = int16(le.Uint16(b[12:]))
}

// Firmware reports the firmware of the mesh or wifi interface.
type Firmware struct {
	Build   uint64
	Install uint64
	Version uint32
}

func (p *Firmware) encode(b []byte) {
	le.PutUint64(b[0:], p.Build)
	le.PutUint64(b[8:], p.Install)
	le.PutUint32(b[16:], p.Version)
}

func (p *Firmware) decode(b []byte) {
	p.Build = le.Uint64(b[0:])
	p.Install = le.Uint64(b[8:])
	p.Version = le.Uint32(b[16:])
}

// Power is a power level; zero is off, anything else is on.
type Power struct {
	Level uint16
}

func (p *Power) encode(b []byte) { le.PutUint16(b, p.Level) }
func (p *Power) decode(b []byte) { p.Level = le.Uint16(b) }

// LabelSize is the fixed width of device and tag labels on the wire.
const LabelSize = 32

type Label struct {
	Label string
}

func (p *Label) encode(b []byte) { putString(b[:LabelSize], p.Label) }
func (p *Label) decode(b []byte) { p.Label = getString(b[:LabelSize]) }

// Tags carries a tag bitfield (SET_TAGS, STATE_TAGS, GET_TAG_LABELS).
type Tags struct {
	Tags uint64
}

func (p *Tags) encode(b []byte) { le.PutUint64(b, p.Tags) }
func (p *Tags) decode(b []byte) { p.Tags = le.Uint64(b) }

// TagLabels names every tag in the bitfield.
type TagLabels struct {
	Tags  uint64
	Label string
}

func (p *TagLabels) encode(b []byte) {
	le.PutUint64(b[0:], p.Tags)
	putString(b[8:8+LabelSize], p.Label)
}

func (p *TagLabels) decode(b []byte) {
	p.Tags = le.Uint64(b[0:])
	p.Label = getString(b[8 : 8+LabelSize])
}

type StateVersion struct {
	Vendor  uint32
	Product uint32
	Version uint32
}

func (p *StateVersion) encode(b []byte) {
	le.PutUint32(b[0:], p.Vendor)
	le.PutUint32(b[4:], p.Product)
	le.PutUint32(b[8:], p.Version)
}

func (p *StateVersion) decode(b []byte) {
	p.Vendor = le.Uint32(b[0:])
	p.Product = le.Uint32(b[4:])
	p.Version = le.Uint32(b[8:])
}

// StateInfo reports device time, uptime and downtime in nanoseconds.
type StateInfo struct {
	Time     uint64
	Uptime   uint64
	Downtime uint64
}

func (p *StateInfo) encode(b []byte) {
	le.PutUint64(b[0:], p.Time)
	le.PutUint64(b[8:], p.Uptime)
	le.PutUint64(b[16:], p.Downtime)
}

func (p *StateInfo) decode(b []byte) {
	p.Time = le.Uint64(b[0:])
	p.Uptime = le.Uint64(b[8:])
	p.Downtime = le.Uint64(b[16:])
}

// Voltage is a rail or dimmer voltage in millivolts.
type Voltage struct {
	Voltage uint32
}

func (p *Voltage) encode(b []byte) { le.PutUint32(b, p.Voltage) }
func (p *Voltage) decode(b []byte) { p.Voltage = le.Uint32(b) }

type FactoryTestMode struct {
	On bool
}

func (p *FactoryTestMode) encode(b []byte) { putBool(b, p.On) }
func (p *FactoryTestMode) decode(b []byte) { p.On = b[0] != 0 }

// SetColor transitions a light to Color over Duration milliseconds.
type SetColor struct {
	Stream   uint8
	Color    HSBK
	Duration uint32
}

func (p *SetColor) encode(b []byte) {
	b[0] = p.Stream
	p.Color.encode(b[1:9])
	le.PutUint32(b[9:], p.Duration)
}

func (p *SetColor) decode(b []byte) {
	p.Stream = b[0]
	p.Color.decode(b[1:9])
	p.Duration = le.Uint32(b[9:])
}

// Waveform shapes.
const (
	WaveformSaw      uint8 = 0
	WaveformSine     uint8 = 1
	WaveformHalfSine uint8 = 2
	WaveformTriangle uint8 = 3
	WaveformPulse    uint8 = 4
)

// Waveform describes a periodic color effect. It is sent on its own as
// LIGHT_SET_WAVEFORM and embedded in simple events.
type Waveform struct {
	Stream    uint8
	Transient bool
	Color     HSBK
	Period    uint32
	Cycles    float32
	SkewRatio int16
	Waveform  uint8
}

const waveformSize = 21

func (p *Waveform) encode(b []byte) {
	b[0] = p.Stream
	putBool(b[1:], p.Transient)
	p.Color.encode(b[2:10])
	le.PutUint32(b[10:], p.Period)
	putFloat32(b[14:], p.Cycles)
	le.PutUint16(b[18:], uint16(p.SkewRatio))
	b[20] = p.Waveform
}

func (p *Waveform) decode(b []byte) {
	p.Stream = b[0]
	p.Transient = b[1] != 0
	p.Color.decode(b[2:10])
	p.Period = le.Uint32(b[10:])
	p.Cycles = getFloat32(b[14:])
	p.SkewRatio = int16(le.Uint16(b[18:]))
	p.Waveform = b[20]
}

// WaveformOptional is a Waveform that only applies the selected channels.
type WaveformOptional struct {
	Waveform
	SetHue        bool
	SetSaturation bool
	SetBrightness bool
	SetKelvin     bool
}

func (p *WaveformOptional) encode(b []byte) {
	p.Waveform.encode(b[:waveformSize])
	putBool(b[21:], p.SetHue)
	putBool(b[22:], p.SetSaturation)
	putBool(b[23:], p.SetBrightness)
	putBool(b[24:], p.SetKelvin)
}

func (p *WaveformOptional) decode(b []byte) {
	p.Waveform.decode(b[:waveformSize])
	p.SetHue = b[21] != 0
	p.SetSaturation = b[22] != 0
	p.SetBrightness = b[23] != 0
	p.SetKelvin = b[24] != 0
}

type DimAbsolute struct {
	Brightness int16
	Duration   uint32
}

func (p *DimAbsolute) encode(b []byte) {
	le.PutUint16(b[0:], uint16(p.Brightness))
	le.PutUint32(b[2:], p.Duration)
}

func (p *DimAbsolute) decode(b []byte) {
	p.Brightness = int16(le.Uint16(b[0:]))
	p.Duration = le.Uint32(b[2:])
}

type DimRelative struct {
	Brightness int32
	Duration   uint32
}

func (p *DimRelative) encode(b []byte) {
	le.PutUint32(b[0:], uint32(p.Brightness))
	le.PutUint32(b[4:], p.Duration)
}

func (p *DimRelative) decode(b []byte) {
	p.Brightness = int32(le.Uint32(b[0:]))
	p.Duration = le.Uint32(b[4:])
}

type Rgbw struct {
	Red   uint16
	Green uint16
	Blue  uint16
	White uint16
}

func (p *Rgbw) encode(b []byte) {
	le.PutUint16(b[0:], p.Red)
	le.PutUint16(b[2:], p.Green)
	le.PutUint16(b[4:], p.Blue)
	le.PutUint16(b[6:], p.White)
}

func (p *Rgbw) decode(b []byte) {
	p.Red = le.Uint16(b[0:])
	p.Green = le.Uint16(b[2:])
	p.Blue = le.Uint16(b[4:])
	p.White = le.Uint16(b[6:])
}

// LightStatus is the LIGHT_STATE body: the full visible state of a bulb.
type LightStatus struct {
	Color HSBK
	Dim   int16
	Power uint16
	Label string
	Tags  uint64
}

func (p *LightStatus) encode(b []byte) {
	p.Color.encode(b[0:8])
	le.PutUint16(b[8:], uint16(p.Dim))
	le.PutUint16(b[10:], p.Power)
	putString(b[12:12+LabelSize], p.Label)
	le.PutUint64(b[44:], p.Tags)
}

func (p *LightStatus) decode(b []byte) {
	p.Color.decode(b[0:8])
	p.Dim = int16(le.Uint16(b[8:]))
	p.Power = le.Uint16(b[10:])
	p.Label = getString(b[12 : 12+LabelSize])
	p.Tags = le.Uint64(b[44:])
}

// Temperature is in hundredths of a degree Celsius.
type Temperature struct {
	Temperature int16
}

func (p *Temperature) encode(b []byte) { le.PutUint16(b, uint16(p.Temperature)) }
func (p *Temperature) decode(b []byte) { p.Temperature = int16(le.Uint16(b)) }

// CalibrationCoefficients is passed through opaquely; its layout is
// firmware specific.
type CalibrationCoefficients struct {
	Raw [32]byte
}

func (p *CalibrationCoefficients) encode(b []byte) { copy(b, p.Raw[:]) }
func (p *CalibrationCoefficients) decode(b []byte) { copy(p.Raw[:], b) }

// SetSimpleEvent programs alarm slot Index.
type SetSimpleEvent struct {
	Index    uint8
	Time     uint64
	Power    uint16
	Duration uint32
	Waveform Waveform
}

func (p *SetSimpleEvent) encode(b []byte) {
	b[0] = p.Index
	le.PutUint64(b[1:], p.Time)
	le.PutUint16(b[9:], p.Power)
	le.PutUint32(b[11:], p.Duration)
	p.Waveform.encode(b[15 : 15+waveformSize])
}

func (p *SetSimpleEvent) decode(b []byte) {
	p.Index = b[0]
	p.Time = le.Uint64(b[1:])
	p.Power = le.Uint16(b[9:])
	p.Duration = le.Uint32(b[11:])
	p.Waveform.decode(b[15 : 15+waveformSize])
}

type GetSimpleEvent struct {
	Index uint8
}

func (p *GetSimpleEvent) encode(b []byte) { b[0] = p.Index }
func (p *GetSimpleEvent) decode(b []byte) { p.Index = b[0] }

// StateSimpleEvent reports alarm slot Index out of Max slots.
type StateSimpleEvent struct {
	Index    uint8
	Max      uint8
	Time     uint64
	Power    uint16
	Duration uint32
	Waveform Waveform
}

func (p *StateSimpleEvent) encode(b []byte) {
	b[0] = p.Index
	b[1] = p.Max
	le.PutUint64(b[2:], p.Time)
	le.PutUint16(b[10:], p.Power)
	le.PutUint32(b[12:], p.Duration)
	p.Waveform.encode(b[16 : 16+waveformSize])
}

func (p *StateSimpleEvent) decode(b []byte) {
	p.Index = b[0]
	p.Max = b[1]
	p.Time = le.Uint64(b[2:])
	p.Power = le.Uint16(b[10:])
	p.Duration = le.Uint32(b[12:])
	p.Waveform.decode(b[16 : 16+waveformSize])
}

// SetLightPower changes power with a transition of Duration milliseconds.
type SetLightPower struct {
	Level    uint16
	Duration uint32
}

func (p *SetLightPower) encode(b []byte) {
	le.PutUint16(b[0:], p.Level)
	le.PutUint32(b[2:], p.Duration)
}

func (p *SetLightPower) decode(b []byte) {
	p.Level = le.Uint16(b[0:])
	p.Duration = le.Uint32(b[2:])
}

// Wifi interface selectors.
const (
	WifiInterfaceSoftAP  uint8 = 1
	WifiInterfaceStation uint8 = 2
)

type WifiInterface struct {
	Interface uint8
}

func (p *WifiInterface) encode(b []byte) { b[0] = p.Interface }
func (p *WifiInterface) decode(b []byte) { p.Interface = b[0] }

type WifiSetActive struct {
	Interface uint8
	Active    bool
}

func (p *WifiSetActive) encode(b []byte) {
	b[0] = p.Interface
	putBool(b[1:], p.Active)
}

func (p *WifiSetActive) decode(b []byte) {
	p.Interface = b[0]
	p.Active = b[1] != 0
}

type WifiStatus struct {
	Interface uint8
	Status    uint8
	IPv4      uint32
	IPv6      [16]byte
}

func (p *WifiStatus) encode(b []byte) {
	b[0] = p.Interface
	b[1] = p.Status
	le.PutUint32(b[2:], p.IPv4)
	copy(b[6:22], p.IPv6[:])
}

func (p *WifiStatus) decode(b []byte) {
	p.Interface = b[0]
	p.Status = b[1]
	p.IPv4 = le.Uint32(b[2:])
	copy(p.IPv6[:], b[6:22])
}

type SetAccessPoint struct {
	Interface uint8
	SSID      string
	Pass      string
	Security  uint8
}

func (p *SetAccessPoint) encode(b []byte) {
	b[0] = p.Interface
	putString(b[1:33], p.SSID)
	putString(b[33:97], p.Pass)
	b[97] = p.Security
}

func (p *SetAccessPoint) decode(b []byte) {
	p.Interface = b[0]
	p.SSID = getString(b[1:33])
	p.Pass = getString(b[33:97])
	p.Security = b[97]
}

type AccessPoint struct {
	Interface uint8
	SSID      string
	Security  uint8
	Strength  int16
	Channel   uint16
}

func (p *AccessPoint) encode(b []byte) {
	b[0] = p.Interface
	putString(b[1:33], p.SSID)
	b[33] = p.Security
	le.PutUint16(b[34:], uint16(p.Strength))
	le.PutUint16(b[36:], p.Channel)
}

func (p *AccessPoint) decode(b []byte) {
	p.Interface = b[0]
	p.SSID = getString(b[1:33])
	p.Security = b[33]
	p.Strength = int16(le.Uint16(b[34:]))
	p.Channel = le.Uint16(b[36:])
}

type AmbientLight struct {
	Lux float32
}

func (p *AmbientLight) encode(b []byte) { putFloat32(b, p.Lux) }
func (p *AmbientLight) decode(b []byte) { p.Lux = getFloat32(b) }
