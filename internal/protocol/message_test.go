package protocol

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

var (
	testSite   = SiteID{0x4C, 0x49, 0x46, 0x58, 0x56, 0x32}
	testDevice = DeviceID{0xD0, 0x73, 0xD5, 0x00, 0x13, 0x37}
)

func TestEncodeHeaderLayout(t *testing.T) {
	m := NewPathMessage(DeviceSetPower, BinaryPath{Site: testSite, Target: DeviceTargetID(testDevice)}, &Power{Level: 1})
	m.AtTime = 0x0102030405060708

	b, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(b) != HeaderSize+2 {
		t.Fatalf("len = %d, want %d", len(b), HeaderSize+2)
	}
	if got := le.Uint16(b[0:]); got != uint16(len(b)) {
		t.Errorf("size field = %d, want %d", got, len(b))
	}
	proto := le.Uint16(b[2:])
	if proto&flagAddressable == 0 {
		t.Error("addressable bit not set")
	}
	if proto&flagTagged != 0 {
		t.Error("tagged bit set for device target")
	}
	if proto&versionMask != CurrentProtocol {
		t.Errorf("version = %d, want %d", proto&versionMask, CurrentProtocol)
	}
	if !bytes.Equal(b[8:14], testDevice[:]) {
		t.Errorf("target = %X, want %X", b[8:14], testDevice[:])
	}
	if !bytes.Equal(b[16:22], testSite[:]) {
		t.Errorf("site = %X, want %X", b[16:22], testSite[:])
	}
	if got := le.Uint64(b[24:]); got != m.AtTime {
		t.Errorf("at-time = %X", got)
	}
	if got := Type(le.Uint16(b[32:])); got != DeviceSetPower {
		t.Errorf("type = %v", got)
	}
	if got := le.Uint16(b[36:]); got != 1 {
		t.Errorf("power level = %d", got)
	}
}

func TestEncodeBroadcastIsTagged(t *testing.T) {
	m := NewPathMessage(LightGet, BroadcastPath(testSite), nil)
	b, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	proto := le.Uint16(b[2:])
	if proto&flagTagged == 0 {
		t.Error("broadcast must set the tagged bit")
	}
	if le.Uint64(b[8:]) != 0 {
		t.Error("broadcast bitfield must be zero")
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{"device get", NewPathMessage(DeviceGetLabel, BinaryPath{Site: testSite, Target: DeviceTargetID(testDevice)}, nil)},
		{"broadcast", NewPathMessage(LightGet, BroadcastPath(testSite), nil)},
		{"tag set", NewPathMessage(DeviceGetTagLabels, BinaryPath{Site: testSite, Target: TagsTargetID(0x8000000000000005)}, &Tags{Tags: AllTags})},
		{"label", NewPathMessage(DeviceStateLabel, BinaryPath{Site: testSite, Target: DeviceTargetID(testDevice)}, &Label{Label: "Kitchen"})},
		{"pan gateway", NewPathMessage(DeviceStatePanGateway, BinaryPath{Site: testSite, Target: DeviceTargetID(testDevice)}, &StatePanGateway{Service: ServiceUDP, Port: 56700})},
		{"light state", NewPathMessage(LightState, BinaryPath{Site: testSite, Target: DeviceTargetID(testDevice)}, &LightStatus{
			Color: HSBK{Hue: 21845, Saturation: 65535, Brightness: 32768, Kelvin: 3500},
			Dim:   -3, Power: 65535, Label: "Desk", Tags: 0x11,
		})},
		{"set color", NewPathMessage(LightSet, BroadcastPath(testSite), &SetColor{Color: HSBK{Hue: 100, Kelvin: 2700}, Duration: 250})},
		{"simple event", NewPathMessage(LightStateSimpleEvent, BinaryPath{Site: testSite, Target: DeviceTargetID(testDevice)}, &StateSimpleEvent{
			Index: 1, Max: 2, Time: 1_400_000_000_000_000_000, Power: 1, Duration: 5000,
			Waveform: Waveform{Transient: true, Color: HSBK{Brightness: 100}, Period: 1000, Cycles: 2.5, SkewRatio: -100, Waveform: WaveformPulse},
		})},
		{"waveform optional", NewPathMessage(LightSetWaveformOptional, BroadcastPath(testSite), &WaveformOptional{
			Waveform: Waveform{Cycles: 1, Period: 500, Waveform: WaveformSine}, SetHue: true, SetKelvin: true,
		})},
		{"access point", NewPathMessage(WifiStateAccessPoint, BinaryPath{Site: testSite, Target: DeviceTargetID(testDevice)}, &AccessPoint{
			Interface: WifiInterfaceStation, SSID: "home", Security: 4, Strength: -60, Channel: 11,
		})},
		{"firmware", NewPathMessage(DeviceStateWifiFirmware, BinaryPath{Site: testSite, Target: DeviceTargetID(testDevice)}, &Firmware{Build: 42, Install: 7, Version: 1<<16 | 5})},
		{"ambient light", NewPathMessage(SensorStateAmbientLight, BinaryPath{Site: testSite, Target: DeviceTargetID(testDevice)}, &AmbientLight{Lux: 312.5})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.msg.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Type != tt.msg.Type {
				t.Errorf("type = %v, want %v", got.Type, tt.msg.Type)
			}
			if *got.Path != *tt.msg.Path {
				t.Errorf("path = %v, want %v", got.Path, tt.msg.Path)
			}
			if int(got.Size) != len(b) {
				t.Errorf("size = %d, want %d", got.Size, len(b))
			}
			want := tt.msg.Payload
			if want == nil {
				want = tt.msg.Type.NewPayload()
			}
			if !reflect.DeepEqual(got.Payload, want) {
				t.Errorf("payload = %+v, want %+v", got.Payload, want)
			}
		})
	}
}

func TestDecodeRejectsNonAddressable(t *testing.T) {
	b, _ := NewPathMessage(LightGet, BroadcastPath(testSite), nil).Encode()
	le.PutUint16(b[2:], le.Uint16(b[2:])&^flagAddressable)
	if _, err := Decode(b); !errors.Is(err, ErrNotAddressable) {
		t.Errorf("err = %v, want ErrNotAddressable", err)
	}
}

func TestDecodeShortFrame(t *testing.T) {
	if _, err := Decode(make([]byte, 20)); !errors.Is(err, ErrShortFrame) {
		t.Errorf("err = %v, want ErrShortFrame", err)
	}
}

func TestDecodeShortPayload(t *testing.T) {
	b, _ := NewPathMessage(DeviceStateLabel, BroadcastPath(testSite), &Label{Label: "x"}).Encode()
	if _, err := Decode(b[:HeaderSize+10]); !errors.Is(err, ErrShortPayload) {
		t.Errorf("err = %v, want ErrShortPayload", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	b, _ := NewPathMessage(LightGet, BroadcastPath(testSite), nil).Encode()
	le.PutUint16(b[32:], 9999)
	if _, err := Decode(b); !errors.Is(err, ErrUnknownType) {
		t.Errorf("err = %v, want ErrUnknownType", err)
	}
}

func TestDecodeForeignVersionIsLegacy(t *testing.T) {
	m := NewPathMessage(DeviceStateLabel, BinaryPath{Site: testSite, Target: DeviceTargetID(testDevice)}, &Label{Label: "old"})
	m.Protocol = 13
	m.AtTime = 99
	b, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Legacy {
		t.Error("expected Legacy")
	}
	if got.Payload != nil {
		t.Error("legacy frame must not decode a payload")
	}
	if got.AtTime != 0 {
		t.Errorf("at-time = %d, want 0", got.AtTime)
	}
	if got.Path.Target.Device() != testDevice {
		t.Error("header path should still decode")
	}
}

func TestEncodeErrors(t *testing.T) {
	if _, err := NewMessage(LightGet, Broadcast(), nil).Encode(); !errors.Is(err, ErrNoPath) {
		t.Errorf("unresolved: err = %v, want ErrNoPath", err)
	}
	if _, err := NewPathMessage(DeviceSetPower, BroadcastPath(testSite), &Label{}).Encode(); !errors.Is(err, ErrPayloadMismatch) {
		t.Errorf("mismatch: err = %v, want ErrPayloadMismatch", err)
	}
	if _, err := NewPathMessage(Type(5000), BroadcastPath(testSite), nil).Encode(); !errors.Is(err, ErrUnknownType) {
		t.Errorf("unknown: err = %v, want ErrUnknownType", err)
	}
}

func TestContentHashIgnoresAtTime(t *testing.T) {
	m := NewPathMessage(LightSet, BroadcastPath(testSite), &SetColor{Color: HSBK{Hue: 1}})
	a, _ := m.Hash()
	m.AtTime = 123456789
	b, _ := m.Hash()
	if a != b {
		t.Error("hash changed with at-time")
	}
	m.Payload = &SetColor{Color: HSBK{Hue: 2}}
	c, _ := m.Hash()
	if a == c {
		t.Error("hash did not change with payload")
	}
}

func TestLabelTruncation(t *testing.T) {
	long := "abcdefghijklmnopqrstuvwxyz0123456789"
	b, err := NewPathMessage(DeviceSetLabel, BroadcastPath(testSite), &Label{Label: long}).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if l := got.Payload.(*Label).Label; l != long[:LabelSize] {
		t.Errorf("label = %q", l)
	}
}

func TestTypeTable(t *testing.T) {
	tests := []struct {
		typ      Type
		response bool
		mutation bool
		expects  Type
	}{
		{DeviceGetPanGateway, false, false, DeviceStatePanGateway},
		{DeviceStatePanGateway, true, false, 0},
		{LightGet, false, false, LightState},
		{LightSet, false, true, 0},
		{DeviceSetTags, false, true, 0},
		{DeviceGetTagLabels, false, false, 0},
		{LightGetSimpleEvent, false, false, 0},
		{WifiGet, false, false, WifiState},
		{SensorGetDimmerVoltage, false, false, SensorStateDimmerVoltage},
		{DeviceAcknowledgement, true, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			if got := tt.typ.IsResponse(); got != tt.response {
				t.Errorf("IsResponse = %v", got)
			}
			if got := tt.typ.IsMutation(); got != tt.mutation {
				t.Errorf("IsMutation = %v", got)
			}
			exp, ok := tt.typ.ExpectedResponse()
			if exp != tt.expects || ok != (tt.expects != 0) {
				t.Errorf("ExpectedResponse = %v, %v", exp, ok)
			}
		})
	}
}

func TestTypeTableSizesMatchPayloads(t *testing.T) {
	for typ, ti := range types {
		if ti.payload == nil {
			if ti.size != 0 {
				t.Errorf("%v: size %d without payload", typ, ti.size)
			}
			continue
		}
		b, err := NewPathMessage(typ, BroadcastPath(testSite), nil).Encode()
		if err != nil {
			t.Errorf("%v: %v", typ, err)
			continue
		}
		if len(b) != HeaderSize+ti.size {
			t.Errorf("%v: encoded %d bytes, want %d", typ, len(b), HeaderSize+ti.size)
		}
	}
}

func TestTypeTableAcceptsOwnPayload(t *testing.T) {
	for typ, ti := range types {
		if ti.payload == nil {
			continue
		}
		own := ti.payload()
		if !ti.accepts(own) {
			t.Errorf("%v: rejects %T", typ, own)
		}
		var foreign Payload = &Power{}
		if _, ok := own.(*Power); ok {
			foreign = &Label{}
		}
		if ti.accepts(foreign) {
			t.Errorf("%v: accepts %T", typ, foreign)
		}
	}
}
