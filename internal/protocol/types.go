package protocol

import "fmt"

// Type is the 16-bit message type code carried at header offset 32.
type Type uint16

// Device messages.
const (
	DeviceSetSite                Type = 1
	DeviceGetPanGateway          Type = 2
	DeviceStatePanGateway        Type = 3
	DeviceGetTime                Type = 4
	DeviceSetTime                Type = 5
	DeviceStateTime              Type = 6
	DeviceGetResetSwitch         Type = 7
	DeviceStateResetSwitch       Type = 8
	DeviceGetDummyLoad           Type = 9
	DeviceSetDummyLoad           Type = 10
	DeviceStateDummyLoad         Type = 11
	DeviceGetMeshInfo            Type = 12
	DeviceStateMeshInfo          Type = 13
	DeviceGetMeshFirmware        Type = 14
	DeviceStateMeshFirmware      Type = 15
	DeviceGetWifiInfo            Type = 16
	DeviceStateWifiInfo          Type = 17
	DeviceGetWifiFirmware        Type = 18
	DeviceStateWifiFirmware      Type = 19
	DeviceGetPower               Type = 20
	DeviceSetPower               Type = 21
	DeviceStatePower             Type = 22
	DeviceGetLabel               Type = 23
	DeviceSetLabel               Type = 24
	DeviceStateLabel             Type = 25
	DeviceGetTags                Type = 26
	DeviceSetTags                Type = 27
	DeviceStateTags              Type = 28
	DeviceGetTagLabels           Type = 29
	DeviceSetTagLabels           Type = 30
	DeviceStateTagLabels         Type = 31
	DeviceGetVersion             Type = 32
	DeviceStateVersion           Type = 33
	DeviceGetInfo                Type = 34
	DeviceStateInfo              Type = 35
	DeviceGetMcuRailVoltage      Type = 36
	DeviceStateMcuRailVoltage    Type = 37
	DeviceReboot                 Type = 38
	DeviceSetFactoryTestMode     Type = 39
	DeviceDisableFactoryTestMode Type = 40
	DeviceStateFactoryTestMode   Type = 41
	DeviceStateSite              Type = 42
	DeviceStateReboot            Type = 43
	DeviceSetPanGateway          Type = 44
	DeviceAcknowledgement        Type = 45
)

// Light messages.
const (
	LightGet                        Type = 101
	LightSet                        Type = 102
	LightSetWaveform                Type = 103
	LightSetDimAbsolute             Type = 104
	LightSetDimRelative             Type = 105
	LightSetRgbw                    Type = 106
	LightState                      Type = 107
	LightGetRailVoltage             Type = 108
	LightStateRailVoltage           Type = 109
	LightGetTemperature             Type = 110
	LightStateTemperature           Type = 111
	LightSetCalibrationCoefficients Type = 112
	LightSetSimpleEvent             Type = 113
	LightGetSimpleEvent             Type = 114
	LightStateSimpleEvent           Type = 115
	LightGetPower                   Type = 116
	LightSetPower                   Type = 117
	LightStatePower                 Type = 118
	LightSetWaveformOptional        Type = 119
)

// WiFi messages.
const (
	WifiGet               Type = 301
	WifiSet               Type = 302
	WifiState             Type = 303
	WifiGetAccessPoints   Type = 304
	WifiSetAccessPoint    Type = 305
	WifiStateAccessPoints Type = 306
	WifiGetAccessPoint    Type = 307
	WifiStateAccessPoint  Type = 308
)

// Sensor messages.
const (
	SensorGetAmbientLight    Type = 401
	SensorStateAmbientLight  Type = 402
	SensorGetDimmerVoltage   Type = 403
	SensorStateDimmerVoltage Type = 404
)

// typeInfo is one row of the static type table.
type typeInfo struct {
	name     string
	size     int
	payload  func() Payload // nil when the type carries no payload
	accepts  func(Payload) bool
	response bool
	expects  Type // response type a tracked request waits for; 0 = untracked
	mutation bool // state-changing command, sent at high priority
}

func empty(name string) typeInfo {
	return typeInfo{name: name}
}

func request(name string, expects Type) typeInfo {
	return typeInfo{name: name, expects: expects}
}

func shaped[P Payload](name string, size int, p func() P) typeInfo {
	return typeInfo{
		name:    name,
		size:    size,
		payload: func() Payload { return p() },
		accepts: func(x Payload) bool {
			_, ok := x.(P)
			return ok
		},
	}
}

func state[P Payload](name string, size int, p func() P) typeInfo {
	ti := shaped(name, size, p)
	ti.response = true
	return ti
}

func set[P Payload](name string, size int, p func() P) typeInfo {
	ti := shaped(name, size, p)
	ti.mutation = true
	return ti
}

var types = map[Type]typeInfo{
	DeviceSetSite:                set("DEVICE_SET_SITE", 6, func() *SetSite { return &SetSite{} }),
	DeviceGetPanGateway:          request("DEVICE_GET_PAN_GATEWAY", DeviceStatePanGateway),
	DeviceStatePanGateway:        state("DEVICE_STATE_PAN_GATEWAY", 5, func() *StatePanGateway { return &StatePanGateway{} }),
	DeviceGetTime:                request("DEVICE_GET_TIME", DeviceStateTime),
	DeviceSetTime:                set("DEVICE_SET_TIME", 8, func() *Time { return &Time{} }),
	DeviceStateTime:              state("DEVICE_STATE_TIME", 8, func() *Time { return &Time{} }),
	DeviceGetResetSwitch:         request("DEVICE_GET_RESET_SWITCH", DeviceStateResetSwitch),
	DeviceStateResetSwitch:       state("DEVICE_STATE_RESET_SWITCH", 1, func() *StateResetSwitch { return &StateResetSwitch{} }),
	DeviceGetDummyLoad:           request("DEVICE_GET_DUMMY_LOAD", DeviceStateDummyLoad),
	DeviceSetDummyLoad:           set("DEVICE_SET_DUMMY_LOAD", 1, func() *DummyLoad { return &DummyLoad{} }),
	DeviceStateDummyLoad:         state("DEVICE_STATE_DUMMY_LOAD", 1, func() *DummyLoad { return &DummyLoad{} }),
	DeviceGetMeshInfo:            request("DEVICE_GET_MESH_INFO", DeviceStateMeshInfo),
	DeviceStateMeshInfo:          state("DEVICE_STATE_MESH_INFO", 14, func() *InterfaceInfo { return &InterfaceInfo{} }),
	DeviceGetMeshFirmware:        request("DEVICE_GET_MESH_FIRMWARE", DeviceStateMeshFirmware),
	DeviceStateMeshFirmware:      state("DEVICE_STATE_MESH_FIRMWARE", 20, func() *Firmware { return &Firmware{} }),
	DeviceGetWifiInfo:            request("DEVICE_GET_WIFI_INFO", DeviceStateWifiInfo),
	DeviceStateWifiInfo:          state("DEVICE_STATE_WIFI_INFO", 14, func() *InterfaceInfo { return &InterfaceInfo{} }),
	DeviceGetWifiFirmware:        request("DEVICE_GET_WIFI_FIRMWARE", DeviceStateWifiFirmware),
	DeviceStateWifiFirmware:      state("DEVICE_STATE_WIFI_FIRMWARE", 20, func() *Firmware { return &Firmware{} }),
	DeviceGetPower:               request("DEVICE_GET_POWER", DeviceStatePower),
	DeviceSetPower:               set("DEVICE_SET_POWER", 2, func() *Power { return &Power{} }),
	DeviceStatePower:             state("DEVICE_STATE_POWER", 2, func() *Power { return &Power{} }),
	DeviceGetLabel:               request("DEVICE_GET_LABEL", DeviceStateLabel),
	DeviceSetLabel:               set("DEVICE_SET_LABEL", 32, func() *Label { return &Label{} }),
	DeviceStateLabel:             state("DEVICE_STATE_LABEL", 32, func() *Label { return &Label{} }),
	DeviceGetTags:                request("DEVICE_GET_TAGS", DeviceStateTags),
	DeviceSetTags:                set("DEVICE_SET_TAGS", 8, func() *Tags { return &Tags{} }),
	DeviceStateTags:              state("DEVICE_STATE_TAGS", 8, func() *Tags { return &Tags{} }),
	DeviceGetTagLabels:           shaped("DEVICE_GET_TAG_LABELS", 8, func() *Tags { return &Tags{} }),
	DeviceSetTagLabels:           set("DEVICE_SET_TAG_LABELS", 40, func() *TagLabels { return &TagLabels{} }),
	DeviceStateTagLabels:         state("DEVICE_STATE_TAG_LABELS", 40, func() *TagLabels { return &TagLabels{} }),
	DeviceGetVersion:             request("DEVICE_GET_VERSION", DeviceStateVersion),
	DeviceStateVersion:           state("DEVICE_STATE_VERSION", 12, func() *StateVersion { return &StateVersion{} }),
	DeviceGetInfo:                request("DEVICE_GET_INFO", DeviceStateInfo),
	DeviceStateInfo:              state("DEVICE_STATE_INFO", 24, func() *StateInfo { return &StateInfo{} }),
	DeviceGetMcuRailVoltage:      request("DEVICE_GET_MCU_RAIL_VOLTAGE", DeviceStateMcuRailVoltage),
	DeviceStateMcuRailVoltage:    state("DEVICE_STATE_MCU_RAIL_VOLTAGE", 4, func() *Voltage { return &Voltage{} }),
	DeviceReboot:                 empty("DEVICE_REBOOT"),
	DeviceSetFactoryTestMode:     set("DEVICE_SET_FACTORY_TEST_MODE", 1, func() *FactoryTestMode { return &FactoryTestMode{} }),
	DeviceDisableFactoryTestMode: empty("DEVICE_DISABLE_FACTORY_TEST_MODE"),
	DeviceStateFactoryTestMode:   state("DEVICE_STATE_FACTORY_TEST_MODE", 1, func() *FactoryTestMode { return &FactoryTestMode{} }),
	DeviceStateSite:              state("DEVICE_STATE_SITE", 6, func() *SetSite { return &SetSite{} }),
	DeviceStateReboot:            {name: "DEVICE_STATE_REBOOT", response: true},
	DeviceSetPanGateway:          shaped("DEVICE_SET_PAN_GATEWAY", 5, func() *StatePanGateway { return &StatePanGateway{} }),
	DeviceAcknowledgement:        {name: "DEVICE_ACKNOWLEDGEMENT", response: true},

	LightGet:                        request("LIGHT_GET", LightState),
	LightSet:                        set("LIGHT_SET", 13, func() *SetColor { return &SetColor{} }),
	LightSetWaveform:                set("LIGHT_SET_WAVEFORM", 21, func() *Waveform { return &Waveform{} }),
	LightSetDimAbsolute:             set("LIGHT_SET_DIM_ABSOLUTE", 6, func() *DimAbsolute { return &DimAbsolute{} }),
	LightSetDimRelative:             set("LIGHT_SET_DIM_RELATIVE", 8, func() *DimRelative { return &DimRelative{} }),
	LightSetRgbw:                    set("LIGHT_SET_RGBW", 8, func() *Rgbw { return &Rgbw{} }),
	LightState:                      state("LIGHT_STATE", 52, func() *LightStatus { return &LightStatus{} }),
	LightGetRailVoltage:             request("LIGHT_GET_RAIL_VOLTAGE", LightStateRailVoltage),
	LightStateRailVoltage:           state("LIGHT_STATE_RAIL_VOLTAGE", 4, func() *Voltage { return &Voltage{} }),
	LightGetTemperature:             request("LIGHT_GET_TEMPERATURE", LightStateTemperature),
	LightStateTemperature:           state("LIGHT_STATE_TEMPERATURE", 2, func() *Temperature { return &Temperature{} }),
	LightSetCalibrationCoefficients: set("LIGHT_SET_CALIBRATION_COEFFICIENTS", 32, func() *CalibrationCoefficients { return &CalibrationCoefficients{} }),
	LightSetSimpleEvent:             set("LIGHT_SET_SIMPLE_EVENT", 36, func() *SetSimpleEvent { return &SetSimpleEvent{} }),
	LightGetSimpleEvent:             shaped("LIGHT_GET_SIMPLE_EVENT", 1, func() *GetSimpleEvent { return &GetSimpleEvent{} }),
	LightStateSimpleEvent:           state("LIGHT_STATE_SIMPLE_EVENT", 37, func() *StateSimpleEvent { return &StateSimpleEvent{} }),
	LightGetPower:                   request("LIGHT_GET_POWER", LightStatePower),
	LightSetPower:                   set("LIGHT_SET_POWER", 6, func() *SetLightPower { return &SetLightPower{} }),
	LightStatePower:                 state("LIGHT_STATE_POWER", 2, func() *Power { return &Power{} }),
	LightSetWaveformOptional:        set("LIGHT_SET_WAVEFORM_OPTIONAL", 25, func() *WaveformOptional { return &WaveformOptional{} }),

	WifiGet:               withExpect(shaped("WIFI_GET", 1, func() *WifiInterface { return &WifiInterface{} }), WifiState),
	WifiSet:               set("WIFI_SET", 2, func() *WifiSetActive { return &WifiSetActive{} }),
	WifiState:             state("WIFI_STATE", 22, func() *WifiStatus { return &WifiStatus{} }),
	WifiGetAccessPoints:   empty("WIFI_GET_ACCESS_POINTS"),
	WifiSetAccessPoint:    set("WIFI_SET_ACCESS_POINT", 98, func() *SetAccessPoint { return &SetAccessPoint{} }),
	WifiStateAccessPoints: state("WIFI_STATE_ACCESS_POINTS", 38, func() *AccessPoint { return &AccessPoint{} }),
	WifiGetAccessPoint:    request("WIFI_GET_ACCESS_POINT", WifiStateAccessPoint),
	WifiStateAccessPoint:  state("WIFI_STATE_ACCESS_POINT", 38, func() *AccessPoint { return &AccessPoint{} }),

	SensorGetAmbientLight:    request("SENSOR_GET_AMBIENT_LIGHT", SensorStateAmbientLight),
	SensorStateAmbientLight:  state("SENSOR_STATE_AMBIENT_LIGHT", 4, func() *AmbientLight { return &AmbientLight{} }),
	SensorGetDimmerVoltage:   request("SENSOR_GET_DIMMER_VOLTAGE", SensorStateDimmerVoltage),
	SensorStateDimmerVoltage: state("SENSOR_STATE_DIMMER_VOLTAGE", 4, func() *Voltage { return &Voltage{} }),
}

func withExpect(ti typeInfo, t Type) typeInfo {
	ti.expects = t
	return ti
}

// Known reports whether t is in the type table.
func (t Type) Known() bool {
	_, ok := types[t]
	return ok
}

func (t Type) String() string {
	if ti, ok := types[t]; ok {
		return ti.name
	}
	return fmt.Sprintf("TYPE_%d", uint16(t))
}

// IsResponse reports whether t is a state/response frame a client should act on.
func (t Type) IsResponse() bool {
	return types[t].response
}

// IsMutation reports whether t changes device state. Such commands are
// queued ahead of queries.
func (t Type) IsMutation() bool {
	return types[t].mutation
}

// ExpectedResponse returns the response type a tracked request waits for.
// Requests that carry arguments (tag labels, simple events) are not tracked
// because their responses cannot be matched on type alone.
func (t Type) ExpectedResponse() (Type, bool) {
	exp := types[t].expects
	return exp, exp != 0
}

// PayloadSize returns the fixed payload size registered for t.
func (t Type) PayloadSize() int {
	return types[t].size
}

// NewPayload returns an empty payload of the shape registered for t, or nil
// when t carries no payload.
func (t Type) NewPayload() Payload {
	ti, ok := types[t]
	if !ok || ti.payload == nil {
		return nil
	}
	return ti.payload()
}
