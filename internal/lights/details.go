package lights

import (
	"context"
	"fmt"
	"time"

	"lifx-lan/internal/protocol"
)

// detailQueries maps each detail request to the response that answers it.
var detailQueries = []struct {
	get, state protocol.Type
}{
	{protocol.LightGetTemperature, protocol.LightStateTemperature},
	{protocol.DeviceGetInfo, protocol.DeviceStateInfo},
	{protocol.DeviceGetResetSwitch, protocol.DeviceStateResetSwitch},
	{protocol.DeviceGetMeshInfo, protocol.DeviceStateMeshInfo},
	{protocol.DeviceGetMeshFirmware, protocol.DeviceStateMeshFirmware},
	{protocol.DeviceGetWifiInfo, protocol.DeviceStateWifiInfo},
	{protocol.DeviceGetWifiFirmware, protocol.DeviceStateWifiFirmware},
	{protocol.DeviceGetVersion, protocol.DeviceStateVersion},
	{protocol.DeviceGetMcuRailVoltage, protocol.DeviceStateMcuRailVoltage},
}

// InterfaceStat is the radio statistics of the mesh or wifi interface.
type InterfaceStat struct {
	Signal         float32 `json:"signal"`
	Tx             uint32  `json:"tx"`
	Rx             uint32  `json:"rx"`
	McuTemperature int16   `json:"mcu_temperature"`
}

// FirmwareInfo describes the firmware of one interface.
type FirmwareInfo struct {
	Version string    `json:"version"`
	Build   time.Time `json:"build"`
	Install time.Time `json:"install"`
}

// Version is the hardware identity reported by STATE_VERSION.
type Version struct {
	Vendor  uint32 `json:"vendor"`
	Product uint32 `json:"product"`
	Version uint32 `json:"version"`
}

// Details is the telemetry of one light.
type Details struct {
	// Temperature in degrees Celsius.
	Temperature  float64        `json:"temperature"`
	Uptime       time.Duration  `json:"uptime"`
	Downtime     time.Duration  `json:"downtime"`
	ResetSwitch  uint8          `json:"reset_switch"`
	Mesh         *InterfaceStat `json:"mesh,omitempty"`
	Wifi         *InterfaceStat `json:"wifi,omitempty"`
	MeshFirmware *FirmwareInfo  `json:"mesh_firmware,omitempty"`
	WifiFirmware *FirmwareInfo  `json:"wifi_firmware,omitempty"`
	Versions     []Version      `json:"versions,omitempty"`
	// McuRailVoltage in volts.
	McuRailVoltage float64   `json:"mcu_rail_voltage"`
	Updated        time.Time `json:"updated"`
	// Complete is set when every detail query was answered.
	Complete bool `json:"complete"`
}

func firmwareInfo(p *protocol.Firmware) *FirmwareInfo {
	return &FirmwareInfo{
		Version: p.VersionString(),
		Build:   p.BuildTime(),
		Install: time.Unix(0, int64(p.Install)).UTC(),
	}
}

// apply folds a detail response into d. It reports whether m was one.
func (d *Details) apply(m *protocol.Message) bool {
	switch p := m.Payload.(type) {
	case *protocol.Temperature:
		d.Temperature = float64(p.Temperature) / 100
	case *protocol.StateInfo:
		d.Uptime = time.Duration(p.Uptime)
		d.Downtime = time.Duration(p.Downtime)
	case *protocol.StateResetSwitch:
		d.ResetSwitch = p.Position
	case *protocol.InterfaceInfo:
		stat := &InterfaceStat{Signal: p.Signal, Tx: p.Tx, Rx: p.Rx, McuTemperature: p.McuTemperature}
		if m.Type == protocol.DeviceStateMeshInfo {
			d.Mesh = stat
		} else {
			d.Wifi = stat
		}
	case *protocol.Firmware:
		if m.Type == protocol.DeviceStateMeshFirmware {
			d.MeshFirmware = firmwareInfo(p)
		} else {
			d.WifiFirmware = firmwareInfo(p)
		}
	case *protocol.StateVersion:
		v := Version{Vendor: p.Vendor, Product: p.Product, Version: p.Version}
		for _, have := range d.Versions {
			if have == v {
				return true
			}
		}
		d.Versions = append(d.Versions, v)
	case *protocol.Voltage:
		if m.Type != protocol.DeviceStateMcuRailVoltage {
			return false
		}
		d.McuRailVoltage = float64(p.Voltage) / 1000
	default:
		return false
	}
	return true
}

type waitKey struct {
	device protocol.DeviceID
	typ    protocol.Type
}

// waitFor registers interest in the next response of type typ from id.
// The returned channel is closed when it arrives. Caller holds c.mu.
func (c *Collection) waitFor(id protocol.DeviceID, typ protocol.Type) chan struct{} {
	ch := make(chan struct{})
	k := waitKey{device: id, typ: typ}
	c.waiters[k] = append(c.waiters[k], ch)
	return ch
}

// release wakes everyone waiting for typ from id. Caller holds c.mu.
func (c *Collection) release(id protocol.DeviceID, typ protocol.Type) {
	k := waitKey{device: id, typ: typ}
	for _, ch := range c.waiters[k] {
		close(ch)
	}
	delete(c.waiters, k)
}

// dropWaiter forgets ch if it is still registered. Caller holds c.mu.
func (c *Collection) dropWaiter(id protocol.DeviceID, typ protocol.Type, ch chan struct{}) {
	k := waitKey{device: id, typ: typ}
	list := c.waiters[k]
	for i, w := range list {
		if w == ch {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.waiters, k)
	} else {
		c.waiters[k] = list
	}
}

// Details queries the light's telemetry and waits for every answer, for
// ctx to end or for the collection to close. When cut short it returns
// what has arrived so far along with the reason.
func (c *Collection) Details(ctx context.Context, id protocol.DeviceID) (Details, error) {
	c.mu.Lock()
	stop := c.stop
	if stop == nil {
		c.mu.Unlock()
		return Details{}, fmt.Errorf("details %s: %w", id, ErrNotOpen)
	}
	if _, ok := c.lights[id]; !ok {
		c.mu.Unlock()
		return Details{}, fmt.Errorf("details %s: %w", id, ErrUnknownLight)
	}
	waits := make([]chan struct{}, len(detailQueries))
	for i, q := range detailQueries {
		waits[i] = c.waitFor(id, q.state)
	}
	c.mu.Unlock()

	var sendErr error
	for _, q := range detailQueries {
		if err := c.send(protocol.NewMessage(q.get, protocol.ToDevice(id), nil)); err != nil {
			sendErr = err
			break
		}
	}

	var waitErr error
	if sendErr == nil {
	wait:
		for _, ch := range waits {
			select {
			case <-ch:
			case <-ctx.Done():
				waitErr = ctx.Err()
				break wait
			case <-stop:
				waitErr = ErrNotOpen
				break wait
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range detailQueries {
		c.dropWaiter(id, q.state, waits[i])
	}
	l, ok := c.lights[id]
	if !ok {
		return Details{}, fmt.Errorf("details %s: %w", id, ErrUnknownLight)
	}
	d := l.details
	d.Versions = append([]Version(nil), d.Versions...)
	switch {
	case sendErr != nil:
		return d, fmt.Errorf("details %s: %w", id, sendErr)
	case waitErr != nil:
		return d, fmt.Errorf("details %s: %w", id, waitErr)
	}
	d.Complete = true
	return d, nil
}
