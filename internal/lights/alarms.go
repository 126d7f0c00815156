package lights

import (
	"fmt"
	"time"

	"lifx-lan/internal/protocol"
)

// alarmSlots are the slot indexes queried when a light's firmware
// supports alarms.
var alarmSlots = []uint8{0, 1}

// Alarm is one programmed simple event.
type Alarm struct {
	Index    uint8          `json:"index"`
	Time     time.Time      `json:"time"`
	Power    bool           `json:"power"`
	Duration time.Duration  `json:"duration"`
	Color    protocol.Color `json:"color"`
	// Waveform is one of the protocol.Waveform* shapes.
	Waveform uint8 `json:"waveform"`
}

// Enabled reports whether the slot holds a programmed alarm.
func (a Alarm) Enabled() bool {
	return !a.Time.IsZero()
}

func alarmFromState(p *protocol.StateSimpleEvent) Alarm {
	a := Alarm{
		Index:    p.Index,
		Power:    protocol.IsOn(p.Power),
		Duration: time.Duration(p.Duration) * time.Millisecond,
		Color:    protocol.ColorFromHSBK(p.Waveform.Color),
		Waveform: p.Waveform.Waveform,
	}
	if p.Time != 0 {
		a.Time = time.Unix(0, int64(p.Time)).UTC()
	}
	return a
}

func (a Alarm) payload() *protocol.SetSimpleEvent {
	p := &protocol.SetSimpleEvent{
		Index:    a.Index,
		Power:    protocol.PowerLevel(a.Power),
		Duration: uint32(a.Duration / time.Millisecond),
		Waveform: protocol.Waveform{
			Color:    a.Color.HSBK(),
			Cycles:   1,
			Waveform: a.Waveform,
		},
	}
	if !a.Time.IsZero() {
		p.Time = uint64(a.Time.UnixNano())
	}
	return p
}

// setAlarm records the state of one slot, growing the list to max.
func (l *light) setAlarm(p *protocol.StateSimpleEvent) []PropertyChange {
	n := int(p.Max)
	if int(p.Index)+1 > n {
		n = int(p.Index) + 1
	}
	for len(l.alarms) < n {
		l.alarms = append(l.alarms, Alarm{Index: uint8(len(l.alarms))})
	}
	a := alarmFromState(p)
	if l.alarms[p.Index] == a {
		return nil
	}
	l.alarms[p.Index] = a
	return []PropertyChange{l.change(PropAlarms, append([]Alarm(nil), l.alarms...))}
}

// alarmQueries returns the slot queries to send once the firmware is
// known to support alarms, or nil.
func (l *light) alarmQueries(m *protocol.Message) []*protocol.Message {
	fw, ok := m.Payload.(*protocol.Firmware)
	if !ok || m.Type != protocol.DeviceStateWifiFirmware || l.alarmsRequested || !fw.SupportsAlarms() {
		return nil
	}
	l.alarmsRequested = true
	msgs := make([]*protocol.Message, 0, len(alarmSlots))
	for _, idx := range alarmSlots {
		msgs = append(msgs, protocol.NewMessage(protocol.LightGetSimpleEvent,
			protocol.ToDevice(l.id), &protocol.GetSimpleEvent{Index: idx}))
	}
	return msgs
}

// Alarms returns the known alarm slots of a light.
func (c *Collection) Alarms(id protocol.DeviceID) ([]Alarm, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lights[id]
	if !ok {
		return nil, fmt.Errorf("alarms %s: %w", id, ErrUnknownLight)
	}
	return append([]Alarm(nil), l.alarms...), nil
}

// SetAlarm programs alarm slot index of a light. The slot must be one
// the light has reported.
func (c *Collection) SetAlarm(id protocol.DeviceID, index uint8, a Alarm) error {
	a.Index = index
	c.mu.Lock()
	l, ok := c.lights[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("set alarm %s: %w", id, ErrUnknownLight)
	}
	if int(index) >= len(l.alarms) {
		n := len(l.alarms)
		c.mu.Unlock()
		return fmt.Errorf("set alarm %d on %s (%d slots): %w", index, id, n, ErrBadAlarmIndex)
	}
	p := a.payload()
	changes := l.setAlarm(&protocol.StateSimpleEvent{
		Index:    p.Index,
		Max:      uint8(len(l.alarms)),
		Time:     p.Time,
		Power:    p.Power,
		Duration: p.Duration,
		Waveform: p.Waveform,
	})
	c.mu.Unlock()

	if err := c.sendRepeated(protocol.NewMessage(protocol.LightSetSimpleEvent, protocol.ToDevice(id), p)); err != nil {
		return fmt.Errorf("set alarm %s: %w", id, err)
	}
	c.emitChanges(changes)
	return nil
}

// ClearAlarm disables alarm slot index of a light.
func (c *Collection) ClearAlarm(id protocol.DeviceID, index uint8) error {
	return c.SetAlarm(id, index, Alarm{})
}
