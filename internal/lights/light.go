package lights

import (
	"time"

	"lifx-lan/internal/protocol"
)

// Property names carried by light_updated events.
const (
	PropLabel  = "label"
	PropColor  = "color"
	PropPower  = "power"
	PropTime   = "time"
	PropTags   = "tags"
	PropAlarms = "alarms"
)

// loadedBy are the responses a light needs before it counts as loaded.
var loadedBy = []protocol.Type{
	protocol.LightState,
	protocol.DeviceStateLabel,
	protocol.DeviceStatePower,
	protocol.DeviceStateTime,
}

// Light is a snapshot of one light.
type Light struct {
	ID       protocol.DeviceID `json:"id"`
	Label    string            `json:"label"`
	Power    bool              `json:"power"`
	Color    protocol.Color    `json:"color"`
	Time     time.Time         `json:"time"`
	Tags     []protocol.TagID  `json:"tags"`
	Groups   []string          `json:"groups"`
	Loaded   bool              `json:"loaded"`
	LastSeen time.Time         `json:"last_seen"`
}

type light struct {
	id       protocol.DeviceID
	label    string
	power    bool
	color    protocol.Color
	time     time.Time
	tags     uint64
	lastSeen time.Time
	waiting  map[protocol.Type]bool

	details         Details
	alarms          []Alarm
	alarmsRequested bool
}

func newLight(id protocol.DeviceID, now time.Time) *light {
	l := &light{id: id, lastSeen: now, waiting: make(map[protocol.Type]bool, len(loadedBy))}
	for _, t := range loadedBy {
		l.waiting[t] = true
	}
	return l
}

func (l *light) loaded() bool {
	return len(l.waiting) == 0
}

func (l *light) lost(now time.Time, timeout time.Duration) bool {
	return now.Sub(l.lastSeen) > timeout
}

func (l *light) change(property string, value any) PropertyChange {
	return PropertyChange{ID: l.id, Property: property, Value: value}
}

func (l *light) setLabel(label string) []PropertyChange {
	if l.label == label {
		return nil
	}
	l.label = label
	return []PropertyChange{l.change(PropLabel, label)}
}

func (l *light) setPower(on bool) []PropertyChange {
	if l.power == on {
		return nil
	}
	l.power = on
	return []PropertyChange{l.change(PropPower, on)}
}

func (l *light) setColor(c protocol.Color) []PropertyChange {
	if l.color == c {
		return nil
	}
	l.color = c
	return []PropertyChange{l.change(PropColor, c)}
}

func (l *light) setTime(ns uint64) []PropertyChange {
	t := time.Unix(0, int64(ns)).UTC()
	if l.time.Equal(t) {
		return nil
	}
	l.time = t
	return []PropertyChange{l.change(PropTime, t)}
}

func (l *light) setTags(tags uint64) []PropertyChange {
	if l.tags == tags {
		return nil
	}
	l.tags = tags
	return []PropertyChange{l.change(PropTags, protocol.UnpackTags(tags))}
}

// apply folds one inbound message into the light and returns the
// property changes it caused.
func (l *light) apply(m *protocol.Message, now time.Time) []PropertyChange {
	l.lastSeen = now

	var changes []PropertyChange
	switch p := m.Payload.(type) {
	case *protocol.LightStatus:
		if m.Type == protocol.LightState {
			changes = append(changes, l.setLabel(p.Label)...)
			changes = append(changes, l.setColor(protocol.ColorFromHSBK(p.Color))...)
			changes = append(changes, l.setPower(protocol.IsOn(p.Power))...)
		}
	case *protocol.Label:
		if m.Type == protocol.DeviceStateLabel {
			changes = l.setLabel(p.Label)
		}
	case *protocol.Power:
		if m.Type == protocol.DeviceStatePower || m.Type == protocol.LightStatePower {
			changes = l.setPower(protocol.IsOn(p.Level))
		}
	case *protocol.Time:
		if m.Type == protocol.DeviceStateTime {
			changes = l.setTime(p.Time)
		}
	case *protocol.StateInfo:
		changes = l.setTime(p.Time)
	case *protocol.Tags:
		if m.Type == protocol.DeviceStateTags {
			changes = l.setTags(p.Tags)
		}
	case *protocol.StateSimpleEvent:
		changes = l.setAlarm(p)
	}

	if l.details.apply(m) {
		l.details.Updated = now
	}
	delete(l.waiting, m.Type)
	return changes
}

func (l *light) snapshot(groups *[protocol.MaxTags]string) Light {
	s := Light{
		ID:       l.id,
		Label:    l.label,
		Power:    l.power,
		Color:    l.color,
		Time:     l.time,
		Tags:     protocol.UnpackTags(l.tags),
		Loaded:   l.loaded(),
		LastSeen: l.lastSeen,
	}
	for _, tag := range s.Tags {
		if label := groups[tag]; label != "" {
			s.Groups = append(s.Groups, label)
		}
	}
	return s
}
