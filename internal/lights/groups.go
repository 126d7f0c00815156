package lights

import (
	"fmt"
	"sort"
	"time"

	"lifx-lan/internal/protocol"
)

// Group power summaries.
const (
	GroupPowerOn    = "on"
	GroupPowerOff   = "off"
	GroupPowerMixed = "mixed"
)

// Group is a labeled tag and the lights carrying it.
type Group struct {
	Tag    protocol.TagID      `json:"tag"`
	Label  string              `json:"label"`
	Lights []protocol.DeviceID `json:"lights"`
	Power  string              `json:"power"`
}

// group builds the snapshot of tag. Caller holds c.mu.
func (c *Collection) group(tag protocol.TagID) Group {
	g := Group{Tag: tag, Label: c.groups[tag], Lights: []protocol.DeviceID{}}
	on, off := 0, 0
	for id, l := range c.lights {
		if l.tags&tag.Bit() == 0 {
			continue
		}
		g.Lights = append(g.Lights, id)
		if l.power {
			on++
		} else {
			off++
		}
	}
	sort.Slice(g.Lights, func(i, j int) bool { return g.Lights[i].String() < g.Lights[j].String() })
	switch {
	case on > 0 && off > 0:
		g.Power = GroupPowerMixed
	case on > 0:
		g.Power = GroupPowerOn
	default:
		g.Power = GroupPowerOff
	}
	return g
}

// findGroup returns the tag labeled label. Caller holds c.mu.
func (c *Collection) findGroup(label string) (protocol.TagID, bool) {
	for i, l := range c.groups {
		if l != "" && l == label {
			return protocol.TagID(i), true
		}
	}
	return 0, false
}

// Groups returns every labeled group in tag order.
func (c *Collection) Groups() []Group {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Group
	for i, label := range c.groups {
		if label != "" {
			out = append(out, c.group(protocol.TagID(i)))
		}
	}
	return out
}

// Group returns the group labeled label.
func (c *Collection) Group(label string) (Group, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tag, ok := c.findGroup(label)
	if !ok {
		return Group{}, fmt.Errorf("group %q: %w", label, ErrUnknownGroup)
	}
	return c.group(tag), nil
}

func validLabel(label string) error {
	switch {
	case label == "":
		return ErrEmptyLabel
	case len(label) > protocol.LabelSize:
		return ErrLabelTooLong
	}
	return nil
}

// AddGroup returns the group labeled label, claiming the first unlabeled
// tag for it when there is none yet.
func (c *Collection) AddGroup(label string) (Group, error) {
	if err := validLabel(label); err != nil {
		return Group{}, fmt.Errorf("add group %q: %w", label, err)
	}

	c.mu.Lock()
	if tag, ok := c.findGroup(label); ok {
		g := c.group(tag)
		c.mu.Unlock()
		return g, nil
	}
	if c.sender == nil {
		c.mu.Unlock()
		return Group{}, fmt.Errorf("add group %q: %w", label, ErrNotOpen)
	}
	free := -1
	for i, l := range c.groups {
		if l == "" {
			free = i
			break
		}
	}
	if free < 0 {
		c.mu.Unlock()
		return Group{}, fmt.Errorf("add group %q: %w", label, ErrNoFreeGroup)
	}
	tag := protocol.TagID(free)
	c.groups[tag] = label
	g := c.group(tag)
	c.mu.Unlock()

	if err := c.sendRepeated(setTagLabel(tag, label)); err != nil {
		return Group{}, fmt.Errorf("add group %q: %w", label, err)
	}
	c.logger.Info("group added", "tag", tag, "label", label)
	c.emitGroups(EventGroupAdded, []GroupRef{{Tag: tag, Label: label}})
	return g, nil
}

func setTagLabel(tag protocol.TagID, label string) *protocol.Message {
	return protocol.NewMessage(protocol.DeviceSetTagLabels, protocol.Broadcast(),
		&protocol.TagLabels{Tags: tag.Bit(), Label: label})
}

func setTags(id protocol.DeviceID, tags uint64) *protocol.Message {
	return protocol.NewMessage(protocol.DeviceSetTags, protocol.ToDevice(id), &protocol.Tags{Tags: tags})
}

// RemoveGroup clears the label of a group and takes its tag off every
// member light.
func (c *Collection) RemoveGroup(label string) error {
	c.mu.Lock()
	if c.sender == nil {
		c.mu.Unlock()
		return fmt.Errorf("remove group %q: %w", label, ErrNotOpen)
	}
	tag, ok := c.findGroup(label)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("remove group %q: %w", label, ErrUnknownGroup)
	}
	c.groups[tag] = ""
	var (
		msgs    []*protocol.Message
		changes []PropertyChange
	)
	for id, l := range c.lights {
		if l.tags&tag.Bit() == 0 {
			continue
		}
		tags := l.tags &^ tag.Bit()
		msgs = append(msgs, setTags(id, tags))
		changes = append(changes, l.setTags(tags)...)
	}
	c.mu.Unlock()

	msgs = append(msgs, setTagLabel(tag, ""))
	for _, m := range msgs {
		if err := c.sendRepeated(m); err != nil {
			return fmt.Errorf("remove group %q: %w", label, err)
		}
	}
	c.logger.Info("group removed", "tag", tag, "label", label)
	c.emitChanges(changes)
	c.emitGroups(EventGroupRemoved, []GroupRef{{Tag: tag, Label: label}})
	return nil
}

// AddLight puts a light into a group.
func (c *Collection) AddLight(label string, id protocol.DeviceID) error {
	return c.membership("add light", label, id, true)
}

// RemoveLight takes a light out of a group.
func (c *Collection) RemoveLight(label string, id protocol.DeviceID) error {
	return c.membership("remove light", label, id, false)
}

func (c *Collection) membership(op, label string, id protocol.DeviceID, member bool) error {
	c.mu.Lock()
	tag, ok := c.findGroup(label)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%s %s: group %q: %w", op, id, label, ErrUnknownGroup)
	}
	l, ok := c.lights[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%s %s: %w", op, id, ErrUnknownLight)
	}
	tags := l.tags &^ tag.Bit()
	if member {
		tags |= tag.Bit()
	}
	c.mu.Unlock()

	err := c.command(op, id, settingRepeats, setTags(id, tags), func(l *light) []PropertyChange {
		return l.setTags(tags)
	})
	if err != nil {
		return err
	}
	c.emitGroups(EventGroupUpdated, []GroupRef{{Tag: tag, Label: label}})
	return nil
}

// groupCommand updates every member of a group with fn, then sends m to
// the group's tag n times.
func (c *Collection) groupCommand(op, label string, n int, m func(protocol.Target) *protocol.Message, fn func(*light) []PropertyChange) error {
	c.mu.Lock()
	if c.sender == nil {
		c.mu.Unlock()
		return fmt.Errorf("%s %q: %w", op, label, ErrNotOpen)
	}
	tag, ok := c.findGroup(label)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%s %q: %w", op, label, ErrUnknownGroup)
	}
	var changes []PropertyChange
	for _, l := range c.lights {
		if l.tags&tag.Bit() != 0 {
			changes = append(changes, fn(l)...)
		}
	}
	c.mu.Unlock()

	if err := c.sendN(n, m(protocol.ToTag(tag))); err != nil {
		return fmt.Errorf("%s %q: %w", op, label, err)
	}
	c.emitChanges(changes)
	return nil
}

// SetGroupPower switches every light of a group with one tagged command.
func (c *Collection) SetGroupPower(label string, on bool) error {
	msg := func(t protocol.Target) *protocol.Message {
		return protocol.NewMessage(protocol.DeviceSetPower, t, &protocol.Power{Level: protocol.PowerLevel(on)})
	}
	return c.groupCommand("set group power", label, powerRepeats, msg, func(l *light) []PropertyChange {
		return l.setPower(on)
	})
}

// SetGroupColor fades every light of a group to color over d.
func (c *Collection) SetGroupColor(label string, color protocol.Color, d time.Duration) error {
	msg := func(t protocol.Target) *protocol.Message {
		return setColor(t, color, d)
	}
	return c.groupCommand("set group color", label, 1, msg, func(l *light) []PropertyChange {
		return l.setColor(color)
	})
}
