package lights

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"lifx-lan/internal/protocol"
)

var (
	testSite = protocol.SiteID{0x4C, 0x49, 0x46, 0x58, 0x56, 0x32}
	bulbA    = protocol.DeviceID{0xD0, 0x73, 0xD5, 0, 0, 0x01}
	bulbB    = protocol.DeviceID{0xD0, 0x73, 0xD5, 0, 0, 0x02}
)

// fakeSender records everything the collection sends. When reply is set,
// its answer is fed straight back into the collection.
type fakeSender struct {
	c     *Collection
	reply func(m *protocol.Message) *protocol.Message

	mu   sync.Mutex
	sent []*protocol.Message
}

func (s *fakeSender) Send(m *protocol.Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, m)
	s.mu.Unlock()
	if s.reply != nil {
		if r := s.reply(m); r != nil {
			s.c.HandleMessage([]protocol.DeviceID{r.Path.Target.Device()}, r)
		}
	}
	return nil
}

func (s *fakeSender) ofType(t protocol.Type) []*protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*protocol.Message
	for _, m := range s.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeSender) reset() {
	s.mu.Lock()
	s.sent = nil
	s.mu.Unlock()
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) ofType(t string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestCollection(t *testing.T) (*Collection, *fakeSender, *eventLog) {
	t.Helper()
	events := NewEventBus(newTestLogger())
	log := &eventLog{}
	events.OnAll(func(e Event) {
		log.mu.Lock()
		log.events = append(log.events, e)
		log.mu.Unlock()
	})
	c := New(Config{}, events, newTestLogger())
	s := &fakeSender{c: c}
	c.SetRouter(s)
	return c, s, log
}

func frame(t protocol.Type, id protocol.DeviceID, p protocol.Payload) *protocol.Message {
	return protocol.NewPathMessage(t, protocol.BinaryPath{Site: testSite, Target: protocol.DeviceTargetID(id)}, p)
}

func feed(c *Collection, id protocol.DeviceID, t protocol.Type, p protocol.Payload) {
	c.HandleMessage([]protocol.DeviceID{id}, frame(t, id, p))
}

func TestLightFoundSendsQueries(t *testing.T) {
	c, s, log := newTestCollection(t)

	feed(c, bulbA, protocol.LightState, &protocol.LightStatus{Label: "Porch", Power: 0xFFFF})

	found := log.ofType(EventLightFound)
	if len(found) != 1 {
		t.Fatalf("light_found events = %d, want 1", len(found))
	}
	if ref := found[0].Data.(LightRef); ref.ID != bulbA || ref.Label != "Porch" {
		t.Errorf("light_found data = %+v", ref)
	}
	if got := log.ofType(EventLightUpdated); len(got) != 0 {
		t.Errorf("first sighting emitted %d light_updated events", len(got))
	}

	for _, typ := range []protocol.Type{protocol.DeviceGetLabel, protocol.DeviceGetPower, protocol.DeviceGetTime, protocol.DeviceGetWifiFirmware} {
		msgs := s.ofType(typ)
		if len(msgs) != 1 {
			t.Errorf("%s sent %d times, want 1", typ, len(msgs))
			continue
		}
		if msgs[0].Target.Kind != protocol.KindDevice || msgs[0].Target.Device != bulbA {
			t.Errorf("%s target = %s", typ, msgs[0].Target)
		}
	}

	l, err := c.Light(bulbA)
	if err != nil {
		t.Fatal(err)
	}
	if !l.Power || l.Label != "Porch" {
		t.Errorf("light = %+v", l)
	}
	if l.Loaded {
		t.Error("light loaded before label, power and time arrived")
	}

	feed(c, bulbA, protocol.DeviceStateLabel, &protocol.Label{Label: "Porch"})
	feed(c, bulbA, protocol.DeviceStatePower, &protocol.Power{Level: 0xFFFF})
	feed(c, bulbA, protocol.DeviceStateTime, &protocol.Time{Time: 1_400_000_000_000_000_000})
	l, _ = c.Light(bulbA)
	if !l.Loaded {
		t.Error("light not loaded after all four responses")
	}
	if l.Time.Unix() != 1_400_000_000 {
		t.Errorf("time = %v", l.Time)
	}
}

func TestLightUpdatedOnChangeOnly(t *testing.T) {
	c, _, log := newTestCollection(t)
	feed(c, bulbA, protocol.LightState, &protocol.LightStatus{Label: "Porch"})

	feed(c, bulbA, protocol.DeviceStatePower, &protocol.Power{Level: 0})
	if got := log.ofType(EventLightUpdated); len(got) != 0 {
		t.Fatalf("unchanged power emitted %d events", len(got))
	}

	feed(c, bulbA, protocol.LightStatePower, &protocol.Power{Level: 1})
	got := log.ofType(EventLightUpdated)
	if len(got) != 1 {
		t.Fatalf("light_updated events = %d, want 1", len(got))
	}
	ch := got[0].Data.(PropertyChange)
	if ch.ID != bulbA || ch.Property != PropPower || ch.Value != true {
		t.Errorf("change = %+v", ch)
	}
}

func TestCommands(t *testing.T) {
	c, s, log := newTestCollection(t)
	feed(c, bulbA, protocol.LightState, &protocol.LightStatus{Label: "Porch"})
	s.reset()

	if err := c.SetPower(bulbA, true); err != nil {
		t.Fatal(err)
	}
	if n := len(s.ofType(protocol.DeviceSetPower)); n != powerRepeats {
		t.Errorf("SET_POWER sent %d times, want %d", n, powerRepeats)
	}

	if err := c.SetLabel(bulbA, "Hall"); err != nil {
		t.Fatal(err)
	}
	if n := len(s.ofType(protocol.DeviceSetLabel)); n != settingRepeats {
		t.Errorf("SET_LABEL sent %d times, want %d", n, settingRepeats)
	}

	color := protocol.Color{Hue: 120, Saturation: 1, Brightness: 0.5, Kelvin: 3500}
	if err := c.SetColor(bulbA, color, DefaultColorDuration); err != nil {
		t.Fatal(err)
	}
	sets := s.ofType(protocol.LightSet)
	if len(sets) != 1 {
		t.Fatalf("LIGHT_SET sent %d times, want 1", len(sets))
	}
	if p := sets[0].Payload.(*protocol.SetColor); p.Duration != 250 {
		t.Errorf("duration = %d ms, want 250", p.Duration)
	}

	l, _ := c.Light(bulbA)
	if !l.Power || l.Label != "Hall" || l.Color != color {
		t.Errorf("local state = %+v", l)
	}
	if got := len(log.ofType(EventLightUpdated)); got != 3 {
		t.Errorf("light_updated events = %d, want 3", got)
	}

	if err := c.SetBrightness(bulbA, 0.25, 0); err != nil {
		t.Fatal(err)
	}
	l, _ = c.Light(bulbA)
	if l.Color.Brightness != 0.25 || l.Color.Hue != 120 {
		t.Errorf("color after SetBrightness = %v", l.Color)
	}

	if err := c.SetWaveform(bulbA, Effect{Color: protocol.Color{Hue: 10}, Transient: true, Period: time.Second, Cycles: 3}); err != nil {
		t.Fatal(err)
	}
	if n := len(s.ofType(protocol.LightSetWaveform)); n != 1 {
		t.Errorf("SET_WAVEFORM sent %d times", n)
	}
	l, _ = c.Light(bulbA)
	if l.Color.Brightness != 0.25 {
		t.Error("transient waveform changed the local color")
	}
}

func TestCommandErrors(t *testing.T) {
	c, _, _ := newTestCollection(t)
	feed(c, bulbA, protocol.LightState, &protocol.LightStatus{})

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unknown light", c.SetPower(bulbB, true), ErrUnknownLight},
		{"label too long", c.SetLabel(bulbA, "0123456789012345678901234567890123"), ErrLabelTooLong},
		{"unknown group", c.SetGroupPower("nope", true), ErrUnknownGroup},
		{"empty group label", func() error { _, err := c.AddGroup(""); return err }(), ErrEmptyLabel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("err = %v, want %v", tt.err, tt.want)
			}
		})
	}

	c.SetRouter(nil)
	if err := c.SetPower(bulbA, true); !errors.Is(err, ErrNotOpen) {
		t.Errorf("SetPower without router: %v", err)
	}
}

func TestResolve(t *testing.T) {
	c, _, _ := newTestCollection(t)
	feed(c, bulbA, protocol.LightState, &protocol.LightStatus{Label: "Porch"})

	for _, ref := range []string{"Porch", bulbA.String()} {
		id, err := c.Resolve(ref)
		if err != nil || id != bulbA {
			t.Errorf("Resolve(%q) = %s, %v", ref, id, err)
		}
	}
	if _, err := c.Resolve("Attic"); !errors.Is(err, ErrUnknownLight) {
		t.Errorf("Resolve(Attic) err = %v", err)
	}
}

func TestTagLabelsAndMembership(t *testing.T) {
	c, _, log := newTestCollection(t)
	feed(c, bulbA, protocol.LightState, &protocol.LightStatus{Label: "Porch"})
	feed(c, bulbB, protocol.LightState, &protocol.LightStatus{Label: "Desk", Power: 1})

	c.HandleMessage(nil, frame(protocol.DeviceStateTagLabels, bulbA, &protocol.TagLabels{Tags: protocol.TagID(3).Bit(), Label: "Kitchen"}))
	if got := log.ofType(EventGroupAdded); len(got) != 1 || got[0].Data.(GroupRef).Tag != 3 {
		t.Fatalf("group_added = %+v", got)
	}

	feed(c, bulbA, protocol.DeviceStateTags, &protocol.Tags{Tags: protocol.TagID(3).Bit()})
	feed(c, bulbB, protocol.DeviceStateTags, &protocol.Tags{Tags: protocol.TagID(3).Bit()})
	if got := log.ofType(EventGroupUpdated); len(got) != 2 {
		t.Errorf("group_updated events = %d, want 2", len(got))
	}

	g, err := c.Group("Kitchen")
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Lights) != 2 || g.Power != GroupPowerMixed {
		t.Errorf("group = %+v", g)
	}
	l, _ := c.Light(bulbA)
	if len(l.Groups) != 1 || l.Groups[0] != "Kitchen" {
		t.Errorf("light groups = %v", l.Groups)
	}

	c.HandleMessage(nil, frame(protocol.DeviceStateTagLabels, bulbA, &protocol.TagLabels{Tags: protocol.TagID(3).Bit()}))
	if got := log.ofType(EventGroupRemoved); len(got) != 1 || got[0].Data.(GroupRef).Label != "Kitchen" {
		t.Errorf("group_removed = %+v", got)
	}
	if len(c.Groups()) != 0 {
		t.Errorf("groups = %+v", c.Groups())
	}
}

func TestAddGroup(t *testing.T) {
	c, s, log := newTestCollection(t)
	c.HandleMessage(nil, frame(protocol.DeviceStateTagLabels, bulbA, &protocol.TagLabels{Tags: protocol.TagID(0).Bit(), Label: "Kitchen"}))

	g, err := c.AddGroup("Kitchen")
	if err != nil || g.Tag != 0 {
		t.Fatalf("AddGroup(existing) = %+v, %v", g, err)
	}
	if n := len(s.ofType(protocol.DeviceSetTagLabels)); n != 0 {
		t.Errorf("existing group sent %d SET_TAG_LABELS", n)
	}

	g, err = c.AddGroup("Bedroom")
	if err != nil {
		t.Fatal(err)
	}
	if g.Tag != 1 {
		t.Errorf("new group tag = %d, want 1", g.Tag)
	}
	msgs := s.ofType(protocol.DeviceSetTagLabels)
	if len(msgs) != settingRepeats {
		t.Fatalf("SET_TAG_LABELS sent %d times, want %d", len(msgs), settingRepeats)
	}
	if p := msgs[0].Payload.(*protocol.TagLabels); p.Tags != protocol.TagID(1).Bit() || p.Label != "Bedroom" {
		t.Errorf("payload = %+v", p)
	}
	if len(log.ofType(EventGroupAdded)) != 2 {
		t.Errorf("group_added events = %d, want 2", len(log.ofType(EventGroupAdded)))
	}
}

func TestAddGroupNoFreeTag(t *testing.T) {
	c, _, _ := newTestCollection(t)
	for i := 0; i < protocol.MaxTags; i++ {
		c.HandleMessage(nil, frame(protocol.DeviceStateTagLabels, bulbA,
			&protocol.TagLabels{Tags: protocol.TagID(i).Bit(), Label: "g" + strconv.Itoa(i)}))
	}
	if _, err := c.AddGroup("one too many"); !errors.Is(err, ErrNoFreeGroup) {
		t.Errorf("err = %v, want ErrNoFreeGroup", err)
	}
}

func TestRemoveGroupUntagsMembers(t *testing.T) {
	c, s, log := newTestCollection(t)
	feed(c, bulbA, protocol.LightState, &protocol.LightStatus{Tags: protocol.TagID(2).Bit() | protocol.TagID(5).Bit()})
	c.HandleMessage(nil, frame(protocol.DeviceStateTagLabels, bulbA, &protocol.TagLabels{Tags: protocol.TagID(2).Bit(), Label: "Den"}))
	feed(c, bulbA, protocol.DeviceStateTags, &protocol.Tags{Tags: protocol.TagID(2).Bit() | protocol.TagID(5).Bit()})
	s.reset()

	if err := c.RemoveGroup("Den"); err != nil {
		t.Fatal(err)
	}
	tags := s.ofType(protocol.DeviceSetTags)
	if len(tags) != settingRepeats {
		t.Fatalf("SET_TAGS sent %d times, want %d", len(tags), settingRepeats)
	}
	if p := tags[0].Payload.(*protocol.Tags); p.Tags != protocol.TagID(5).Bit() {
		t.Errorf("SET_TAGS payload = %064b", p.Tags)
	}
	if n := len(s.ofType(protocol.DeviceSetTagLabels)); n != settingRepeats {
		t.Errorf("SET_TAG_LABELS sent %d times", n)
	}
	if len(log.ofType(EventGroupRemoved)) != 1 {
		t.Error("no group_removed event")
	}
	if err := c.RemoveGroup("Den"); !errors.Is(err, ErrUnknownGroup) {
		t.Errorf("second RemoveGroup err = %v", err)
	}
}

func TestGroupMembershipAndCommands(t *testing.T) {
	c, s, _ := newTestCollection(t)
	feed(c, bulbA, protocol.LightState, &protocol.LightStatus{})
	c.HandleMessage(nil, frame(protocol.DeviceStateTagLabels, bulbA, &protocol.TagLabels{Tags: protocol.TagID(7).Bit(), Label: "Lounge"}))
	s.reset()

	if err := c.AddLight("Lounge", bulbA); err != nil {
		t.Fatal(err)
	}
	msgs := s.ofType(protocol.DeviceSetTags)
	if len(msgs) != settingRepeats || msgs[0].Payload.(*protocol.Tags).Tags != protocol.TagID(7).Bit() {
		t.Fatalf("SET_TAGS = %v", msgs)
	}

	if err := c.SetGroupPower("Lounge", true); err != nil {
		t.Fatal(err)
	}
	power := s.ofType(protocol.DeviceSetPower)
	if len(power) != powerRepeats {
		t.Fatalf("group SET_POWER sent %d times", len(power))
	}
	if power[0].Target.Kind != protocol.KindTags || power[0].Target.Tag != 7 {
		t.Errorf("group power target = %s", power[0].Target)
	}
	if g, _ := c.Group("Lounge"); g.Power != GroupPowerOn {
		t.Errorf("group power = %s, want on", g.Power)
	}

	if err := c.SetGroupColor("Lounge", protocol.Color{Hue: 200, Kelvin: 2700}, time.Second); err != nil {
		t.Fatal(err)
	}
	if l, _ := c.Light(bulbA); l.Color.Hue != 200 {
		t.Errorf("member color = %v", l.Color)
	}

	if err := c.RemoveLight("Lounge", bulbA); err != nil {
		t.Fatal(err)
	}
	if g, _ := c.Group("Lounge"); len(g.Lights) != 0 {
		t.Errorf("group still has %v", g.Lights)
	}
}

func TestRemoveLost(t *testing.T) {
	c, _, log := newTestCollection(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	feed(c, bulbA, protocol.LightState, &protocol.LightStatus{Label: "Porch"})
	now = now.Add(20 * time.Second)
	feed(c, bulbB, protocol.LightState, &protocol.LightStatus{Label: "Desk"})

	now = now.Add(20 * time.Second)
	c.removeLost()

	lost := log.ofType(EventLightLost)
	if len(lost) != 1 || lost[0].Data.(LightRef).ID != bulbA {
		t.Fatalf("light_lost = %+v", lost)
	}
	if _, err := c.Light(bulbA); !errors.Is(err, ErrUnknownLight) {
		t.Error("lost light still present")
	}
	if len(c.Lights()) != 1 {
		t.Errorf("lights = %d, want 1", len(c.Lights()))
	}
}

func TestLabelPollStopsOnceLoaded(t *testing.T) {
	c, s, _ := newTestCollection(t)

	c.pollLabels()
	if n := len(s.ofType(protocol.DeviceGetTagLabels)); n != 0 {
		t.Errorf("polled with no lights known: %d", n)
	}

	feed(c, bulbA, protocol.LightState, &protocol.LightStatus{})
	c.pollLabels()
	msgs := s.ofType(protocol.DeviceGetTagLabels)
	if len(msgs) != 1 {
		t.Fatalf("GET_TAG_LABELS sent %d times, want 1", len(msgs))
	}
	if p := msgs[0].Payload.(*protocol.Tags); p.Tags != protocol.AllTags {
		t.Errorf("polled tags = %X", p.Tags)
	}

	c.HandleMessage(nil, frame(protocol.DeviceStateTagLabels, bulbA, &protocol.TagLabels{Tags: 1, Label: "x"}))
	c.pollLabels()
	if n := len(s.ofType(protocol.DeviceGetTagLabels)); n != 1 {
		t.Errorf("kept polling after labels loaded: %d", n)
	}
}

func detailReply(m *protocol.Message) *protocol.Message {
	id := m.Target.Device
	switch m.Type {
	case protocol.LightGetTemperature:
		return frame(protocol.LightStateTemperature, id, &protocol.Temperature{Temperature: 4150})
	case protocol.DeviceGetInfo:
		return frame(protocol.DeviceStateInfo, id, &protocol.StateInfo{Uptime: uint64(time.Hour)})
	case protocol.DeviceGetResetSwitch:
		return frame(protocol.DeviceStateResetSwitch, id, &protocol.StateResetSwitch{Position: 1})
	case protocol.DeviceGetMeshInfo:
		return frame(protocol.DeviceStateMeshInfo, id, &protocol.InterfaceInfo{Signal: 0.5})
	case protocol.DeviceGetMeshFirmware:
		return frame(protocol.DeviceStateMeshFirmware, id, &protocol.Firmware{Version: 1<<16 | 2})
	case protocol.DeviceGetWifiInfo:
		return frame(protocol.DeviceStateWifiInfo, id, &protocol.InterfaceInfo{Tx: 10, Rx: 20})
	case protocol.DeviceGetWifiFirmware:
		return frame(protocol.DeviceStateWifiFirmware, id, &protocol.Firmware{Version: 1<<16 | 1})
	case protocol.DeviceGetVersion:
		return frame(protocol.DeviceStateVersion, id, &protocol.StateVersion{Vendor: 1, Product: 1})
	case protocol.DeviceGetMcuRailVoltage:
		return frame(protocol.DeviceStateMcuRailVoltage, id, &protocol.Voltage{Voltage: 3300})
	}
	return nil
}

func TestDetails(t *testing.T) {
	c, s, _ := newTestCollection(t)
	c.Open()
	defer c.Close()
	feed(c, bulbA, protocol.LightState, &protocol.LightStatus{})
	s.reply = detailReply

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := c.Details(ctx, bulbA)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Complete {
		t.Error("details not complete")
	}
	if d.Temperature != 41.5 || d.Uptime != time.Hour || d.ResetSwitch != 1 || d.McuRailVoltage != 3.3 {
		t.Errorf("details = %+v", d)
	}
	if d.MeshFirmware == nil || d.MeshFirmware.Version != "1.2" {
		t.Errorf("mesh firmware = %+v", d.MeshFirmware)
	}
	if d.Wifi == nil || d.Wifi.Rx != 20 {
		t.Errorf("wifi = %+v", d.Wifi)
	}
	if len(d.Versions) != 1 {
		t.Errorf("versions = %+v", d.Versions)
	}
}

func TestDetailsPartialOnTimeout(t *testing.T) {
	c, s, _ := newTestCollection(t)
	c.Open()
	defer c.Close()
	feed(c, bulbA, protocol.LightState, &protocol.LightStatus{})
	s.reply = func(m *protocol.Message) *protocol.Message {
		if m.Type == protocol.LightGetTemperature {
			return detailReply(m)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	d, err := c.Details(ctx, bulbA)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if d.Complete || d.Temperature != 41.5 {
		t.Errorf("partial details = %+v", d)
	}

	c.mu.Lock()
	n := len(c.waiters)
	c.mu.Unlock()
	if n != 0 {
		t.Errorf("%d waiters left behind", n)
	}
}

func TestDetailsUnknownLight(t *testing.T) {
	c, _, _ := newTestCollection(t)
	c.Open()
	defer c.Close()
	if _, err := c.Details(context.Background(), bulbB); !errors.Is(err, ErrUnknownLight) {
		t.Errorf("err = %v", err)
	}
}

func TestAlarms(t *testing.T) {
	tests := []struct {
		name    string
		version uint32
		queries int
	}{
		{"firmware 1.4", 1<<16 | 4, 0},
		{"firmware 1.5", 1<<16 | 5, 2},
		{"firmware 2.0", 2 << 16, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, s, _ := newTestCollection(t)
			feed(c, bulbA, protocol.LightState, &protocol.LightStatus{})
			s.reset()

			feed(c, bulbA, protocol.DeviceStateWifiFirmware, &protocol.Firmware{Version: tt.version})
			feed(c, bulbA, protocol.DeviceStateWifiFirmware, &protocol.Firmware{Version: tt.version})
			if n := len(s.ofType(protocol.LightGetSimpleEvent)); n != tt.queries {
				t.Errorf("GET_SIMPLE_EVENT sent %d times, want %d", n, tt.queries)
			}
		})
	}
}

func TestSetAlarm(t *testing.T) {
	c, s, log := newTestCollection(t)
	feed(c, bulbA, protocol.LightState, &protocol.LightStatus{})

	if err := c.SetAlarm(bulbA, 0, Alarm{Power: true}); !errors.Is(err, ErrBadAlarmIndex) {
		t.Errorf("SetAlarm before slots known: %v", err)
	}

	feed(c, bulbA, protocol.LightStateSimpleEvent, &protocol.StateSimpleEvent{Index: 0, Max: 2})
	alarms, err := c.Alarms(bulbA)
	if err != nil {
		t.Fatal(err)
	}
	if len(alarms) != 2 || alarms[1].Index != 1 || alarms[0].Enabled() {
		t.Fatalf("alarms = %+v", alarms)
	}

	at := time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC)
	if err := c.SetAlarm(bulbA, 1, Alarm{Time: at, Power: true, Duration: time.Minute}); err != nil {
		t.Fatal(err)
	}
	msgs := s.ofType(protocol.LightSetSimpleEvent)
	if len(msgs) != settingRepeats {
		t.Fatalf("SET_SIMPLE_EVENT sent %d times", len(msgs))
	}
	p := msgs[0].Payload.(*protocol.SetSimpleEvent)
	if p.Index != 1 || p.Time != uint64(at.UnixNano()) || p.Duration != 60000 || p.Power != protocol.PowerOn {
		t.Errorf("payload = %+v", p)
	}
	alarms, _ = c.Alarms(bulbA)
	if !alarms[1].Enabled() || !alarms[1].Time.Equal(at) {
		t.Errorf("cached alarm = %+v", alarms[1])
	}
	if len(log.ofType(EventLightUpdated)) == 0 {
		t.Error("no light_updated for alarms")
	}

	if err := c.SetAlarm(bulbA, 2, Alarm{}); !errors.Is(err, ErrBadAlarmIndex) {
		t.Errorf("out of range err = %v", err)
	}
	if err := c.ClearAlarm(bulbA, 1); err != nil {
		t.Fatal(err)
	}
	alarms, _ = c.Alarms(bulbA)
	if alarms[1].Enabled() {
		t.Error("alarm still enabled after clear")
	}
}

func TestReopenForgetsLights(t *testing.T) {
	c, _, _ := newTestCollection(t)
	c.Open()
	feed(c, bulbA, protocol.LightState, &protocol.LightStatus{})
	c.Close()
	if len(c.Lights()) != 1 {
		t.Error("lights dropped on close")
	}
	c.Open()
	defer c.Close()
	if len(c.Lights()) != 0 {
		t.Error("lights survived reopen")
	}
}
