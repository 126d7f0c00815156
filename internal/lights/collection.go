// Package lights keeps a live model of every light and group seen on the
// LAN and turns high-level commands into protocol messages. A Collection
// is a router handler; all changes are announced on its EventBus.
package lights

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"lifx-lan/internal/protocol"
	"lifx-lan/internal/router"
	"lifx-lan/internal/timerqueue"
)

var (
	ErrUnknownLight  = errors.New("lights: unknown light")
	ErrUnknownGroup  = errors.New("lights: unknown group")
	ErrNoFreeGroup   = errors.New("lights: all 64 groups in use")
	ErrLabelTooLong  = errors.New("lights: label longer than 32 bytes")
	ErrEmptyLabel    = errors.New("lights: empty label")
	ErrNotOpen       = errors.New("lights: collection not attached to an open router")
	ErrBadAlarmIndex = errors.New("lights: alarm index out of range")
)

const (
	DefaultLostTimeout     = 35 * time.Second
	DefaultRefreshInterval = 15 * time.Second
	DefaultColorDuration   = 250 * time.Millisecond

	labelPollInterval = time.Second
	lostCheckInterval = time.Second

	powerRepeats   = 2
	settingRepeats = 3
)

// Config holds the collection's timings.
type Config struct {
	// LostTimeout is how long a silent light stays in the collection.
	LostTimeout time.Duration
	// RefreshInterval is the period of the state re-poll broadcast.
	RefreshInterval time.Duration
}

// Collection is the set of known lights and the 64 group slots.
type Collection struct {
	cfg    Config
	events *EventBus
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	sender       router.Sender
	timers       *timerqueue.Queue
	labelPoll    *timerqueue.Task
	lights       map[protocol.DeviceID]*light
	groups       [protocol.MaxTags]string
	labelsLoaded bool
	waiters      map[waitKey][]chan struct{}
	stop         chan struct{}
}

// New creates an empty collection that reports on events.
func New(cfg Config, events *EventBus, logger *slog.Logger) *Collection {
	if cfg.LostTimeout <= 0 {
		cfg.LostTimeout = DefaultLostTimeout
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	return &Collection{
		cfg:     cfg,
		events:  events,
		logger:  logger.With("component", "lights"),
		now:     time.Now,
		lights:  make(map[protocol.DeviceID]*light),
		waiters: make(map[waitKey][]chan struct{}),
	}
}

// Events returns the bus the collection emits on.
func (c *Collection) Events() *EventBus {
	return c.events
}

// SetRouter attaches the sender used for commands and polls.
func (c *Collection) SetRouter(s router.Sender) {
	c.mu.Lock()
	c.sender = s
	c.mu.Unlock()
}

// Open forgets everything from a previous session and starts polling.
func (c *Collection) Open() {
	timers := timerqueue.New(c.logger)

	c.mu.Lock()
	c.lights = make(map[protocol.DeviceID]*light)
	c.groups = [protocol.MaxTags]string{}
	c.labelsLoaded = false
	c.timers = timers
	c.stop = make(chan struct{})
	c.labelPoll = timers.Every(labelPollInterval, labelPollInterval, c.pollLabels)
	timers.Every(c.cfg.RefreshInterval, c.cfg.RefreshInterval, c.refresh)
	timers.Every(lostCheckInterval, lostCheckInterval, c.removeLost)
	c.mu.Unlock()

	c.logger.Debug("light collection open")
}

// Close stops polling. Known lights stay readable until the next Open.
func (c *Collection) Close() {
	c.mu.Lock()
	timers := c.timers
	c.timers = nil
	c.labelPoll = nil
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.mu.Unlock()

	if timers != nil {
		timers.Close()
	}
	c.logger.Debug("light collection closed")
}

// GatewayFound is called by the router when a new site appears.
func (c *Collection) GatewayFound(site protocol.SiteID, addr *net.UDPAddr) {
	c.events.Emit(Event{Type: EventGatewayFound, Data: gatewayRef(site, addr)})
}

// HandleMessage folds one inbound frame into the model. targets are the
// lights the frame speaks for.
func (c *Collection) HandleMessage(targets []protocol.DeviceID, m *protocol.Message) {
	if m.Type == protocol.DeviceStateTagLabels {
		if p, ok := m.Payload.(*protocol.TagLabels); ok {
			c.applyTagLabels(p)
		}
		return
	}

	now := c.now()
	var (
		found   []LightRef
		changes []PropertyChange
		groups  []GroupRef
		queries []*protocol.Message
	)

	c.mu.Lock()
	for _, id := range targets {
		l, ok := c.lights[id]
		if !ok {
			l = newLight(id, now)
			c.lights[id] = l
			queries = append(queries, firstSightQueries(id)...)
		}
		before := l.tags
		changed := l.apply(m, now)
		if !ok {
			found = append(found, LightRef{ID: id, Label: l.label})
		} else {
			changes = append(changes, changed...)
		}
		if before != l.tags {
			groups = append(groups, c.groupRefs(before^l.tags)...)
		}
		queries = append(queries, l.alarmQueries(m)...)
		c.release(id, m.Type)
	}
	c.mu.Unlock()

	for _, ref := range found {
		c.logger.Info("light found", "id", ref.ID, "label", ref.Label)
		c.events.Emit(Event{Type: EventLightFound, Data: ref})
	}
	c.emitChanges(changes)
	c.emitGroups(EventGroupUpdated, groups)
	for _, q := range queries {
		if err := c.send(q); err != nil {
			c.logger.Debug("query not sent", "type", q.Type, "err", err)
		}
	}
}

// firstSightQueries are sent to a light the first time it is seen.
func firstSightQueries(id protocol.DeviceID) []*protocol.Message {
	msgs := []*protocol.Message{
		protocol.NewMessage(protocol.DeviceGetLabel, protocol.ToDevice(id), nil),
		protocol.NewMessage(protocol.DeviceGetPower, protocol.ToDevice(id), nil),
		protocol.NewMessage(protocol.DeviceGetTime, protocol.ToDevice(id), nil),
	}
	for _, q := range detailQueries {
		msgs = append(msgs, protocol.NewMessage(q.get, protocol.ToDevice(id), nil))
	}
	return msgs
}

func (c *Collection) applyTagLabels(p *protocol.TagLabels) {
	var added, removed, updated []GroupRef

	c.mu.Lock()
	c.labelsLoaded = true
	for _, tag := range protocol.UnpackTags(p.Tags) {
		old := c.groups[tag]
		if old == p.Label {
			continue
		}
		c.groups[tag] = p.Label
		ref := GroupRef{Tag: tag, Label: p.Label}
		switch {
		case old == "":
			added = append(added, ref)
		case p.Label == "":
			removed = append(removed, GroupRef{Tag: tag, Label: old})
		default:
			updated = append(updated, ref)
		}
	}
	c.mu.Unlock()

	c.emitGroups(EventGroupAdded, added)
	c.emitGroups(EventGroupRemoved, removed)
	c.emitGroups(EventGroupUpdated, updated)
}

// groupRefs returns the labeled groups among the tags in field. Caller
// holds c.mu.
func (c *Collection) groupRefs(field uint64) []GroupRef {
	var refs []GroupRef
	for _, tag := range protocol.UnpackTags(field) {
		if label := c.groups[tag]; label != "" {
			refs = append(refs, GroupRef{Tag: tag, Label: label})
		}
	}
	return refs
}

func (c *Collection) emitChanges(changes []PropertyChange) {
	for _, ch := range changes {
		c.events.Emit(Event{Type: EventLightUpdated, Data: ch})
	}
}

func (c *Collection) emitGroups(eventType string, refs []GroupRef) {
	for _, ref := range refs {
		c.events.Emit(Event{Type: eventType, Data: ref})
	}
}

// pollLabels asks every gateway for the group labels until they arrive.
func (c *Collection) pollLabels() {
	c.mu.Lock()
	if c.labelsLoaded {
		if c.labelPoll != nil {
			c.labelPoll.Cancel()
			c.labelPoll = nil
		}
		c.mu.Unlock()
		return
	}
	known := len(c.lights)
	c.mu.Unlock()

	if known == 0 {
		return
	}
	if err := c.send(getTagLabels()); err != nil {
		c.logger.Debug("label poll not sent", "err", err)
	}
}

func getTagLabels() *protocol.Message {
	return protocol.NewMessage(protocol.DeviceGetTagLabels, protocol.Broadcast(), &protocol.Tags{Tags: protocol.AllTags})
}

// refresh re-polls the state of every light.
func (c *Collection) refresh() {
	msgs := []*protocol.Message{
		protocol.NewMessage(protocol.LightGet, protocol.Broadcast(), nil),
		protocol.NewMessage(protocol.DeviceGetLabel, protocol.Broadcast(), nil),
		protocol.NewMessage(protocol.DeviceGetPower, protocol.Broadcast(), nil),
		protocol.NewMessage(protocol.DeviceGetTime, protocol.Broadcast(), nil),
		getTagLabels(),
	}
	for _, m := range msgs {
		if err := c.send(m); err != nil {
			c.logger.Debug("refresh not sent", "type", m.Type, "err", err)
			return
		}
	}
}

// removeLost drops lights that have been silent for LostTimeout.
func (c *Collection) removeLost() {
	now := c.now()
	var lost []LightRef

	c.mu.Lock()
	for id, l := range c.lights {
		if l.lost(now, c.cfg.LostTimeout) {
			delete(c.lights, id)
			lost = append(lost, LightRef{ID: id, Label: l.label})
		}
	}
	c.mu.Unlock()

	for _, ref := range lost {
		c.logger.Info("light lost", "id", ref.ID, "label", ref.Label)
		c.events.Emit(Event{Type: EventLightLost, Data: ref})
	}
}

func (c *Collection) send(m *protocol.Message) error {
	return c.sendN(1, m)
}

func (c *Collection) sendRepeated(m *protocol.Message) error {
	return c.sendN(settingRepeats, m)
}

// sendN sends m n times. Setting commands are repeated since each copy
// is an unacknowledged datagram.
func (c *Collection) sendN(n int, m *protocol.Message) error {
	c.mu.Lock()
	s := c.sender
	c.mu.Unlock()
	if s == nil {
		return ErrNotOpen
	}
	for i := 0; i < n; i++ {
		if err := s.Send(m); err != nil {
			return err
		}
	}
	return nil
}

// Lights returns a snapshot of every known light, ordered by label.
func (c *Collection) Lights() []Light {
	c.mu.Lock()
	out := make([]Light, 0, len(c.lights))
	for _, l := range c.lights {
		out = append(out, l.snapshot(&c.groups))
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Light returns the snapshot of one light.
func (c *Collection) Light(id protocol.DeviceID) (Light, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lights[id]
	if !ok {
		return Light{}, fmt.Errorf("light %s: %w", id, ErrUnknownLight)
	}
	return l.snapshot(&c.groups), nil
}

// LightByLabel returns the first light, by ID, carrying label.
func (c *Collection) LightByLabel(label string) (Light, error) {
	for _, l := range c.Lights() {
		if l.Label == label {
			return l, nil
		}
	}
	return Light{}, fmt.Errorf("light %q: %w", label, ErrUnknownLight)
}

// Resolve accepts either a device ID or a light label.
func (c *Collection) Resolve(ref string) (protocol.DeviceID, error) {
	if id, err := protocol.ParseDeviceID(ref); err == nil {
		if _, err := c.Light(id); err != nil {
			return protocol.DeviceID{}, err
		}
		return id, nil
	}
	l, err := c.LightByLabel(ref)
	if err != nil {
		return protocol.DeviceID{}, err
	}
	return l.ID, nil
}

// command updates the local copy of light id with fn, then sends m n
// times.
func (c *Collection) command(op string, id protocol.DeviceID, n int, m *protocol.Message, fn func(*light) []PropertyChange) error {
	c.mu.Lock()
	s := c.sender
	l, ok := c.lights[id]
	switch {
	case s == nil:
		c.mu.Unlock()
		return fmt.Errorf("%s %s: %w", op, id, ErrNotOpen)
	case !ok:
		c.mu.Unlock()
		return fmt.Errorf("%s %s: %w", op, id, ErrUnknownLight)
	}
	changes := fn(l)
	c.mu.Unlock()

	for i := 0; i < n; i++ {
		if err := s.Send(m); err != nil {
			return fmt.Errorf("%s %s: %w", op, id, err)
		}
	}
	c.emitChanges(changes)
	return nil
}

// SetPower switches a light on or off.
func (c *Collection) SetPower(id protocol.DeviceID, on bool) error {
	m := protocol.NewMessage(protocol.DeviceSetPower, protocol.ToDevice(id), &protocol.Power{Level: protocol.PowerLevel(on)})
	return c.command("set power", id, powerRepeats, m, func(l *light) []PropertyChange {
		return l.setPower(on)
	})
}

// SetColor fades a light to color over d.
func (c *Collection) SetColor(id protocol.DeviceID, color protocol.Color, d time.Duration) error {
	return c.command("set color", id, 1, setColor(protocol.ToDevice(id), color, d), func(l *light) []PropertyChange {
		return l.setColor(color)
	})
}

func setColor(target protocol.Target, color protocol.Color, d time.Duration) *protocol.Message {
	return protocol.NewMessage(protocol.LightSet, target, &protocol.SetColor{
		Color:    color.HSBK(),
		Duration: uint32(d / time.Millisecond),
	})
}

// SetBrightness changes only the brightness of a light, keeping its
// hue, saturation and kelvin.
func (c *Collection) SetBrightness(id protocol.DeviceID, brightness float64, d time.Duration) error {
	l, err := c.Light(id)
	if err != nil {
		return fmt.Errorf("set brightness: %w", err)
	}
	color := l.Color
	color.Brightness = brightness
	return c.SetColor(id, color, d)
}

// SetLabel renames a light.
func (c *Collection) SetLabel(id protocol.DeviceID, label string) error {
	if len(label) > protocol.LabelSize {
		return fmt.Errorf("set label %q: %w", label, ErrLabelTooLong)
	}
	m := protocol.NewMessage(protocol.DeviceSetLabel, protocol.ToDevice(id), &protocol.Label{Label: label})
	return c.command("set label", id, settingRepeats, m, func(l *light) []PropertyChange {
		return l.setLabel(label)
	})
}

// Effect is a periodic color waveform.
type Effect struct {
	Color protocol.Color
	// Transient effects return to the original color when done.
	Transient bool
	Period    time.Duration
	Cycles    float32
	SkewRatio int16
	// Waveform is one of the protocol.Waveform* shapes.
	Waveform uint8
}

// SetWaveform runs e on a light. A non-transient effect leaves the light
// at e.Color.
func (c *Collection) SetWaveform(id protocol.DeviceID, e Effect) error {
	m := protocol.NewMessage(protocol.LightSetWaveform, protocol.ToDevice(id), &protocol.Waveform{
		Transient: e.Transient,
		Color:     e.Color.HSBK(),
		Period:    uint32(e.Period / time.Millisecond),
		Cycles:    e.Cycles,
		SkewRatio: e.SkewRatio,
		Waveform:  e.Waveform,
	})
	return c.command("set waveform", id, 1, m, func(l *light) []PropertyChange {
		if e.Transient {
			return nil
		}
		return l.setColor(e.Color)
	})
}
