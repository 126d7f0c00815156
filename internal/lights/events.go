package lights

import (
	"log/slog"
	"net"
	"slices"
	"sync"

	"lifx-lan/internal/protocol"
)

// Event types.
const (
	EventLightFound   = "light_found"
	EventLightLost    = "light_lost"
	EventLightUpdated = "light_updated"
	EventGroupAdded   = "group_added"
	EventGroupRemoved = "group_removed"
	EventGroupUpdated = "group_updated"
	EventGatewayFound = "gateway_found"
)

// Event is one notification from the light model.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// LightRef identifies the light of a light_found or light_lost event.
type LightRef struct {
	ID    protocol.DeviceID `json:"id"`
	Label string            `json:"label"`
}

// PropertyChange is the data of a light_updated event.
type PropertyChange struct {
	ID       protocol.DeviceID `json:"id"`
	Property string            `json:"property"`
	Value    any               `json:"value"`
}

// GroupRef is the data of the group events.
type GroupRef struct {
	Tag   protocol.TagID `json:"tag"`
	Label string         `json:"label"`
}

// GatewayRef is the data of a gateway_found event.
type GatewayRef struct {
	Site protocol.SiteID `json:"site"`
	Addr string          `json:"addr"`
}

func gatewayRef(site protocol.SiteID, addr *net.UDPAddr) GatewayRef {
	ref := GatewayRef{Site: site}
	if addr != nil {
		ref.Addr = addr.String()
	}
	return ref
}

// EventHandler is a callback for events.
type EventHandler func(Event)

type subscription struct {
	id        uint64
	eventType string // empty matches every type
	fn        EventHandler
}

// EventBus fans events out to subscribers in registration order. The
// subscription list is copied on write, so a callback may subscribe or
// unsubscribe while an event is being dispatched; the change applies from
// the next Emit.
type EventBus struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   []subscription
	nextID uint64
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{logger: logger.With("component", "events")}
}

// On subscribes fn to one event type. The returned function unsubscribes
// it and may be called more than once.
func (eb *EventBus) On(eventType string, fn EventHandler) func() {
	return eb.subscribe(eventType, fn)
}

// OnAll subscribes fn to every event type.
func (eb *EventBus) OnAll(fn EventHandler) func() {
	return eb.subscribe("", fn)
}

func (eb *EventBus) subscribe(eventType string, fn EventHandler) func() {
	eb.mu.Lock()
	id := eb.nextID
	eb.nextID++
	eb.subs = append(slices.Clip(eb.subs), subscription{id: id, eventType: eventType, fn: fn})
	eb.mu.Unlock()

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.subs = slices.DeleteFunc(slices.Clone(eb.subs), func(s subscription) bool { return s.id == id })
	}
}

// Subscribers returns the number of live subscriptions.
func (eb *EventBus) Subscribers() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.subs)
}

// Emit calls every matching subscriber synchronously. A panicking
// subscriber is logged and does not stop the others.
func (eb *EventBus) Emit(event Event) {
	eb.mu.Lock()
	subs := eb.subs
	eb.mu.Unlock()

	for _, s := range subs {
		if s.eventType == "" || s.eventType == event.Type {
			eb.dispatch(s, event)
		}
	}
}

func (eb *EventBus) dispatch(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event subscriber panic", "type", event.Type, "subscription", s.id, "panic", r)
		}
	}()
	s.fn(event)
}
