//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"lifx-lan/internal/lights"
	"lifx-lan/internal/protocol"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
}

// Lights is the part of the light model the bridge drives.
type Lights interface {
	Events() *lights.EventBus
	Lights() []lights.Light
	Light(id protocol.DeviceID) (lights.Light, error)
	Resolve(ref string) (protocol.DeviceID, error)
	SetPower(id protocol.DeviceID, on bool) error
	SetColor(id protocol.DeviceID, color protocol.Color, d time.Duration) error
}

// client is the subset of pahomqtt.Client the bridge uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Bridge mirrors the light model to MQTT with HA autodiscovery.
type Bridge struct {
	client client
	lights Lights
	prefix string
	logger *slog.Logger
	unsub  func()
}

func newBridge(l Lights, prefix string, logger *slog.Logger) *Bridge {
	return &Bridge{
		lights: l,
		prefix: strings.TrimSuffix(prefix, "/"),
		logger: logger.With("component", "mqtt"),
	}
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(l Lights, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(l, cfg.TopicPrefix, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "lifx-lan-" + uuid.NewString()[:8]
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(b.availabilityTopic(), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected", "client_id", clientID)
			b.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c := pahomqtt.NewClient(opts)
	b.client = c
	token := c.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to light events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.lights.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) onConnect() {
	b.publishBridgeState("online")
	for _, l := range b.lights.Lights() {
		b.publishLight(l)
	}
	b.subscribeCommands()
}

func (b *Bridge) handleEvent(event lights.Event) {
	switch event.Type {
	case lights.EventLightFound:
		ref, ok := event.Data.(lights.LightRef)
		if !ok {
			return
		}
		if l, err := b.lights.Light(ref.ID); err == nil {
			b.publishLight(l)
		}
	case lights.EventLightUpdated:
		change, ok := event.Data.(lights.PropertyChange)
		if !ok {
			return
		}
		l, err := b.lights.Light(change.ID)
		if err != nil {
			return
		}
		if change.Property == lights.PropLabel {
			b.publishDiscovery(l)
		}
		b.publishState(l)
	case lights.EventLightLost:
		ref, ok := event.Data.(lights.LightRef)
		if !ok {
			return
		}
		l := lights.Light{ID: ref.ID, Label: ref.Label}
		msg := buildRemoveDiscovery(l)
		b.publish(msg.Topic, msg.Payload, true)
		b.publish(b.stateTopic(l), nil, true)
		b.logger.Info("removed HA discovery", "id", ref.ID, "label", ref.Label)
	}
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.availabilityTopic(), []byte(state), true)
}

func (b *Bridge) publishLight(l lights.Light) {
	b.publishDiscovery(l)
	b.publishState(l)
}

func (b *Bridge) publishDiscovery(l lights.Light) {
	msg := b.buildDiscovery(l)
	b.publish(msg.Topic, msg.Payload, true)
	b.logger.Info("published HA discovery", "id", l.ID, "name", lightDisplayName(l))
}

func (b *Bridge) publishState(l lights.Light) {
	b.publish(b.stateTopic(l), mustJSON(buildState(l)), true)
}

func (b *Bridge) subscribeCommands() {
	topic := b.prefix + "/+/set"
	b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(msg.Topic(), msg.Payload())
	})
}

// commandRef extracts the light reference from "<prefix>/<ref>/set".
func (b *Bridge) commandRef(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return "", false
	}
	ref, ok := strings.CutSuffix(rest, "/set")
	if !ok || ref == "" || strings.Contains(ref, "/") {
		return "", false
	}
	return ref, true
}

type hsColor struct {
	H float64 `json:"h"`
	S float64 `json:"s"`
}

// lightState is the JSON-schema state HA reads from the state topic.
type lightState struct {
	State      string   `json:"state"`
	Brightness int      `json:"brightness"`
	ColorMode  string   `json:"color_mode"`
	Color      *hsColor `json:"color,omitempty"`
	ColorTemp  int      `json:"color_temp,omitempty"`
	Kelvin     uint16   `json:"kelvin"`
	Label      string   `json:"label"`
}

func buildState(l lights.Light) lightState {
	s := lightState{
		State:      "OFF",
		Brightness: int(math.Round(l.Color.Brightness * 254)),
		Kelvin:     l.Color.Kelvin,
		Label:      l.Label,
	}
	if l.Power {
		s.State = "ON"
	}
	if l.Color.Saturation == 0 && l.Color.Kelvin != 0 {
		s.ColorMode = "color_temp"
		s.ColorTemp = kelvinToMireds(l.Color.Kelvin)
	} else {
		s.ColorMode = "hs"
		s.Color = &hsColor{
			H: math.Round(l.Color.Hue*10) / 10,
			S: math.Round(l.Color.Saturation*1000) / 10,
		}
	}
	return s
}

func kelvinToMireds(k uint16) int {
	m := int(math.Round(1e6 / float64(k)))
	return min(max(m, minMireds), maxMireds)
}

func miredsToKelvin(m float64) uint16 {
	m = min(max(m, minMireds), maxMireds)
	return uint16(math.Round(1e6 / m))
}

type hsCommand struct {
	H *float64 `json:"h"`
	S *float64 `json:"s"`
}

type command struct {
	State      string     `json:"state"`
	Brightness *float64   `json:"brightness"`
	Color      *hsCommand `json:"color"`
	ColorTemp  *float64   `json:"color_temp"`
	Kelvin     *float64   `json:"kelvin"`
	Transition *float64   `json:"transition"`
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	ref, ok := b.commandRef(topic)
	if !ok {
		return
	}
	id, err := b.lights.Resolve(ref)
	if err != nil {
		b.logger.Warn("command for unknown light", "ref", ref)
		return
	}
	l, err := b.lights.Light(id)
	if err != nil {
		b.logger.Warn("command for unknown light", "ref", ref)
		return
	}

	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid command JSON", "ref", ref, "err", err)
		return
	}

	var d time.Duration
	if cmd.Transition != nil && *cmd.Transition > 0 {
		d = time.Duration(*cmd.Transition * float64(time.Second))
	}

	color, changed := applyColor(l.Color, cmd)
	if changed {
		if err := b.lights.SetColor(id, color, d); err != nil {
			b.logger.Warn("color command failed", "id", id, "err", err)
		}
	}

	on := l.Power
	switch strings.ToUpper(cmd.State) {
	case "ON":
		on = true
	case "OFF":
		on = false
	case "TOGGLE":
		on = !l.Power
	case "":
		// HA sends brightness alone for a light that is off.
		if changed {
			on = true
		}
	default:
		b.logger.Warn("unknown state in command", "ref", ref, "state", cmd.State)
	}
	if on != l.Power {
		if err := b.lights.SetPower(id, on); err != nil {
			b.logger.Warn("power command failed", "id", id, "err", err)
		}
	}
}

// applyColor returns c with the color parts of cmd applied.
func applyColor(c protocol.Color, cmd command) (protocol.Color, bool) {
	changed := false
	if cmd.Brightness != nil {
		c.Brightness = min(max(*cmd.Brightness/254, 0), 1)
		changed = true
	}
	if cmd.Color != nil {
		if cmd.Color.H != nil {
			c.Hue = math.Mod(math.Mod(*cmd.Color.H, 360)+360, 360)
			changed = true
		}
		if cmd.Color.S != nil {
			c.Saturation = min(max(*cmd.Color.S/100, 0), 1)
			changed = true
		}
	}
	switch {
	case cmd.Kelvin != nil:
		c.Kelvin = uint16(min(max(*cmd.Kelvin, 0), math.MaxUint16))
		c.Saturation = 0
		changed = true
	case cmd.ColorTemp != nil:
		c.Kelvin = miredsToKelvin(*cmd.ColorTemp)
		c.Saturation = 0
		changed = true
	}
	return c, changed
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
