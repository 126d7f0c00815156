//go:build !no_mqtt

package mqtt

import (
	"fmt"

	"lifx-lan/internal/lights"
)

// Mired bounds advertised to Home Assistant: 9000K and 2500K.
const (
	minMireds = 111
	maxMireds = 400
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/light/lifx_d073d5000001/light/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is an HA light discovery payload using the JSON schema.
type haDiscovery struct {
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	StateTopic          string   `json:"state_topic"`
	CommandTopic        string   `json:"command_topic"`
	AvailabilityTopic   string   `json:"availability_topic"`
	Schema              string   `json:"schema"`
	Brightness          bool     `json:"brightness"`
	BrightnessScale     int      `json:"brightness_scale"`
	SupportedColorModes []string `json:"supported_color_modes"`
	MinMireds           int      `json:"min_mireds"`
	MaxMireds           int      `json:"max_mireds"`
	Device              haDevice `json:"device"`
}

func lightDisplayName(l lights.Light) string {
	if l.Label != "" {
		return l.Label
	}
	return l.ID.String()
}

// lightIdentifier is the unique identifier for the HA device registry.
func lightIdentifier(l lights.Light) string {
	return "lifx_" + l.ID.String()
}

func discoveryTopic(l lights.Light) string {
	return fmt.Sprintf("homeassistant/light/%s/light/config", lightIdentifier(l))
}

func (b *Bridge) stateTopic(l lights.Light) string {
	return b.prefix + "/" + l.ID.String()
}

func (b *Bridge) availabilityTopic() string {
	return b.prefix + "/bridge/state"
}

// buildDiscovery returns the light entity for l.
func (b *Bridge) buildDiscovery(l lights.Light) discoveryMsg {
	nodeID := lightIdentifier(l)
	name := lightDisplayName(l)
	payload := haDiscovery{
		Name:                name,
		UniqueID:            nodeID + "_light",
		StateTopic:          b.stateTopic(l),
		CommandTopic:        b.stateTopic(l) + "/set",
		AvailabilityTopic:   b.availabilityTopic(),
		Schema:              "json",
		Brightness:          true,
		BrightnessScale:     254,
		SupportedColorModes: []string{"hs", "color_temp"},
		MinMireds:           minMireds,
		MaxMireds:           maxMireds,
		Device: haDevice{
			Identifiers:  []string{nodeID},
			Manufacturer: "LIFX",
			Model:        "LAN bulb",
			Name:         name,
		},
	}
	return discoveryMsg{Topic: discoveryTopic(l), Payload: mustJSON(payload)}
}

// buildRemoveDiscovery returns the empty retained message that deletes
// the entity of l.
func buildRemoveDiscovery(l lights.Light) discoveryMsg {
	return discoveryMsg{Topic: discoveryTopic(l)}
}
