//go:build no_mqtt

package main

import (
	"log/slog"

	"lifx-lan/internal/lights"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *lights.Collection, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
