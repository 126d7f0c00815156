//go:build no_automation

package main

import (
	"log/slog"

	"lifx-lan/internal/lights"
	"lifx-lan/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *lights.Collection, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
