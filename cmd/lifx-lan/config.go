package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lifx-lan/internal/client"
	"lifx-lan/internal/lights"
)

type Config struct {
	Network struct {
		Broadcast         string `yaml:"broadcast"`
		Port              int    `yaml:"port"`
		Listen            string `yaml:"listen"`
		SendInterval      string `yaml:"send_interval"`
		QueueCapacity     int    `yaml:"queue_capacity"`
		ResponseTimeout   string `yaml:"response_timeout"`
		SweepInterval     string `yaml:"sweep_interval"`
		GatewayTimeout    string `yaml:"gateway_timeout"`
		LightTimeout      string `yaml:"light_timeout"`
		DiscoveryInterval string `yaml:"discovery_interval"`
	} `yaml:"network"`
	Lights struct {
		LostTimeout     string `yaml:"lost_timeout"`
		RefreshInterval string `yaml:"refresh_interval"`
	} `yaml:"lights"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		MDNS           bool     `yaml:"mdns"`
	} `yaml:"web"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	if c.Network.Port <= 0 || c.Network.Port > 65535 {
		return fmt.Errorf("network.port must be 1-65535, got %d", c.Network.Port)
	}
	if c.Network.QueueCapacity <= 0 {
		return fmt.Errorf("network.queue_capacity must be positive, got %d", c.Network.QueueCapacity)
	}
	if c.Network.Broadcast != "" && net.ParseIP(c.Network.Broadcast).To4() == nil {
		return fmt.Errorf("network.broadcast %q is not an IPv4 address", c.Network.Broadcast)
	}
	durations := map[string]string{
		"network.send_interval":      c.Network.SendInterval,
		"network.response_timeout":   c.Network.ResponseTimeout,
		"network.sweep_interval":     c.Network.SweepInterval,
		"network.gateway_timeout":    c.Network.GatewayTimeout,
		"network.light_timeout":      c.Network.LightTimeout,
		"network.discovery_interval": c.Network.DiscoveryInterval,
		"lights.lost_timeout":        c.Lights.LostTimeout,
		"lights.refresh_interval":    c.Lights.RefreshInterval,
	}
	for key, v := range durations {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, v)
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// loadConfig reads path and fills in defaults. A missing file yields the
// defaults alone.
func loadConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	setDefaults(&cfg)
	return &cfg, nil
}

func setDefaults(cfg *Config) {
	defaultString(&cfg.Network.SendInterval, "20ms")
	defaultString(&cfg.Network.ResponseTimeout, "500ms")
	defaultString(&cfg.Network.SweepInterval, "100ms")
	defaultString(&cfg.Network.GatewayTimeout, "20s")
	defaultString(&cfg.Network.LightTimeout, "35s")
	defaultString(&cfg.Network.DiscoveryInterval, "15s")
	defaultString(&cfg.Lights.LostTimeout, lights.DefaultLostTimeout.String())
	defaultString(&cfg.Lights.RefreshInterval, lights.DefaultRefreshInterval.String())
	defaultString(&cfg.Web.Listen, "127.0.0.1:8080")
	defaultString(&cfg.MQTT.TopicPrefix, "lifx")
	defaultString(&cfg.Log.Level, "info")
	defaultString(&cfg.Log.Format, "text")
	defaultString(&cfg.ScriptsDir, "scripts")
	if cfg.Network.Port == 0 {
		cfg.Network.Port = client.DefaultPort
	}
	if cfg.Network.QueueCapacity == 0 {
		cfg.Network.QueueCapacity = 500
	}
}

func defaultString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

// duration parses a value already checked by validate.
func duration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}

func (c *Config) clientConfig() client.Config {
	return client.Config{
		Broadcast:         c.Network.Broadcast,
		Port:              c.Network.Port,
		ListenAddr:        c.Network.Listen,
		SendInterval:      duration(c.Network.SendInterval),
		QueueCapacity:     c.Network.QueueCapacity,
		ResponseTimeout:   duration(c.Network.ResponseTimeout),
		SweepInterval:     duration(c.Network.SweepInterval),
		GatewayTimeout:    duration(c.Network.GatewayTimeout),
		LightTimeout:      duration(c.Network.LightTimeout),
		DiscoveryInterval: duration(c.Network.DiscoveryInterval),
	}
}

func (c *Config) lightsConfig() lights.Config {
	return lights.Config{
		LostTimeout:     duration(c.Lights.LostTimeout),
		RefreshInterval: duration(c.Lights.RefreshInterval),
	}
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
