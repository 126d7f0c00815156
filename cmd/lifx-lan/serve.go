package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lifx-lan/internal/client"
	"lifx-lan/internal/lights"
	"lifx-lan/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon: light model, web API, MQTT bridge and automations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	logger.Info("lifx-lan starting", "version", version)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events := lights.NewEventBus(logger)
	coll := lights.New(cfg.lightsConfig(), events, logger)
	conn := client.New(cfg.clientConfig(), logger, coll)
	if err := conn.Open(ctx); err != nil {
		return fmt.Errorf("open connection: %w", err)
	}

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(coll, cfg, logger)

	webOpts := []web.ServerOption{web.WithVersion(version)}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, autoWebOpts...)
	webServer := web.NewServer(coll, conn, logger, webOpts...)

	ln, err := net.Listen("tcp", cfg.Web.Listen)
	if err != nil {
		auto.Stop()
		webServer.Stop()
		conn.Close()
		return fmt.Errorf("web listen: %w", err)
	}
	httpServer := &http.Server{
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("web server starting", "addr", ln.Addr())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
		}
	}()

	if cfg.Web.MDNS {
		host, _ := os.Hostname()
		port := ln.Addr().(*net.TCPAddr).Port
		if err := webServer.Advertise("lifx-lan "+host, port); err != nil {
			logger.Warn("mdns advertise", "err", err)
		}
	}

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(coll, cfg, logger)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-conn.Done():
		runErr = client.ErrClosed
		logger.Error("connection failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	if err := conn.Close(); err != nil && !errors.Is(err, client.ErrClosed) {
		logger.Error("close connection", "err", err)
	}

	logger.Info("goodbye")
	return runErr
}
