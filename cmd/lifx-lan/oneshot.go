package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lifx-lan/internal/client"
	"lifx-lan/internal/lights"
	"lifx-lan/internal/protocol"
)

var (
	discoverWait  time.Duration
	colorDuration time.Duration
)

func init() {
	for _, c := range []*cobra.Command{lightsCmd, powerCmd, colorCmd} {
		c.Flags().DurationVar(&discoverWait, "wait", 3*time.Second, "how long to run discovery")
	}
	colorCmd.Flags().DurationVar(&colorDuration, "duration", lights.DefaultColorDuration, "fade time")
}

var lightsCmd = &cobra.Command{
	Use:   "lights",
	Short: "Discover lights and print them as a table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCollection(cmd.Context(), func(ctx context.Context, coll *lights.Collection) error {
			waitCtx, cancel := context.WithTimeout(ctx, discoverWait)
			defer cancel()
			<-waitCtx.Done()
			fmt.Fprintln(cmd.OutOrStdout(), renderLights(coll.Lights()))
			return nil
		})
	},
}

var powerCmd = &cobra.Command{
	Use:   "power <light> on|off",
	Short: "Switch one light on or off",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := parseOnOff(args[1])
		if err != nil {
			return err
		}
		return withLight(cmd.Context(), args[0], func(coll *lights.Collection, id protocol.DeviceID) error {
			return coll.SetPower(id, on)
		})
	},
}

var colorCmd = &cobra.Command{
	Use:   "color <light> <hue> <saturation> <brightness> <kelvin>",
	Short: "Fade one light to a color (hue in degrees, saturation and brightness 0-1)",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		color, err := parseColor(args[1:])
		if err != nil {
			return err
		}
		return withLight(cmd.Context(), args[0], func(coll *lights.Collection, id protocol.DeviceID) error {
			return coll.SetColor(id, color, colorDuration)
		})
	},
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("power must be on or off, got %q", s)
}

func parseColor(args []string) (protocol.Color, error) {
	var f [4]float64
	names := [4]string{"hue", "saturation", "brightness", "kelvin"}
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return protocol.Color{}, fmt.Errorf("%s: %w", names[i], err)
		}
		f[i] = v
	}
	if f[0] < 0 || f[0] >= 360 {
		return protocol.Color{}, fmt.Errorf("hue must be in [0, 360), got %v", f[0])
	}
	for i := 1; i <= 2; i++ {
		if f[i] < 0 || f[i] > 1 {
			return protocol.Color{}, fmt.Errorf("%s must be in [0, 1], got %v", names[i], f[i])
		}
	}
	if f[3] < 0 || f[3] > 65535 {
		return protocol.Color{}, fmt.Errorf("kelvin must be in [0, 65535], got %v", f[3])
	}
	return protocol.Color{Hue: f[0], Saturation: f[1], Brightness: f[2], Kelvin: uint16(f[3])}, nil
}

// withCollection opens a short-lived connection with a light collection
// attached and closes it after fn returns.
func withCollection(ctx context.Context, fn func(context.Context, *lights.Collection) error) error {
	coll := lights.New(cfg.lightsConfig(), lights.NewEventBus(logger), logger)
	conn := client.New(cfg.clientConfig(), logger, coll)
	if err := conn.Open(ctx); err != nil {
		return fmt.Errorf("open connection: %w", err)
	}
	defer conn.Close()
	return fn(ctx, coll)
}

// withLight waits up to --wait for ref to be discovered, then runs fn.
func withLight(ctx context.Context, ref string, fn func(*lights.Collection, protocol.DeviceID) error) error {
	return withCollection(ctx, func(ctx context.Context, coll *lights.Collection) error {
		ctx, cancel := context.WithTimeout(ctx, discoverWait)
		defer cancel()
		id, err := waitForLight(ctx, coll, ref)
		if err != nil {
			return err
		}
		return fn(coll, id)
	})
}

func waitForLight(ctx context.Context, coll *lights.Collection, ref string) (protocol.DeviceID, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		id, err := coll.Resolve(ref)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, lights.ErrUnknownLight) {
			return protocol.DeviceID{}, err
		}
		select {
		case <-ctx.Done():
			return protocol.DeviceID{}, fmt.Errorf("light %q not found within %s: %w", ref, discoverWait, lights.ErrUnknownLight)
		case <-ticker.C:
		}
	}
}
