package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Color is a user-facing color: hue in degrees [0, 360), saturation and
// brightness in [0, 1], kelvin raw.
type Color struct {
	Hue        float64 `json:"hue"`
	Saturation float64 `json:"saturation"`
	Brightness float64 `json:"brightness"`
	Kelvin     uint16  `json:"kelvin"`
}

// ColorFromHSBK converts wire units to a Color.
func ColorFromHSBK(c HSBK) Color {
	return Color{
		Hue:        float64(c.Hue) * 360 / math.MaxUint16,
		Saturation: float64(c.Saturation) / math.MaxUint16,
		Brightness: float64(c.Brightness) / math.MaxUint16,
		Kelvin:     c.Kelvin,
	}
}

// HSBK converts c to wire units, clamping out-of-range components.
func (c Color) HSBK() HSBK {
	return HSBK{
		Hue:        scale16(math.Mod(c.Hue, 360) / 360),
		Saturation: scale16(c.Saturation),
		Brightness: scale16(c.Brightness),
		Kelvin:     c.Kelvin,
	}
}

func (c Color) String() string {
	return fmt.Sprintf("hsbk(%.1f, %.2f, %.2f, %dK)", c.Hue, c.Saturation, c.Brightness, c.Kelvin)
}

func scale16(f float64) uint16 {
	switch {
	case f <= 0 || math.IsNaN(f):
		return 0
	case f >= 1:
		return math.MaxUint16
	default:
		return uint16(f * math.MaxUint16)
	}
}

// Power levels written by this client.
const (
	PowerOff uint16 = 0
	PowerOn  uint16 = 1
)

// PowerLevel maps a boolean to a wire power level.
func PowerLevel(on bool) uint16 {
	if on {
		return PowerOn
	}
	return PowerOff
}

// IsOn reports whether a wire power level means "on". Any non-zero level is on.
func IsOn(level uint16) bool {
	return level != 0
}

// Major returns the upper 16 bits of the firmware version.
func (p *Firmware) Major() uint16 {
	return uint16(p.Version >> 16)
}

// Minor returns the lower 16 bits of the firmware version.
func (p *Firmware) Minor() uint16 {
	return uint16(p.Version)
}

// SupportsAlarms reports whether the firmware handles simple events (>= 1.5).
func (p *Firmware) SupportsAlarms() bool {
	return p.Major() > 1 || p.Major() == 1 && p.Minor() >= 5
}

var buildMonths = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// BuildTime decodes the firmware build stamp. Newer firmware reports
// nanoseconds since the epoch; older firmware packs the compiler's
// __DATE__/__TIME__ into the eight bytes.
func (p *Firmware) BuildTime() time.Time {
	if p.Build > 1_200_000_000_000_000_000 {
		return time.Unix(0, int64(p.Build)).UTC()
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], p.Build)
	month := buildMonths[string([]byte{b[6], b[5], b[4]})]
	if month == 0 {
		month = time.January
	}
	return time.Date(2000+int(b[7]), month, int(b[3]), int(b[2]), int(b[1]), int(b[0]), 0, time.UTC)
}

// VersionString formats the firmware version as "major.minor".
func (p *Firmware) VersionString() string {
	return fmt.Sprintf("%d.%d", p.Major(), p.Minor())
}
