package protocol

import (
	"encoding/hex"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// SiteID identifies a gateway (PAN controller). The zero value means "unassigned".
type SiteID [6]byte

// IsZero reports whether the site is unassigned.
func (s SiteID) IsZero() bool {
	return s == SiteID{}
}

func (s SiteID) String() string {
	return hex.EncodeToString(s[:])
}

// DeviceID is the MAC-derived identity of a single bulb.
type DeviceID [6]byte

func (d DeviceID) String() string {
	return hex.EncodeToString(d[:])
}

func (s SiteID) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *SiteID) UnmarshalText(b []byte) error {
	id, err := ParseSiteID(string(b))
	if err != nil {
		return err
	}
	*s = id
	return nil
}

func (d DeviceID) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *DeviceID) UnmarshalText(b []byte) error {
	id, err := ParseDeviceID(string(b))
	if err != nil {
		return err
	}
	*d = id
	return nil
}

// ParseSiteID parses a 12-digit hex string, with or without colons.
func ParseSiteID(s string) (SiteID, error) {
	var id SiteID
	if err := parseHex6(s, id[:]); err != nil {
		return SiteID{}, fmt.Errorf("parse site id: %w", err)
	}
	return id, nil
}

// ParseDeviceID parses a 12-digit hex string, with or without colons.
func ParseDeviceID(s string) (DeviceID, error) {
	var id DeviceID
	if err := parseHex6(s, id[:]); err != nil {
		return DeviceID{}, fmt.Errorf("parse device id: %w", err)
	}
	return id, nil
}

func parseHex6(s string, dst []byte) error {
	clean := strings.ReplaceAll(s, ":", "")
	if len(clean) != 12 {
		return fmt.Errorf("expected 12 hex chars, got %d", len(clean))
	}
	if _, err := hex.Decode(dst, []byte(clean)); err != nil {
		return err
	}
	return nil
}

// TagID is one of the 64 group-membership flags a device may carry.
type TagID uint8

// MaxTags is the size of the tag universe.
const MaxTags = 64

// AllTags is the bitfield with every tag set.
const AllTags uint64 = ^uint64(0)

// Valid reports whether t is inside the tag universe.
func (t TagID) Valid() bool {
	return t < MaxTags
}

// Bit returns the bitfield with only t set.
func (t TagID) Bit() uint64 {
	return 1 << uint(t)
}

func (t TagID) String() string {
	return "TAG_" + strconv.Itoa(int(t))
}

// PackTags ORs together the bits of every tag in the set.
func PackTags(tags []TagID) uint64 {
	var field uint64
	for _, t := range tags {
		if t.Valid() {
			field |= t.Bit()
		}
	}
	return field
}

// UnpackTags returns the tags whose bits are set, in ascending order.
func UnpackTags(field uint64) []TagID {
	tags := make([]TagID, 0, bits.OnesCount64(field))
	for field != 0 {
		i := bits.TrailingZeros64(field)
		tags = append(tags, TagID(i))
		field &^= 1 << uint(i)
	}
	return tags
}

// TargetKind selects the active variant of a BinaryTargetID or Target.
type TargetKind uint8

const (
	KindBroadcast TargetKind = iota
	KindTags
	KindDevice
)

func (k TargetKind) String() string {
	switch k {
	case KindBroadcast:
		return "broadcast"
	case KindTags:
		return "tags"
	case KindDevice:
		return "device"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// BinaryTargetID is the wire-level recipient selector.
type BinaryTargetID struct {
	kind   TargetKind
	tags   uint64
	device DeviceID
}

// BroadcastTargetID addresses every device at a site.
func BroadcastTargetID() BinaryTargetID {
	return BinaryTargetID{kind: KindBroadcast}
}

// TagsTargetID addresses every device carrying any of the tags in field.
// An empty field degrades to broadcast.
func TagsTargetID(field uint64) BinaryTargetID {
	if field == 0 {
		return BroadcastTargetID()
	}
	return BinaryTargetID{kind: KindTags, tags: field}
}

// DeviceTargetID addresses a single device.
func DeviceTargetID(id DeviceID) BinaryTargetID {
	return BinaryTargetID{kind: KindDevice, device: id}
}

func (b BinaryTargetID) Kind() TargetKind { return b.kind }

// Tags returns the tag bitfield; zero unless Kind is KindTags.
func (b BinaryTargetID) Tags() uint64 { return b.tags }

// Device returns the device id; zero unless Kind is KindDevice.
func (b BinaryTargetID) Device() DeviceID { return b.device }

// String is for diagnostics only: "*", "#<hex bitfield>" or the device hex.
func (b BinaryTargetID) String() string {
	switch b.kind {
	case KindTags:
		return "#" + strconv.FormatUint(b.tags, 16)
	case KindDevice:
		return b.device.String()
	default:
		return "*"
	}
}

// BinaryPath is the resolved (site, target) pair placed on the wire.
type BinaryPath struct {
	Site   SiteID
	Target BinaryTargetID
}

// BroadcastPath addresses every device at site.
func BroadcastPath(site SiteID) BinaryPath {
	return BinaryPath{Site: site, Target: BroadcastTargetID()}
}

func (p BinaryPath) String() string {
	return p.Site.String() + "/" + p.Target.String()
}

// Target is the caller-facing logical recipient, resolved by the routing
// table into zero or more BinaryPaths right before sending.
type Target struct {
	Kind   TargetKind
	Device DeviceID
	Tag    TagID
}

// Broadcast targets every known device at every known site.
func Broadcast() Target {
	return Target{Kind: KindBroadcast}
}

// ToDevice targets a single device.
func ToDevice(id DeviceID) Target {
	return Target{Kind: KindDevice, Device: id}
}

// ToTag targets every device carrying tag.
func ToTag(tag TagID) Target {
	return Target{Kind: KindTags, Tag: tag}
}

func (t Target) String() string {
	switch t.Kind {
	case KindDevice:
		return "device:" + t.Device.String()
	case KindTags:
		return "tag:" + t.Tag.String()
	default:
		return "broadcast"
	}
}
