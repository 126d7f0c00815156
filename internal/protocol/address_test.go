package protocol

import (
	"math/rand/v2"
	"reflect"
	"testing"
	"time"
)

func TestPackUnpackTags(t *testing.T) {
	tests := []struct {
		name  string
		tags  []TagID
		field uint64
	}{
		{"empty", []TagID{}, 0},
		{"first", []TagID{0}, 1},
		{"last", []TagID{63}, 1 << 63},
		{"several", []TagID{1, 3, 40}, 1<<1 | 1<<3 | 1<<40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PackTags(tt.tags); got != tt.field {
				t.Errorf("PackTags = %X, want %X", got, tt.field)
			}
			if got := UnpackTags(tt.field); !reflect.DeepEqual(got, tt.tags) {
				t.Errorf("UnpackTags = %v, want %v", got, tt.tags)
			}
		})
	}
}

func TestUnpackPackIdentity(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 1000; i++ {
		field := r.Uint64()
		if got := PackTags(UnpackTags(field)); got != field {
			t.Fatalf("pack(unpack(%X)) = %X", field, got)
		}
	}
	if got := len(UnpackTags(AllTags)); got != MaxTags {
		t.Errorf("all tags unpack to %d", got)
	}
}

func TestPackIgnoresOutOfRange(t *testing.T) {
	if got := PackTags([]TagID{64, 200}); got != 0 {
		t.Errorf("PackTags = %X, want 0", got)
	}
}

func TestBinaryTargetIDString(t *testing.T) {
	tests := []struct {
		target BinaryTargetID
		want   string
	}{
		{BroadcastTargetID(), "*"},
		{TagsTargetID(0x1F), "#1f"},
		{DeviceTargetID(DeviceID{0xD0, 0x73, 0xD5, 0x01, 0x02, 0x03}), "d073d5010203"},
	}
	for _, tt := range tests {
		if got := tt.target.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestEmptyTagsTargetIsBroadcast(t *testing.T) {
	if k := TagsTargetID(0).Kind(); k != KindBroadcast {
		t.Errorf("kind = %v, want broadcast", k)
	}
}

func TestParseDeviceID(t *testing.T) {
	tests := []struct {
		in      string
		want    DeviceID
		wantErr bool
	}{
		{"d073d5010203", DeviceID{0xD0, 0x73, 0xD5, 0x01, 0x02, 0x03}, false},
		{"D0:73:D5:01:02:03", DeviceID{0xD0, 0x73, 0xD5, 0x01, 0x02, 0x03}, false},
		{"d073d5", DeviceID{}, true},
		{"zz73d5010203", DeviceID{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDeviceID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSiteIDZero(t *testing.T) {
	if !(SiteID{}).IsZero() {
		t.Error("zero site should be zero")
	}
	if testSite.IsZero() {
		t.Error("test site should not be zero")
	}
}

func TestColorConversion(t *testing.T) {
	c := Color{Hue: 120, Saturation: 1, Brightness: 0.5, Kelvin: 3500}
	w := c.HSBK()
	if w.Saturation != 65535 || w.Kelvin != 3500 {
		t.Errorf("wire = %+v", w)
	}
	back := ColorFromHSBK(w)
	if d := back.Hue - 120; d > 0.01 || d < -0.01 {
		t.Errorf("hue = %f", back.Hue)
	}
	if d := back.Brightness - 0.5; d > 0.001 || d < -0.001 {
		t.Errorf("brightness = %f", back.Brightness)
	}
	if w := (Color{Saturation: 2, Brightness: -1}).HSBK(); w.Saturation != 65535 || w.Brightness != 0 {
		t.Errorf("clamp = %+v", w)
	}
}

func TestFirmware(t *testing.T) {
	fw := Firmware{Version: 1<<16 | 5}
	if !fw.SupportsAlarms() {
		t.Error("1.5 should support alarms")
	}
	if (&Firmware{Version: 1<<16 | 4}).SupportsAlarms() {
		t.Error("1.4 should not support alarms")
	}
	if fw.VersionString() != "1.5" {
		t.Errorf("version = %s", fw.VersionString())
	}

	ns := time.Date(2014, 6, 1, 12, 0, 0, 0, time.UTC)
	fw.Build = uint64(ns.UnixNano())
	if got := fw.BuildTime(); !got.Equal(ns) {
		t.Errorf("build time = %v, want %v", got, ns)
	}

	// Packed __DATE__/__TIME__: "Mar 14 2014 09:30:15".
	packed := []byte{15, 30, 9, 14, 'r', 'a', 'M', 14}
	fw.Build = le.Uint64(packed)
	want := time.Date(2014, time.March, 14, 9, 30, 15, 0, time.UTC)
	if got := fw.BuildTime(); !got.Equal(want) {
		t.Errorf("packed build time = %v, want %v", got, want)
	}
}
