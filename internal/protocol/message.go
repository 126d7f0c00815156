// Package protocol implements the LIFX LAN v1 wire format: the 36-byte
// frame header, the address model (sites, devices, tags, binary paths) and
// the fixed-width payload codecs for every known message type.
package protocol

import (
	"errors"
	"fmt"
	"hash/fnv"
	"net"
)

// HeaderSize is the fixed frame header length.
const HeaderSize = 36

// CurrentProtocol is the only protocol version decoded in full.
const CurrentProtocol uint16 = 1024

// Protocol field flags.
const (
	flagAddressable uint16 = 0x1000
	flagTagged      uint16 = 0x2000
	versionMask     uint16 = 0x0FFF
)

// Header field offsets.
const (
	offSize     = 0
	offProtocol = 2
	offTarget   = 8
	offSite     = 16
	offAtTime   = 24
	offType     = 32
)

var (
	ErrShortFrame      = errors.New("protocol: frame shorter than header")
	ErrNotAddressable  = errors.New("protocol: frame is not addressable")
	ErrUnknownType     = errors.New("protocol: unknown message type")
	ErrShortPayload    = errors.New("protocol: payload shorter than registered size")
	ErrPayloadMismatch = errors.New("protocol: payload shape does not match type")
	ErrNoPath          = errors.New("protocol: message has no binary path")
)

// Message is a single protocol frame, inbound or outbound.
//
// Outbound messages carry either a logical Target (resolved by the router)
// or an explicit Path. Decoded messages always carry a Path, and Source is
// the UDP address they arrived from.
type Message struct {
	Type     Type
	Protocol uint16
	Size     uint16
	AtTime   uint64
	Path     *BinaryPath
	Target   *Target
	Payload  Payload
	Source   *net.UDPAddr
	Incoming bool

	// Legacy is set when the frame carried a protocol version other than
	// CurrentProtocol. Only the header was decoded.
	Legacy bool
}

// NewMessage builds an outbound message addressed to a logical target.
func NewMessage(t Type, target Target, payload Payload) *Message {
	return &Message{Type: t, Protocol: CurrentProtocol, Target: &target, Payload: payload}
}

// NewPathMessage builds an outbound message addressed to an already
// resolved path.
func NewPathMessage(t Type, path BinaryPath, payload Payload) *Message {
	return &Message{Type: t, Protocol: CurrentProtocol, Path: &path, Payload: payload}
}

// WithPath returns a shallow copy of m bound to path.
func (m *Message) WithPath(path BinaryPath) *Message {
	c := *m
	c.Path = &path
	return &c
}

// Tagged reports whether the frame's target field is a tag bitfield.
func (m *Message) Tagged() bool {
	return m.Path != nil && m.Path.Target.Kind() != KindDevice
}

func (m *Message) String() string {
	dest := "<unresolved>"
	switch {
	case m.Path != nil:
		dest = m.Path.String()
	case m.Target != nil:
		dest = m.Target.String()
	}
	return m.Type.String() + "@" + dest
}

// EncodedSize is HeaderSize plus the payload size registered for m.Type.
func (m *Message) EncodedSize() int {
	return HeaderSize + m.Type.PayloadSize()
}

// Encode serializes m into a new frame.
func (m *Message) Encode() ([]byte, error) {
	if m.Path == nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, ErrNoPath)
	}
	ti, ok := types[m.Type]
	if !ok {
		return nil, fmt.Errorf("encode type %d: %w", uint16(m.Type), ErrUnknownType)
	}

	payload := m.Payload
	if ti.payload != nil {
		if payload == nil {
			payload = ti.payload()
		} else if !ti.accepts(payload) {
			return nil, fmt.Errorf("encode %s with %T: %w", m.Type, payload, ErrPayloadMismatch)
		}
	}

	b := make([]byte, HeaderSize+ti.size)
	version := m.Protocol
	if version == 0 {
		version = CurrentProtocol
	}
	proto := version&versionMask | flagAddressable

	le.PutUint16(b[offSize:], uint16(len(b)))
	target := m.Path.Target
	switch target.Kind() {
	case KindDevice:
		dev := target.Device()
		copy(b[offTarget:], dev[:])
	default:
		proto |= flagTagged
		le.PutUint64(b[offTarget:], target.Tags())
	}
	le.PutUint16(b[offProtocol:], proto)
	copy(b[offSite:], m.Path.Site[:])
	le.PutUint64(b[offAtTime:], m.AtTime)
	le.PutUint16(b[offType:], uint16(m.Type))

	if ti.payload != nil {
		payload.encode(b[HeaderSize:])
	}
	return b, nil
}

// Decode parses a frame. Frames with a foreign protocol version are
// decoded header-only and flagged Legacy rather than rejected.
func Decode(data []byte) (*Message, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("decode %d bytes: %w", len(data), ErrShortFrame)
	}
	proto := le.Uint16(data[offProtocol:])
	if proto&flagAddressable == 0 {
		return nil, fmt.Errorf("decode protocol field 0x%04X: %w", proto, ErrNotAddressable)
	}

	m := &Message{
		Incoming: true,
		Size:     le.Uint16(data[offSize:]),
		Protocol: proto & versionMask,
		Type:     Type(le.Uint16(data[offType:])),
	}

	path := BinaryPath{}
	copy(path.Site[:], data[offSite:offSite+6])
	if proto&flagTagged != 0 {
		path.Target = TagsTargetID(le.Uint64(data[offTarget:]))
	} else {
		var dev DeviceID
		copy(dev[:], data[offTarget:offTarget+6])
		path.Target = DeviceTargetID(dev)
	}
	m.Path = &path

	if m.Protocol != CurrentProtocol {
		m.Legacy = true
		return m, nil
	}

	m.AtTime = le.Uint64(data[offAtTime:])

	ti, ok := types[m.Type]
	if !ok {
		return nil, fmt.Errorf("decode type %d: %w", uint16(m.Type), ErrUnknownType)
	}
	if ti.payload != nil {
		if len(data) < HeaderSize+ti.size {
			return nil, fmt.Errorf("decode %s: have %d payload bytes, need %d: %w",
				m.Type, len(data)-HeaderSize, ti.size, ErrShortPayload)
		}
		p := ti.payload()
		p.decode(data[HeaderSize : HeaderSize+ti.size])
		m.Payload = p
	}
	return m, nil
}

// ContentHash hashes an encoded frame with the at-time field zeroed, so
// retransmissions of the same command hash identically.
func ContentHash(frame []byte) uint64 {
	h := fnv.New64a()
	if len(frame) < offAtTime+8 {
		h.Write(frame)
		return h.Sum64()
	}
	h.Write(frame[:offAtTime])
	var zero [8]byte
	h.Write(zero[:])
	h.Write(frame[offAtTime+8:])
	return h.Sum64()
}

// Hash is ContentHash of m's encoding.
func (m *Message) Hash() (uint64, error) {
	b, err := m.Encode()
	if err != nil {
		return 0, err
	}
	return ContentHash(b), nil
}
