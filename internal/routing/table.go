// Package routing keeps the liveness-based map of known gateways (sites)
// and devices, and resolves logical targets to binary paths.
package routing

import (
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"lifx-lan/internal/protocol"
)

// Default staleness thresholds.
const (
	DefaultGatewayTimeout = 20 * time.Second
	DefaultLightTimeout   = 35 * time.Second
)

// Config holds the table's tunables. Zero values select the defaults.
type Config struct {
	GatewayTimeout time.Duration
	LightTimeout   time.Duration
	// Port is used for gateways that announce port 0.
	Port int
}

// Gateway is a snapshot of a known site.
type Gateway struct {
	Site     protocol.SiteID `json:"site"`
	Addr     *net.UDPAddr    `json:"addr"`
	LastSeen time.Time       `json:"last_seen"`
}

// Light is a snapshot of a known device.
type Light struct {
	Device   protocol.DeviceID `json:"device"`
	Site     protocol.SiteID   `json:"site"`
	Tags     uint64            `json:"tags"`
	LastSeen time.Time         `json:"last_seen"`
}

type gatewayEntry struct {
	addr     *net.UDPAddr
	lastSeen time.Time
}

type lightEntry struct {
	site     protocol.SiteID
	tags     uint64
	lastSeen time.Time
}

// Table is the routing table. All methods are safe for concurrent use and
// each runs as one critical section.
type Table struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	gateways map[protocol.SiteID]*gatewayEntry
	lights   map[protocol.DeviceID]*lightEntry
}

// New creates an empty table.
func New(cfg Config, logger *slog.Logger) *Table {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = DefaultGatewayTimeout
	}
	if cfg.LightTimeout <= 0 {
		cfg.LightTimeout = DefaultLightTimeout
	}
	return &Table{
		cfg:      cfg,
		logger:   logger.With("component", "routing"),
		now:      time.Now,
		gateways: make(map[protocol.SiteID]*gatewayEntry),
		lights:   make(map[protocol.DeviceID]*lightEntry),
	}
}

// UpdateWithGatewayAnnouncement records a STATE_PAN_GATEWAY frame. It
// returns the site and true only when the site was not known before.
// Announcements for services other than UDP are ignored.
func (t *Table) UpdateWithGatewayAnnouncement(m *protocol.Message) (protocol.SiteID, bool) {
	if m.Type != protocol.DeviceStatePanGateway || m.Path == nil {
		return protocol.SiteID{}, false
	}
	p, ok := m.Payload.(*protocol.StatePanGateway)
	if !ok || p.Service != protocol.ServiceUDP {
		return protocol.SiteID{}, false
	}

	addr := &net.UDPAddr{Port: int(p.Port)}
	if addr.Port == 0 {
		addr.Port = t.cfg.Port
	}
	if m.Source != nil {
		addr.IP = m.Source.IP
		addr.Zone = m.Source.Zone
	}

	site := m.Path.Site
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	created := false
	gw, ok := t.gateways[site]
	if !ok {
		gw = &gatewayEntry{}
		t.gateways[site] = gw
		created = true
		t.logger.Debug("new gateway", "site", site, "addr", addr)
	}
	gw.addr = addr
	gw.lastSeen = now

	t.evictLocked(now)
	return site, created
}

// UpdateWithDeviceFrame records a frame attributable to a single device.
// It returns the device and true only when the device was not known
// before. A STATE_TAGS payload replaces the device's tag set.
func (t *Table) UpdateWithDeviceFrame(m *protocol.Message) (protocol.DeviceID, bool) {
	if m.Path == nil {
		return protocol.DeviceID{}, false
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		id      protocol.DeviceID
		created bool
	)
	if m.Path.Target.Kind() == protocol.KindDevice {
		id = m.Path.Target.Device()
		l, ok := t.lights[id]
		if !ok {
			l = &lightEntry{}
			t.lights[id] = l
			created = true
			t.logger.Debug("new light", "device", id, "site", m.Path.Site)
		}
		l.site = m.Path.Site
		l.lastSeen = now

		if tags, ok := m.Payload.(*protocol.Tags); ok && m.Type == protocol.DeviceStateTags {
			l.tags = tags.Tags
		}
	}

	t.evictLocked(now)
	return id, created
}

// Evict removes stale entries. It also runs on every update.
func (t *Table) Evict() {
	now := t.now()
	t.mu.Lock()
	t.evictLocked(now)
	t.mu.Unlock()
}

func (t *Table) evictLocked(now time.Time) {
	for site, gw := range t.gateways {
		if now.Sub(gw.lastSeen) > t.cfg.GatewayTimeout {
			delete(t.gateways, site)
			t.logger.Debug("gateway stale", "site", site)
		}
	}
	for id, l := range t.lights {
		if now.Sub(l.lastSeen) > t.cfg.LightTimeout {
			delete(t.lights, id)
			t.logger.Debug("light stale", "device", id)
		}
	}
}

// ResolveSend maps a logical target to the binary paths that reach it.
// The result is empty when nothing is known for the target.
func (t *Table) ResolveSend(target protocol.Target) []protocol.BinaryPath {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var paths []protocol.BinaryPath
	switch target.Kind {
	case protocol.KindBroadcast:
		for site := range t.gateways {
			paths = append(paths, protocol.BroadcastPath(site))
		}
	case protocol.KindDevice:
		if l, ok := t.lights[target.Device]; ok {
			paths = append(paths, protocol.BinaryPath{Site: l.site, Target: protocol.DeviceTargetID(target.Device)})
		}
	case protocol.KindTags:
		bit := target.Tag.Bit()
		seen := make(map[protocol.SiteID]bool)
		for _, l := range t.lights {
			if l.tags&bit != 0 && !seen[l.site] {
				seen[l.site] = true
				paths = append(paths, protocol.BinaryPath{Site: l.site, Target: protocol.TagsTargetID(bit)})
			}
		}
	}
	sortPaths(paths)
	return paths
}

// Targets demultiplexes an inbound path to the concrete devices it
// addresses.
func (t *Table) Targets(path protocol.BinaryPath) []protocol.DeviceID {
	switch path.Target.Kind() {
	case protocol.KindDevice:
		return []protocol.DeviceID{path.Target.Device()}
	case protocol.KindTags:
		return t.LightsAtSiteWithAnyTag(path.Site, path.Target.Tags())
	default:
		return t.LightsAtSite(path.Site)
	}
}

// LightsAtSite returns every device last seen at site.
func (t *Table) LightsAtSite(site protocol.SiteID) []protocol.DeviceID {
	return t.lightsWhere(func(l *lightEntry) bool { return l.site == site })
}

// LightsAtSiteWithAnyTag returns the devices at site carrying at least one
// tag in field.
func (t *Table) LightsAtSiteWithAnyTag(site protocol.SiteID, field uint64) []protocol.DeviceID {
	return t.lightsWhere(func(l *lightEntry) bool { return l.site == site && l.tags&field != 0 })
}

func (t *Table) lightsWhere(match func(*lightEntry) bool) []protocol.DeviceID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []protocol.DeviceID
	for id, l := range t.lights {
		if match(l) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Sites returns every known site.
func (t *Table) Sites() []protocol.SiteID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sites := make([]protocol.SiteID, 0, len(t.gateways))
	for site := range t.gateways {
		sites = append(sites, site)
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].String() < sites[j].String() })
	return sites
}

// GatewayAddr returns the address of site's gateway.
func (t *Table) GatewayAddr(site protocol.SiteID) (*net.UDPAddr, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	gw, ok := t.gateways[site]
	if !ok {
		return nil, false
	}
	return gw.addr, true
}

// GatewayAddrs returns the addresses of every known gateway.
func (t *Table) GatewayAddrs() []*net.UDPAddr {
	gws := t.Gateways()
	addrs := make([]*net.UDPAddr, len(gws))
	for i, gw := range gws {
		addrs[i] = gw.Addr
	}
	return addrs
}

// IsLightAlive reports whether the device is still in the table.
func (t *Table) IsLightAlive(id protocol.DeviceID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.lights[id]
	return ok
}

// Gateways returns a snapshot of every known gateway.
func (t *Table) Gateways() []Gateway {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Gateway, 0, len(t.gateways))
	for site, gw := range t.gateways {
		out = append(out, Gateway{Site: site, Addr: gw.addr, LastSeen: gw.lastSeen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site.String() < out[j].Site.String() })
	return out
}

// Lights returns a snapshot of every known device.
func (t *Table) Lights() []Light {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Light, 0, len(t.lights))
	for id, l := range t.lights {
		out = append(out, Light{Device: id, Site: l.site, Tags: l.tags, LastSeen: l.lastSeen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device.String() < out[j].Device.String() })
	return out
}

func sortPaths(paths []protocol.BinaryPath) {
	sort.Slice(paths, func(i, j int) bool { return paths[i].String() < paths[j].String() })
}
