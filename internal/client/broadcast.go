package client

import (
	"fmt"
	"net"
)

// LimitedBroadcast is used when no interface broadcast address is found.
var LimitedBroadcast = net.IPv4bcast

// BroadcastAddress returns the directed broadcast address of the first
// up, non-loopback IPv4 interface that supports broadcast.
func BroadcastAddress() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if bcast := directedBroadcast(ipn); bcast != nil {
				return bcast, nil
			}
		}
	}
	return nil, fmt.Errorf("no broadcast-capable IPv4 interface")
}

// directedBroadcast returns ip | ^mask for an IPv4 network, nil otherwise.
func directedBroadcast(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	if ip == nil || len(n.Mask) != net.IPv4len {
		return nil
	}
	out := make(net.IP, net.IPv4len)
	for i := range ip {
		out[i] = ip[i] | ^n.Mask[i]
	}
	return out
}

// resolveBroadcast turns the configured broadcast setting into an address.
// An empty setting discovers one from the interfaces and falls back to the
// limited broadcast address.
func (c *Connection) resolveBroadcast() (*net.UDPAddr, error) {
	if c.cfg.Broadcast != "" {
		ip := net.ParseIP(c.cfg.Broadcast)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("invalid broadcast address %q", c.cfg.Broadcast)
		}
		return &net.UDPAddr{IP: ip, Port: c.cfg.Port}, nil
	}
	ip, err := BroadcastAddress()
	if err != nil {
		c.logger.Warn("broadcast address discovery failed, using limited broadcast", "err", err)
		ip = LimitedBroadcast
	}
	return &net.UDPAddr{IP: ip, Port: c.cfg.Port}, nil
}
