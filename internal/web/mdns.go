package web

import (
	"fmt"

	"github.com/grandcat/zeroconf"
)

// MDNSService is the DNS-SD service type the API is announced under.
const MDNSService = "_lifx-lan._tcp"

// Advertise announces the API on port over mDNS until Stop.
func (s *Server) Advertise(instance string, port int) error {
	txt := []string{"path=/api"}
	if s.version != "" {
		txt = append(txt, "version="+s.version)
	}
	if s.apiKey != "" {
		txt = append(txt, "auth=api-key")
	}

	srv, err := zeroconf.Register(instance, MDNSService, "local.", port, txt, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	s.mdnsMu.Lock()
	prev := s.mdns
	s.mdns = srv
	s.mdnsMu.Unlock()
	if prev != nil {
		prev.Shutdown()
	}
	s.logger.Info("mdns advertising", "instance", instance, "service", MDNSService, "port", port)
	return nil
}

func (s *Server) stopAdvertising() {
	s.mdnsMu.Lock()
	srv := s.mdns
	s.mdns = nil
	s.mdnsMu.Unlock()
	if srv != nil {
		srv.Shutdown()
	}
}
