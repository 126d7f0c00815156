package router

import (
	"net"

	"lifx-lan/internal/protocol"
)

// Sender is the outbound half of the router, as seen by handlers.
type Sender interface {
	Send(m *protocol.Message) error
}

// Handler consumes routed inbound messages.
//
// SetRouter is always called before Open. HandleMessage is only called
// between Open and Close. After Close the handler must drop its Sender;
// the router follows Close with SetRouter(nil).
type Handler interface {
	SetRouter(s Sender)
	Open()
	HandleMessage(targets []protocol.DeviceID, m *protocol.Message)
	Close()
}

// GatewayObserver is implemented by handlers that want to hear about
// newly discovered sites.
type GatewayObserver interface {
	GatewayFound(site protocol.SiteID, addr *net.UDPAddr)
}
