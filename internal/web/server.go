package web

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"lifx-lan/internal/automation"
	"lifx-lan/internal/lights"
	"lifx-lan/internal/router"

	"github.com/grandcat/zeroconf"
)

const defaultDetailsTimeout = 3 * time.Second

// Network reports the state of the protocol engine.
// *client.Connection implements it.
type Network interface {
	Stats() (router.Stats, error)
}

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey requires key in X-API-Key (or api_key for WebSocket clients).
func WithAPIKey(key string) ServerOption {
	return func(s *Server) { s.apiKey = key }
}

// WithAllowedOrigins sets the origins allowed to mutate and to open the
// event stream. An entry is a full origin ("http://panel.local"), a host
// pattern ("*.local") or "*".
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.allowedOrigins = origins }
}

func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) { s.autoEngine, s.scriptMgr = engine, mgr }
}

// WithVersion sets the version reported by /api/version and mDNS.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// WithDetailsTimeout bounds how long GET /api/lights/{id}/details waits
// for a light to answer.
func WithDetailsTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.detailsTimeout = d }
}

// Server serves the JSON API and the event stream.
type Server struct {
	lights         *lights.Collection
	network        Network
	logger         *slog.Logger
	handler        http.Handler
	apiKey         string
	allowedOrigins []string
	scriptMgr      *automation.Manager
	autoEngine     *automation.Engine
	version        string
	detailsTimeout time.Duration

	wsHub       *WSHub
	wg          sync.WaitGroup
	unsubEvents func()

	mdnsMu sync.Mutex
	mdns   *zeroconf.Server
}

// NewServer builds the handler and starts streaming light events to
// WebSocket clients. Call Stop to release it.
func NewServer(coll *lights.Collection, network Network, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		lights:         coll,
		network:        network,
		logger:         logger.With("component", "web"),
		detailsTimeout: defaultDetailsTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.handler = s.checkOrigin(s.requireAPIKey(s.routes()))

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()
	s.unsubEvents = coll.Events().OnAll(s.wsHub.Broadcast)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Stop withdraws the mDNS record, closes every event stream and waits for
// the hub to exit.
func (s *Server) Stop() {
	s.stopAdvertising()
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	for pattern, h := range map[string]http.HandlerFunc{
		"GET /api/lights":                        s.handleAPIListLights,
		"GET /api/lights/{id}":                   s.handleAPIGetLight,
		"PATCH /api/lights/{id}":                 s.handleAPIRenameLight,
		"POST /api/lights/{id}/power":            s.handleAPISetPower,
		"POST /api/lights/{id}/color":            s.handleAPISetColor,
		"POST /api/lights/{id}/waveform":         s.handleAPISetWaveform,
		"GET /api/lights/{id}/details":           s.handleAPIDetails,
		"GET /api/lights/{id}/alarms":            s.handleAPIListAlarms,
		"PUT /api/lights/{id}/alarms/{index}":    s.handleAPISetAlarm,
		"DELETE /api/lights/{id}/alarms/{index}": s.handleAPIClearAlarm,

		"GET /api/groups":                        s.handleAPIListGroups,
		"POST /api/groups":                       s.handleAPICreateGroup,
		"GET /api/groups/{label}":                s.handleAPIGetGroup,
		"DELETE /api/groups/{label}":             s.handleAPIDeleteGroup,
		"POST /api/groups/{label}/lights/{id}":   s.handleAPIAddToGroup,
		"DELETE /api/groups/{label}/lights/{id}": s.handleAPIRemoveFromGroup,
		"POST /api/groups/{label}/power":         s.handleAPIGroupPower,
		"POST /api/groups/{label}/color":         s.handleAPIGroupColor,

		"GET /api/network": s.handleAPINetwork,
		"GET /api/version": s.handleAPIVersion,

		"GET /api/automations":              s.handleAPIListAutomations,
		"GET /api/automations/{id}":         s.scripts(s.handleAPIGetAutomation),
		"POST /api/automations":             s.scripts(s.handleAPICreateAutomation),
		"PUT /api/automations/{id}":         s.scripts(s.handleAPIUpdateAutomation),
		"DELETE /api/automations/{id}":      s.scripts(s.handleAPIDeleteAutomation),
		"POST /api/automations/{id}/toggle": s.scripts(s.handleAPIToggleAutomation),
		"POST /api/automations/{id}/run":    s.handleAPIRunAutomation,

		"GET /ws": s.handleWS,
	} {
		mux.HandleFunc(pattern, h)
	}
	return mux
}
