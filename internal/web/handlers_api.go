package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"lifx-lan/internal/client"
	"lifx-lan/internal/lights"
	"lifx-lan/internal/protocol"
	"lifx-lan/internal/router"
)

// writeError maps a light model error to a status code.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lights.ErrUnknownLight), errors.Is(err, lights.ErrUnknownGroup):
		status = http.StatusNotFound
	case errors.Is(err, lights.ErrLabelTooLong), errors.Is(err, lights.ErrEmptyLabel), errors.Is(err, lights.ErrBadAlarmIndex):
		status = http.StatusBadRequest
	case errors.Is(err, lights.ErrNoFreeGroup):
		status = http.StatusConflict
	case errors.Is(err, lights.ErrNotOpen), errors.Is(err, client.ErrClosed):
		status = http.StatusServiceUnavailable
	default:
		s.logger.Error("api request failed", "err", err)
		s.writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decode reads a JSON body of at most 1 MiB into v, answering 400 itself
// when it cannot.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// resolve looks up the {id} path value, which may be a device ID or a
// label.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (protocol.DeviceID, bool) {
	id, err := s.lights.Resolve(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return protocol.DeviceID{}, false
	}
	return id, true
}

func (s *Server) handleAPIListLights(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.lights.Lights())
}

func (s *Server) handleAPIGetLight(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r)
	if !ok {
		return
	}
	l, err := s.lights.Light(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, l)
}

type renameLightRequest struct {
	Label string `json:"label"`
}

func (s *Server) handleAPIRenameLight(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r)
	if !ok {
		return
	}
	var req renameLightRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.lights.SetLabel(id, req.Label); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "label": req.Label})
}

type powerRequest struct {
	On bool `json:"on"`
}

func (s *Server) handleAPISetPower(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r)
	if !ok {
		return
	}
	var req powerRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.lights.SetPower(id, req.On); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "on": req.On})
}

// colorRequest changes only the components it carries.
type colorRequest struct {
	Hue        *float64 `json:"hue"`
	Saturation *float64 `json:"saturation"`
	Brightness *float64 `json:"brightness"`
	Kelvin     *uint16  `json:"kelvin"`
	DurationMS uint32   `json:"duration_ms"`
}

func (req colorRequest) apply(c protocol.Color) protocol.Color {
	if req.Hue != nil {
		c.Hue = *req.Hue
	}
	if req.Saturation != nil {
		c.Saturation = *req.Saturation
	}
	if req.Brightness != nil {
		c.Brightness = *req.Brightness
	}
	if req.Kelvin != nil {
		c.Kelvin = *req.Kelvin
	}
	return c
}

func (req colorRequest) duration() time.Duration {
	return time.Duration(req.DurationMS) * time.Millisecond
}

func (s *Server) handleAPISetColor(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r)
	if !ok {
		return
	}
	var req colorRequest
	if !s.decode(w, r, &req) {
		return
	}
	l, err := s.lights.Light(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	color := req.apply(l.Color)
	if err := s.lights.SetColor(id, color, req.duration()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, color)
}

type waveformRequest struct {
	colorRequest
	Transient bool    `json:"transient"`
	PeriodMS  uint32  `json:"period_ms"`
	Cycles    float32 `json:"cycles"`
	SkewRatio int16   `json:"skew_ratio"`
	Waveform  string  `json:"waveform"`
}

var waveforms = map[string]uint8{
	"saw":       protocol.WaveformSaw,
	"sine":      protocol.WaveformSine,
	"half_sine": protocol.WaveformHalfSine,
	"triangle":  protocol.WaveformTriangle,
	"pulse":     protocol.WaveformPulse,
	"":          protocol.WaveformSine,
}

func (s *Server) handleAPISetWaveform(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r)
	if !ok {
		return
	}
	var req waveformRequest
	if !s.decode(w, r, &req) {
		return
	}
	shape, ok := waveforms[req.Waveform]
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown waveform " + strconv.Quote(req.Waveform)})
		return
	}
	l, err := s.lights.Light(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	err = s.lights.SetWaveform(id, lights.Effect{
		Color:     req.apply(l.Color),
		Transient: req.Transient,
		Period:    time.Duration(req.PeriodMS) * time.Millisecond,
		Cycles:    req.Cycles,
		SkewRatio: req.SkewRatio,
		Waveform:  shape,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAPIDetails answers with whatever arrived before the timeout;
// "complete" tells the caller whether every query was answered.
func (s *Server) handleAPIDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.detailsTimeout)
	defer cancel()

	d, err := s.lights.Details(ctx, id)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleAPIListAlarms(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r)
	if !ok {
		return
	}
	alarms, err := s.lights.Alarms(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if alarms == nil {
		alarms = []lights.Alarm{}
	}
	s.writeJSON(w, http.StatusOK, alarms)
}

func (s *Server) alarmIndex(w http.ResponseWriter, r *http.Request) (uint8, bool) {
	n, err := strconv.ParseUint(r.PathValue("index"), 10, 8)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid alarm index"})
		return 0, false
	}
	return uint8(n), true
}

type alarmRequest struct {
	Time       time.Time      `json:"time"`
	Power      bool           `json:"power"`
	DurationMS uint32         `json:"duration_ms"`
	Color      protocol.Color `json:"color"`
	Waveform   uint8          `json:"waveform"`
}

func (s *Server) handleAPISetAlarm(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r)
	if !ok {
		return
	}
	index, ok := s.alarmIndex(w, r)
	if !ok {
		return
	}
	var req alarmRequest
	if !s.decode(w, r, &req) {
		return
	}
	a := lights.Alarm{
		Index:    index,
		Time:     req.Time,
		Power:    req.Power,
		Duration: time.Duration(req.DurationMS) * time.Millisecond,
		Color:    req.Color,
		Waveform: req.Waveform,
	}
	if err := s.lights.SetAlarm(id, index, a); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleAPIClearAlarm(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r)
	if !ok {
		return
	}
	index, ok := s.alarmIndex(w, r)
	if !ok {
		return
	}
	if err := s.lights.ClearAlarm(id, index); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIListGroups(w http.ResponseWriter, r *http.Request) {
	groups := s.lights.Groups()
	if groups == nil {
		groups = []lights.Group{}
	}
	s.writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleAPIGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.lights.Group(r.PathValue("label"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

type createGroupRequest struct {
	Label string `json:"label"`
}

func (s *Server) handleAPICreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if !s.decode(w, r, &req) {
		return
	}
	g, err := s.lights.AddGroup(req.Label)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleAPIDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.lights.RemoveGroup(r.PathValue("label")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIAddToGroup(w http.ResponseWriter, r *http.Request) {
	s.membership(w, r, s.lights.AddLight)
}

func (s *Server) handleAPIRemoveFromGroup(w http.ResponseWriter, r *http.Request) {
	s.membership(w, r, s.lights.RemoveLight)
}

func (s *Server) membership(w http.ResponseWriter, r *http.Request, fn func(string, protocol.DeviceID) error) {
	id, ok := s.resolve(w, r)
	if !ok {
		return
	}
	label := r.PathValue("label")
	if err := fn(label, id); err != nil {
		s.writeError(w, err)
		return
	}
	g, err := s.lights.Group(label)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleAPIGroupPower(w http.ResponseWriter, r *http.Request) {
	var req powerRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.lights.SetGroupPower(r.PathValue("label"), req.On); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "on": req.On})
}

// handleAPIGroupColor needs every component: members may differ, so
// there is no current color to fill gaps from.
func (s *Server) handleAPIGroupColor(w http.ResponseWriter, r *http.Request) {
	var req colorRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Hue == nil || req.Saturation == nil || req.Brightness == nil || req.Kelvin == nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "hue, saturation, brightness and kelvin are required"})
		return
	}
	color := req.apply(protocol.Color{})
	if err := s.lights.SetGroupColor(r.PathValue("label"), color, req.duration()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, color)
}

func (s *Server) handleAPINetwork(w http.ResponseWriter, r *http.Request) {
	if s.network == nil {
		s.writeError(w, lights.ErrNotOpen)
		return
	}
	stats, err := s.network.Stats()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		router.Stats
		StreamClients    int `json:"stream_clients"`
		EventSubscribers int `json:"event_subscribers"`
	}{stats, s.wsHub.count(), s.lights.Events().Subscribers()})
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
