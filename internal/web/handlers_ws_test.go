package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lifx-lan/internal/lights"
	"lifx-lan/internal/protocol"

	"nhooyr.io/websocket"
)

func newTestHub(t *testing.T) *WSHub {
	hub := NewWSHub(newTestLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func testClient(buf int, f EventFilter) *wsClient {
	return &wsClient{send: make(chan []byte, buf), filter: f}
}

// recv waits briefly for one message on c.
func recv(c *wsClient) (lights.Event, bool) {
	select {
	case data, ok := <-c.send:
		if !ok {
			return lights.Event{}, false
		}
		var ev lights.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return lights.Event{}, false
		}
		return ev, true
	case <-time.After(200 * time.Millisecond):
		return lights.Event{}, false
	}
}

func TestEventFilterMatch(t *testing.T) {
	found := lights.Event{Type: lights.EventLightFound, Data: lights.LightRef{ID: porchID}}
	updated := lights.Event{Type: lights.EventLightUpdated, Data: lights.PropertyChange{ID: kitchenID, Property: lights.PropPower}}
	group := lights.Event{Type: lights.EventGroupAdded, Data: lights.GroupRef{Tag: 1, Label: "Upstairs"}}

	tests := []struct {
		name   string
		filter EventFilter
		ev     lights.Event
		want   bool
	}{
		{"empty matches all", EventFilter{}, updated, true},
		{"type match", EventFilter{Types: []string{lights.EventLightFound}}, found, true},
		{"type mismatch", EventFilter{Types: []string{lights.EventLightFound}}, updated, false},
		{"light match", EventFilter{Lights: []protocol.DeviceID{kitchenID}}, updated, true},
		{"light mismatch", EventFilter{Lights: []protocol.DeviceID{porchID}}, updated, false},
		{"lightless event passes light filter", EventFilter{Lights: []protocol.DeviceID{porchID}}, group, true},
		{"both", EventFilter{Types: []string{lights.EventLightFound}, Lights: []protocol.DeviceID{porchID}}, found, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.match(tt.ev); got != tt.want {
				t.Errorf("match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterFromQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?events=light_found,light_lost&lights="+porchID.String(), nil)
	f, err := filterFromQuery(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Types) != 2 || f.Types[1] != lights.EventLightLost {
		t.Errorf("types = %v", f.Types)
	}
	if len(f.Lights) != 1 || f.Lights[0] != porchID {
		t.Errorf("lights = %v", f.Lights)
	}

	r = httptest.NewRequest(http.MethodGet, "/ws?lights=nope", nil)
	if _, err := filterFromQuery(r); err == nil {
		t.Error("expected error for bad light id")
	}
}

func TestWSHubAddRemove(t *testing.T) {
	hub := newTestHub(t)
	c := testClient(16, EventFilter{})

	if !hub.add(c) {
		t.Fatal("add refused")
	}
	if n := hub.count(); n != 1 {
		t.Errorf("after add: count = %d, want 1", n)
	}
	hub.remove(c)
	if n := hub.count(); n != 0 {
		t.Errorf("after remove: count = %d, want 0", n)
	}
	if _, ok := <-c.send; ok {
		t.Error("send should be closed after remove")
	}

	// Removing again is a no-op.
	hub.remove(c)
}

func TestWSHubRemoveUnknownClient(t *testing.T) {
	hub := newTestHub(t)
	unknown := testClient(16, EventFilter{})
	hub.remove(unknown)

	select {
	case unknown.send <- []byte("test"):
	default:
		t.Error("channel should still be open for a client never added")
	}
}

func TestWSHubBroadcastFilters(t *testing.T) {
	hub := newTestHub(t)
	all := testClient(16, EventFilter{})
	porchOnly := testClient(16, EventFilter{Lights: []protocol.DeviceID{porchID}})
	hub.add(all)
	hub.add(porchOnly)

	hub.Broadcast(lights.Event{Type: lights.EventLightUpdated, Data: lights.PropertyChange{ID: kitchenID}})
	hub.Broadcast(lights.Event{Type: lights.EventLightUpdated, Data: lights.PropertyChange{ID: porchID}})

	for i := 0; i < 2; i++ {
		if _, ok := recv(all); !ok {
			t.Fatalf("unfiltered client missed event %d", i)
		}
	}
	ev, ok := recv(porchOnly)
	if !ok {
		t.Fatal("filtered client got nothing")
	}
	if ev.Type != lights.EventLightUpdated {
		t.Errorf("type = %q", ev.Type)
	}
	if _, ok := recv(porchOnly); ok {
		t.Error("filtered client got the kitchen event")
	}
}

func TestWSHubSlowClientEviction(t *testing.T) {
	hub := newTestHub(t)
	slow := testClient(1, EventFilter{})
	fast := testClient(64, EventFilter{})
	hub.add(slow)
	hub.add(fast)

	hub.Broadcast(lights.Event{Type: lights.EventLightUpdated})
	hub.Broadcast(lights.Event{Type: lights.EventLightUpdated})

	for i := 0; i < 2; i++ {
		if _, ok := recv(fast); !ok {
			t.Fatalf("fast client missed event %d", i)
		}
	}

	hub.mu.Lock()
	_, slowPresent := hub.clients[slow]
	_, fastPresent := hub.clients[fast]
	hub.mu.Unlock()
	if slowPresent {
		t.Error("slow client should have been evicted")
	}
	if !fastPresent {
		t.Error("fast client should still be present")
	}
}

func TestWSHubBroadcastDoesNotBlock(t *testing.T) {
	hub := NewWSHub(newTestLogger()) // not running, so the queue fills

	done := make(chan struct{})
	go func() {
		for i := 0; i < wsEventBuffer+10; i++ {
			hub.Broadcast(lights.Event{Type: lights.EventLightUpdated, Data: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Broadcast blocked when the queue is full")
	}
}

func TestWSHubStop(t *testing.T) {
	hub := NewWSHub(newTestLogger())
	stopped := make(chan struct{})
	go func() {
		hub.Run()
		close(stopped)
	}()

	c := testClient(16, EventFilter{})
	hub.add(c)
	hub.Stop()
	hub.Stop()
	<-stopped

	if _, ok := <-c.send; ok {
		t.Error("client.send should be closed after hub stop")
	}
	if hub.add(testClient(1, EventFilter{})) {
		t.Error("add accepted after stop")
	}
}

func dialWS(t *testing.T, ctx context.Context, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.srv)
	t.Cleanup(ts.Close)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws"+query, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ev map[string]json.RawMessage
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	return ev
}

// togglePorch keeps flipping the porch light's power until ctx ends, so
// a client is sure to see an update once its registration lands.
func togglePorch(ctx context.Context, env *testEnv) {
	on := false
	for ctx.Err() == nil {
		on = !on
		env.coll.HandleMessage([]protocol.DeviceID{porchID},
			lightFrame(protocol.DeviceStatePower, porchID, &protocol.Power{Level: protocol.PowerLevel(on)}))
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWSSnapshotThenEvents(t *testing.T) {
	env := setupTestServer(t)
	env.addLight(t, porchID, "Porch")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, env, "")

	snap := readEvent(t, ctx, conn)
	if string(snap["type"]) != `"snapshot"` {
		t.Fatalf("first message type = %s, want snapshot", snap["type"])
	}
	var data snapshotData
	if err := json.Unmarshal(snap["data"], &data); err != nil {
		t.Fatal(err)
	}
	if len(data.Lights) != 1 || data.Lights[0].Label != "Porch" {
		t.Errorf("snapshot lights = %+v", data.Lights)
	}

	go togglePorch(ctx, env)

	ev := readEvent(t, ctx, conn)
	if string(ev["type"]) != `"light_updated"` {
		t.Errorf("event type = %s, want light_updated", ev["type"])
	}
}

func TestWSSubscribe(t *testing.T) {
	env := setupTestServer(t)
	env.addLight(t, porchID, "Porch")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, env, "?events=light_lost")
	readEvent(t, ctx, conn) // snapshot

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"subscribe":{"types":["light_updated"]}}`)); err != nil {
		t.Fatal(err)
	}
	ev := readEvent(t, ctx, conn)
	if string(ev["type"]) != `"subscribed"` {
		t.Fatalf("reply type = %s, want subscribed", ev["type"])
	}

	go togglePorch(ctx, env)
	ev = readEvent(t, ctx, conn)
	if string(ev["type"]) != `"light_updated"` {
		t.Errorf("event type = %s, want light_updated", ev["type"])
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`hello`)); err != nil {
		t.Fatal(err)
	}
	for {
		ev = readEvent(t, ctx, conn)
		if string(ev["type"]) == `"error"` {
			break
		}
	}
}

func TestWSBadFilter(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodGet, "/ws?lights=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
