package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dscbridge/dsc2ws/internal/itv2"
	"github.com/dscbridge/dsc2ws/internal/log"
	"github.com/dscbridge/dsc2ws/internal/panel"
)

const sid = "123456789012"

type fakeControl struct {
	calls chan string
	err   error
}

func (f *fakeControl) Arm(ctx context.Context, sessionID string, partition uint8, mode itv2.ArmMode, code string) error {
	f.calls <- sessionID + "/" + mode.String() + "/" + code
	return f.err
}

type harness struct {
	store   *panel.Store
	control *fakeControl
	hub     *Hub
	conn    *websocket.Conn
}

func startHub(t *testing.T) *harness {
	t.Helper()
	logger := log.NewLogger("error")
	store := panel.NewStore(logger)
	control := &fakeControl{calls: make(chan string, 8)}
	hub := NewHub(store, control, logger)

	events, cancel := store.Subscribe()
	go hub.run(events)

	srv := httptest.NewServer(hub.handler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		cancel()
		srv.Close()
	})
	return &harness{store: store, control: control, hub: hub, conn: conn}
}

func (h *harness) read(t *testing.T) map[string]interface{} {
	t.Helper()
	h.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := h.conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return out
}

func TestFullState(t *testing.T) {
	h := startHub(t)

	h.store.EnsureSession(sid)
	h.store.UpdateSession(sid, func(s *panel.SessionState) { s.Name = "Warehouse" })
	h.store.UpdatePartition(sid, 1, func(p *panel.PartitionState) {
		p.Name = "Main"
		p.Status = panel.StatusArmedAway
	})
	h.store.UpdateZone(sid, 5, func(z *panel.ZoneState) {
		z.Name = "Door"
		z.IsOpen = true
	})

	if err := h.conn.WriteJSON(map[string]string{"type": "get_full_state"}); err != nil {
		t.Fatal(err)
	}

	// skip the broadcasts triggered by the setup updates
	var msg map[string]interface{}
	for {
		msg = h.read(t)
		if msg["type"] == "full_state" {
			break
		}
	}

	sessions := msg["sessions"].([]interface{})
	if len(sessions) != 1 {
		t.Fatalf("%d sessions", len(sessions))
	}
	session := sessions[0].(map[string]interface{})
	if session["session_id"] != sid || session["name"] != "Warehouse" {
		t.Errorf("session %v", session)
	}

	partitions := session["partitions"].([]interface{})
	p := partitions[0].(map[string]interface{})
	if p["status"] != "armed_away" || p["partition_number"] != float64(1) {
		t.Errorf("partition %v", p)
	}

	zones := session["zones"].([]interface{})
	z := zones[0].(map[string]interface{})
	if z["open"] != true || z["device_class"] != "door" || z["zone_number"] != float64(5) {
		t.Errorf("zone %v", z)
	}
}

func TestBroadcastOnStateChange(t *testing.T) {
	h := startHub(t)

	h.store.UpdatePartition(sid, 2, func(p *panel.PartitionState) {
		p.Status = panel.StatusArmedNight
	})

	msg := h.read(t)
	if msg["type"] != "partition_update" {
		t.Fatalf("type %v", msg["type"])
	}
	if msg["session_id"] != sid || msg["partition_number"] != float64(2) || msg["status"] != "armed_night" {
		t.Errorf("update %v", msg)
	}

	h.store.UpdateZone(sid, 7, func(z *panel.ZoneState) { z.IsOpen = true })

	// read until the zone update arrives
	for {
		msg = h.read(t)
		if msg["type"] == "zone_update" {
			break
		}
	}
	if msg["zone_number"] != float64(7) || msg["open"] != true {
		t.Errorf("zone update %v", msg)
	}
}

func TestArmCommand(t *testing.T) {
	h := startHub(t)

	err := h.conn.WriteJSON(map[string]interface{}{
		"type":             "arm_away",
		"session_id":       sid,
		"partition_number": 1,
		"code":             "1234",
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case call := <-h.control.calls:
		if call != sid+"/away/1234" {
			t.Errorf("call %q", call)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("control never invoked")
	}
}

func TestDisarmCommand(t *testing.T) {
	h := startHub(t)

	h.conn.WriteJSON(map[string]interface{}{
		"type":             "disarm",
		"session_id":       sid,
		"partition_number": 1,
	})

	select {
	case call := <-h.control.calls:
		if call != sid+"/disarm/" {
			t.Errorf("call %q", call)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("control never invoked")
	}
}

func TestUnknownSessionError(t *testing.T) {
	h := startHub(t)
	h.control.err = itv2.ErrSessionNotFound

	h.conn.WriteJSON(map[string]interface{}{
		"type":             "arm_away",
		"session_id":       "999999999999",
		"partition_number": 1,
	})
	<-h.control.calls

	msg := h.read(t)
	if msg["type"] != "error" {
		t.Fatalf("type %v", msg["type"])
	}
	if msg["message"] != itv2.ErrSessionNotFound.Error() {
		t.Errorf("message %v", msg["message"])
	}
}

func TestUnknownMessageType(t *testing.T) {
	h := startHub(t)
	h.conn.WriteJSON(map[string]string{"type": "bogus"})

	msg := h.read(t)
	if msg["type"] != "error" {
		t.Fatalf("type %v", msg["type"])
	}
}
