package feed

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/willibrandon/haloscope/pkg/engine"
	"github.com/willibrandon/haloscope/pkg/engine/enginetest"
	"github.com/willibrandon/haloscope/pkg/memory"
)

func testCapture() *enginetest.Builder {
	b := enginetest.New()
	b.AddObject(5, 0xE1F5, 7, engine.Vector3{X: 1, Y: 2, Z: 3})
	b.AddObject(9, 0xE1F9, 8, engine.Vector3{X: -4, Y: 0, Z: 0.5})
	b.AddTag(7, "weap", "weapons\\pistol")
	b.AddPlayer(0, 0xEC70, 1, "Chief", engine.NewDatumHandle(5, 0xE1F5))
	b.SetLocalPlayer(1, engine.NewDatumHandle(0, 0xEC70))
	return b
}

func TestNewFrame(t *testing.T) {
	b := testCapture()
	snap, err := engine.BuildSnapshot(b.Bytes(), b.Layout)
	if err != nil {
		t.Fatalf("Failed to build snapshot: %v", err)
	}

	f := NewFrame(3, snap, nil)
	if !f.Available || f.Seq != 3 || f.Error != "" {
		t.Fatalf("Unexpected frame header: %+v", f)
	}
	if len(f.Objects) != 2 {
		t.Fatalf("Expected 2 objects, got %d", len(f.Objects))
	}

	pistol := f.Objects[0]
	if pistol.Index != 5 || pistol.Tag != "weapons\\pistol" {
		t.Errorf("Unexpected first object: %+v", pistol)
	}
	if pistol.Owner == nil || *pistol.Owner != 1 {
		t.Errorf("Expected object 5 to be owned by local player 1, got %v", pistol.Owner)
	}
	if f.Objects[1].Tag != "" || f.Objects[1].Owner != nil {
		t.Errorf("Object 9 should have no tag or owner: %+v", f.Objects[1])
	}

	if len(f.Players) != 1 || f.Players[0].Name != "Chief" {
		t.Errorf("Unexpected players: %+v", f.Players)
	}
	if f.Globals == nil || len(f.Globals.LocalPlayers) != 4 {
		t.Fatalf("Expected globals with 4 local players, got %+v", f.Globals)
	}
	if f.Globals.LocalPlayers[1] != engine.NewDatumHandle(0, 0xEC70).Raw() {
		t.Errorf("Unexpected local player handle 0x%08X", f.Globals.LocalPlayers[1])
	}
}

func TestNewFrameNonFinitePosition(t *testing.T) {
	b := testCapture()
	b.AddObject(12, 0xE200, 7, engine.Vector3{X: float32(math.NaN()), Y: 1, Z: 1})
	b.AddObject(13, 0xE201, 7, engine.Vector3{X: 1, Y: float32(math.Inf(-1)), Z: 1})
	snap, err := engine.BuildSnapshot(b.Bytes(), b.Layout)
	if err != nil {
		t.Fatalf("Failed to build snapshot: %v", err)
	}

	data, err := json.Marshal(NewFrame(1, snap, nil))
	if err != nil {
		t.Fatalf("Frame with non-finite positions should encode: %v", err)
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	if len(f.Objects) != 4 {
		t.Fatalf("Expected all 4 objects, got %d", len(f.Objects))
	}
	for _, o := range f.Objects {
		switch o.Index {
		case 12, 13:
			if o.Position != nil {
				t.Errorf("Object %d should have no position, got %v", o.Index, *o.Position)
			}
		case 5:
			if o.Position == nil || *o.Position != (engine.Vector3{X: 1, Y: 2, Z: 3}) {
				t.Errorf("Object 5 lost its position: %v", o.Position)
			}
		}
	}
}

func TestNewFrameUnavailable(t *testing.T) {
	f := NewFrame(1, nil, errors.New("bad signature"))
	if f.Available {
		t.Error("Frame should not be available")
	}
	if f.Error != "bad signature" {
		t.Errorf("Expected error text, got %q", f.Error)
	}
	if f.Objects != nil || f.Globals != nil {
		t.Error("Unavailable frame should carry no state")
	}

	f = NewFrame(2, nil, nil)
	if f.Available || f.Error == "" {
		t.Errorf("A missing snapshot should still be reported: %+v", f)
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial feed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return f
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, have %d", n, h.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubBroadcast(t *testing.T) {
	b := testCapture()
	provider := memory.NewBuffer(b.Bytes())
	hub := NewHub(provider, b.Layout, time.Hour)
	ctx := context.Background()

	if _, ok := hub.Last(); ok {
		t.Error("No frame should exist before the first poll")
	}
	if err := hub.Poll(ctx); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	conn := dial(t, srv)

	// new clients get the latest frame straight away
	f := readFrame(t, conn)
	if f.Seq != 1 || !f.Available || len(f.Objects) != 2 {
		t.Fatalf("Unexpected first frame: %+v", f)
	}

	waitForClients(t, hub, 1)

	broken := append([]byte(nil), b.Bytes()...)
	copy(broken[b.Layout.ObjectPoolHeader+40:], []byte{0, 0, 0, 0})
	provider.Update(broken)

	if err := hub.Poll(ctx); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	f = readFrame(t, conn)
	if f.Seq != 2 {
		t.Errorf("Expected seq 2, got %d", f.Seq)
	}
	if f.Available || f.Error == "" {
		t.Errorf("Corrupt capture should produce an unavailable frame: %+v", f)
	}
}

func TestHubSendsFramesWithNonFinitePositions(t *testing.T) {
	b := testCapture()
	b.AddObject(12, 0xE200, 7, engine.Vector3{X: float32(math.NaN()), Y: 1, Z: 1})
	hub := NewHub(memory.NewBuffer(b.Bytes()), b.Layout, time.Hour)
	ctx := context.Background()

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	for seq := uint64(1); seq <= 2; seq++ {
		if err := hub.Poll(ctx); err != nil {
			t.Fatalf("Poll failed: %v", err)
		}
		f := readFrame(t, conn)
		if f.Seq != seq || len(f.Objects) != 3 {
			t.Fatalf("Unexpected frame %d: %+v", seq, f)
		}
	}
	if n := hub.ClientCount(); n != 1 {
		t.Errorf("Client should stay connected, have %d clients", n)
	}
}

func TestHubRunStopsOnClosedProvider(t *testing.T) {
	b := testCapture()
	provider := memory.NewBuffer(b.Bytes())
	provider.Close()

	hub := NewHub(provider, b.Layout, time.Millisecond)
	err := hub.Run(context.Background())
	if !errors.Is(err, memory.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestHubRunStopsOnContext(t *testing.T) {
	b := testCapture()
	hub := NewHub(memory.NewBuffer(b.Bytes()), b.Layout, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := hub.Run(ctx); err != nil {
		t.Errorf("Expected nil on cancellation, got %v", err)
	}
	f, ok := hub.Last()
	if !ok || f.Seq == 0 {
		t.Error("Run should have polled at least once")
	}
}

func TestHealth(t *testing.T) {
	b := testCapture()
	hub := NewHub(memory.NewBuffer(b.Bytes()), b.Layout, time.Second)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}
