package websocket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/snehjoshi/aochat/internal/engine"
	"github.com/snehjoshi/aochat/internal/transport/websocket"
	"github.com/snehjoshi/aochat/internal/types"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

type fakeEngine struct {
	mu    sync.Mutex
	msgs  []*types.Message
	sent  []string
	err   error
	sendC chan struct{}
}

func (f *fakeEngine) Send(_ context.Context, content, username string) (*types.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, username+":"+content)
	err := f.err
	f.mu.Unlock()
	if f.sendC != nil {
		f.sendC <- struct{}{}
	}
	if err != nil {
		return nil, err
	}
	return &types.Message{ID: "1", Content: content, Username: username, Status: types.StatusPending}, nil
}

func (f *fakeEngine) Messages() []*types.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgs
}

func newHub(t *testing.T, eng *fakeEngine) (*websocket.Hub, string) {
	t.Helper()
	hub := websocket.NewHub(eng, nil)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *gorillaws.Conn {
	t.Helper()
	c, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readFrame(t *testing.T, c *gorillaws.Conn) websocket.Frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f websocket.Frame
	if err := c.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func waitClients(t *testing.T, hub *websocket.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ─── Snapshot ─────────────────────────────────────────────────────────────────

func TestHub_SendsFullFrameOnConnect(t *testing.T) {
	eng := &fakeEngine{msgs: []*types.Message{
		{ID: "msg-1", Content: "hi", Username: "bob", Status: types.StatusReceived},
	}}
	_, url := newHub(t, eng)
	c := dial(t, url)

	f := readFrame(t, c)
	if f.Type != websocket.FrameFull {
		t.Fatalf("first frame type = %q, want full", f.Type)
	}
	if len(f.Messages) != 1 || f.Messages[0].ID != "msg-1" || f.Messages[0].Status != types.StatusReceived {
		t.Errorf("snapshot = %+v", f.Messages)
	}
}

// ─── Broadcast ────────────────────────────────────────────────────────────────

func TestHub_BroadcastsEngineEvents(t *testing.T) {
	hub, url := newHub(t, &fakeEngine{})
	a := dial(t, url)
	b := dial(t, url)
	readFrame(t, a)
	readFrame(t, b)
	waitClients(t, hub, 2)

	hub.RenderAppend([]*types.Message{{ID: "1", Content: "x", Status: types.StatusPending}})
	hub.Rekey("1", "msg-9", &types.Message{ID: "msg-9", Content: "x", Status: types.StatusConfirmed})
	hub.ReportStatus("node unreachable", engine.StatusWarning)

	for _, c := range []*gorillaws.Conn{a, b} {
		if f := readFrame(t, c); f.Type != websocket.FrameAppend || f.Messages[0].ID != "1" {
			t.Errorf("frame 1 = %+v", f)
		}
		f := readFrame(t, c)
		if f.Type != websocket.FrameRekey || f.OldID != "1" || f.NewID != "msg-9" || f.Message.Status != types.StatusConfirmed {
			t.Errorf("frame 2 = %+v", f)
		}
		if f := readFrame(t, c); f.Type != websocket.FrameStatus || f.Kind != "warning" {
			t.Errorf("frame 3 = %+v", f)
		}
	}
}

func TestHub_DisconnectRemovesClient(t *testing.T) {
	hub, url := newHub(t, &fakeEngine{})
	c := dial(t, url)
	readFrame(t, c)
	waitClients(t, hub, 1)

	_ = c.Close()
	waitClients(t, hub, 0)

	// Broadcasting with nobody connected is a no-op.
	hub.RenderFull(nil)
}

// ─── Client frames ────────────────────────────────────────────────────────────

func TestHub_SendFrameReachesEngine(t *testing.T) {
	eng := &fakeEngine{sendC: make(chan struct{}, 1)}
	_, url := newHub(t, eng)
	c := dial(t, url)
	readFrame(t, c)

	if err := c.WriteJSON(websocket.Frame{Type: websocket.FrameSend, Content: "hello", Username: "alice"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-eng.sendC:
	case <-time.After(2 * time.Second):
		t.Fatal("send frame never reached the engine")
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if len(eng.sent) != 1 || eng.sent[0] != "alice:hello" {
		t.Errorf("sent = %v", eng.sent)
	}
}

func TestHub_ValidationErrorRepliesToSender(t *testing.T) {
	eng := &fakeEngine{err: &engine.ValidationError{Reason: engine.ErrEmptyContent}}
	_, url := newHub(t, eng)
	c := dial(t, url)
	readFrame(t, c)

	_ = c.WriteJSON(websocket.Frame{Type: websocket.FrameSend, Content: ""})
	f := readFrame(t, c)
	if f.Type != websocket.FrameError || f.Reason != engine.ErrEmptyContent.Error() {
		t.Errorf("reply = %+v", f)
	}
}

func TestHub_UnknownFrameType(t *testing.T) {
	_, url := newHub(t, &fakeEngine{})
	c := dial(t, url)
	readFrame(t, c)

	_ = c.WriteMessage(gorillaws.TextMessage, []byte(`{"type":"ack"}`))
	if f := readFrame(t, c); f.Type != websocket.FrameError {
		t.Errorf("reply type = %q, want error", f.Type)
	}
	_ = c.WriteMessage(gorillaws.TextMessage, []byte(`not json`))
	if f := readFrame(t, c); f.Type != websocket.FrameError || f.Text != "invalid frame" {
		t.Errorf("reply = %+v", f)
	}
}

// ─── Origin check ─────────────────────────────────────────────────────────────

func TestHub_RejectsCrossOrigin(t *testing.T) {
	_, url := newHub(t, &fakeEngine{})
	hdr := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := gorillaws.DefaultDialer.Dial(url, hdr)
	if err == nil {
		t.Fatal("cross-origin upgrade succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
}

func TestHub_CloseRefusesNewClients(t *testing.T) {
	hub, url := newHub(t, &fakeEngine{})
	hub.Close()
	c := dial(t, url)
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := c.ReadMessage(); err == nil {
		t.Error("closed hub kept the connection open")
	}
}
