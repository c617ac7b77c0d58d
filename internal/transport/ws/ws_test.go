package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"grievd/internal/directory"
	"grievd/internal/domain"
	"grievd/internal/feed"
	"grievd/internal/live"
	logx "grievd/pkg/logx"
)

func startServer(t *testing.T, actor live.Actor) (*live.Registry, *feed.Hub, string) {
	t.Helper()
	hub := feed.NewHub(logx.Nop(), feed.Hooks{})
	reg := live.NewRegistry(hub, directory.New(), live.Config{}, logx.Nop(), live.Hooks{})
	cfg := Config{PongWait: time.Second}
	up := NewUpgrader(cfg)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = Serve(r.Context(), conn, reg, actor, cfg, logx.Nop())
	}))
	t.Cleanup(func() {
		_ = reg.Close(context.Background())
		srv.Close()
	})
	return reg, hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitLen(t *testing.T, reg *live.Registry, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("sessions = %d, want %d", reg.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFramesReachClient(t *testing.T) {
	reg, hub, url := startServer(t, live.Actor{ID: "s1", Role: domain.RoleStudent})
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitLen(t, reg, 1)

	hub.Publish(context.Background(), domain.ChangeEvent{Entity: domain.EntityAnnouncement, EntityID: "A1", Op: domain.OpCreate,
		After: domain.Announcement{ID: "A1", Title: "Water cut", Message: "Block B, 2pm", IsActive: true}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var n live.Notification
	if err := conn.ReadJSON(&n); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n.Type != live.FrameToast || n.Title != "📢 Water cut" {
		t.Fatalf("frame = %+v", n)
	}
}

func TestAbruptDisconnectReleasesSession(t *testing.T) {
	reg, hub, url := startServer(t, live.Actor{ID: "s1", Role: domain.RoleStudent})
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitLen(t, reg, 1)

	// No close handshake: drop the TCP connection.
	_ = conn.UnderlyingConn().Close()
	waitLen(t, reg, 0)
	if hub.Subscribers() != 0 {
		t.Fatalf("feed subscribers = %d after disconnect", hub.Subscribers())
	}
}

func TestReconnectsDoNotLeak(t *testing.T) {
	reg, hub, url := startServer(t, live.Actor{ID: "a1", Role: domain.RoleAdmin})
	for i := 0; i < 5; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		waitLen(t, reg, 1)
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
		waitLen(t, reg, 0)
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("feed subscribers = %d", hub.Subscribers())
	}
}

func TestSinkNeverBlocks(t *testing.T) {
	s := newSink(1)
	if !s.Send(live.Notification{Title: "a"}) {
		t.Fatal("first send refused")
	}
	if s.Send(live.Notification{Title: "b"}) {
		t.Fatal("send on full sink accepted")
	}
	s.close()
	<-s.out
	if s.Send(live.Notification{Title: "c"}) {
		t.Fatal("send after close accepted")
	}
}

func TestUpgraderOrigins(t *testing.T) {
	up := NewUpgrader(Config{AllowedOrigins: []string{"portal.example.edu"}})
	check := func(origin, host string) bool {
		r := httptest.NewRequest(http.MethodGet, "http://"+host+"/v1/live", nil)
		r.Header.Set("Origin", origin)
		return up.CheckOrigin(r)
	}
	if !check("https://portal.example.edu", "api.example.edu") {
		t.Fatal("allowed origin rejected")
	}
	if !check("http://api.example.edu", "api.example.edu") {
		t.Fatal("same host rejected")
	}
	if check("https://evil.example.com", "api.example.edu") {
		t.Fatal("foreign origin accepted")
	}
}
