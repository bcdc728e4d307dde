package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/smarttodo/tasksync/internal/connectivity"
	"github.com/smarttodo/tasksync/internal/engine"
	"github.com/smarttodo/tasksync/internal/remote"
	"github.com/smarttodo/tasksync/internal/schema"
	"github.com/smarttodo/tasksync/internal/store"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func setupEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Logger = quietLogger()
	cfg.Auth = engine.StaticUser("u-1")
	mon := connectivity.NewMonitor(false, quietLogger())
	e, err := engine.New(context.Background(), store.NewMemory(), true, remote.NewMemory(nil), mon, cfg)
	if err != nil {
		t.Fatalf("engine.New() failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func startServer(t *testing.T, src Source) *Server {
	t.Helper()
	server := NewServer(src, &Config{Addr: "127.0.0.1:0", Logger: quietLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(nil, &Config{Addr: "127.0.0.1:0", Logger: quietLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if server.Addr() == "127.0.0.1:0" {
		t.Error("Addr() did not resolve the listening port")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocket_WelcomeStatus(t *testing.T) {
	e := setupEngine(t)
	server := startServer(t, e)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStatus {
		t.Fatalf("welcome type = %s, want %s", msg.Type, MessageTypeStatus)
	}
	var st engine.Status
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if st.IsOnline || !st.Durable {
		t.Errorf("welcome status = %+v", st)
	}

	deadline := time.Now().Add(time.Second)
	for server.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want 1", server.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandler_RelaysChanges(t *testing.T) {
	e := setupEngine(t)
	server := startServer(t, e)
	h := NewHandler(server, e, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go h.Run(ctx)

	conn := dial(t, ctx, server)
	readMessage(t, ctx, conn)

	// Wait until the client is registered before producing events.
	for server.ClientCount() == 0 {
		time.Sleep(10 * time.Millisecond)
	}

	task, err := e.AddTask(ctx, schema.Task{Title: "Buy milk"})
	if err != nil {
		t.Fatalf("AddTask() failed: %v", err)
	}

	var sawChange, sawStats bool
	for !sawChange || !sawStats {
		msg := readMessage(t, ctx, conn)
		switch msg.Type {
		case MessageTypeChange:
			var data ChangeData
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				t.Fatalf("Failed to decode change: %v", err)
			}
			want := ChangeData{Kind: "added", Collection: "tasks", ID: task.ID, Title: "Buy milk", Status: "pending"}
			if data != want {
				t.Errorf("change = %+v, want %+v", data, want)
			}
			sawChange = true
		case MessageTypeStats:
			var stats schema.Stats
			if err := json.Unmarshal(msg.Data, &stats); err != nil {
				t.Fatalf("Failed to decode stats: %v", err)
			}
			if stats.Total != 1 || stats.Pending != 1 {
				t.Errorf("stats = %+v", stats)
			}
			sawStats = true
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	e := setupEngine(t)
	if _, err := e.AddTask(context.Background(), schema.Task{Title: "Buy milk"}); err != nil {
		t.Fatalf("AddTask() failed: %v", err)
	}
	server := startServer(t, e)

	resp, err := http.Get("http://" + server.Addr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /status = %d", resp.StatusCode)
	}
	var report StatusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if report.Sync.PendingChanges != 1 || report.Stats.Total != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := startServer(t, nil)

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}

	resp2, err := http.Get("http://" + server.Addr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("GET /status without engine = %d, want 503", resp2.StatusCode)
	}
}

func TestBroadcast_DisconnectsClientThatFallsBehind(t *testing.T) {
	server := NewServer(nil, &Config{Addr: "127.0.0.1:0", ClientBuffer: 1, Logger: quietLogger()})
	defer server.Stop()

	slow := newClient(nil, 1)
	server.mu.Lock()
	server.clients[slow] = struct{}{}
	server.mu.Unlock()

	if err := server.BroadcastJSON(MessageTypeStats, schema.Stats{Total: 1}); err != nil {
		t.Fatalf("BroadcastJSON() failed: %v", err)
	}
	if n := server.ClientCount(); n != 1 {
		t.Fatalf("ClientCount() = %d after one message, want 1", n)
	}
	if err := server.BroadcastJSON(MessageTypeStats, schema.Stats{Total: 2}); err != nil {
		t.Fatalf("BroadcastJSON() failed: %v", err)
	}
	if n := server.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d, want the full client dropped", n)
	}
	select {
	case <-slow.gone:
	default:
		t.Error("dropped client was not signalled")
	}
	if slow.offer([]byte("late")) {
		t.Error("offer() accepted a message for a dropped client")
	}
}
