package integration

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatgate/internal/config"
	"github.com/Tyrowin/chatgate/internal/hub"
	"github.com/Tyrowin/chatgate/internal/server"
	"github.com/Tyrowin/chatgate/test/testhelpers"
)

// TestGracefulShutdownWithClients verifies that active client connections
// receive a close frame and are deregistered during shutdown.
func TestGracefulShutdownWithClients(t *testing.T) {
	app := testhelpers.NewApp(t, testhelpers.Options{})

	const numClients = 5
	clients := make([]*websocket.Conn, 0, numClients)
	for i := 0; i < numClients; i++ {
		clients = append(clients, app.MustConnect(t, nil))
	}

	if err := app.Hub.ShutdownTimeout(2 * time.Second); err != nil {
		t.Fatalf("hub shutdown: %v", err)
	}
	if app.Hub.Count() != 0 {
		t.Errorf("expected no registered clients after shutdown, got %d", app.Hub.Count())
	}

	for i, conn := range clients {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, _, err := conn.ReadMessage()
		if err == nil {
			t.Errorf("client %d: expected connection to be closed", i)
			continue
		}
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Logf("client %d closed with %v", i, err)
		}
	}

	// New connections are refused by the hub once it is stopping.
	conn, resp, err := app.ConnectWebSocket(nil)
	if err == nil {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		if _, _, readErr := conn.ReadMessage(); readErr == nil {
			t.Error("connection opened after shutdown should be closed immediately")
		}
		_ = conn.Close()
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}

// TestNoClientsShutdown shuts down an idle hub.
func TestNoClientsShutdown(t *testing.T) {
	h := hub.New()
	if err := h.ShutdownTimeout(time.Second); err != nil {
		t.Errorf("hub shutdown failed: %v", err)
	}
}

// TestShutdownServer stops the HTTP listener before the hub.
func TestShutdownServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	h := hub.New()
	srv := server.CreateServer(config.ServerConfig{
		Port:         ln.Addr().String(),
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		IdleTimeout:  time.Second,
	}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String())
	if err != nil {
		t.Fatalf("request before shutdown: %v", err)
	}
	_ = resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.ShutdownServer(ctx, srv, h); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case err := <-served:
		if err != http.ErrServerClosed {
			t.Errorf("expected ErrServerClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
