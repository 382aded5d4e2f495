package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatgate/test/testhelpers"
)

// TestMultipleClientsMessageExchange has every client publish once and checks
// that each client sees every message exactly once.
func TestMultipleClientsMessageExchange(t *testing.T) {
	app := testhelpers.NewApp(t, testhelpers.Options{})

	const numClients = 5
	conns := make([]*websocket.Conn, numClients)
	for i := range conns {
		conns[i] = app.MustConnect(t, nil)
	}

	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn *websocket.Conn) {
			defer wg.Done()
			if err := testhelpers.SendNewMessage(conn, fmt.Sprintf("client-%d", i), fmt.Sprintf("hello from %d", i)); err != nil {
				t.Errorf("client %d send: %v", i, err)
			}
		}(i, conn)
	}
	wg.Wait()

	for i, conn := range conns {
		seen := make(map[string]int)
		for j := 0; j < numClients; j++ {
			got := decodePersisted(t, testhelpers.ReceiveEnvelope(t, conn, readTimeout))
			seen[got.Body]++
		}
		for j := 0; j < numClients; j++ {
			body := fmt.Sprintf("hello from %d", j)
			if seen[body] != 1 {
				t.Errorf("client %d saw %q %d times, want 1", i, body, seen[body])
			}
		}
	}

	stored, err := app.Messages.Recent(context.Background(), 100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(stored) != numClients {
		t.Errorf("expected %d stored messages, got %d", numClients, len(stored))
	}
}

// TestLateJoinerMissesEarlierMessages checks the broadcast snapshot: a client
// that connects after a publish does not receive it.
func TestLateJoinerMissesEarlierMessages(t *testing.T) {
	app := testhelpers.NewApp(t, testhelpers.Options{})
	early := app.MustConnect(t, nil)

	if err := testhelpers.SendNewMessage(early, "early", "before"); err != nil {
		t.Fatalf("send: %v", err)
	}
	decodePersisted(t, testhelpers.ReceiveEnvelope(t, early, readTimeout))

	late := app.MustConnect(t, nil)
	if err := testhelpers.SendNewMessage(early, "early", "after"); err != nil {
		t.Fatalf("send: %v", err)
	}

	got := decodePersisted(t, testhelpers.ReceiveEnvelope(t, late, readTimeout))
	if got.Body != "after" {
		t.Errorf("late joiner should only see later messages, got %q", got.Body)
	}
}
