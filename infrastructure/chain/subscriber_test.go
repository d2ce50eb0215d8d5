package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newTestLogServer serves one websocket connection per accept, echoes back
// a success response to eth_subscribe, and then pushes the given
// notification payloads in order.
func newTestLogServer(t *testing.T, notifications []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub RPCRequest
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		_ = conn.WriteJSON(RPCResponse{JSONRPC: "2.0", ID: sub.ID, Result: []byte(`"0xsub1"`)})

		for _, payload := range notifications {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
				return
			}
		}

		// Keep the connection open until the client disconnects so the
		// subscriber doesn't treat a closed server as a stream error mid-test.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestSubscriberDeliversLogs(t *testing.T) {
	notification := `{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xsub1","result":{
		"address":"0x1111111111111111111111111111111111111111",
		"topics":["` + SyncEventTopic0 + `"],
		"data":"0x00",
		"blockNumber":"0x64",
		"logIndex":"0x2"
	}}}`

	server := newTestLogServer(t, []string{notification})
	defer server.Close()

	sub, err := NewSubscriber(SubscriberConfig{
		ChainID:   "test-chain",
		Endpoints: []string{wsURL(server.URL)},
		Addresses: []string{"0x1111111111111111111111111111111111111111"},
	})
	if err != nil {
		t.Fatalf("NewSubscriber() error = %v", err)
	}

	var mu sync.Mutex
	var received []RawLog
	done := make(chan struct{})
	sub.OnLog(func(log RawLog) error {
		mu.Lock()
		received = append(received, log)
		mu.Unlock()
		close(done)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sub.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sub.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for log delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 log, got %d", len(received))
	}
	if received[0].BlockNumber != 100 || received[0].LogIndex != 2 {
		t.Errorf("unexpected log ordinal: block=%d index=%d", received[0].BlockNumber, received[0].LogIndex)
	}
}

func TestNewSubscriberValidation(t *testing.T) {
	if _, err := NewSubscriber(SubscriberConfig{Addresses: []string{"0xabc"}}); err == nil {
		t.Error("expected error for missing endpoints")
	}
	if _, err := NewSubscriber(SubscriberConfig{Endpoints: []string{"ws://example"}}); err == nil {
		t.Error("expected error for missing addresses")
	}
}

func TestSubscriberDoubleStart(t *testing.T) {
	server := newTestLogServer(t, nil)
	defer server.Close()

	sub, err := NewSubscriber(SubscriberConfig{
		ChainID:   "test-chain",
		Endpoints: []string{wsURL(server.URL)},
		Addresses: []string{"0x1111111111111111111111111111111111111111"},
	})
	if err != nil {
		t.Fatalf("NewSubscriber() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sub.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sub.Stop()

	if err := sub.Start(ctx); err == nil {
		t.Error("expected error starting an already-running subscriber")
	}
}

func TestBackoffDelayBounded(t *testing.T) {
	base := 5 * time.Second
	for attempt := 1; attempt <= 20; attempt++ {
		d := backoffDelay(base, attempt)
		if d < 0 {
			t.Fatalf("backoffDelay(%d) = %v, want non-negative", attempt, d)
		}
		if d > base*32+base*32/5 {
			t.Fatalf("backoffDelay(%d) = %v, exceeds expected ceiling", attempt, d)
		}
	}
}
