package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestRunGivesUpAfterRepeatedDialFailures(t *testing.T) {
	t.Parallel()
	// Nothing listens here; every dial fails immediately.
	f := NewMarketFeed("ws://127.0.0.1:1", testLogger())
	f.reconnectWait = time.Millisecond

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("run must fail once the dial keeps failing")
		}
		if !strings.Contains(err.Error(), "giving up") {
			t.Errorf("err = %v, want a giving-up error", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after repeated dial failures")
	}
}

func TestCloseStopsReconnectLoop(t *testing.T) {
	t.Parallel()
	upgrader := websocket.Upgrader{}
	connected := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connected <- struct{}{}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	f := NewMarketFeed("ws"+strings.TrimPrefix(srv.URL, "http"), testLogger())
	f.reconnectWait = time.Millisecond

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background()) }()

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("feed never connected")
	}

	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run after close = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run kept reconnecting after close")
	}
}
