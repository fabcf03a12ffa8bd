package feed

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.MaxReconnectDelay = 100 * time.Millisecond
	return &cfg
}

func TestWSSource_ReceivesMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var sub gatewayFrame
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub.Op != opSubscribe || len(sub.Channels) != 2 {
			t.Errorf("unexpected subscribe frame: %+v", sub)
		}

		conn.WriteJSON(gatewayFrame{Op: opMessage, ChannelID: "alpha", Text: "gm", Timestamp: 1000})
		conn.WriteJSON(gatewayFrame{Op: opMessage, ChannelID: "beta", Text: "new gem", Timestamp: 2000})

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	source, err := NewWSSource(context.Background(), wsURL(server), []string{"alpha", "beta"}, zerolog.Nop(), testConfig())
	if err != nil {
		t.Fatalf("NewWSSource: %v", err)
	}
	defer source.Close()

	want := []Message{
		{ChannelID: "alpha", Text: "gm", Timestamp: 1000},
		{ChannelID: "beta", Text: "new gem", Timestamp: 2000},
	}
	for i, w := range want {
		select {
		case got := <-source.Messages():
			if got != w {
				t.Errorf("message %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestWSSource_IgnoresNonMessageFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _ := upgrader.Upgrade(w, r, nil)
		defer conn.Close()
		conn.ReadMessage() // subscribe

		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"ack"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteJSON(gatewayFrame{Op: opMessage, ChannelID: "alpha", Text: "real one", Timestamp: 3000})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	source, err := NewWSSource(context.Background(), wsURL(server), []string{"alpha"}, zerolog.Nop(), testConfig())
	if err != nil {
		t.Fatalf("NewWSSource: %v", err)
	}
	defer source.Close()

	select {
	case got := <-source.Messages():
		if got.Text != "real one" {
			t.Errorf("got %+v, want the message frame only", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestWSSource_ReconnectsAndResubscribes(t *testing.T) {
	var conns atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _ := upgrader.Upgrade(w, r, nil)
		defer conn.Close()

		n := conns.Add(1)

		var sub gatewayFrame
		if err := conn.ReadJSON(&sub); err != nil || sub.Op != opSubscribe {
			t.Errorf("connection %d: expected subscribe frame, got %+v (err %v)", n, sub, err)
			return
		}

		if n == 1 {
			// Drop the first connection immediately after subscribe.
			return
		}

		conn.WriteJSON(gatewayFrame{Op: opMessage, ChannelID: "alpha", Text: "after reconnect", Timestamp: 4000})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	source, err := NewWSSource(context.Background(), wsURL(server), []string{"alpha"}, zerolog.Nop(), testConfig())
	if err != nil {
		t.Fatalf("NewWSSource: %v", err)
	}
	defer source.Close()

	select {
	case got := <-source.Messages():
		if got.Text != "after reconnect" {
			t.Errorf("got %+v", got)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for post-reconnect message")
	}

	if conns.Load() < 2 {
		t.Errorf("connections = %d, want at least 2", conns.Load())
	}
}

func TestWSSource_RetriesDialDuringGatewayOutage(t *testing.T) {
	var dropSubs, liveSubs atomic.Int64

	// Every connection to the first gateway is dropped right after the
	// subscribe frame, forcing the source into its reconnect path.
	dropHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub gatewayFrame
		if err := conn.ReadJSON(&sub); err == nil && sub.Op == opSubscribe {
			dropSubs.Add(1)
		}
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	gateway := &http.Server{Handler: dropHandler}
	go gateway.Serve(ln)

	source, err := NewWSSource(context.Background(), "ws://"+addr, []string{"alpha"}, zerolog.Nop(), testConfig())
	if err != nil {
		t.Fatalf("NewWSSource: %v", err)
	}
	defer source.Close()

	waitFor(t, func() bool { return dropSubs.Load() >= 1 }, "first subscribe")

	// Take the gateway down entirely so the scheduled re-dials fail outright.
	gateway.Close()
	time.Sleep(300 * time.Millisecond)

	// Bring a healthy gateway back on the same address. The source must still
	// be retrying and resubscribe on its own.
	ln2, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("rebind gateway: %v", err)
	}
	gateway2 := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub gatewayFrame
		if err := conn.ReadJSON(&sub); err == nil && sub.Op == opSubscribe {
			liveSubs.Add(1)
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})}
	go gateway2.Serve(ln2)
	defer gateway2.Close()

	waitFor(t, func() bool { return liveSubs.Load() >= 1 }, "resubscribe after the gateway came back")
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWSSource_CloseIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _ := upgrader.Upgrade(w, r, nil)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	source, err := NewWSSource(context.Background(), wsURL(server), []string{"alpha"}, zerolog.Nop(), testConfig())
	if err != nil {
		t.Fatalf("NewWSSource: %v", err)
	}

	if err := source.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := source.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	// The message channel must be closed after shutdown.
	if _, ok := <-source.Messages(); ok {
		t.Error("messages channel still open after Close")
	}
}

func TestWSSource_NoChannels(t *testing.T) {
	if _, err := NewWSSource(context.Background(), "ws://localhost:0", nil, zerolog.Nop(), nil); err == nil {
		t.Error("expected error for empty channel list")
	}
}

func TestGatewayFrameRoundTrip(t *testing.T) {
	raw := `{"op":"message","channel_id":"alpha","text":"CA: 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU","timestamp_ms":1700000000000}`
	var frame gatewayFrame
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Op != opMessage || frame.ChannelID != "alpha" || frame.Timestamp != 1700000000000 {
		t.Errorf("frame = %+v", frame)
	}
}
