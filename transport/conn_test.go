package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialTestConn stands up a server-side Conn and returns the client-side
// websocket Twilio would hold.
func dialTestConn(t *testing.T) (*Conn, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		connCh <- c
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case conn := <-connCh:
		t.Cleanup(func() { _ = conn.Close() })
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("server connection not established")
		return nil, nil
	}
}

func TestConn_ReadEventSkipsMalformedAndUnknown(t *testing.T) {
	conn, client := dialTestConn(t)

	frames := []string{
		`not json at all`,
		`{"event":"dtmf","dtmf":{"digit":"1"}}`,
		`{"event":"media","media":{"timestamp":"42","payload":"Zm9v"}}`,
	}
	for _, f := range frames {
		if err := client.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	ev, err := conn.ReadEvent()
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	media, ok := ev.(MediaEvent)
	if !ok {
		t.Fatalf("expected MediaEvent, got %#v", ev)
	}
	if media.Timestamp != 42 || media.Payload != "Zm9v" {
		t.Errorf("unexpected media event %+v", media)
	}
}

func TestConn_SendMessageShapes(t *testing.T) {
	conn, client := dialTestConn(t)

	if err := conn.SendMedia("SD1", "YXVkaW8="); err != nil {
		t.Fatalf("SendMedia failed: %v", err)
	}
	if err := conn.SendMark("SD1", "m-1"); err != nil {
		t.Fatalf("SendMark failed: %v", err)
	}
	if err := conn.SendClear("SD1"); err != nil {
		t.Fatalf("SendClear failed: %v", err)
	}

	read := func() map[string]any {
		t.Helper()
		_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("client read failed: %v", err)
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("client got invalid JSON: %v", err)
		}
		return msg
	}

	media := read()
	if media["event"] != "media" || media["streamSid"] != "SD1" {
		t.Errorf("unexpected media envelope %v", media)
	}
	if payload := media["media"].(map[string]any)["payload"]; payload != "YXVkaW8=" {
		t.Errorf("unexpected media payload %v", payload)
	}

	mark := read()
	if mark["event"] != "mark" || mark["mark"].(map[string]any)["name"] != "m-1" {
		t.Errorf("unexpected mark message %v", mark)
	}

	clear := read()
	if clear["event"] != "clear" || clear["streamSid"] != "SD1" {
		t.Errorf("unexpected clear message %v", clear)
	}
}

func TestConn_CloseUnblocksReadAndFailsWrites(t *testing.T) {
	conn, _ := dialTestConn(t)

	readErr := make(chan error, 1)
	go func() {
		_, err := conn.ReadEvent()
		readErr <- err
	}()

	_ = conn.Close()

	select {
	case err := <-readErr:
		if err == nil {
			t.Error("expected read error after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read did not unblock after close")
	}

	if err := conn.SendMedia("SD1", "Zm9v"); err == nil {
		t.Error("expected send on closed connection to fail")
	}

	// Second close is a no-op.
	_ = conn.Close()
}
