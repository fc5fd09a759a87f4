package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Heather8769/any-browser-mcp/internal/types"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// fakeTarget is a WebSocket peer that answers protocol frames by method name:
// Echo.ok responds immediately, Echo.slow after a delay, Echo.err with an
// error payload, Echo.silent never, and Echo.event emits an unsolicited event
// before responding.
func fakeTarget(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		go serveTarget(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws://" + srv.Listener.Addr().String()
}

func serveTarget(conn net.Conn) {
	defer conn.Close()
	var writeMu sync.Mutex
	write := func(v any) {
		data, _ := json.Marshal(v)
		writeMu.Lock()
		_ = wsutil.WriteServerText(conn, data)
		writeMu.Unlock()
	}

	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var req struct {
			ID     int64          `json:"id"`
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if json.Unmarshal(data, &req) != nil {
			continue
		}

		switch req.Method {
		case "Echo.ok":
			write(map[string]any{"id": req.ID, "result": map[string]any{"method": req.Method}})
		case "Echo.slow":
			go func(id int64) {
				time.Sleep(150 * time.Millisecond)
				write(map[string]any{"id": id, "result": map[string]any{"method": "Echo.slow"}})
			}(req.ID)
		case "Echo.err":
			write(map[string]any{"id": req.ID, "error": map[string]any{"code": -32000, "message": "boom"}})
		case "Echo.silent":
			// No response; the client must time out.
		case "Echo.event":
			write(map[string]any{"method": "Custom.fired", "params": map[string]any{"seq": 1}})
			write(map[string]any{"id": req.ID, "result": map[string]any{}})
		}
	}
}

func dialFake(t *testing.T) *Conn {
	t.Helper()
	conn, err := Dial(context.Background(), fakeTarget(t))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestSendMatchesResponse(t *testing.T) {
	conn := dialFake(t)

	res, err := conn.Send(context.Background(), "Echo.ok", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(string(res), "Echo.ok") {
		t.Fatalf("result = %s", res)
	}
}

func TestResponsesInterleaveByCorrelationID(t *testing.T) {
	conn := dialFake(t)

	var wg sync.WaitGroup
	results := make([]string, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		res, err := conn.Send(context.Background(), "Echo.slow", nil)
		if err == nil {
			results[0] = string(res)
		}
	}()
	go func() {
		defer wg.Done()
		res, err := conn.Send(context.Background(), "Echo.ok", nil)
		if err == nil {
			results[1] = string(res)
		}
	}()
	wg.Wait()

	if !strings.Contains(results[0], "Echo.slow") {
		t.Errorf("slow command got %q", results[0])
	}
	if !strings.Contains(results[1], "Echo.ok") {
		t.Errorf("fast command got %q", results[1])
	}
}

func TestTimeoutNamesMethodAndClearsPending(t *testing.T) {
	conn := dialFake(t)

	_, err := conn.SendTimeout(context.Background(), "Echo.silent", nil, 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout")
	}
	var coded *types.CodedError
	if !errors.As(err, &coded) || coded.Code != types.CodeCommandTimeout {
		t.Fatalf("error = %v, want COMMAND_TIMEOUT", err)
	}
	if !strings.Contains(err.Error(), "Echo.silent") {
		t.Fatalf("timeout error does not name the method: %v", err)
	}
	if n := conn.PendingCount(); n != 0 {
		t.Fatalf("correlation table leaked %d entries", n)
	}
}

func TestErrorPayloadRejects(t *testing.T) {
	conn := dialFake(t)

	_, err := conn.Send(context.Background(), "Echo.err", nil)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("error = %v, want remote message", err)
	}
}

func TestUnmatchedFramesBecomeEvents(t *testing.T) {
	conn := dialFake(t)

	if _, err := conn.Send(context.Background(), "Echo.event", nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case ev := <-conn.Events():
		if ev.Method != "Custom.fired" {
			t.Fatalf("event method = %q", ev.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("event never published")
	}
}

func TestCloseFailsInFlightCommands(t *testing.T) {
	conn := dialFake(t)

	done := make(chan error, 1)
	go func() {
		_, err := conn.SendTimeout(context.Background(), "Echo.silent", nil, 5*time.Second)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	_ = conn.Close()

	select {
	case err := <-done:
		var coded *types.CodedError
		if !errors.As(err, &coded) || coded.Code != types.CodeChannelClosed {
			t.Fatalf("error = %v, want CHANNEL_CLOSED", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight command not released on close")
	}

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}
}
