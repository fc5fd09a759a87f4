// Package cdp implements a minimal DevTools protocol client: one persistent
// WebSocket channel to one page target, a request/response command interface
// keyed by correlation identifiers, and an event stream for unmatched frames.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Heather8769/any-browser-mcp/internal/types"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// DefaultCommandTimeout bounds how long Send waits for a matching response.
const DefaultCommandTimeout = 30 * time.Second

// eventBuffer is how many unconsumed events are retained before dropping.
// The tool surface does not require consuming events; the read loop must
// never block on a slow or absent consumer.
const eventBuffer = 64

// Event is an inbound frame with no matching pending command identifier.
type Event struct {
	Method string
	Params json.RawMessage
}

type response struct {
	result json.RawMessage
	err    error
}

// Conn is a persistent bidirectional channel to one browser page target.
type Conn struct {
	wsURL string

	writeMu sync.Mutex
	conn    net.Conn

	seq       atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan response

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	timeout time.Duration
}

// Dial opens the channel and resolves once the transport reports open.
func Dial(ctx context.Context, wsURL string) (*Conn, error) {
	netConn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return nil, types.NewError(types.CodeChannelClosed, "dial "+wsURL, err)
	}

	c := &Conn{
		wsURL:   wsURL,
		conn:    netConn,
		pending: make(map[int64]chan response),
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
		timeout: DefaultCommandTimeout,
	}
	go c.readLoop()
	slog.Debug("cdp channel open", "ws_url", wsURL)
	return c, nil
}

// WSURL returns the channel address this connection was dialed with.
func (c *Conn) WSURL() string { return c.wsURL }

// Events exposes asynchronous protocol events. Consumers may ignore it;
// overflowed events are dropped.
func (c *Conn) Events() <-chan Event { return c.events }

// Done is closed when the transport is gone, either by Close or because the
// browser terminated the channel. Used for staleness detection.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Closed reports whether the channel is unusable.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Send issues a command and waits for the matching response up to the default
// timeout.
func (c *Conn) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.SendTimeout(ctx, method, params, c.timeout)
}

// SendTimeout issues a command with an explicit timeout. The correlation
// identifier is removed on every exit path so the table never leaks entries.
func (c *Conn) SendTimeout(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if c.Closed() {
		return nil, types.NewError(types.CodeChannelClosed, "channel closed before "+method, nil)
	}

	id := c.seq.Add(1)
	frame := struct {
		ID     int64  `json:"id"`
		Method string `json:"method"`
		Params any    `json:"params,omitempty"`
	}{ID: id, Method: method, Params: params}

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, types.NewError(types.CodeEvalFailure, "marshal "+method, err)
	}

	ch := make(chan response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	err = wsutil.WriteClientText(c.conn, data)
	c.writeMu.Unlock()
	if err != nil {
		c.deletePending(id)
		return nil, types.NewError(types.CodeChannelClosed, "send "+method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, types.NewError(types.CodeChannelClosed, "channel closed awaiting "+method, nil)
		}
		return resp.result, resp.err
	case <-timer.C:
		c.deletePending(id)
		return nil, types.NewError(types.CodeCommandTimeout,
			fmt.Sprintf("%s: no response within %s", method, timeout), nil)
	case <-ctx.Done():
		c.deletePending(id)
		return nil, ctx.Err()
	}
}

// Close releases the transport. Outstanding commands fail with a
// channel-closed error rather than waiting out their timers.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		// readLoop observes the closed socket and fails the pending table.
	})
	return err
}

func (c *Conn) readLoop() {
	defer func() {
		close(c.done)
		c.failAllPending()
		_ = c.conn.Close()
	}()

	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			slog.Debug("cdp read loop exit", "ws_url", c.wsURL, "error", err)
			return
		}

		var msg struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}

		if msg.ID > 0 {
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.pendingMu.Unlock()
			if !ok {
				// Late response after timeout; already reported.
				continue
			}
			if msg.Error != nil {
				ch <- response{err: types.NewError(types.CodeEvalFailure,
					fmt.Sprintf("remote error %d: %s", msg.Error.Code, msg.Error.Message), nil)}
			} else {
				ch <- response{result: msg.Result}
			}
			continue
		}

		if msg.Method != "" {
			select {
			case c.events <- Event{Method: msg.Method, Params: msg.Params}:
			default:
				// Consumer absent or slow; drop rather than stall the channel.
			}
		}
	}
}

func (c *Conn) failAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Conn) deletePending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// PendingCount reports outstanding correlation entries. Exposed for tests.
func (c *Conn) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}
