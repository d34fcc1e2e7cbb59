// Package changestream implements C6, the WebSocket change-stream
// consumer. It maintains a connection to the server for the process
// lifetime, reconnecting with exponential backoff, decodes change events,
// and applies echo suppression before invalidating the attribute cache.
package changestream

import (
	"context"
	"strings"
	"time"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/internal/wire"
	"github.com/gorilla/websocket"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 10 * time.Second
)

// Invalidator is the subset of C2 (plus path→inode resolution) the stream
// consumer needs: invalidate the cache entry for a path and for its parent
// directory, so a subsequent readdir sees a fresh listing.
type Invalidator interface {
	InvalidateByPath(path string)
}

// Dialer abstracts websocket.DefaultDialer for testability.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string) (Conn, error)
}

// Conn is the minimal surface Client needs from a WebSocket connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Client runs the C6 consumer loop.
type Client struct {
	url         string
	selfID      string
	dialer      Dialer
	invalidator Invalidator
}

// New returns a Client that will connect to url, treating selfID as this
// process's own client id for echo suppression.
func New(url, selfID string, invalidator Invalidator) *Client {
	return &Client{url: url, selfID: selfID, dialer: gorillaDialer{}, invalidator: invalidator}
}

// Run blocks, maintaining the connection until ctx is cancelled. Transport
// errors are swallowed indefinitely and retried with exponential backoff,
// per spec.md §4.6 / §7 ("the change-stream reconnect loop swallows
// transport errors indefinitely").
func (c *Client) Run(ctx context.Context) {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dialer.DialContext(ctx, c.url)
		if err != nil {
			logger.Warnf("changestream: dial %s failed: %v", c.url, err)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = minBackoff
		c.consume(ctx, conn)
		conn.Close()
	}
}

func (c *Client) consume(ctx context.Context, conn Conn) {
	for {
		if ctx.Err() != nil {
			return
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			logger.Warnf("changestream: read failed, reconnecting: %v", err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		c.handleFrame(string(data))
	}
}

func (c *Client) handleFrame(frame string) {
	evt, err := wire.ParseChangeEvent(frame)
	if err != nil {
		logger.Warnf("changestream: unparseable frame %q: %v", frame, err)
		return
	}

	if evt.ClientID == c.selfID {
		return // self-echo, spec.md §4.6 and invariant 3.
	}

	c.invalidator.InvalidateByPath(evt.Path)
	c.invalidator.InvalidateByPath(parentOf(evt.Path))
}

func parentOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

type gorillaDialer struct{}

func (gorillaDialer) DialContext(ctx context.Context, urlStr string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, urlStr, nil)
	if err != nil {
		return nil, err
	}
	return wsConn{conn}, nil
}

type wsConn struct {
	*websocket.Conn
}

func (w wsConn) ReadMessage() (int, []byte, error) { return w.Conn.ReadMessage() }
func (w wsConn) Close() error                      { return w.Conn.Close() }
