package rowsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/gorilla/websocket"

	"github.com/vanderheijden86/treegrid/pkg/debug"
)

// Path is where a Hub is mounted by the treegrid server.
const Path = "/rows"

// ErrClosed is returned when sending on a closed Client.
var ErrClosed = errors.New("row sync client closed")

// WebsocketURL turns a host, host:port or http(s) URL into a ws(s) URL for
// the row sync endpoint. Loopback hosts default to ws://, everything else to
// wss://.
func WebsocketURL(host string) string {
	if host == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(host, "ws://"), strings.HasPrefix(host, "wss://"):
	case strings.HasPrefix(host, "https://"):
		host = "wss://" + strings.TrimPrefix(host, "https://")
	case strings.HasPrefix(host, "http://"):
		host = "ws://" + strings.TrimPrefix(host, "http://")
	case strings.HasPrefix(host, "127.0.0."), strings.HasPrefix(host, "[::1]"),
		strings.HasPrefix(host, ":"), strings.SplitN(host, ":", 2)[0] == "localhost":
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		host = "ws://" + host
	default:
		host = "wss://" + host
	}
	if u, err := url.Parse(host); err == nil && (u.Path == "" || u.Path == "/") {
		u.Path = Path
		return u.String()
	}
	return host
}

// Client is the viewer end of a row sync connection.
type Client struct {
	ws   *websocket.Conn
	in   chan Message
	wmu  sync.Mutex
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

// Dial connects to a row sync endpoint. addr may be anything WebsocketURL
// accepts.
func Dial(ctx context.Context, addr string) (*Client, error) {
	target := WebsocketURL(addr)
	header := http.Header{}
	header.Set("User-Agent", "treegrid/"+versioninfo.Short())
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", target, err)
	}
	c := &Client{
		ws:   ws,
		in:   make(chan Message, 64),
		done: make(chan struct{}),
	}
	go c.readLoop()
	debug.Log("connected to %s", target)
	return c, nil
}

// Messages delivers server commands. The channel closes when the connection
// ends; Err then reports why.
func (c *Client) Messages() <-chan Message {
	return c.in
}

// Err returns the error that ended the connection, or nil after a clean
// close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	defer close(c.in)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-c.done:
				default:
					c.mu.Lock()
					c.err = err
					c.mu.Unlock()
				}
			}
			return
		}
		m, err := Decode(data)
		if err != nil {
			debug.Log("dropping malformed server message: %v", err)
			continue
		}
		select {
		case c.in <- m:
		case <-c.done:
			return
		}
	}
}

// Send encodes and writes one message.
func (c *Client) Send(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// RequestRows asks for the window [first, first+count).
func (c *Client) RequestRows(first, count int) error {
	return c.Send(RequestRowsMessage(first, count))
}

// SetExpanded asks the server to expand or collapse key.
func (c *Client) SetExpanded(key string, expanded bool) error {
	return c.Send(SetExpandedMessage(key, expanded))
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() error {
	closed := false
	c.once.Do(func() {
		close(c.done)
		closed = true
	})
	if !closed {
		return nil
	}
	c.wmu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.wmu.Unlock()
	return c.ws.Close()
}
