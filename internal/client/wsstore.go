package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsStore implements docsync.DocumentStore over the document websocket.
// Snapshots arrive as frames; commits go out as frames on the same
// connection, falling back to the REST content endpoint when the socket is
// down.
type wsStore struct {
	client     *Client
	documentID string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

type wsFrame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

func newWSStore(c *Client, documentID string) (*wsStore, error) {
	return &wsStore{client: c, documentID: documentID}, nil
}

func (w *wsStore) dialURL() (string, error) {
	u, err := url.Parse(w.client.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/documents/" + w.documentID + "/ws"
	q := u.Query()
	q.Set("token", w.client.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe dials the websocket and pumps snapshot frames into fn until ctx
// is cancelled or the store is closed. The returned stop function closes the
// connection.
func (w *wsStore) Subscribe(ctx context.Context, documentID string, fn func(content string)) (func(), error) {
	addr, err := w.dialURL()
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("subscribe %s: unauthorized", documentID)
		}
		return nil, fmt.Errorf("subscribe %s: %w", documentID, err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	go func() {
		defer conn.Close()
		for {
			var frame wsFrame
			if err := conn.ReadJSON(&frame); err != nil {
				w.mu.Lock()
				closed := w.closed
				w.conn = nil
				w.mu.Unlock()
				if !closed && ctx.Err() == nil {
					log.Printf("client: websocket for %s dropped: %v", documentID, err)
				}
				return
			}
			if frame.Type == "snapshot" {
				fn(string(frame.Content))
			}
		}
	}()

	stop := func() {
		w.mu.Lock()
		w.closed = true
		c := w.conn
		w.conn = nil
		w.mu.Unlock()
		if c != nil {
			c.Close()
		}
	}
	return stop, nil
}

// Write commits content. The websocket is preferred so the server sees one
// ordered stream per connection; with no live socket the REST endpoint is
// used instead.
func (w *wsStore) Write(ctx context.Context, documentID, content string) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	if conn != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := conn.WriteJSON(wsFrame{Type: "commit", Content: json.RawMessage(content)})
		if err == nil {
			return nil
		}
		log.Printf("client: websocket write for %s failed, falling back to http: %v", documentID, err)
	}

	body := map[string]json.RawMessage{"content": json.RawMessage(content)}
	return w.client.do(ctx, http.MethodPut, "/api/documents/"+documentID+"/content", body, nil)
}

func (w *wsStore) Close() {
	w.mu.Lock()
	w.closed = true
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
