package app

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout  = 10 * time.Second
	wsPongTimeout   = 60 * time.Second
	wsPingInterval  = 25 * time.Second
	wsMaxFrameBytes = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsFrame is the envelope for both directions. Outbound frames carry
// "snapshot" when another editor commits; inbound frames carry "commit"
// with the client's full document content, or "presence" heartbeats.
type wsFrame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
	Editor  string          `json:"editor,omitempty"`
}

func (s *HTTPServer) handleDocumentWS(w http.ResponseWriter, r *http.Request, documentID string) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	if _, _, err := s.service.documentForRead(r.Context(), session, documentID); err != nil {
		writeMapped(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsMaxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	// A single writer goroutine owns the connection's write side so the
	// subscribe callback and the ping ticker never interleave frames.
	outbound := make(chan wsFrame, 16)
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case frame := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(frame); err != nil {
					conn.Close()
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	unsubscribe, err := s.service.hub.Subscribe(r.Context(), documentID, func(content string) {
		frame := wsFrame{Type: "snapshot", Content: json.RawMessage(content)}
		select {
		case outbound <- frame:
		default:
			log.Printf("ws: dropping snapshot for slow subscriber document=%s user=%s", documentID, session.UserID)
		}
	})
	if err != nil {
		log.Printf("ws: subscribe failed document=%s: %v", documentID, err)
		return
	}
	defer unsubscribe()

	_ = s.service.TouchPresence(r.Context(), session, documentID)

	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))

		switch frame.Type {
		case "commit":
			if _, err := s.service.CommitContent(r.Context(), session, documentID, string(frame.Content)); err != nil {
				status, code, message, _ := mapError(err)
				reason, _ := json.Marshal(map[string]any{"status": status, "message": message})
				select {
				case outbound <- wsFrame{Type: "error", Editor: code, Content: reason}:
				default:
				}
			}
		case "presence":
			_ = s.service.TouchPresence(r.Context(), session, documentID)
		}
	}
}
