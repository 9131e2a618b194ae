package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"hearth/api/internal/comments"
	"hearth/api/internal/richtext"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// stubAPI serves just enough of the document API for the client to run: one
// document, its comments, and its websocket.
type stubAPI struct {
	t        *testing.T
	content  string
	comments []commentPayload

	commits   chan string
	snapshots chan string
	deletes   chan string
}

func newStubAPI(t *testing.T, content string) *stubAPI {
	return &stubAPI{
		t:         t,
		content:   content,
		commits:   make(chan string, 16),
		snapshots: make(chan string, 16),
		deletes:   make(chan string, 16),
	}
}

func (a *stubAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/ws"):
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		go func() {
			for content := range a.snapshots {
				frame := map[string]any{"type": "snapshot", "content": json.RawMessage(content)}
				if err := conn.WriteJSON(frame); err != nil {
					return
				}
			}
		}()
		for {
			var frame struct {
				Type    string          `json:"type"`
				Content json.RawMessage `json:"content"`
			}
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Type == "commit" {
				a.commits <- string(frame.Content)
			}
		}

	case strings.HasSuffix(r.URL.Path, "/comments") && r.Method == http.MethodGet:
		json.NewEncoder(w).Encode(map[string]any{"comments": a.comments})

	case strings.HasSuffix(r.URL.Path, "/comments") && r.Method == http.MethodPost:
		var body struct {
			Content    string `json:"content"`
			AnchorText string `json:"anchorText"`
			AnchorFrom int    `json:"anchorFrom"`
			AnchorTo   int    `json:"anchorTo"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			a.t.Errorf("decode create comment: %v", err)
		}
		created := commentPayload{
			ID:         "cmt-new",
			Content:    body.Content,
			AnchorText: body.AnchorText,
			AnchorFrom: body.AnchorFrom,
			AnchorTo:   body.AnchorTo,
		}
		a.comments = append(a.comments, created)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(created)

	case r.Method == http.MethodDelete:
		parts := strings.Split(r.URL.Path, "/")
		id := parts[len(parts)-1]
		kept := a.comments[:0]
		for _, c := range a.comments {
			if c.ID != id {
				kept = append(kept, c)
			}
		}
		a.comments = kept
		a.deletes <- id
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet:
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "doc-1",
			"title":   "Groceries",
			"content": json.RawMessage(a.content),
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func docJSON(text string) string {
	doc := richtext.New()
	doc.InsertText(0, text)
	return doc.Serialize()
}

func TestOpenDocumentLoadsContentAndComments(t *testing.T) {
	api := newStubAPI(t, docJSON("buy milk"))
	api.comments = []commentPayload{{ID: "cmt-1", Content: "which brand?", AnchorText: "milk", AnchorFrom: 4, AnchorTo: 8}}
	server := httptest.NewServer(api)
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	session, err := c.OpenDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer session.Close()

	if got := session.Doc.Text(); got != "buy milk" {
		t.Fatalf("expected surface text %q, got %q", "buy milk", got)
	}
	loaded := session.Comments.Comments()
	if len(loaded) != 1 || loaded[0].ID != "cmt-1" {
		t.Fatalf("expected loaded comment cmt-1, got %v", loaded)
	}
}

func TestRemoteSnapshotReplacesSurface(t *testing.T) {
	api := newStubAPI(t, docJSON("buy milk"))
	server := httptest.NewServer(api)
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	session, err := c.OpenDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer session.Close()

	api.snapshots <- docJSON("buy oat milk")

	deadline := time.After(2 * time.Second)
	for session.Doc.Text() != "buy oat milk" {
		select {
		case <-deadline:
			t.Fatalf("surface never updated, text=%q", session.Doc.Text())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestLocalEditCommitsOverWebsocket(t *testing.T) {
	api := newStubAPI(t, docJSON("buy milk"))
	server := httptest.NewServer(api)
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, Token: "tok", Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	session, err := c.OpenDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer session.Close()

	session.Doc.InsertText(session.Doc.Len(), " and eggs")
	session.OnUserEdited(session.Doc.Serialize())

	select {
	case committed := <-api.commits:
		parsed := richtext.New()
		if err := parsed.ReplaceContent(committed); err != nil {
			t.Fatalf("committed content unparseable: %v", err)
		}
		if parsed.Text() != "buy milk and eggs" {
			t.Fatalf("expected committed text, got %q", parsed.Text())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("commit never arrived")
	}
}

func TestUserEditSweepsOrphanedComment(t *testing.T) {
	doc := richtext.New()
	doc.InsertText(0, "buy milk today")
	doc.ApplyMark(richtext.Range{From: 4, To: 8}, "cmt-1")

	api := newStubAPI(t, doc.Serialize())
	api.comments = []commentPayload{{ID: "cmt-1", Content: "which brand?", AnchorText: "milk", AnchorFrom: 4, AnchorTo: 8}}
	server := httptest.NewServer(api)
	defer server.Close()

	c, err := New(Config{
		BaseURL:    server.URL,
		Token:      "tok",
		Debounce:   20 * time.Millisecond,
		SweepDelay: 30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	session, err := c.OpenDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer session.Close()

	// Deleting the anchored word must arm the orphan sweep along with the
	// debounced commit.
	session.Doc.DeleteRange(richtext.Range{From: 4, To: 9})
	session.OnUserEdited(session.Doc.Serialize())

	select {
	case deleted := <-api.deletes:
		if deleted != "cmt-1" {
			t.Fatalf("expected cmt-1 deleted, got %q", deleted)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("orphaned comment was never deleted")
	}

	deadline := time.After(2 * time.Second)
	for len(session.Comments.Comments()) != 0 {
		select {
		case <-deadline:
			t.Fatalf("comment still known after sweep: %v", session.Comments.Comments())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCreateCommentForceCommitsMark(t *testing.T) {
	api := newStubAPI(t, docJSON("buy milk"))
	server := httptest.NewServer(api)
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	session, err := c.OpenDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer session.Close()

	id, err := session.Comments.Create(context.Background(), richtext.Range{From: 4, To: 8}, "usr-1", "Priya", "2% please")
	if err != nil {
		t.Fatalf("create comment: %v", err)
	}
	if id != "cmt-new" {
		t.Fatalf("expected server-assigned id, got %q", id)
	}

	// The mark lands in the surface and the force commit reaches the server.
	if got := session.Comments.ResolveTap(5); len(got) != 1 || got[0] != "cmt-new" {
		t.Fatalf("expected mark at position 5, got %v", got)
	}
	select {
	case committed := <-api.commits:
		if !strings.Contains(committed, "cmt-new") {
			t.Fatalf("expected committed content to carry the mark, got %s", committed)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("force commit never arrived")
	}
}

func TestRestCommentStoreRoundTrip(t *testing.T) {
	api := newStubAPI(t, docJSON("buy milk"))
	server := httptest.NewServer(api)
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	cs := &restCommentStore{client: c}

	id, err := cs.Create(context.Background(), comments.Comment{
		DocumentID: "doc-1",
		Content:    "note",
		AnchorText: "milk",
		Position:   richtext.Range{From: 4, To: 8},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" {
		t.Fatalf("expected id")
	}

	listed, err := cs.List(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].Position.From != 4 || listed[0].Position.To != 8 {
		t.Fatalf("unexpected listing %v", listed)
	}
}
