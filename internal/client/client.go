// Package client is the Go client for the hearth document API: a REST
// wrapper plus a live document session that keeps a local rich-text surface
// synchronized over the document websocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hearth/api/internal/comments"
	"hearth/api/internal/docsync"
	"hearth/api/internal/richtext"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the API origin, e.g. "http://localhost:8787".
	BaseURL string

	// Token is the bearer token of an authenticated session.
	Token string

	// HTTPClient overrides the default client when set.
	HTTPClient *http.Client

	// Debounce overrides the engine's commit debounce when positive.
	Debounce time.Duration

	// SweepDelay overrides the comment orphan-sweep delay when positive.
	SweepDelay time.Duration
}

// Client talks to the hearth API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	debounce   time.Duration
	sweepDelay time.Duration
}

// New creates a Client. BaseURL must not be empty.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("client: BaseURL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    base,
		token:      cfg.Token,
		httpClient: httpClient,
		debounce:   cfg.Debounce,
		sweepDelay: cfg.SweepDelay,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// Document is the document metadata and content returned by the API.
type Document struct {
	ID           string          `json:"id"`
	HouseholdID  string          `json:"householdId"`
	Title        string          `json:"title"`
	Content      json.RawMessage `json:"content"`
	LastEditedBy string          `json:"lastEditedBy"`
}

// GetDocument fetches one document.
func (c *Client) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var doc Document
	err := c.do(ctx, http.MethodGet, "/api/documents/"+documentID, nil, &doc)
	return doc, err
}

// DocumentSession is a live editing session for one document: the local
// surface, the sync engine and the comment manager, wired together.
type DocumentSession struct {
	Doc      *richtext.Document
	Engine   *docsync.Engine
	Comments *comments.Manager

	ws *wsStore
}

// OpenDocument loads a document, connects its websocket and returns a ready
// session.
func (c *Client) OpenDocument(ctx context.Context, documentID string) (*DocumentSession, error) {
	remote, err := c.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}

	doc := richtext.New()
	if len(remote.Content) > 0 {
		if err := doc.ReplaceContent(string(remote.Content)); err != nil {
			return nil, fmt.Errorf("open document: %w", err)
		}
	}

	ws, err := newWSStore(c, documentID)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}

	engine := docsync.New(doc, ws, documentID, docsync.Options{Debounce: c.debounce})
	if err := engine.Start(ctx); err != nil {
		ws.Close()
		return nil, fmt.Errorf("open document: %w", err)
	}

	manager := comments.NewManager(doc, &restCommentStore{client: c}, engine, documentID, comments.Options{
		SweepDelay: c.sweepDelay,
	})
	if err := manager.Load(ctx); err != nil {
		engine.Close()
		ws.Close()
		return nil, fmt.Errorf("open document: %w", err)
	}

	return &DocumentSession{Doc: doc, Engine: engine, Comments: manager, ws: ws}, nil
}

// OnUserEdited reports a user-originated content mutation. It arms the
// engine's debounced commit and the comment manager's orphan sweep in one
// step; callers that drive the engine directly would leave orphaned
// anchors behind after a deletion.
func (s *DocumentSession) OnUserEdited(newContent string) {
	s.Engine.OnLocalEdit(newContent)
	s.Comments.NoteLocalMutation()
}

// Close tears down the session. Pending debounced commits are dropped;
// call Engine.ForceCommit first to flush.
func (s *DocumentSession) Close() {
	s.Comments.Close()
	s.Engine.Close()
	s.ws.Close()
}
