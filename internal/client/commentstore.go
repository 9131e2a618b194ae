package client

import (
	"context"
	"net/http"
	"time"

	"hearth/api/internal/comments"
	"hearth/api/internal/richtext"
)

// restCommentStore implements comments.Store over the comment endpoints.
type restCommentStore struct {
	client *Client
}

type commentPayload struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Content    string    `json:"content"`
	AnchorText string    `json:"anchorText"`
	AnchorFrom int       `json:"anchorFrom"`
	AnchorTo   int       `json:"anchorTo"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (p commentPayload) toComment() comments.Comment {
	return comments.Comment{
		ID:         p.ID,
		DocumentID: p.DocumentID,
		AuthorID:   p.AuthorID,
		AuthorName: p.AuthorName,
		Content:    p.Content,
		AnchorText: p.AnchorText,
		Position:   richtext.Range{From: p.AnchorFrom, To: p.AnchorTo},
		CreatedAt:  p.CreatedAt,
	}
}

func (s *restCommentStore) List(ctx context.Context, documentID string) ([]comments.Comment, error) {
	var resp struct {
		Comments []commentPayload `json:"comments"`
	}
	if err := s.client.do(ctx, http.MethodGet, "/api/documents/"+documentID+"/comments", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]comments.Comment, 0, len(resp.Comments))
	for _, p := range resp.Comments {
		out = append(out, p.toComment())
	}
	return out, nil
}

func (s *restCommentStore) Create(ctx context.Context, c comments.Comment) (string, error) {
	body := map[string]any{
		"content":    c.Content,
		"anchorText": c.AnchorText,
		"anchorFrom": c.Position.From,
		"anchorTo":   c.Position.To,
	}
	var created commentPayload
	if err := s.client.do(ctx, http.MethodPost, "/api/documents/"+c.DocumentID+"/comments", body, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (s *restCommentStore) Update(ctx context.Context, commentID, content string) error {
	return s.client.do(ctx, http.MethodPut, "/api/comments/"+commentID, map[string]any{"content": content}, nil)
}

func (s *restCommentStore) Delete(ctx context.Context, commentID string) error {
	return s.client.do(ctx, http.MethodDelete, "/api/comments/"+commentID, nil, nil)
}
