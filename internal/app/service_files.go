package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hearth/api/internal/export"
	"hearth/api/internal/rbac"
	"hearth/api/internal/store"
	"hearth/api/internal/util"
)

// blobService is the slice of blob.Service the app uses.
type blobService interface {
	Put(ctx context.Context, documentID, attachmentID, filename, contentType string, r io.Reader, size int64) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	PresignedGet(ctx context.Context, key, filename string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
	DeleteDocumentAttachments(ctx context.Context, documentID string) error
}

// exportService is the slice of export.Service the app uses.
type exportService interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// SetBlob wires attachment storage. Optional; uploads 503 without it.
func (s *Service) SetBlob(b blobService) { s.blob = b }

// SetExport wires document export. Optional; exports 503 without it.
func (s *Service) SetExport(e exportService) { s.export = e }

// --- attachments ---

func (s *Service) UploadAttachment(ctx context.Context, session Session, documentID, filename, contentType string, r io.Reader, size int64) (map[string]any, error) {
	if s.blob == nil {
		return nil, domainError(http.StatusServiceUnavailable, "BLOB_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	_, role, err := s.documentForRead(ctx, session, documentID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionWrite) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Guests cannot upload attachments", nil)
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "filename is required", nil)
	}

	attachmentID := util.NewID("att")
	key, err := s.blob.Put(ctx, documentID, attachmentID, filename, contentType, r, size)
	if err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}

	item := store.Attachment{
		ID:          attachmentID,
		DocumentID:  documentID,
		Name:        filename,
		ContentType: contentType,
		Size:        size,
		ObjectKey:   key,
		UploadedBy:  session.UserID,
	}
	if err := s.store.InsertAttachment(ctx, item); err != nil {
		// Best effort cleanup so the object store does not leak.
		_ = s.blob.Delete(ctx, key)
		return nil, err
	}
	return attachmentPayload(item), nil
}

func (s *Service) ListAttachments(ctx context.Context, session Session, documentID string) ([]map[string]any, error) {
	if _, _, err := s.documentForRead(ctx, session, documentID); err != nil {
		return nil, err
	}
	attachments, err := s.store.ListAttachments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(attachments))
	for _, a := range attachments {
		items = append(items, attachmentPayload(a))
	}
	return items, nil
}

// AttachmentDownloadURL returns a short lived presigned URL for one
// attachment.
func (s *Service) AttachmentDownloadURL(ctx context.Context, session Session, attachmentID string) (string, error) {
	if s.blob == nil {
		return "", domainError(http.StatusServiceUnavailable, "BLOB_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	item, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errNotFound()
		}
		return "", err
	}
	if _, _, err := s.documentForRead(ctx, session, item.DocumentID); err != nil {
		return "", err
	}
	return s.blob.PresignedGet(ctx, item.ObjectKey, item.Name, 15*time.Minute)
}

// AttachmentContent streams an attachment through the API, for clients that
// cannot reach the object store directly. The caller closes the reader.
func (s *Service) AttachmentContent(ctx context.Context, session Session, attachmentID string) (io.ReadCloser, store.Attachment, error) {
	if s.blob == nil {
		return nil, store.Attachment{}, domainError(http.StatusServiceUnavailable, "BLOB_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	item, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.Attachment{}, errNotFound()
		}
		return nil, store.Attachment{}, err
	}
	if _, _, err := s.documentForRead(ctx, session, item.DocumentID); err != nil {
		return nil, store.Attachment{}, err
	}
	reader, err := s.blob.Get(ctx, item.ObjectKey)
	if err != nil {
		return nil, store.Attachment{}, fmt.Errorf("read attachment: %w", err)
	}
	return reader, item, nil
}

func attachmentPayload(a store.Attachment) map[string]any {
	return map[string]any{
		"id":          a.ID,
		"documentId":  a.DocumentID,
		"name":        a.Name,
		"contentType": a.ContentType,
		"size":        a.Size,
		"uploadedBy":  a.UploadedBy,
		"createdAt":   a.CreatedAt,
	}
}

// --- export ---

func (s *Service) Export(ctx context.Context, session Session, req export.Request) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export not configured", nil)
	}
	if _, _, err := s.documentForRead(ctx, session, req.DocumentID); err != nil {
		return nil, err
	}
	return s.export.Export(ctx, req)
}

// ExportStore adapts the data store and archive to what the export renderer
// needs.
type ExportStore struct {
	Store   dataStore
	Archive archiveService
}

func (e *ExportStore) GetDocumentMeta(ctx context.Context, id string) (export.DocumentInfo, error) {
	doc, err := e.Store.GetDocument(ctx, id)
	if err != nil {
		return export.DocumentInfo{}, err
	}
	household, err := e.Store.GetHousehold(ctx, doc.HouseholdID)
	if err != nil {
		return export.DocumentInfo{}, err
	}
	editorName := doc.LastEditedBy
	if user, err := e.Store.GetUserByID(ctx, doc.LastEditedBy); err == nil {
		editorName = user.DisplayName
	}
	return export.DocumentInfo{
		ID:            doc.ID,
		Title:         doc.Title,
		HouseholdName: household.Name,
		LastEditedBy:  editorName,
		UpdatedAt:     doc.UpdatedAt,
	}, nil
}

func (e *ExportStore) GetDocumentContent(ctx context.Context, documentID, version string) (interface{}, error) {
	var raw string
	if version == "" || version == "latest" {
		doc, err := e.Store.GetDocument(ctx, documentID)
		if err != nil {
			return nil, err
		}
		raw = doc.Content
	} else {
		rev, err := e.Archive.GetRevision(documentID, version)
		if err != nil {
			return nil, err
		}
		raw = string(rev.Content)
	}
	var parsed interface{}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("decode document content: %w", err)
	}
	return parsed, nil
}

func (e *ExportStore) ListDocumentComments(ctx context.Context, documentID string) ([]export.CommentInfo, error) {
	comments, err := e.Store.ListComments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]export.CommentInfo, 0, len(comments))
	for _, c := range comments {
		items = append(items, export.CommentInfo{
			AnchorText: c.AnchorText,
			Content:    c.Content,
			Author:     c.AuthorName,
			CreatedAt:  c.CreatedAt,
		})
	}
	return items, nil
}
