package export

import (
	"context"
	"fmt"
	"html/template"
	"time"
)

// DataStore defines the data access the export service needs. The app layer
// wires it to Postgres plus the archive for historical versions.
type DataStore interface {
	GetDocumentMeta(ctx context.Context, id string) (DocumentInfo, error)
	GetDocumentContent(ctx context.Context, documentID, version string) (interface{}, error)
	ListDocumentComments(ctx context.Context, documentID string) ([]CommentInfo, error)
}

// DocumentInfo holds basic document metadata
type DocumentInfo struct {
	ID            string
	Title         string
	HouseholdName string
	LastEditedBy  string
	UpdatedAt     time.Time
}

// Service provides document export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	docInfo, err := s.store.GetDocumentMeta(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	content, err := s.store.GetDocumentContent(ctx, req.DocumentID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	contentHTML := RichContentToHTML(content)

	data := TemplateData{
		Title:         docInfo.Title,
		ContentHTML:   template.HTML(contentHTML),
		Author:        docInfo.LastEditedBy,
		UpdatedAt:     docInfo.UpdatedAt,
		HouseholdName: docInfo.HouseholdName,
		Comments:      []TemplateComment{},
	}

	if req.IncludeComments {
		comments, err := s.store.ListDocumentComments(ctx, req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("list comments: %w", err)
		}
		for _, c := range comments {
			data.Comments = append(data.Comments, TemplateComment{
				AnchorText: c.AnchorText,
				Content:    c.Content,
				Author:     c.Author,
				CreatedAt:  c.CreatedAt,
			})
		}
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, docInfo.Title)
	case FormatDOCX:
		return exportDOCX(html, docInfo.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
