package app

import (
	"context"
	"fmt"
	"log"

	"hearth/api/internal/archive"
	"hearth/api/internal/search"
	"hearth/api/internal/store"
)

// ContentPipeline is the commit point for document content. The realtime hub
// calls it before fanout: Postgres is the system of record, the archive and
// search index follow along best effort.
type ContentPipeline struct {
	store   *store.PostgresStore
	archive *archive.Service
	search  *search.Service
}

// NewContentPipeline builds the pipeline over the Postgres store. archiveSvc
// and searchSvc may be nil.
func NewContentPipeline(pg *store.PostgresStore, archiveSvc *archive.Service, searchSvc *search.Service) *ContentPipeline {
	return &ContentPipeline{store: pg, archive: archiveSvc, search: searchSvc}
}

// UpdateDocumentContent persists the commit, then records an archive
// revision and refreshes the search index. Archive and index failures are
// logged, not surfaced; the write already won.
func (p *ContentPipeline) UpdateDocumentContent(ctx context.Context, documentID, content, editedBy string) error {
	if err := p.store.UpdateDocumentContent(ctx, documentID, content, editedBy); err != nil {
		return fmt.Errorf("persist content: %w", err)
	}

	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		log.Printf("pipeline: load metadata for %s: %v", documentID, err)
		return nil
	}
	editorName := editedBy
	if user, err := p.store.GetUserByID(ctx, editedBy); err == nil {
		editorName = user.DisplayName
	}

	if p.archive != nil {
		if _, err := p.archive.RecordRevision(documentID, archive.Revision{
			Title:   doc.Title,
			Content: []byte(content),
		}, editorName, "Edit document"); err != nil {
			log.Printf("pipeline: archive revision for %s: %v", documentID, err)
		}
	}

	if p.search != nil {
		p.search.IndexDocument(search.DocumentRecord{
			ID:          documentID,
			Title:       doc.Title,
			Text:        extractPlainText(content),
			HouseholdID: doc.HouseholdID,
		})
	}
	return nil
}
