package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"hearth/api/internal/richtext"
)

// PgFTS implements Searcher using PostgreSQL as a fallback. Document bodies
// are stored as rich-content JSON, so matching uses ILIKE over the raw text
// rather than a tsvector column.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across documents and comments.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultDocument {
		docWhere := "(d.title ILIKE '%' || $1 || '%' OR d.content ILIKE '%' || $1 || '%')"
		if q.FilterHouseholdID != "" {
			docWhere += fmt.Sprintf(" AND d.household_id = $%d", argN)
			args = append(args, q.FilterHouseholdID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.title,
				''::text AS snippet,
				d.id AS document_id, d.household_id,
				d.updated_at AS sort_key
			FROM documents d
			WHERE %s`, docWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultComment {
		cmtWhere := "(c.content ILIKE '%' || $1 || '%' OR c.anchor_text ILIKE '%' || $1 || '%')"
		if q.FilterHouseholdID != "" {
			cmtWhere += fmt.Sprintf(" AND d.household_id = $%d", argN)
			args = append(args, q.FilterHouseholdID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, c.anchor_text AS title,
				left(c.content, 160) AS snippet,
				c.document_id, d.household_id,
				c.created_at AS sort_key
			FROM comments c
			JOIN documents d ON d.id = c.document_id
			WHERE %s`, cmtWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, document_id, household_id
		FROM (%s) sub
		ORDER BY sort_key DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pg search count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pg search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DocumentID, &r.HouseholdID); err != nil {
			return nil, 0, fmt.Errorf("pg search scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing. Document
// bodies are converted from stored rich content to plain text.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []CommentRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, content, household_id
		FROM documents
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		var content string
		if err := docRows.Scan(&d.ID, &d.Title, &content, &d.HouseholdID); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		d.Text = extractText(content)
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.content, c.anchor_text, c.document_id, d.household_id
		FROM comments c
		JOIN documents d ON d.id = c.document_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var c CommentRecord
		if err := commentRows.Scan(&c.ID, &c.Content, &c.AnchorText, &c.DocumentID, &c.HouseholdID); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	return documents, comments, nil
}

func extractText(content string) string {
	doc := richtext.New()
	if err := doc.ReplaceContent(content); err != nil {
		return ""
	}
	return doc.Text()
}
