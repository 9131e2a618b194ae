package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, LOWER($3), $4)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at
		FROM users WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at
		FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) InsertHousehold(ctx context.Context, household Household, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert household: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO households (id, name) VALUES ($1, $2)
	`, household.ID, household.Name); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert household: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO household_memberships (household_id, user_id, role)
		VALUES ($1, $2, 'owner')
	`, household.ID, ownerID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert owner membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert household: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetHousehold(ctx context.Context, householdID string) (Household, error) {
	var item Household
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM households WHERE id=$1
	`, householdID).Scan(&item.ID, &item.Name, &item.CreatedAt)
	if err != nil {
		return Household{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListHouseholdsForUser(ctx context.Context, userID string) ([]Household, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.id, h.name, h.created_at
		FROM households h
		JOIN household_memberships m ON m.household_id = h.id
		WHERE m.user_id = $1
		ORDER BY h.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list households: %w", err)
	}
	defer rows.Close()

	items := make([]Household, 0)
	for rows.Next() {
		var item Household
		if err := rows.Scan(&item.ID, &item.Name, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan household: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate households: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AddMember(ctx context.Context, householdID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO household_memberships (household_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (household_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, householdID, userID, role)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMemberRole(ctx context.Context, householdID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM household_memberships WHERE household_id=$1 AND user_id=$2
	`, householdID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read member role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, householdID string) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.household_id, m.user_id, u.display_name, m.role, m.joined_at
		FROM household_memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.household_id=$1
		ORDER BY m.joined_at ASC
	`, householdID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]Membership, 0)
	for rows.Next() {
		var item Membership
		if err := rows.Scan(&item.HouseholdID, &item.UserID, &item.DisplayName, &item.Role, &item.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, household_id, title, content, last_edited_by)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.HouseholdID, item.Title, item.Content, item.LastEditedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, household_id, title, content, last_edited_by, created_at, updated_at
		FROM documents WHERE id=$1
	`, documentID).Scan(&item.ID, &item.HouseholdID, &item.Title, &item.Content, &item.LastEditedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, householdID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, household_id, title, last_edited_by, created_at, updated_at
		FROM documents
		WHERE household_id=$1
		ORDER BY updated_at DESC
	`, householdID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.HouseholdID, &item.Title, &item.LastEditedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// UpdateDocumentContent replaces the document content wholesale and stamps
// provenance. This is the last-write-wins commit point: no merge happens
// here, the latest accepted write fully replaces prior content.
func (s *PostgresStore) UpdateDocumentContent(ctx context.Context, documentID, content, editedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET content=$2, last_edited_by=$3, updated_at=NOW()
		WHERE id=$1
	`, documentID, content, editedBy)
	if err != nil {
		return fmt.Errorf("update document content: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocumentTitle(ctx context.Context, documentID, title, editedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title=$2, last_edited_by=$3, updated_at=NOW()
		WHERE id=$1
	`, documentID, title, editedBy)
	if err != nil {
		return fmt.Errorf("update document title: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, document_id, author_id, author_name, content, anchor_text, anchor_from, anchor_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, comment.ID, comment.DocumentID, comment.AuthorID, comment.AuthorName, comment.Content, comment.AnchorText, comment.AnchorFrom, comment.AnchorTo)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var item Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, author_id, author_name, content, anchor_text, anchor_from, anchor_to, created_at
		FROM comments WHERE id=$1
	`, commentID).Scan(&item.ID, &item.DocumentID, &item.AuthorID, &item.AuthorName, &item.Content, &item.AnchorText, &item.AnchorFrom, &item.AnchorTo, &item.CreatedAt)
	if err != nil {
		return Comment{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, documentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, author_id, author_name, content, anchor_text, anchor_from, anchor_to, created_at
		FROM comments
		WHERE document_id=$1
		ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.AuthorID, &item.AuthorName, &item.Content, &item.AnchorText, &item.AnchorFrom, &item.AnchorTo, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateCommentContent(ctx context.Context, commentID, content string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments SET content=$2 WHERE id=$1
	`, commentID, content)
	if err != nil {
		return false, fmt.Errorf("update comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update comment rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.password_hash, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertAttachment(ctx context.Context, item Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, document_id, name, content_type, size, object_key, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.DocumentID, item.Name, item.ContentType, item.Size, item.ObjectKey, item.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	var item Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, name, content_type, size, object_key, uploaded_by, created_at
		FROM attachments WHERE id=$1
	`, attachmentID).Scan(&item.ID, &item.DocumentID, &item.Name, &item.ContentType, &item.Size, &item.ObjectKey, &item.UploadedBy, &item.CreatedAt)
	if err != nil {
		return Attachment{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, documentID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, name, content_type, size, object_key, uploaded_by, created_at
		FROM attachments
		WHERE document_id=$1
		ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var item Attachment
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.Name, &item.ContentType, &item.Size, &item.ObjectKey, &item.UploadedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}
