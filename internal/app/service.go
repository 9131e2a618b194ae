package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"hearth/api/internal/archive"
	"hearth/api/internal/auth"
	"hearth/api/internal/authpw"
	"hearth/api/internal/config"
	"hearth/api/internal/rbac"
	"hearth/api/internal/richtext"
	"hearth/api/internal/search"
	"hearth/api/internal/store"
	"hearth/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	InsertHousehold(context.Context, store.Household, string) error
	GetHousehold(context.Context, string) (store.Household, error)
	ListHouseholdsForUser(context.Context, string) ([]store.Household, error)
	AddMember(context.Context, string, string, string) error
	GetMemberRole(context.Context, string, string) (string, error)
	ListMembers(context.Context, string) ([]store.Membership, error)
	InsertDocument(context.Context, store.Document) error
	GetDocument(context.Context, string) (store.Document, error)
	ListDocuments(context.Context, string) ([]store.Document, error)
	UpdateDocumentTitle(context.Context, string, string, string) error
	DeleteDocument(context.Context, string) error
	InsertComment(context.Context, store.Comment) error
	GetComment(context.Context, string) (store.Comment, error)
	ListComments(context.Context, string) ([]store.Comment, error)
	UpdateCommentContent(context.Context, string, string) (bool, error)
	DeleteComment(context.Context, string) error
	InsertAttachment(context.Context, store.Attachment) error
	GetAttachment(context.Context, string) (store.Attachment, error)
	ListAttachments(context.Context, string) ([]store.Attachment, error)
	Ping(ctx context.Context) error
}

// SessionStore holds refresh tokens. Redis in production, the Postgres store
// has the same methods as a fallback.
type SessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

// realtimeHub is the slice of realtime.Hub the service uses.
type realtimeHub interface {
	WriteAs(ctx context.Context, documentID, content, editedBy string) error
	Subscribe(ctx context.Context, documentID string, fn func(content string)) (func(), error)
	Touch(ctx context.Context, documentID, userID string, ttl time.Duration) error
	Viewers(ctx context.Context, documentID string) ([]string, error)
}

// archiveService is the slice of archive.Service the service uses.
type archiveService interface {
	EnsureDocumentArchive(documentID string, initial archive.Revision, author string) error
	History(documentID string, limit int) ([]archive.RevisionInfo, error)
	GetRevision(documentID, hash string) (archive.Revision, error)
}

// searchService is the slice of search.Service the service uses.
type searchService interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	IndexComment(c search.CommentRecord)
	DeleteDocument(id string)
	DeleteComment(id string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionStore
	authpw   *authpw.Service
	hub      realtimeHub
	archive  archiveService
	search   searchService
	blob     blobService
	export   exportService
}

func New(cfg config.Config, dataStore dataStore, sessions SessionStore, authSvc *authpw.Service, hub realtimeHub, archiveSvc archiveService, searchSvc searchService) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   authSvc,
		hub:      hub,
		archive:  archiveSvc,
		search:   searchSvc,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SyncTuning reports the editing cadence clients should adopt: how long to
// debounce content commits and how long after a local mutation to sweep for
// orphaned comments.
func (s *Service) SyncTuning() map[string]any {
	return map[string]any{
		"commitDebounceMs": s.cfg.CommitDebounce.Milliseconds(),
		"sweepDelayMs":     s.cfg.SweepDelay.Milliseconds(),
	}
}

// --- sessions ---

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	userID, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.authpw.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid email or password", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	found, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, found.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// --- households ---

func (s *Service) CreateHousehold(ctx context.Context, session Session, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	household := store.Household{
		ID:   util.NewID("hh"),
		Name: name,
	}
	if err := s.store.InsertHousehold(ctx, household, session.UserID); err != nil {
		return nil, err
	}
	return map[string]any{"id": household.ID, "name": household.Name, "role": string(rbac.RoleOwner)}, nil
}

func (s *Service) ListHouseholds(ctx context.Context, session Session) ([]map[string]any, error) {
	households, err := s.store.ListHouseholdsForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(households))
	for _, h := range households {
		items = append(items, map[string]any{"id": h.ID, "name": h.Name})
	}
	return items, nil
}

func (s *Service) GetHousehold(ctx context.Context, session Session, householdID string) (map[string]any, error) {
	role, err := s.memberRole(ctx, householdID, session.UserID)
	if err != nil {
		return nil, err
	}
	household, err := s.store.GetHousehold(ctx, householdID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, householdID)
	if err != nil {
		return nil, err
	}
	memberItems := make([]map[string]any, 0, len(members))
	for _, m := range members {
		memberItems = append(memberItems, map[string]any{
			"userId":      m.UserID,
			"displayName": m.DisplayName,
			"role":        m.Role,
		})
	}
	return map[string]any{
		"id":      household.ID,
		"name":    household.Name,
		"role":    string(role),
		"members": memberItems,
	}, nil
}

func (s *Service) AddMember(ctx context.Context, session Session, householdID, email, role string) (map[string]any, error) {
	actorRole, err := s.memberRole(ctx, householdID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(actorRole, rbac.ActionManage) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only owners can add members", nil)
	}
	role = string(rbac.Normalize(role))
	if role == string(rbac.RoleOwner) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Cannot add another owner", nil)
	}
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "No account with that email", nil)
	}
	if err := s.store.AddMember(ctx, householdID, user.ID, role); err != nil {
		return nil, err
	}
	return map[string]any{"userId": user.ID, "displayName": user.DisplayName, "role": role}, nil
}

// memberRole resolves the caller's role in a household. A non-member gets a
// 404 rather than a 403 so household ids are not probeable.
func (s *Service) memberRole(ctx context.Context, householdID, userID string) (rbac.Role, error) {
	role, err := s.store.GetMemberRole(ctx, householdID, userID)
	if err != nil {
		return "", err
	}
	if role == "" {
		return "", errNotFound()
	}
	return rbac.Role(role), nil
}

// --- documents ---

func (s *Service) CreateDocument(ctx context.Context, session Session, householdID, title string) (map[string]any, error) {
	role, err := s.memberRole(ctx, householdID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionWrite) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Guests cannot create documents", nil)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}

	content := richtext.New().Serialize()
	doc := store.Document{
		ID:           util.NewID("doc"),
		HouseholdID:  householdID,
		Title:        title,
		Content:      content,
		LastEditedBy: session.UserID,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	if err := s.archive.EnsureDocumentArchive(doc.ID, archive.Revision{
		Title:   title,
		Content: json.RawMessage(content),
	}, session.UserName); err != nil {
		return nil, fmt.Errorf("archive document %s: %w", doc.ID, err)
	}

	s.search.IndexDocument(search.DocumentRecord{
		ID:          doc.ID,
		Title:       title,
		HouseholdID: householdID,
	})

	return documentPayload(doc), nil
}

func (s *Service) ListDocuments(ctx context.Context, session Session, householdID string) ([]map[string]any, error) {
	if _, err := s.memberRole(ctx, householdID, session.UserID); err != nil {
		return nil, err
	}
	documents, err := s.store.ListDocuments(ctx, householdID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		items = append(items, map[string]any{
			"id":           doc.ID,
			"title":        doc.Title,
			"lastEditedBy": doc.LastEditedBy,
			"updatedAt":    doc.UpdatedAt,
		})
	}
	return items, nil
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, _, err := s.documentForRead(ctx, session, documentID)
	if err != nil {
		return nil, err
	}
	return documentPayload(doc), nil
}

func (s *Service) RenameDocument(ctx context.Context, session Session, documentID, title string) (map[string]any, error) {
	doc, role, err := s.documentForRead(ctx, session, documentID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionWrite) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Guests cannot rename documents", nil)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if err := s.store.UpdateDocumentTitle(ctx, documentID, title, session.UserID); err != nil {
		return nil, err
	}
	doc.Title = title
	s.search.IndexDocument(search.DocumentRecord{
		ID:          doc.ID,
		Title:       title,
		Text:        extractPlainText(doc.Content),
		HouseholdID: doc.HouseholdID,
	})
	return documentPayload(doc), nil
}

func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	doc, role, err := s.documentForRead(ctx, session, documentID)
	if err != nil {
		return err
	}
	if !rbac.Can(role, rbac.ActionManage) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only owners can delete documents", nil)
	}
	comments, err := s.store.ListComments(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	s.search.DeleteDocument(doc.ID)
	for _, c := range comments {
		s.search.DeleteComment(c.ID)
	}
	if s.blob != nil {
		if err := s.blob.DeleteDocumentAttachments(ctx, documentID); err != nil {
			log.Printf("app: sweep attachments for %s: %v", documentID, err)
		}
	}
	return nil
}

// CommitContent applies a wholesale content replacement on behalf of a
// member. The realtime hub persists and fans out; subscribers that authored
// the write suppress their own echo.
func (s *Service) CommitContent(ctx context.Context, session Session, documentID, content string) (map[string]any, error) {
	doc, role, err := s.documentForRead(ctx, session, documentID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionWrite) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Guests cannot edit documents", nil)
	}

	// Reject content the surface cannot parse before it reaches storage.
	probe := richtext.New()
	if err := probe.ReplaceContent(content); err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Malformed document content", nil)
	}

	if err := s.hub.WriteAs(ctx, documentID, content, session.UserID); err != nil {
		return nil, err
	}

	doc.Content = content
	doc.LastEditedBy = session.UserID
	return documentPayload(doc), nil
}

func (s *Service) DocumentHistory(ctx context.Context, session Session, documentID string, limit int) ([]archive.RevisionInfo, error) {
	if _, _, err := s.documentForRead(ctx, session, documentID); err != nil {
		return nil, err
	}
	return s.archive.History(documentID, limit)
}

func (s *Service) DocumentRevision(ctx context.Context, session Session, documentID, hash string) (archive.Revision, error) {
	if _, _, err := s.documentForRead(ctx, session, documentID); err != nil {
		return archive.Revision{}, err
	}
	return s.archive.GetRevision(documentID, hash)
}

func (s *Service) documentForRead(ctx context.Context, session Session, documentID string) (store.Document, rbac.Role, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Document{}, "", errNotFound()
		}
		return store.Document{}, "", err
	}
	role, err := s.memberRole(ctx, doc.HouseholdID, session.UserID)
	if err != nil {
		return store.Document{}, "", err
	}
	return doc, role, nil
}

func documentPayload(doc store.Document) map[string]any {
	return map[string]any{
		"id":           doc.ID,
		"householdId":  doc.HouseholdID,
		"title":        doc.Title,
		"content":      json.RawMessage(doc.Content),
		"lastEditedBy": doc.LastEditedBy,
		"updatedAt":    doc.UpdatedAt,
	}
}

func extractPlainText(content string) string {
	doc := richtext.New()
	if err := doc.ReplaceContent(content); err != nil {
		return ""
	}
	return doc.Text()
}

// --- comments ---

type CreateCommentInput struct {
	Content    string `json:"content"`
	AnchorText string `json:"anchorText"`
	AnchorFrom int    `json:"anchorFrom"`
	AnchorTo   int    `json:"anchorTo"`
}

func (s *Service) ListComments(ctx context.Context, session Session, documentID string) ([]map[string]any, error) {
	if _, _, err := s.documentForRead(ctx, session, documentID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(comments))
	for _, c := range comments {
		items = append(items, commentPayload(c))
	}
	return items, nil
}

func (s *Service) CreateComment(ctx context.Context, session Session, documentID string, input CreateCommentInput) (map[string]any, error) {
	doc, role, err := s.documentForRead(ctx, session, documentID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionComment) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	if input.AnchorFrom >= input.AnchorTo {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "anchor range must not be empty", nil)
	}

	comment := store.Comment{
		ID:         util.NewID("cmt"),
		DocumentID: documentID,
		AuthorID:   session.UserID,
		AuthorName: session.UserName,
		Content:    input.Content,
		AnchorText: input.AnchorText,
		AnchorFrom: input.AnchorFrom,
		AnchorTo:   input.AnchorTo,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return nil, err
	}

	s.search.IndexComment(search.CommentRecord{
		ID:          comment.ID,
		Content:     comment.Content,
		AnchorText:  comment.AnchorText,
		DocumentID:  documentID,
		HouseholdID: doc.HouseholdID,
	})

	return commentPayload(comment), nil
}

func (s *Service) EditComment(ctx context.Context, session Session, commentID, content string) (map[string]any, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound()
		}
		return nil, err
	}
	doc, _, err := s.documentForRead(ctx, session, comment.DocumentID)
	if err != nil {
		return nil, err
	}
	if comment.AuthorID != session.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can edit a comment", nil)
	}
	if strings.TrimSpace(content) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	updated, err := s.store.UpdateCommentContent(ctx, commentID, content)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, errNotFound()
	}
	comment.Content = content
	s.search.IndexComment(search.CommentRecord{
		ID:          comment.ID,
		Content:     content,
		AnchorText:  comment.AnchorText,
		DocumentID:  comment.DocumentID,
		HouseholdID: doc.HouseholdID,
	})
	return commentPayload(comment), nil
}

// DeleteComment removes a comment record. Authors delete their own; owners
// can delete any. The orphan sweeper also calls this path when a comment's
// anchored text disappears from the document.
func (s *Service) DeleteComment(ctx context.Context, session Session, commentID string) error {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound()
		}
		return err
	}
	_, role, err := s.documentForRead(ctx, session, comment.DocumentID)
	if err != nil {
		return err
	}
	if comment.AuthorID != session.UserID && !rbac.Can(role, rbac.ActionManage) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err := s.store.DeleteComment(ctx, commentID); err != nil {
		return err
	}
	s.search.DeleteComment(commentID)
	return nil
}

func commentPayload(c store.Comment) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"documentId": c.DocumentID,
		"authorId":   c.AuthorID,
		"authorName": c.AuthorName,
		"content":    c.Content,
		"anchorText": c.AnchorText,
		"anchorFrom": c.AnchorFrom,
		"anchorTo":   c.AnchorTo,
		"createdAt":  c.CreatedAt,
	}
}

// --- search ---

func (s *Service) Search(ctx context.Context, session Session, householdID string, q search.Query) (search.Response, error) {
	if _, err := s.memberRole(ctx, householdID, session.UserID); err != nil {
		return search.Response{}, err
	}
	q.FilterHouseholdID = householdID
	return s.search.Search(q), nil
}

// --- presence ---

const presenceTTL = 30 * time.Second

func (s *Service) TouchPresence(ctx context.Context, session Session, documentID string) error {
	if _, _, err := s.documentForRead(ctx, session, documentID); err != nil {
		return err
	}
	return s.hub.Touch(ctx, documentID, session.UserID, presenceTTL)
}

func (s *Service) Viewers(ctx context.Context, session Session, documentID string) ([]string, error) {
	if _, _, err := s.documentForRead(ctx, session, documentID); err != nil {
		return nil, err
	}
	return s.hub.Viewers(ctx, documentID)
}
