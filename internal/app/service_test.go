package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"hearth/api/internal/archive"
	"hearth/api/internal/authpw"
	"hearth/api/internal/config"
	"hearth/api/internal/richtext"
	"hearth/api/internal/search"
	"hearth/api/internal/store"
)

type fakeStore struct {
	createUserFn            func(context.Context, store.User) error
	getUserByEmailFn        func(context.Context, string) (store.User, error)
	getUserByIDFn           func(context.Context, string) (store.User, error)
	insertHouseholdFn       func(context.Context, store.Household, string) error
	getHouseholdFn          func(context.Context, string) (store.Household, error)
	listHouseholdsForUserFn func(context.Context, string) ([]store.Household, error)
	addMemberFn             func(context.Context, string, string, string) error
	getMemberRoleFn         func(context.Context, string, string) (string, error)
	listMembersFn           func(context.Context, string) ([]store.Membership, error)
	insertDocumentFn        func(context.Context, store.Document) error
	getDocumentFn           func(context.Context, string) (store.Document, error)
	listDocumentsFn         func(context.Context, string) ([]store.Document, error)
	updateDocumentTitleFn   func(context.Context, string, string, string) error
	deleteDocumentFn        func(context.Context, string) error
	insertCommentFn         func(context.Context, store.Comment) error
	getCommentFn            func(context.Context, string) (store.Comment, error)
	listCommentsFn          func(context.Context, string) ([]store.Comment, error)
	updateCommentContentFn  func(context.Context, string, string) (bool, error)
	deleteCommentFn         func(context.Context, string) error
	pingFn                  func(context.Context) error
}

func (f *fakeStore) CreateUser(ctx context.Context, u store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, u)
	}
	return nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{ID: id, DisplayName: "Tester"}, nil
}
func (f *fakeStore) InsertHousehold(ctx context.Context, h store.Household, ownerID string) error {
	if f.insertHouseholdFn != nil {
		return f.insertHouseholdFn(ctx, h, ownerID)
	}
	return nil
}
func (f *fakeStore) GetHousehold(ctx context.Context, id string) (store.Household, error) {
	if f.getHouseholdFn != nil {
		return f.getHouseholdFn(ctx, id)
	}
	return store.Household{ID: id, Name: "Household"}, nil
}
func (f *fakeStore) ListHouseholdsForUser(ctx context.Context, userID string) ([]store.Household, error) {
	if f.listHouseholdsForUserFn != nil {
		return f.listHouseholdsForUserFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) AddMember(ctx context.Context, householdID, userID, role string) error {
	if f.addMemberFn != nil {
		return f.addMemberFn(ctx, householdID, userID, role)
	}
	return nil
}
func (f *fakeStore) GetMemberRole(ctx context.Context, householdID, userID string) (string, error) {
	if f.getMemberRoleFn != nil {
		return f.getMemberRoleFn(ctx, householdID, userID)
	}
	return "", nil
}
func (f *fakeStore) ListMembers(ctx context.Context, householdID string) ([]store.Membership, error) {
	if f.listMembersFn != nil {
		return f.listMembersFn(ctx, householdID)
	}
	return nil, nil
}
func (f *fakeStore) InsertDocument(ctx context.Context, doc store.Document) error {
	if f.insertDocumentFn != nil {
		return f.insertDocumentFn(ctx, doc)
	}
	return nil
}
func (f *fakeStore) GetDocument(ctx context.Context, id string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, id)
	}
	return store.Document{}, sql.ErrNoRows
}
func (f *fakeStore) ListDocuments(ctx context.Context, householdID string) ([]store.Document, error) {
	if f.listDocumentsFn != nil {
		return f.listDocumentsFn(ctx, householdID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateDocumentTitle(ctx context.Context, id, title, editedBy string) error {
	if f.updateDocumentTitleFn != nil {
		return f.updateDocumentTitleFn(ctx, id, title, editedBy)
	}
	return nil
}
func (f *fakeStore) DeleteDocument(ctx context.Context, id string) error {
	if f.deleteDocumentFn != nil {
		return f.deleteDocumentFn(ctx, id)
	}
	return nil
}
func (f *fakeStore) InsertComment(ctx context.Context, c store.Comment) error {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, c)
	}
	return nil
}
func (f *fakeStore) GetComment(ctx context.Context, id string) (store.Comment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, id)
	}
	return store.Comment{}, sql.ErrNoRows
}
func (f *fakeStore) ListComments(ctx context.Context, documentID string) ([]store.Comment, error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, documentID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateCommentContent(ctx context.Context, id, content string) (bool, error) {
	if f.updateCommentContentFn != nil {
		return f.updateCommentContentFn(ctx, id, content)
	}
	return true, nil
}
func (f *fakeStore) DeleteComment(ctx context.Context, id string) error {
	if f.deleteCommentFn != nil {
		return f.deleteCommentFn(ctx, id)
	}
	return nil
}
func (f *fakeStore) InsertAttachment(context.Context, store.Attachment) error { return nil }
func (f *fakeStore) GetAttachment(context.Context, string) (store.Attachment, error) {
	return store.Attachment{}, sql.ErrNoRows
}
func (f *fakeStore) ListAttachments(context.Context, string) ([]store.Attachment, error) {
	return nil, nil
}
func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]string{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = userID
	return nil
}
func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.sessions[tokenHash]
	if !ok {
		return store.User{}, errors.New("session not found")
	}
	return store.User{ID: userID}, nil
}
func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}

type fakeHub struct {
	mu      sync.Mutex
	writes  []string
	touches []string
	writeFn func(ctx context.Context, documentID, content, editedBy string) error
}

func (f *fakeHub) WriteAs(ctx context.Context, documentID, content, editedBy string) error {
	f.mu.Lock()
	f.writes = append(f.writes, documentID)
	f.mu.Unlock()
	if f.writeFn != nil {
		return f.writeFn(ctx, documentID, content, editedBy)
	}
	return nil
}
func (f *fakeHub) Subscribe(context.Context, string, func(string)) (func(), error) {
	return func() {}, nil
}
func (f *fakeHub) Touch(_ context.Context, documentID, userID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches = append(f.touches, documentID+":"+userID)
	return nil
}
func (f *fakeHub) Viewers(context.Context, string) ([]string, error) { return nil, nil }

type fakeArchive struct {
	mu      sync.Mutex
	ensured []string
}

func (f *fakeArchive) EnsureDocumentArchive(documentID string, _ archive.Revision, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, documentID)
	return nil
}
func (f *fakeArchive) History(string, int) ([]archive.RevisionInfo, error) { return nil, nil }
func (f *fakeArchive) GetRevision(string, string) (archive.Revision, error) {
	return archive.Revision{}, nil
}

type fakeSearch struct {
	mu              sync.Mutex
	indexedDocs     []search.DocumentRecord
	indexedComments []search.CommentRecord
	deletedDocs     []string
	deletedComments []string
	lastQuery       search.Query
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	return search.Response{Results: []search.Result{}}
}
func (f *fakeSearch) IndexDocument(doc search.DocumentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexedDocs = append(f.indexedDocs, doc)
}
func (f *fakeSearch) IndexComment(c search.CommentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexedComments = append(f.indexedComments, c)
}
func (f *fakeSearch) DeleteDocument(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedDocs = append(f.deletedDocs, id)
}
func (f *fakeSearch) DeleteComment(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedComments = append(f.deletedComments, id)
}

func newTestService(fs *fakeStore) *Service {
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}
	return New(cfg, fs, newFakeSessions(), authpw.NewService(fs), &fakeHub{}, &fakeArchive{}, &fakeSearch{})
}

func memberOf(householdID, userID, role string) func(context.Context, string, string) (string, error) {
	return func(_ context.Context, h, u string) (string, error) {
		if h == householdID && u == userID {
			return role, nil
		}
		return "", nil
	}
}

func docInHousehold(documentID, householdID string) func(context.Context, string) (store.Document, error) {
	return func(_ context.Context, id string) (store.Document, error) {
		if id != documentID {
			return store.Document{}, sql.ErrNoRows
		}
		return store.Document{
			ID:          documentID,
			HouseholdID: householdID,
			Title:       "Groceries",
			Content:     richtext.New().Serialize(),
		}, nil
	}
}

func TestCreateHouseholdRequiresName(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.CreateHousehold(context.Background(), Session{UserID: "usr-1"}, "   ")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 validation error, got %v", err)
	}
}

func TestNonMemberGetsNotFound(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: memberOf("hh-1", "usr-member", "member"),
		getDocumentFn:   docInHousehold("doc-1", "hh-1"),
	}
	svc := newTestService(fs)

	_, err := svc.GetDocument(context.Background(), Session{UserID: "usr-stranger"}, "doc-1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("expected 404 for non-member, got %v", err)
	}

	_, err = svc.GetHousehold(context.Background(), Session{UserID: "usr-stranger"}, "hh-1")
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("expected 404 for non-member household read, got %v", err)
	}
}

func TestCreateDocumentEnsuresArchiveAndIndex(t *testing.T) {
	var inserted store.Document
	fs := &fakeStore{
		getMemberRoleFn: memberOf("hh-1", "usr-1", "member"),
		insertDocumentFn: func(_ context.Context, doc store.Document) error {
			inserted = doc
			return nil
		},
	}
	svc := newTestService(fs)
	archiveFake := &fakeArchive{}
	searchFake := &fakeSearch{}
	svc.archive = archiveFake
	svc.search = searchFake

	payload, err := svc.CreateDocument(context.Background(), Session{UserID: "usr-1", UserName: "Priya"}, "hh-1", "  Groceries  ")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	if payload["title"] != "Groceries" {
		t.Fatalf("expected trimmed title, got %v", payload["title"])
	}
	if !strings.HasPrefix(inserted.ID, "doc_") {
		t.Fatalf("expected doc id prefix, got %q", inserted.ID)
	}
	if inserted.Content == "" {
		t.Fatalf("expected initial content")
	}
	if len(archiveFake.ensured) != 1 || archiveFake.ensured[0] != inserted.ID {
		t.Fatalf("expected archive ensure for %s, got %v", inserted.ID, archiveFake.ensured)
	}
	if len(searchFake.indexedDocs) != 1 {
		t.Fatalf("expected document indexed, got %d", len(searchFake.indexedDocs))
	}
}

func TestCreateDocumentForbiddenForGuests(t *testing.T) {
	fs := &fakeStore{getMemberRoleFn: memberOf("hh-1", "usr-1", "guest")}
	svc := newTestService(fs)

	_, err := svc.CreateDocument(context.Background(), Session{UserID: "usr-1"}, "hh-1", "Groceries")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("expected 403 for guest, got %v", err)
	}
}

func TestCommitContentRejectsMalformedContent(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: memberOf("hh-1", "usr-1", "member"),
		getDocumentFn:   docInHousehold("doc-1", "hh-1"),
	}
	svc := newTestService(fs)
	hub := &fakeHub{}
	svc.hub = hub

	_, err := svc.CommitContent(context.Background(), Session{UserID: "usr-1"}, "doc-1", `{"type":"banana"}`)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 for malformed content, got %v", err)
	}
	if len(hub.writes) != 0 {
		t.Fatalf("malformed content must not reach the hub")
	}
}

func TestCommitContentWritesThroughHub(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: memberOf("hh-1", "usr-1", "member"),
		getDocumentFn:   docInHousehold("doc-1", "hh-1"),
	}
	svc := newTestService(fs)
	var gotEditor string
	hub := &fakeHub{writeFn: func(_ context.Context, _, _, editedBy string) error {
		gotEditor = editedBy
		return nil
	}}
	svc.hub = hub

	content := richtext.New().Serialize()
	payload, err := svc.CommitContent(context.Background(), Session{UserID: "usr-1"}, "doc-1", content)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if gotEditor != "usr-1" {
		t.Fatalf("expected editor usr-1, got %q", gotEditor)
	}
	if payload["lastEditedBy"] != "usr-1" {
		t.Fatalf("expected lastEditedBy in payload, got %v", payload["lastEditedBy"])
	}
}

func TestAddMemberRules(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: memberOf("hh-1", "usr-owner", "owner"),
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			if email == "priya@example.com" {
				return store.User{ID: "usr-2", DisplayName: "Priya", Email: email}, nil
			}
			return store.User{}, sql.ErrNoRows
		},
	}
	svc := newTestService(fs)
	owner := Session{UserID: "usr-owner"}

	payload, err := svc.AddMember(context.Background(), owner, "hh-1", "  PRIYA@example.com ", "member")
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	if payload["userId"] != "usr-2" {
		t.Fatalf("expected usr-2, got %v", payload["userId"])
	}

	var domainErr *DomainError
	_, err = svc.AddMember(context.Background(), owner, "hh-1", "priya@example.com", "owner")
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 when adding another owner, got %v", err)
	}

	fs.getMemberRoleFn = memberOf("hh-1", "usr-owner", "member")
	_, err = svc.AddMember(context.Background(), owner, "hh-1", "priya@example.com", "member")
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("expected 403 for non-owner, got %v", err)
	}
}

func TestCreateCommentValidation(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: memberOf("hh-1", "usr-1", "guest"),
		getDocumentFn:   docInHousehold("doc-1", "hh-1"),
	}
	svc := newTestService(fs)
	searchFake := &fakeSearch{}
	svc.search = searchFake
	session := Session{UserID: "usr-1", UserName: "Priya"}

	// Guests can comment.
	payload, err := svc.CreateComment(context.Background(), session, "doc-1", CreateCommentInput{
		Content:    "don't forget oat milk",
		AnchorText: "milk",
		AnchorFrom: 4,
		AnchorTo:   8,
	})
	if err != nil {
		t.Fatalf("create comment: %v", err)
	}
	if payload["authorName"] != "Priya" {
		t.Fatalf("expected author name, got %v", payload["authorName"])
	}
	if len(searchFake.indexedComments) != 1 {
		t.Fatalf("expected comment indexed")
	}

	var domainErr *DomainError
	_, err = svc.CreateComment(context.Background(), session, "doc-1", CreateCommentInput{
		Content: "   ", AnchorText: "milk", AnchorFrom: 4, AnchorTo: 8,
	})
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 for blank content, got %v", err)
	}

	_, err = svc.CreateComment(context.Background(), session, "doc-1", CreateCommentInput{
		Content: "hm", AnchorText: "", AnchorFrom: 8, AnchorTo: 8,
	})
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 for empty anchor range, got %v", err)
	}
}

func TestEditCommentOnlyByAuthor(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: func(_ context.Context, _, userID string) (string, error) {
			return "member", nil
		},
		getDocumentFn: docInHousehold("doc-1", "hh-1"),
		getCommentFn: func(_ context.Context, id string) (store.Comment, error) {
			if id != "cmt-1" {
				return store.Comment{}, sql.ErrNoRows
			}
			return store.Comment{ID: "cmt-1", DocumentID: "doc-1", AuthorID: "usr-author"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.EditComment(context.Background(), Session{UserID: "usr-other"}, "cmt-1", "new text")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("expected 403 for non-author edit, got %v", err)
	}

	if _, err := svc.EditComment(context.Background(), Session{UserID: "usr-author"}, "cmt-1", "new text"); err != nil {
		t.Fatalf("author edit: %v", err)
	}
}

func TestDeleteCommentByAuthorOrOwner(t *testing.T) {
	roleByUser := map[string]string{"usr-author": "member", "usr-owner": "owner", "usr-other": "member"}
	fs := &fakeStore{
		getMemberRoleFn: func(_ context.Context, _, userID string) (string, error) {
			return roleByUser[userID], nil
		},
		getDocumentFn: docInHousehold("doc-1", "hh-1"),
		getCommentFn: func(_ context.Context, id string) (store.Comment, error) {
			return store.Comment{ID: id, DocumentID: "doc-1", AuthorID: "usr-author"}, nil
		},
	}
	svc := newTestService(fs)
	searchFake := &fakeSearch{}
	svc.search = searchFake

	var domainErr *DomainError
	if err := svc.DeleteComment(context.Background(), Session{UserID: "usr-other"}, "cmt-1"); !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("expected 403 for unrelated member, got %v", err)
	}
	if err := svc.DeleteComment(context.Background(), Session{UserID: "usr-author"}, "cmt-1"); err != nil {
		t.Fatalf("author delete: %v", err)
	}
	if err := svc.DeleteComment(context.Background(), Session{UserID: "usr-owner"}, "cmt-2"); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if len(searchFake.deletedComments) != 2 {
		t.Fatalf("expected 2 search deletions, got %d", len(searchFake.deletedComments))
	}
}

func TestDeleteDocumentSweepsSearchEntries(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: memberOf("hh-1", "usr-owner", "owner"),
		getDocumentFn:   docInHousehold("doc-1", "hh-1"),
		listCommentsFn: func(context.Context, string) ([]store.Comment, error) {
			return []store.Comment{{ID: "cmt-1"}, {ID: "cmt-2"}}, nil
		},
	}
	svc := newTestService(fs)
	searchFake := &fakeSearch{}
	svc.search = searchFake

	if err := svc.DeleteDocument(context.Background(), Session{UserID: "usr-owner"}, "doc-1"); err != nil {
		t.Fatalf("delete document: %v", err)
	}
	if len(searchFake.deletedDocs) != 1 || searchFake.deletedDocs[0] != "doc-1" {
		t.Fatalf("expected doc-1 removed from search, got %v", searchFake.deletedDocs)
	}
	if len(searchFake.deletedComments) != 2 {
		t.Fatalf("expected comment entries removed, got %v", searchFake.deletedComments)
	}

	fs.getMemberRoleFn = memberOf("hh-1", "usr-member", "member")
	err := svc.DeleteDocument(context.Background(), Session{UserID: "usr-member"}, "doc-1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("expected 403 for member delete, got %v", err)
	}
}

func TestSearchScopesToHousehold(t *testing.T) {
	fs := &fakeStore{getMemberRoleFn: memberOf("hh-1", "usr-1", "member")}
	svc := newTestService(fs)
	searchFake := &fakeSearch{}
	svc.search = searchFake

	_, err := svc.Search(context.Background(), Session{UserID: "usr-1"}, "hh-1", search.Query{
		Text:              "milk",
		FilterHouseholdID: "hh-sneaky",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if searchFake.lastQuery.FilterHouseholdID != "hh-1" {
		t.Fatalf("expected household filter forced to hh-1, got %q", searchFake.lastQuery.FilterHouseholdID)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return store.User{ID: id, DisplayName: "Priya"}, nil
		},
	}
	svc := newTestService(fs)
	sessions := newFakeSessions()
	svc.sessions = sessions

	first, err := svc.issueSession(context.Background(), store.User{ID: "usr-1", DisplayName: "Priya"})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected rotated refresh token")
	}

	// The old token was revoked on rotation.
	if _, err := svc.Refresh(context.Background(), first.RefreshToken); err == nil {
		t.Fatalf("expected reuse of rotated token to fail")
	}
}
