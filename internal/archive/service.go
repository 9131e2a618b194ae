// Package archive keeps a git revision history per document. Every committed
// content write lands as a commit on a single main branch, giving households
// an audit trail and point-in-time recovery without any extra database
// tables.
package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Revision is the archived snapshot of a document.
type Revision struct {
	Title   string          `json:"title"`
	Content json.RawMessage `json:"content,omitempty"`
}

// RevisionInfo describes one entry in a document's history.
type RevisionInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureDocumentArchive initializes the archive repo for a document if it
// does not exist yet, committing initial as the baseline.
func (s *Service) EnsureDocumentArchive(documentID string, initial Revision, author string) error {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(documentID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat archive path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init archive repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(initial, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal initial revision: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "document.json"), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write initial revision: %w", err)
	}
	if _, err := worktree.Add("document.json"); err != nil {
		return fmt.Errorf("git add initial revision: %w", err)
	}
	hash, err := worktree.Commit("Create document", &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit initial revision: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// RecordRevision commits a new snapshot. Unchanged snapshots are skipped and
// return the current head.
func (s *Service) RecordRevision(documentID string, rev Revision, author, message string) (RevisionInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return RevisionInfo{}, fmt.Errorf("open archive repo: %w", err)
	}

	headObj, err := headCommit(repo)
	if err != nil {
		return RevisionInfo{}, err
	}
	if current, err := readRevisionFromCommit(headObj); err == nil && !hasChanges(current, rev) {
		return toRevisionInfo(headObj), nil
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return RevisionInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(rev, "", "  ")
	if err != nil {
		return RevisionInfo{}, fmt.Errorf("marshal revision: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, "document.json"), append(payload, '\n'), 0o644); err != nil {
		return RevisionInfo{}, fmt.Errorf("write document.json: %w", err)
	}
	if _, err := worktree.Add("document.json"); err != nil {
		return RevisionInfo{}, fmt.Errorf("git add revision: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return RevisionInfo{}, fmt.Errorf("commit revision: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return RevisionInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevisionInfo(commitObj), nil
}

// HeadRevision returns the latest archived snapshot.
func (s *Service) HeadRevision(documentID string) (Revision, RevisionInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return Revision{}, RevisionInfo{}, fmt.Errorf("open archive repo: %w", err)
	}
	commitObj, err := headCommit(repo)
	if err != nil {
		return Revision{}, RevisionInfo{}, err
	}
	rev, err := readRevisionFromCommit(commitObj)
	if err != nil {
		return Revision{}, RevisionInfo{}, err
	}
	return rev, toRevisionInfo(commitObj), nil
}

// GetRevision returns the snapshot stored at a specific commit hash.
func (s *Service) GetRevision(documentID, hash string) (Revision, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return Revision{}, fmt.Errorf("open archive repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Revision{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readRevisionFromCommit(commitObj)
}

// History lists revisions newest first, up to limit (0 = all).
func (s *Service) History(documentID string, limit int) ([]RevisionInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return nil, fmt.Errorf("open archive repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]RevisionInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevisionInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	return commitObj, nil
}

func readRevisionFromCommit(commitObj *object.Commit) (Revision, error) {
	file, err := commitObj.File("document.json")
	if err != nil {
		return Revision{}, fmt.Errorf("load document.json from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Revision{}, fmt.Errorf("open revision reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Revision{}, fmt.Errorf("read revision bytes: %w", err)
	}

	var rev Revision
	if err := json.Unmarshal(raw, &rev); err != nil {
		return Revision{}, fmt.Errorf("decode revision: %w", err)
	}
	return rev, nil
}

func hasChanges(from, to Revision) bool {
	if from.Title != to.Title {
		return true
	}
	return !bytes.Equal(normalizeContent(from.Content), normalizeContent(to.Content))
}

func toRevisionInfo(commitObj *object.Commit) RevisionInfo {
	return RevisionInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.hearth.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func normalizeContent(content json.RawMessage) []byte {
	if len(content) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(content, &parsed); err != nil {
		return nil
	}
	normalized, err := json.Marshal(parsed)
	if err != nil {
		return nil
	}
	return normalized
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
