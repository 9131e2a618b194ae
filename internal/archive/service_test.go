package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestDocumentArchiveLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Revision{
		Title: "Camping trip",
		Content: json.RawMessage(`{
			"type":"doc",
			"content":[
				{"type":"heading","attrs":{"level":1},"content":[{"type":"text","text":"Camping trip"}]},
				{"type":"paragraph","content":[{"type":"text","text":"Pack the tent"}]}
			]
		}`),
	}

	if err := svc.EnsureDocumentArchive("doc-1", initial, "Priya"); err != nil {
		t.Fatalf("EnsureDocumentArchive() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc-1")); err != nil {
		t.Fatalf("archive directory missing: %v", err)
	}

	// Idempotent for an existing document.
	if err := svc.EnsureDocumentArchive("doc-1", initial, "Priya"); err != nil {
		t.Fatalf("EnsureDocumentArchive() second call error = %v", err)
	}

	updated := initial
	updated.Content = json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Pack the tent and sleeping bags"}]}]}`)
	info, err := svc.RecordRevision("doc-1", updated, "Priya", "Edit packing list")
	if err != nil {
		t.Fatalf("RecordRevision() error = %v", err)
	}
	if info.Hash == "" {
		t.Fatal("expected revision hash")
	}

	history, err := svc.History("doc-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Author != "Priya" {
		t.Fatalf("author = %q", history[0].Author)
	}

	rev, err := svc.GetRevision("doc-1", info.Hash)
	if err != nil {
		t.Fatalf("GetRevision() error = %v", err)
	}
	if !strings.Contains(string(rev.Content), "sleeping bags") {
		t.Fatalf("unexpected revision content: %s", rev.Content)
	}
}

func TestRecordRevisionSkipsUnchangedSnapshots(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Revision{
		Title:   "Chores",
		Content: json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Dishes"}]}]}`),
	}
	if err := svc.EnsureDocumentArchive("doc-1", initial, "Sam"); err != nil {
		t.Fatal(err)
	}

	// Same snapshot, whitespace differences only.
	same := initial
	same.Content = json.RawMessage(`{ "type": "doc", "content": [ { "type": "paragraph", "content": [ { "type": "text", "text": "Dishes" } ] } ] }`)
	if _, err := svc.RecordRevision("doc-1", same, "Sam", "No-op save"); err != nil {
		t.Fatalf("RecordRevision() error = %v", err)
	}

	history, err := svc.History("doc-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1 (unchanged snapshot must not commit)", len(history))
	}
}

func TestHeadRevision(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Revision{Title: "Notes"}
	if err := svc.EnsureDocumentArchive("doc-1", initial, "Priya"); err != nil {
		t.Fatal(err)
	}
	updated := Revision{
		Title:   "Notes",
		Content: json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"latest"}]}]}`),
	}
	if _, err := svc.RecordRevision("doc-1", updated, "Priya", "Save"); err != nil {
		t.Fatal(err)
	}

	rev, info, err := svc.HeadRevision("doc-1")
	if err != nil {
		t.Fatalf("HeadRevision() error = %v", err)
	}
	if !strings.Contains(string(rev.Content), "latest") {
		t.Fatalf("head content = %s", rev.Content)
	}
	if info.Message != "Save" {
		t.Fatalf("head message = %q", info.Message)
	}
}

func TestConcurrentRecordRevision(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Revision{Title: "Shared doc"}
	if err := svc.EnsureDocumentArchive("doc-1", initial, "Priya"); err != nil {
		t.Fatal(err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := Revision{
				Title:   "Shared doc",
				Content: json.RawMessage(fmt.Sprintf(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"edit %02d"}]}]}`, idx)),
			}
			if _, err := svc.RecordRevision("doc-1", next, "Priya", fmt.Sprintf("Edit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("RecordRevision() concurrent error = %v", err)
		}
	}

	history, err := svc.History("doc-1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("history length = %d, want %d", len(history), writers+1)
	}
}
