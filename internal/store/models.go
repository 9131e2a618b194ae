package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Household struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Membership ties a user to a household with a role: owner, member or guest.
type Membership struct {
	HouseholdID string
	UserID      string
	DisplayName string
	Role        string
	JoinedAt    time.Time
}

// Document is one shared rich-text document. Content is the serialized
// document tree, replaced wholesale on every commit; LastEditedBy and
// UpdatedAt are provenance metadata written alongside it.
type Document struct {
	ID           string
	HouseholdID  string
	Title        string
	Content      string
	LastEditedBy string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Comment is an anchored comment record. AnchorText and the anchor offsets
// are best-effort copies from creation time; the comment mark inside the
// document content is what keeps a comment alive.
type Comment struct {
	ID         string
	DocumentID string
	AuthorID   string
	AuthorName string
	Content    string
	AnchorText string
	AnchorFrom int
	AnchorTo   int
	CreatedAt  time.Time
}

// Attachment is a file stored in the blob store, referenced from a document.
type Attachment struct {
	ID          string
	DocumentID  string
	Name        string
	ContentType string
	Size        int64
	ObjectKey   string
	UploadedBy  string
	CreatedAt   time.Time
}
