package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultComment  ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	DocumentID  string     `json:"documentId"`
	HouseholdID string     `json:"householdId"`
}

// Query describes a search request. Household scoping is mandatory at the
// HTTP layer; an empty FilterHouseholdID here means search everything.
type Query struct {
	Text              string
	FilterType        ResultType // empty = all types
	FilterHouseholdID string
	Limit             int
	Offset            int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// DocumentRecord is the data we index for a document. Text is the plain text
// extracted from the rich content at commit time.
type DocumentRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	HouseholdID string `json:"householdId"`
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	AnchorText  string `json:"anchorText"`
	DocumentID  string `json:"documentId"`
	HouseholdID string `json:"householdId"`
}
