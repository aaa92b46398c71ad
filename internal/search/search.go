package search

import "context"

// Result is a single post matching a search within one thread.
type Result struct {
	NodeID  int64  `json:"node_id"`
	URI     string `json:"uri"`
	DID     string `json:"did"`
	Handle  string `json:"also_known_as,omitempty"`
	Snippet string `json:"snippet"`
}

// Query describes a search request. ThreadID scopes the search to one
// tracked thread.
type Query struct {
	ThreadID int64
	Text     string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Index is a searcher that posts can be pushed into.
type Index interface {
	Searcher
	IndexNode(rec NodeRecord) error
	IndexNodes(recs []NodeRecord) error
}

// Fallback is the always-available searcher, which also serves as the source
// of truth for a full reindex.
type Fallback interface {
	Searcher
	LoadAllRecords(ctx context.Context) ([]NodeRecord, error)
}

// NodeRecord is the data we index for a post node.
type NodeRecord struct {
	ID        int64  `json:"id"`
	ThreadID  int64  `json:"threadId"`
	URI       string `json:"uri"`
	DID       string `json:"did"`
	Handle    string `json:"handle"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"createdAt"`
}

const defaultLimit = 20

func normalize(q Query) Query {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
