package store

import "time"

type EdgeKind string

const (
	EdgeReply EdgeKind = "reply"
	EdgeQuote EdgeKind = "quote"
)

func (k EdgeKind) Valid() bool {
	return k == EdgeReply || k == EdgeQuote
}

type Thread struct {
	ID        int64
	RootURI   string
	CreatedAt time.Time
}

// ThreadSummary is a tracked thread with its current size.
type ThreadSummary struct {
	Thread
	NodeCount int
	EdgeCount int
}

type Node struct {
	ID       int64
	ThreadID int64
	URI      string
	DID      string
	// AlsoKnownAs is the handle resolved when the node was created, if any.
	AlsoKnownAs *string
	CreatedAt   time.Time
	Text        string
}

type Edge struct {
	ID       int64
	ThreadID int64
	SourceID int64
	TargetID int64
	Kind     EdgeKind
}
