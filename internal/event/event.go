// Package event decodes post-creation messages from the firehose relay into
// typed records.
package event

import (
	"strings"
	"time"
)

// LinkKind is the relation a post has to an earlier post.
type LinkKind string

const (
	LinkReply LinkKind = "reply"
	LinkQuote LinkKind = "quote"
)

// Link is one reference from a post to another post's URI.
type Link struct {
	Kind LinkKind
	URI  string
}

// Post is a decoded app.bsky.feed.post record. Links holds at most one quote
// and at most one reply, quote first.
type Post struct {
	Text      string
	CreatedAt time.Time
	Links     []Link
}

// Event is one post creation in a repository.
type Event struct {
	Repo string
	Path string
	Post Post
}

// URI is the at:// URI of the created post.
func (e Event) URI() string {
	return "at://" + e.Repo + "/" + e.Path
}

// AuthorDID extracts the repository did from an at:// post URI.
func AuthorDID(uri string) (string, bool) {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return "", false
	}
	did, _, _ := strings.Cut(rest, "/")
	if did == "" {
		return "", false
	}
	return did, true
}
