package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	embedRecord          = "app.bsky.embed.record"
	embedRecordWithMedia = "app.bsky.embed.recordWithMedia"
)

// DecodeError is returned for payloads that are not a usable post creation.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode event: %s: %v", e.Reason, e.Err)
	}
	return "decode event: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type wireMessage struct {
	Repo string    `json:"repo"`
	Path string    `json:"path"`
	Data *wirePost `json:"data"`
}

type strongRef struct {
	URI string `json:"uri"`
}

type wirePost struct {
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
	Reply     *struct {
		Parent *strongRef `json:"parent"`
	} `json:"reply"`
	Embed *wireEmbed `json:"embed"`
}

type wireEmbed struct {
	Type   string          `json:"$type"`
	Record json.RawMessage `json:"record"`
}

// Decode parses a raw message payload of the form {repo, path, data}.
func Decode(payload []byte) (Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Event{}, &DecodeError{Reason: "invalid json", Err: err}
	}
	if strings.TrimSpace(msg.Repo) == "" {
		return Event{}, &DecodeError{Reason: "missing repo"}
	}
	if strings.TrimSpace(msg.Path) == "" {
		return Event{}, &DecodeError{Reason: "missing path"}
	}
	if msg.Data == nil {
		return Event{}, &DecodeError{Reason: "missing data"}
	}

	createdAt, err := time.Parse(time.RFC3339Nano, msg.Data.CreatedAt)
	if err != nil {
		return Event{}, &DecodeError{Reason: "invalid createdAt", Err: err}
	}

	post := Post{
		Text:      msg.Data.Text,
		CreatedAt: createdAt.UTC(),
	}

	quote, err := quotedURI(msg.Data.Embed)
	if err != nil {
		return Event{}, err
	}
	if quote != "" {
		post.Links = append(post.Links, Link{Kind: LinkQuote, URI: quote})
	}
	if r := msg.Data.Reply; r != nil && r.Parent != nil && r.Parent.URI != "" {
		post.Links = append(post.Links, Link{Kind: LinkReply, URI: r.Parent.URI})
	}

	return Event{Repo: msg.Repo, Path: msg.Path, Post: post}, nil
}

// quotedURI digs the quoted post out of a record or recordWithMedia embed.
// Other embed types (images, external links) carry no post reference.
func quotedURI(embed *wireEmbed) (string, error) {
	if embed == nil || len(embed.Record) == 0 {
		return "", nil
	}
	switch embed.Type {
	case embedRecord:
		var ref strongRef
		if err := json.Unmarshal(embed.Record, &ref); err != nil {
			return "", &DecodeError{Reason: "invalid record embed", Err: err}
		}
		return ref.URI, nil
	case embedRecordWithMedia:
		var wrapped struct {
			Record strongRef `json:"record"`
		}
		if err := json.Unmarshal(embed.Record, &wrapped); err != nil {
			return "", &DecodeError{Reason: "invalid recordWithMedia embed", Err: err}
		}
		return wrapped.Record.URI, nil
	default:
		return "", nil
	}
}
