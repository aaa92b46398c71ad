package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_PlainPost(t *testing.T) {
	evt, err := Decode([]byte(`{
		"repo": "did:plc:d1",
		"path": "app.bsky.feed.post/3k1",
		"data": {"$type": "app.bsky.feed.post", "text": "hello", "createdAt": "2024-05-01T12:00:00.123Z"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "at://did:plc:d1/app.bsky.feed.post/3k1", evt.URI())
	assert.Equal(t, "hello", evt.Post.Text)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 123000000, time.UTC), evt.Post.CreatedAt)
	assert.Empty(t, evt.Post.Links)
}

func TestDecode_Reply(t *testing.T) {
	evt, err := Decode([]byte(`{
		"repo": "did:plc:d1",
		"path": "app.bsky.feed.post/3k2",
		"data": {
			"text": "a reply",
			"createdAt": "2024-05-01T12:00:00+02:00",
			"reply": {
				"root": {"uri": "at://did:plc:root/app.bsky.feed.post/1", "cid": "bafy1"},
				"parent": {"uri": "at://did:plc:x/app.bsky.feed.post/9", "cid": "bafy2"}
			}
		}
	}`))
	require.NoError(t, err)

	assert.Equal(t, []Link{{Kind: LinkReply, URI: "at://did:plc:x/app.bsky.feed.post/9"}}, evt.Post.Links)
	assert.Equal(t, time.UTC, evt.Post.CreatedAt.Location())
	assert.Equal(t, 10, evt.Post.CreatedAt.Hour())
}

func TestDecode_Quote(t *testing.T) {
	evt, err := Decode([]byte(`{
		"repo": "did:plc:d2",
		"path": "app.bsky.feed.post/3k3",
		"data": {
			"text": "look at this",
			"createdAt": "2024-05-01T12:00:00Z",
			"embed": {"$type": "app.bsky.embed.record", "record": {"uri": "at://did:plc:d1/app.bsky.feed.post/3k1", "cid": "bafy"}}
		}
	}`))
	require.NoError(t, err)

	assert.Equal(t, []Link{{Kind: LinkQuote, URI: "at://did:plc:d1/app.bsky.feed.post/3k1"}}, evt.Post.Links)
}

func TestDecode_QuoteWithMediaAndReply(t *testing.T) {
	evt, err := Decode([]byte(`{
		"repo": "did:plc:d2",
		"path": "app.bsky.feed.post/3k4",
		"data": {
			"text": "both",
			"createdAt": "2024-05-01T12:00:00Z",
			"reply": {"parent": {"uri": "at://did:plc:p/app.bsky.feed.post/1"}},
			"embed": {
				"$type": "app.bsky.embed.recordWithMedia",
				"record": {"record": {"uri": "at://did:plc:q/app.bsky.feed.post/2"}},
				"media": {"$type": "app.bsky.embed.images", "images": []}
			}
		}
	}`))
	require.NoError(t, err)

	require.Len(t, evt.Post.Links, 2)
	assert.Equal(t, Link{Kind: LinkQuote, URI: "at://did:plc:q/app.bsky.feed.post/2"}, evt.Post.Links[0])
	assert.Equal(t, Link{Kind: LinkReply, URI: "at://did:plc:p/app.bsky.feed.post/1"}, evt.Post.Links[1])
}

func TestDecode_NonRecordEmbedIgnored(t *testing.T) {
	evt, err := Decode([]byte(`{
		"repo": "did:plc:d2",
		"path": "app.bsky.feed.post/3k5",
		"data": {
			"text": "pics",
			"createdAt": "2024-05-01T12:00:00Z",
			"embed": {"$type": "app.bsky.embed.images", "images": []}
		}
	}`))
	require.NoError(t, err)
	assert.Empty(t, evt.Post.Links)
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"repo":`,
		"missing repo":   `{"path": "app.bsky.feed.post/1", "data": {"text": "", "createdAt": "2024-05-01T12:00:00Z"}}`,
		"missing path":   `{"repo": "did:plc:d1", "data": {"text": "", "createdAt": "2024-05-01T12:00:00Z"}}`,
		"missing data":   `{"repo": "did:plc:d1", "path": "app.bsky.feed.post/1"}`,
		"bad createdAt":  `{"repo": "did:plc:d1", "path": "app.bsky.feed.post/1", "data": {"text": "", "createdAt": "yesterday"}}`,
		"bad embed body": `{"repo": "did:plc:d1", "path": "app.bsky.feed.post/1", "data": {"createdAt": "2024-05-01T12:00:00Z", "embed": {"$type": "app.bsky.embed.record", "record": "oops"}}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
		})
	}
}

func TestAuthorDID(t *testing.T) {
	did, ok := AuthorDID("at://did:plc:d1/app.bsky.feed.post/3k1")
	require.True(t, ok)
	assert.Equal(t, "did:plc:d1", did)

	_, ok = AuthorDID("https://bsky.app/profile/x")
	assert.False(t, ok)
	_, ok = AuthorDID("at:///app.bsky.feed.post/1")
	assert.False(t, ok)
}
