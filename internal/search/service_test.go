package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	mu        sync.Mutex
	healthy   bool
	results   []Result
	err       error
	indexed   []NodeRecord
	indexedCh chan NodeRecord
	onRecover func()
}

func (f *fakeIndex) OnRecover(fn func()) { f.onRecover = fn }

// recover flips the index healthy and fires the recovery hook the way the
// Meilisearch health loop does, but synchronously.
func (f *fakeIndex) recover() {
	f.healthy = true
	if f.onRecover != nil {
		f.onRecover()
	}
}

func (f *fakeIndex) Search(_ context.Context, _ Query) ([]Result, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.results, len(f.results), nil
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) IndexNode(rec NodeRecord) error {
	if f.indexedCh != nil {
		f.indexedCh <- rec
	}
	return nil
}

func (f *fakeIndex) IndexNodes(recs []NodeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, recs...)
	return nil
}

type fakeFallback struct {
	results []Result
	err     error
	records []NodeRecord
	calls   int
}

func (f *fakeFallback) Search(_ context.Context, _ Query) ([]Result, int, error) {
	f.calls++
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.results, len(f.results), nil
}

func (f *fakeFallback) Healthy() bool { return true }

func (f *fakeFallback) LoadAllRecords(context.Context) ([]NodeRecord, error) {
	return f.records, nil
}

func TestServiceUsesHealthyIndex(t *testing.T) {
	idx := &fakeIndex{healthy: true, results: []Result{{NodeID: 1, Snippet: "from meili"}}}
	fb := &fakeFallback{}
	svc := NewService(idx, fb, nil)
	svc.ReindexAllFromPG(context.Background())

	resp := svc.Search(context.Background(), Query{ThreadID: 1, Text: "hi"})

	require.Len(t, resp.Results, 1)
	assert.Equal(t, "from meili", resp.Results[0].Snippet)
	assert.Equal(t, "hi", resp.Query)
	assert.Zero(t, fb.calls)
}

func TestServiceFallsBackOnIndexError(t *testing.T) {
	idx := &fakeIndex{healthy: true, err: errors.New("timeout")}
	fb := &fakeFallback{results: []Result{{NodeID: 2, Snippet: "from pg"}}}
	svc := NewService(idx, fb, nil)
	svc.ReindexAllFromPG(context.Background())

	resp := svc.Search(context.Background(), Query{ThreadID: 1, Text: "hi"})

	require.Len(t, resp.Results, 1)
	assert.Equal(t, int64(2), resp.Results[0].NodeID)
	assert.Equal(t, 1, fb.calls)
}

func TestServiceUsesFallbackUntilFirstReindex(t *testing.T) {
	idx := &fakeIndex{healthy: true, results: []Result{{NodeID: 1}}}
	fb := &fakeFallback{results: []Result{{NodeID: 2}}}
	svc := NewService(idx, fb, nil)

	resp := svc.Search(context.Background(), Query{Text: "x"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, int64(2), resp.Results[0].NodeID)
	assert.Equal(t, 1, fb.calls)
}

func TestServiceReindexesNodesMissedDuringOutage(t *testing.T) {
	ctx := context.Background()
	missed := NodeRecord{ID: 7, ThreadID: 1, Text: "posted while down"}
	idx := &fakeIndex{healthy: true, results: []Result{{NodeID: 7}}, indexedCh: make(chan NodeRecord, 1)}
	fb := &fakeFallback{results: []Result{{NodeID: 7}}, records: []NodeRecord{{ID: 1}, missed}}
	svc := NewService(idx, fb, nil)
	svc.ReindexAllFromPG(ctx)
	idx.indexed = nil

	idx.healthy = false
	svc.IndexNode(missed)
	select {
	case <-idx.indexedCh:
		t.Fatal("node pushed to an unhealthy index")
	default:
	}

	// Healthy again but not yet caught up: stay on PG FTS.
	idx.healthy = true
	svc.Search(ctx, Query{ThreadID: 1, Text: "down"})
	assert.Equal(t, 1, fb.calls)

	idx.healthy = false
	idx.recover()
	assert.Contains(t, idx.indexed, missed)

	resp := svc.Search(ctx, Query{ThreadID: 1, Text: "down"})
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, 1, fb.calls)
}

func TestServiceIndexErrorDefersToFallbackUntilRecovery(t *testing.T) {
	ctx := context.Background()
	idx := &fakeIndex{healthy: true, results: []Result{{NodeID: 1}}}
	fb := &fakeFallback{records: []NodeRecord{{ID: 1}}}
	svc := NewService(idx, fb, nil)
	svc.ReindexAllFromPG(ctx)

	idx.err = errors.New("timeout")
	svc.Search(ctx, Query{Text: "x"})
	idx.err = nil
	svc.Search(ctx, Query{Text: "x"})
	assert.Equal(t, 2, fb.calls)

	idx.recover()
	svc.Search(ctx, Query{Text: "x"})
	assert.Equal(t, 2, fb.calls)
}

func TestServiceSkipsUnhealthyOrMissingIndex(t *testing.T) {
	fb := &fakeFallback{results: []Result{{NodeID: 3}}}

	resp := NewService(&fakeIndex{healthy: false}, fb, nil).Search(context.Background(), Query{Text: "x"})
	assert.Len(t, resp.Results, 1)

	resp = NewService(nil, fb, nil).Search(context.Background(), Query{Text: "x"})
	assert.Len(t, resp.Results, 1)
	assert.Equal(t, 2, fb.calls)
}

func TestServiceNeverReturnsNilResults(t *testing.T) {
	resp := NewService(nil, &fakeFallback{err: errors.New("db down")}, nil).Search(context.Background(), Query{Text: "x"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)

	resp = NewService(nil, &fakeFallback{}, nil).Search(context.Background(), Query{Text: "x"})
	assert.NotNil(t, resp.Results)
}

func TestServiceIndexNodeIsAsync(t *testing.T) {
	idx := &fakeIndex{healthy: true, indexedCh: make(chan NodeRecord, 1)}
	NewService(idx, &fakeFallback{}, nil).IndexNode(NodeRecord{ID: 9, Text: "post"})

	select {
	case rec := <-idx.indexedCh:
		assert.Equal(t, int64(9), rec.ID)
	case <-time.After(time.Second):
		t.Fatal("node was not indexed")
	}
}

func TestServiceReindexAllFromPG(t *testing.T) {
	idx := &fakeIndex{healthy: true}
	fb := &fakeFallback{records: []NodeRecord{{ID: 1}, {ID: 2}}}

	NewService(idx, fb, nil).ReindexAllFromPG(context.Background())
	assert.Len(t, idx.indexed, 2)
}

func TestHitToResultPrefersHighlight(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`42`),
		"uri":        json.RawMessage(`"at://did:plc:a/app.bsky.feed.post/1"`),
		"did":        json.RawMessage(`"did:plc:a"`),
		"handle":     json.RawMessage(`"at://alice.test"`),
		"text":       json.RawMessage(`"hello world"`),
		"_formatted": json.RawMessage(`{"text": "<mark>hello</mark> world", "id": "42"}`),
	}

	r := hitToResult(hit)
	assert.Equal(t, int64(42), r.NodeID)
	assert.Equal(t, "did:plc:a", r.DID)
	assert.Equal(t, "at://alice.test", r.Handle)
	assert.Equal(t, "<mark>hello</mark> world", r.Snippet)
}

func TestHitToResultWithoutHighlight(t *testing.T) {
	r := hitToResult(meili.Hit{"text": json.RawMessage(`"plain"`)})
	assert.Equal(t, "plain", r.Snippet)
	assert.Zero(t, r.NodeID)
}

func TestNormalizeDefaults(t *testing.T) {
	q := normalize(Query{Limit: 0, Offset: -4})
	assert.Equal(t, defaultLimit, q.Limit)
	assert.Zero(t, q.Offset)
	assert.Equal(t, "threadId = 7", threadFilter(7))
}
