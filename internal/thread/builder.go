// Package thread grows the reply/quote graph of one tracked root post from
// the live event stream.
package thread

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"threadgraph/api/internal/broadcast"
	"threadgraph/api/internal/event"
	"threadgraph/api/internal/logging"
	"threadgraph/api/internal/metrics"
	"threadgraph/api/internal/search"
	"threadgraph/api/internal/store"
)

// Store is the slice of the graph store a builder writes through.
type Store interface {
	GetOrCreateThread(ctx context.Context, rootURI string) (int64, error)
	NodeIDs(ctx context.Context, threadID int64) (map[string]int64, error)
	InsertNode(ctx context.Context, node store.Node) (int64, error)
	GetNodeID(ctx context.Context, threadID int64, uri string) (int64, error)
	InsertEdge(ctx context.Context, edge store.Edge) (bool, error)
}

type Resolver interface {
	Resolve(ctx context.Context, did string) (*string, error)
}

// Indexer receives every newly created node. Implementations must not block.
type Indexer interface {
	IndexNode(rec search.NodeRecord)
}

// Subscription is the builder's view of its broadcast queue.
type Subscription interface {
	Recv(ctx context.Context) (event.Event, error)
	TakeLag() uint64
}

type Option func(*Builder)

func WithLogger(log *zap.Logger) Option {
	return func(b *Builder) {
		b.log = logging.OrNop(log)
	}
}

func WithIndexer(idx Indexer) Option {
	return func(b *Builder) {
		b.indexer = idx
	}
}

// Builder owns the in-memory state for one root. It is not safe for
// concurrent use; each builder runs on its own goroutine.
type Builder struct {
	root     string
	threadID int64
	// members is every URI in the thread, including the root before its node exists.
	members map[string]struct{}
	// nodeIDs maps persisted node URIs to their ids.
	nodeIDs map[string]int64

	store    Store
	resolver Resolver
	indexer  Indexer
	log      *zap.Logger
}

func New(root string, st Store, resolver Resolver, opts ...Option) *Builder {
	b := &Builder{
		root:     root,
		members:  map[string]struct{}{},
		nodeIDs:  map[string]int64{},
		store:    st,
		resolver: resolver,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With(zap.String("root", root))
	return b
}

// Init creates or loads the thread and seeds membership from persisted nodes.
func (b *Builder) Init(ctx context.Context) error {
	threadID, err := b.store.GetOrCreateThread(ctx, b.root)
	if err != nil {
		return fmt.Errorf("init thread %s: %w", b.root, err)
	}
	known, err := b.store.NodeIDs(ctx, threadID)
	if err != nil {
		return fmt.Errorf("load nodes for %s: %w", b.root, err)
	}

	b.threadID = threadID
	b.nodeIDs = known
	b.members = make(map[string]struct{}, len(known)+1)
	for uri := range known {
		b.members[uri] = struct{}{}
	}
	b.members[b.root] = struct{}{}

	b.log = b.log.With(zap.Int64("thread_id", threadID))
	b.log.Info("thread loaded", zap.Int("nodes", len(known)))
	return nil
}

func (b *Builder) ThreadID() int64 { return b.threadID }

func (b *Builder) isMember(uri string) bool {
	_, ok := b.members[uri]
	return ok
}

// Process applies one event. An event whose author cannot be resolved is
// abandoned with an error; state already written for it stays written.
func (b *Builder) Process(ctx context.Context, evt event.Event) error {
	uri := evt.URI()

	if b.isMember(uri) {
		if _, ok := b.nodeIDs[uri]; !ok {
			b.log.Info("member without node, adding", zap.String("uri", uri))
			_, err := b.addNode(ctx, uri, evt.Post)
			return err
		}
	}

	for _, link := range evt.Post.Links {
		if !b.isMember(link.URI) {
			continue
		}
		source, ok := b.nodeIDs[link.URI]
		if !ok {
			b.log.Warn("referenced member has no node yet, skipping",
				zap.String("uri", uri),
				zap.String("target", link.URI),
				zap.String("kind", string(link.Kind)))
			continue
		}
		b.log.Debug("found member reference", zap.String("uri", uri), zap.String("target", link.URI))

		target, err := b.addNode(ctx, uri, evt.Post)
		if err != nil {
			return err
		}
		if err := b.addEdge(ctx, source, target, edgeKind(link.Kind)); err != nil {
			return err
		}
	}
	return nil
}

func edgeKind(k event.LinkKind) store.EdgeKind {
	if k == event.LinkQuote {
		return store.EdgeQuote
	}
	return store.EdgeReply
}

func (b *Builder) addNode(ctx context.Context, uri string, post event.Post) (int64, error) {
	if id, ok := b.nodeIDs[uri]; ok {
		return id, nil
	}

	did, ok := event.AuthorDID(uri)
	if !ok {
		return 0, fmt.Errorf("add node %s: missing did", uri)
	}

	handle, err := b.resolver.Resolve(ctx, did)
	if err != nil {
		return 0, fmt.Errorf("add node %s: %w", uri, err)
	}

	node := store.Node{
		ThreadID:    b.threadID,
		URI:         uri,
		DID:         did,
		AlsoKnownAs: handle,
		CreatedAt:   post.CreatedAt,
		Text:        post.Text,
	}
	id, err := b.store.InsertNode(ctx, node)
	created := err == nil
	if errors.Is(err, store.ErrConflict) {
		b.log.Warn("node was not inserted, looking up", zap.String("uri", uri))
		id, err = b.store.GetNodeID(ctx, b.threadID, uri)
	}
	if err != nil {
		return 0, fmt.Errorf("add node %s: %w", uri, err)
	}

	b.nodeIDs[uri] = id
	b.members[uri] = struct{}{}

	if created {
		metrics.NodesCreated.WithLabelValues(b.root).Inc()
		b.log.Debug("inserted node", zap.String("uri", uri), zap.Int64("node_id", id))
		if b.indexer != nil {
			node.ID = id
			b.indexer.IndexNode(nodeRecord(node))
		}
	}
	return id, nil
}

func (b *Builder) addEdge(ctx context.Context, source, target int64, kind store.EdgeKind) error {
	inserted, err := b.store.InsertEdge(ctx, store.Edge{
		ThreadID: b.threadID,
		SourceID: source,
		TargetID: target,
		Kind:     kind,
	})
	if err != nil {
		return fmt.Errorf("add %s edge %d -> %d: %w", kind, source, target, err)
	}
	if inserted {
		metrics.EdgesCreated.WithLabelValues(b.root, string(kind)).Inc()
	}
	return nil
}

func nodeRecord(n store.Node) search.NodeRecord {
	rec := search.NodeRecord{
		ID:        n.ID,
		ThreadID:  n.ThreadID,
		URI:       n.URI,
		DID:       n.DID,
		Text:      n.Text,
		CreatedAt: n.CreatedAt.Unix(),
	}
	if n.AlsoKnownAs != nil {
		rec.Handle = *n.AlsoKnownAs
	}
	return rec
}

// Run processes events until the subscription closes or ctx is cancelled.
// Per-event failures are logged and skipped.
func (b *Builder) Run(ctx context.Context, sub Subscription) error {
	for {
		evt, err := sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, broadcast.ErrClosed) {
				return nil
			}
			return err
		}
		if lag := sub.TakeLag(); lag > 0 {
			b.log.Warn("builder lagged, events dropped", zap.Uint64("dropped", lag))
		}

		if err := b.Process(ctx, evt); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.BuilderErrors.WithLabelValues(b.root).Inc()
			b.log.Error("process event", zap.String("uri", evt.URI()), zap.Error(err))
		}
	}
}
