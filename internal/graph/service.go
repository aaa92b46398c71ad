// Package graph answers read queries over persisted threads.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"threadgraph/api/internal/store"
)

var ErrNotFound = errors.New("thread not found")

type Store interface {
	FindThreadID(ctx context.Context, rootURI string) (int64, error)
	ListThreads(ctx context.Context) ([]store.ThreadSummary, error)
	ListNodes(ctx context.Context, threadID int64) ([]store.Node, error)
	ListEdges(ctx context.Context, threadID int64) ([]store.Edge, error)
}

type Node struct {
	ID          int64     `json:"id"`
	URI         string    `json:"uri"`
	DID         string    `json:"did"`
	AlsoKnownAs *string   `json:"also_known_as"`
	CreatedAt   time.Time `json:"created_at"`
	Text        string    `json:"text"`
}

type Edge struct {
	ID       int64          `json:"id"`
	Source   int64          `json:"source"`
	Target   int64          `json:"target"`
	EdgeType store.EdgeKind `json:"edge_type"`
}

type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

type ThreadInfo struct {
	ID        int64     `json:"id"`
	RootURI   string    `json:"root_uri"`
	CreatedAt time.Time `json:"created_at"`
	Nodes     int       `json:"nodes"`
	Edges     int       `json:"edges"`
}

type Service struct {
	store Store
}

func NewService(st Store) *Service {
	return &Service{store: st}
}

// ThreadID maps a tracked root URI to its thread id.
func (s *Service) ThreadID(ctx context.Context, rootURI string) (int64, error) {
	id, err := s.store.FindThreadID(ctx, rootURI)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("find thread: %w", err)
	}
	return id, nil
}

// GetGraph loads every node and edge of the thread rooted at rootURI. Nodes
// and edges are read concurrently, so a graph that is still growing may show
// an edge whose target node was written after the node read; such edges are
// dropped.
func (s *Service) GetGraph(ctx context.Context, rootURI string) (Graph, error) {
	threadID, err := s.ThreadID(ctx, rootURI)
	if err != nil {
		return Graph{}, err
	}

	var (
		nodes []store.Node
		edges []store.Edge
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nodes, err = s.store.ListNodes(gctx, threadID)
		return err
	})
	g.Go(func() error {
		var err error
		edges, err = s.store.ListEdges(gctx, threadID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Graph{}, fmt.Errorf("load graph %s: %w", rootURI, err)
	}

	out := Graph{
		Nodes: make([]Node, 0, len(nodes)),
		Edges: make([]Edge, 0, len(edges)),
	}
	known := make(map[int64]struct{}, len(nodes))
	for _, n := range nodes {
		known[n.ID] = struct{}{}
		out.Nodes = append(out.Nodes, Node{
			ID:          n.ID,
			URI:         n.URI,
			DID:         n.DID,
			AlsoKnownAs: n.AlsoKnownAs,
			CreatedAt:   n.CreatedAt.UTC(),
			Text:        n.Text,
		})
	}
	for _, e := range edges {
		_, src := known[e.SourceID]
		_, dst := known[e.TargetID]
		if !src || !dst {
			continue
		}
		out.Edges = append(out.Edges, Edge{
			ID:       e.ID,
			Source:   e.SourceID,
			Target:   e.TargetID,
			EdgeType: e.Kind,
		})
	}
	return out, nil
}

func (s *Service) ListThreads(ctx context.Context) ([]ThreadInfo, error) {
	threads, err := s.store.ListThreads(ctx)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	out := make([]ThreadInfo, 0, len(threads))
	for _, t := range threads {
		out = append(out, ThreadInfo{
			ID:        t.ID,
			RootURI:   t.RootURI,
			CreatedAt: t.CreatedAt.UTC(),
			Nodes:     t.NodeCount,
			Edges:     t.EdgeCount,
		})
	}
	return out, nil
}
