package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore is the durable graph store: threads, nodes, edges and the
// persistent identity cache.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetOrCreateThread returns the id of the thread rooted at rootURI, creating
// it on first use. The no-op update makes RETURNING yield the existing row on
// conflict, so concurrent or repeated calls all observe the same id.
func (s *PostgresStore) GetOrCreateThread(ctx context.Context, rootURI string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO threads (root_uri)
		VALUES ($1)
		ON CONFLICT (root_uri) DO UPDATE SET root_uri = EXCLUDED.root_uri
		RETURNING id
	`, rootURI).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("get or create thread: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) FindThreadID(ctx context.Context, rootURI string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM threads WHERE root_uri = $1`, rootURI).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("find thread: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ListThreads(ctx context.Context) ([]ThreadSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.root_uri, t.created_at,
			(SELECT count(*) FROM nodes n WHERE n.thread_id = t.id),
			(SELECT count(*) FROM edges e WHERE e.thread_id = t.id)
		FROM threads t
		ORDER BY t.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	items := make([]ThreadSummary, 0)
	for rows.Next() {
		var item ThreadSummary
		if err := rows.Scan(&item.ID, &item.RootURI, &item.CreatedAt, &item.NodeCount, &item.EdgeCount); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return items, nil
}

// NodeIDs returns uri -> id for every node already persisted in the thread.
func (s *PostgresStore) NodeIDs(ctx context.Context, threadID int64) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uri, id FROM nodes WHERE thread_id = $1`, threadID)
	if err != nil {
		return nil, fmt.Errorf("load known nodes: %w", err)
	}
	defer rows.Close()

	known := make(map[string]int64)
	for rows.Next() {
		var uri string
		var id int64
		if err := rows.Scan(&uri, &id); err != nil {
			return nil, fmt.Errorf("scan known node: %w", err)
		}
		known[uri] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate known nodes: %w", err)
	}
	return known, nil
}

// InsertNode inserts node and returns its new id. ErrConflict is returned when
// the (thread, uri) pair already exists.
func (s *PostgresStore) InsertNode(ctx context.Context, node Node) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO nodes (thread_id, uri, did, also_known_as, created_at, text)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (thread_id, uri) DO NOTHING
		RETURNING id
	`, node.ThreadID, node.URI, node.DID, nullString(node.AlsoKnownAs), node.CreatedAt.UTC(), node.Text).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return 0, ErrConflict
	}
	if err != nil {
		return 0, fmt.Errorf("insert node: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetNodeID(ctx context.Context, threadID int64, uri string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM nodes WHERE thread_id = $1 AND uri = $2`, threadID, uri).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get node: %w", err)
	}
	return id, nil
}

// InsertEdge records an edge. A repeat of an existing (thread, source, target,
// kind) edge is ignored and reported as inserted=false.
func (s *PostgresStore) InsertEdge(ctx context.Context, edge Edge) (bool, error) {
	if !edge.Kind.Valid() {
		return false, fmt.Errorf("insert edge: invalid kind %q", edge.Kind)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (thread_id, source_node_id, target_node_id, edge_type)
		VALUES ($1, $2, $3, $4::edge_type)
		ON CONFLICT (thread_id, source_node_id, target_node_id, edge_type) DO NOTHING
	`, edge.ThreadID, edge.SourceID, edge.TargetID, string(edge.Kind))
	if err != nil {
		return false, fmt.Errorf("insert edge: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert edge rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListNodes(ctx context.Context, threadID int64) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, uri, did, also_known_as, created_at, text
		FROM nodes
		WHERE thread_id = $1
		ORDER BY id
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	nodes := make([]Node, 0)
	for rows.Next() {
		var n Node
		var aka sql.NullString
		if err := rows.Scan(&n.ID, &n.ThreadID, &n.URI, &n.DID, &aka, &n.CreatedAt, &n.Text); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.AlsoKnownAs = stringPtr(aka)
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

func (s *PostgresStore) ListEdges(ctx context.Context, threadID int64) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, source_node_id, target_node_id, edge_type::text
		FROM edges
		WHERE thread_id = $1
		ORDER BY id
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	edges := make([]Edge, 0)
	for rows.Next() {
		var e Edge
		var kind string
		if err := rows.Scan(&e.ID, &e.ThreadID, &e.SourceID, &e.TargetID, &kind); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.Kind = EdgeKind(kind)
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return edges, nil
}

// LookupIdentity reads the persisted handle for did. found is false when the
// did has never been resolved; a found entry may still carry a nil handle.
func (s *PostgresStore) LookupIdentity(ctx context.Context, did string) (handle *string, found bool, err error) {
	var aka sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT also_known_as FROM identity_cache WHERE did = $1`, did).Scan(&aka)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup identity: %w", err)
	}
	return stringPtr(aka), true, nil
}

func (s *PostgresStore) SaveIdentity(ctx context.Context, did string, handle *string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identity_cache (did, also_known_as, resolved_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (did) DO UPDATE SET also_known_as = EXCLUDED.also_known_as, resolved_at = EXCLUDED.resolved_at
	`, did, nullString(handle), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
