package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Fallback using PostgreSQL full-text search over the
// generated nodes.fts column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks the thread's posts with ts_rank and uses ts_headline for
// snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	q = normalize(q)

	const where = `n.thread_id = $1 AND n.fts @@ plainto_tsquery('simple', $2)`

	var total int
	if err := p.db.QueryRowContext(ctx,
		`SELECT count(*) FROM nodes n WHERE `+where,
		q.ThreadID, q.Text,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT n.id, n.uri, n.did, coalesce(n.also_known_as, ''),
			ts_headline('simple', n.text, plainto_tsquery('simple', $2),
				'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>')
		FROM nodes n
		WHERE `+where+`
		ORDER BY ts_rank(n.fts, plainto_tsquery('simple', $2)) DESC, n.created_at
		LIMIT $3 OFFSET $4`,
		q.ThreadID, q.Text, q.Limit, q.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.NodeID, &r.URI, &r.DID, &r.Handle, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every node for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]NodeRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, thread_id, uri, did, coalesce(also_known_as, ''), text, created_at
		FROM nodes
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	defer rows.Close()

	records := make([]NodeRecord, 0)
	for rows.Next() {
		var rec NodeRecord
		var createdAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.ThreadID, &rec.URI, &rec.DID, &rec.Handle, &rec.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		if createdAt.Valid {
			rec.CreatedAt = createdAt.Time.Unix()
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return records, nil
}
