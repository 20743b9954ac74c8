package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
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

const profileTSQuery = "(plainto_tsquery('simple', $2) || plainto_tsquery('english', $2))"

// Search ranks the owner's profiles against the generated fts column.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit, offset := normalizePage(q)
	ctx := context.Background()

	var total int
	countSQL := `SELECT count(*) FROM profiles WHERE owner_id = $1 AND fts @@ ` + profileTSQuery
	if err := p.db.QueryRowContext(ctx, countSQL, q.OwnerID, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT id, name,
			ts_headline('english', coalesce(backstory, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			primary_language, persona_tags
		FROM profiles
		WHERE owner_id = $1 AND fts @@ %s
		ORDER BY ts_rank(fts, %s) DESC, updated_at DESC
		LIMIT %d OFFSET %d`,
		profileTSQuery, profileTSQuery, profileTSQuery, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, q.OwnerID, q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var tags []byte
		if err := rows.Scan(&r.ID, &r.Name, &r.Snippet, &r.PrimaryLanguage, &tags); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		if err := json.Unmarshal(tags, &r.PersonaTags); err != nil {
			return nil, 0, fmt.Errorf("pgfts decode tags: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every profile for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProfileRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_id, name, primary_language, persona_tags, mbti_type, backstory,
			EXTRACT(EPOCH FROM updated_at)::bigint
		FROM profiles
	`)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	defer rows.Close()

	records := make([]ProfileRecord, 0)
	for rows.Next() {
		var r ProfileRecord
		var tags []byte
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Name, &r.PrimaryLanguage, &tags, &r.MBTIType, &r.Backstory, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		if err := json.Unmarshal(tags, &r.PersonaTags); err != nil {
			return nil, fmt.Errorf("decode tags for %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return records, nil
}
