package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres the service is down anyway.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery against task_documents ranked by ts_rank.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where, args := pgftsWhere(q)

	countSQL := "SELECT count(*) FROM task_documents td WHERE " + where
	dataSQL := fmt.Sprintf(`
		SELECT td.task_id, td.document_id, td.name, td.class_id,
			ts_headline('simple', coalesce(td.reject_note, '') || ' ' || coalesce(td.class_name, ''),
				plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM task_documents td
		WHERE %s
		ORDER BY ts_rank(td.fts, plainto_tsquery('simple', $1)) DESC, td.task_id, td.document_id
		LIMIT %d OFFSET %d`, where, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		r := Result{Type: ResultDocument}
		if err := rows.Scan(&r.TaskID, &r.DocumentID, &r.Title, &r.ClassID, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.ID = RecordID(r.TaskID, r.DocumentID)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

func pgftsWhere(q Query) (string, []any) {
	clauses := []string{"td.fts @@ plainto_tsquery('simple', $1)"}
	args := []any{q.Text}
	if q.TaskID != "" {
		args = append(args, q.TaskID)
		clauses = append(clauses, fmt.Sprintf("td.task_id = $%d", len(args)))
	}
	if q.ClassID != "" {
		args = append(args, q.ClassID)
		clauses = append(clauses, fmt.Sprintf("td.class_id = $%d", len(args)))
	}
	if q.OnlyRejected {
		clauses = append(clauses, "td.rejected")
	}
	return strings.Join(clauses, " AND "), args
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT task_id, document_id, name, class_id, class_name, status, rejected, deleted, page_count, reject_note
		FROM task_documents
	`)
	if err != nil {
		return nil, fmt.Errorf("load task documents: %w", err)
	}
	defer rows.Close()

	records := make([]DocumentRecord, 0)
	for rows.Next() {
		var d DocumentRecord
		if err := rows.Scan(&d.TaskID, &d.DocumentID, &d.Name, &d.ClassID, &d.ClassName, &d.Status,
			&d.Rejected, &d.Deleted, &d.PageCount, &d.RejectNote); err != nil {
			return nil, fmt.Errorf("scan task document: %w", err)
		}
		d.ID = RecordID(d.TaskID, d.DocumentID)
		records = append(records, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task documents: %w", err)
	}
	return records, nil
}
