package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Repository interface {
	Create(ctx context.Context, item *Item) error
	Get(ctx context.Context, id string) (*Item, error)
	UpdateExtraction(ctx context.Context, id, rawContent string, data *ExtractedData, confidence *float64) error
	FindCandidates(ctx context.Context, q CandidateQuery) ([]Item, error)
	MarkDuplicate(ctx context.Context, id, duplicateOfID string, detection DuplicateDetection) error
	RecordDedupCheck(ctx context.Context, id string, detection DuplicateDetection) error
	ListStalled(ctx context.Context, olderThan time.Time, limit int) ([]Stalled, error)
	Stats(ctx context.Context) (Stats, error)
	BreweryName(ctx context.Context, breweryID string) (string, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const itemColumns = `id, brewery_id, source_type, source_url, raw_content, extracted_data, publication_date, is_duplicate, duplicate_of_id, confidence_score, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		it         Item
		sourceURL  sql.NullString
		extracted  []byte
		dupOf      sql.NullString
		confidence sql.NullFloat64
	)
	err := row.Scan(&it.ID, &it.BreweryID, &it.SourceType, &sourceURL, &it.RawContent, &extracted,
		&it.PublicationDate, &it.IsDuplicate, &dupOf, &confidence, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	it.SourceURL = sourceURL.String
	it.DuplicateOfID = dupOf.String
	if confidence.Valid {
		c := confidence.Float64
		it.ConfidenceScore = &c
	}
	if len(extracted) > 0 {
		var data ExtractedData
		if err := json.Unmarshal(extracted, &data); err != nil {
			return nil, fmt.Errorf("decode extracted_data for %s: %w", it.ID, err)
		}
		it.ExtractedData = &data
	}
	return &it, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts item. A caller-supplied CreatedAt is used as the partition key, so two inserts
// of the same id and CreatedAt collide and the later one returns ErrAlreadyExists.
func (r *PostgresRepo) Create(ctx context.Context, item *Item) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	var createdAt sql.NullTime
	if !item.CreatedAt.IsZero() {
		createdAt = sql.NullTime{Time: item.CreatedAt, Valid: true}
	}
	query := `INSERT INTO content_items (id, brewery_id, source_type, source_url, raw_content, publication_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), NOW())
		ON CONFLICT (id, created_at) DO NOTHING
		RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, item.ID, item.BreweryID, item.SourceType, nullString(item.SourceURL), item.RawContent, item.PublicationDate, createdAt).
		Scan(&item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAlreadyExists
	}
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM content_items WHERE id = $1`
	it, err := scanItem(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return it, err
}

// UpdateExtraction overwrites the extraction result while keeping any recorded duplicate decision.
func (r *PostgresRepo) UpdateExtraction(ctx context.Context, id, rawContent string, data *ExtractedData, confidence *float64) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	query := `UPDATE content_items SET raw_content = $2, extracted_data = $3::jsonb || jsonb_strip_nulls(jsonb_build_object('duplicateDetection', extracted_data->'duplicateDetection')), confidence_score = $4, updated_at = NOW() WHERE id = $1`
	var conf sql.NullFloat64
	if confidence != nil {
		conf = sql.NullFloat64{Float64: *confidence, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, query, id, rawContent, string(payload), conf)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *PostgresRepo) FindCandidates(ctx context.Context, q CandidateQuery) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM content_items WHERE brewery_id = $1 AND is_duplicate = false AND id <> $2 AND publication_date BETWEEN $3 AND $4 ORDER BY publication_date DESC LIMIT $5`
	from := q.PublicationDate.Add(-q.Window)
	to := q.PublicationDate.Add(q.Window)
	rows, err := r.db.QueryContext(ctx, query, q.BreweryID, q.ExcludeID, from, to, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// MarkDuplicate flags id as a duplicate of duplicateOfID. Both rows are locked in id order so two
// items can never be marked against each other concurrently. Items already pointing at id are
// re-pointed to the new canonical item so no duplicate chain survives.
// Re-marking an item that is already a duplicate is a no-op.
func (r *PostgresRepo) MarkDuplicate(ctx context.Context, id, duplicateOfID string, detection DuplicateDetection) error {
	if id == duplicateOfID {
		return fmt.Errorf("%w: item %s cannot duplicate itself", ErrStaleCandidate, id)
	}
	payload, err := json.Marshal(detection)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id, is_duplicate FROM content_items WHERE id = ANY($1) ORDER BY id FOR UPDATE`, pq.Array([]string{id, duplicateOfID}))
	if err != nil {
		return err
	}
	flags := make(map[string]bool, 2)
	for rows.Next() {
		var rowID string
		var dup bool
		if err := rows.Scan(&rowID, &dup); err != nil {
			rows.Close()
			return err
		}
		flags[rowID] = dup
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	selfDup, ok := flags[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if selfDup {
		return tx.Commit()
	}
	targetDup, ok := flags[duplicateOfID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, duplicateOfID)
	}
	if targetDup {
		return fmt.Errorf("%w: %s", ErrStaleCandidate, duplicateOfID)
	}

	mark := `UPDATE content_items SET is_duplicate = true, duplicate_of_id = $2, extracted_data = COALESCE(extracted_data, '{}'::jsonb) || jsonb_build_object('duplicateDetection', $3::jsonb), updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, mark, id, duplicateOfID, string(payload)); err != nil {
		return err
	}
	repoint := `UPDATE content_items SET duplicate_of_id = $2, updated_at = NOW() WHERE duplicate_of_id = $1`
	if _, err := tx.ExecContext(ctx, repoint, id, duplicateOfID); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordDedupCheck stores the diagnostics of a unique decision. Items already flagged duplicate keep
// their original detection record.
func (r *PostgresRepo) RecordDedupCheck(ctx context.Context, id string, detection DuplicateDetection) error {
	payload, err := json.Marshal(detection)
	if err != nil {
		return err
	}
	query := `UPDATE content_items SET extracted_data = COALESCE(extracted_data, '{}'::jsonb) || jsonb_build_object('duplicateDetection', $2::jsonb), updated_at = NOW() WHERE id = $1 AND is_duplicate = false`
	_, err = r.db.ExecContext(ctx, query, id, string(payload))
	return err
}

func (r *PostgresRepo) ListStalled(ctx context.Context, olderThan time.Time, limit int) ([]Stalled, error) {
	query := `SELECT id, CASE WHEN extracted_data IS NULL OR extracted_data->'llmExtraction' IS NULL THEN 'extraction' ELSE 'dedup' END AS stage
		FROM content_items
		WHERE updated_at < $1 AND is_duplicate = false
		AND (extracted_data IS NULL OR extracted_data->'llmExtraction' IS NULL OR extracted_data->'duplicateDetection' IS NULL)
		ORDER BY updated_at ASC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stalled []Stalled
	for rows.Next() {
		var s Stalled
		if err := rows.Scan(&s.ID, &s.Stage); err != nil {
			return nil, err
		}
		stalled = append(stalled, s)
	}
	return stalled, rows.Err()
}

func (r *PostgresRepo) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	query := `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE is_duplicate),
		COUNT(*) FILTER (WHERE extracted_data IS NULL OR extracted_data->'llmExtraction' IS NULL),
		COUNT(*) FILTER (WHERE NOT is_duplicate AND extracted_data->'llmExtraction' IS NOT NULL AND extracted_data->'duplicateDetection' IS NULL),
		COUNT(*) FILTER (WHERE extracted_data->'llmExtraction'->>'success' = 'false')
		FROM content_items`
	err := r.db.QueryRowContext(ctx, query).Scan(&s.Total, &s.Duplicates, &s.AwaitingExtraction, &s.AwaitingDedup, &s.FailedExtractions)
	return s, err
}

// BreweryName returns an empty name for unknown breweries; the name is only a hint for extraction.
func (r *PostgresRepo) BreweryName(ctx context.Context, breweryID string) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx, `SELECT name FROM breweries WHERE id = $1`, breweryID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return name, err
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
