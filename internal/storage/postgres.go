/**
 * PostgreSQL Client for the SmartPaper layout worker
 *
 * Handles job status persistence and reconstructed page layouts.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/sanbuphy/SmartPaper/internal/layout"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Status           string
	PagesDone        int
	BoxCount         int
	ProcessingTimeMs int64
	LayoutID         string
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// PageLayoutRecord is one reconstructed page as stored in smartpaper.page_layouts
type PageLayoutRecord struct {
	ID            string
	JobID         string
	PageNumber    int
	PageWidth     float64
	Boxes         []layout.Box
	Markdown      string
	Labels        []string
	QdrantPointID string
	CreatedAt     time.Time
}

const schemaDDL = `
	CREATE SCHEMA IF NOT EXISTS smartpaper;

	CREATE TABLE IF NOT EXISTS smartpaper.layout_jobs (
		id                 TEXT PRIMARY KEY,
		user_id            TEXT NOT NULL DEFAULT 'anonymous',
		filename           TEXT,
		status             TEXT NOT NULL,
		pages_done         INTEGER NOT NULL DEFAULT 0,
		box_count          INTEGER NOT NULL DEFAULT 0,
		processing_time_ms BIGINT,
		layout_id          UUID,
		error_code         TEXT,
		error_message      TEXT,
		metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS smartpaper.page_layouts (
		id              UUID PRIMARY KEY,
		job_id          TEXT NOT NULL,
		page_number     INTEGER NOT NULL,
		page_width      DOUBLE PRECISION NOT NULL,
		boxes           JSONB NOT NULL,
		markdown        TEXT NOT NULL DEFAULT '',
		labels          TEXT[] NOT NULL DEFAULT '{}',
		qdrant_point_id UUID,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS page_layouts_job_page_idx
		ON smartpaper.page_layouts (job_id, page_number);
`

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	// Connect to database
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the smartpaper schema and tables if missing
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row. The first update creates it.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metadataJSON = sanitizeJSONForPostgres(metadataJSON)

	filename, _ := update.Metadata["filename"].(string)
	userID, _ := update.Metadata["userId"].(string)

	query := `
		INSERT INTO smartpaper.layout_jobs (
			id, user_id, filename, status, pages_done, box_count,
			processing_time_ms, layout_id, error_code, error_message,
			metadata, created_at, updated_at
		) VALUES (
			$1, COALESCE(NULLIF($11, ''), 'anonymous'), NULLIF($10, ''), $2, $3, $4,
			NULLIF($5, 0),
			CASE WHEN $6 = '' THEN NULL ELSE $6::uuid END,
			NULLIF($7, ''), NULLIF($8, ''),
			COALESCE($9::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			pages_done = GREATEST(EXCLUDED.pages_done, smartpaper.layout_jobs.pages_done),
			box_count = smartpaper.layout_jobs.box_count + EXCLUDED.box_count,
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, smartpaper.layout_jobs.processing_time_ms),
			layout_id = COALESCE(EXCLUDED.layout_id, smartpaper.layout_jobs.layout_id),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = smartpaper.layout_jobs.metadata || EXCLUDED.metadata,
			filename = COALESCE(EXCLUDED.filename, smartpaper.layout_jobs.filename),
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,            // $1
		update.Status,           // $2
		update.PagesDone,        // $3
		update.BoxCount,         // $4
		update.ProcessingTimeMs, // $5
		update.LayoutID,         // $6
		update.ErrorCode,        // $7
		update.ErrorMessage,     // $8
		metadataJSON,            // $9
		filename,                // $10
		userID,                  // $11
	).Scan(&returnedID)

	if err == sql.ErrNoRows {
		return fmt.Errorf("job not found: %s", update.JobID)
	}

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// InsertPageLayout stores a reconstructed page and returns its creation time
func (p *PostgresClient) InsertPageLayout(ctx context.Context, rec *PageLayoutRecord) (time.Time, error) {
	boxesJSON, err := json.Marshal(rec.Boxes)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to marshal boxes: %w", err)
	}
	boxesJSON = sanitizeJSONForPostgres(boxesJSON)

	query := `
		INSERT INTO smartpaper.page_layouts (
			id, job_id, page_number, page_width, boxes, markdown, labels,
			qdrant_point_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			CASE WHEN $8 = '' THEN NULL ELSE $8::uuid END,
			NOW()
		)
		RETURNING created_at
	`

	var createdAt time.Time
	err = p.db.QueryRowContext(
		ctx,
		query,
		rec.ID,
		rec.JobID,
		rec.PageNumber,
		rec.PageWidth,
		boxesJSON,
		rec.Markdown,
		pq.Array(rec.Labels),
		rec.QdrantPointID,
	).Scan(&createdAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to insert page layout: %w", err)
	}

	return createdAt, nil
}

const pageLayoutColumns = `
	id, job_id, page_number, page_width, boxes, markdown, labels,
	COALESCE(qdrant_point_id::text, ''), created_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPageLayout(row rowScanner) (*PageLayoutRecord, error) {
	var (
		rec       PageLayoutRecord
		boxesJSON []byte
		labels    pq.StringArray
	)

	if err := row.Scan(
		&rec.ID, &rec.JobID, &rec.PageNumber, &rec.PageWidth, &boxesJSON,
		&rec.Markdown, &labels, &rec.QdrantPointID, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(boxesJSON, &rec.Boxes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal boxes: %w", err)
	}
	rec.Labels = []string(labels)

	return &rec, nil
}

// GetPageLayout retrieves a page layout by ID
func (p *PostgresClient) GetPageLayout(ctx context.Context, id string) (*PageLayoutRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("layout ID is required")
	}

	row := p.db.QueryRowContext(ctx,
		`SELECT `+pageLayoutColumns+` FROM smartpaper.page_layouts WHERE id = $1::uuid`, id)

	rec, err := scanPageLayout(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("page layout not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page layout: %w", err)
	}

	return rec, nil
}

// ListPageLayouts returns a job's pages ordered by page number
func (p *PostgresClient) ListPageLayouts(ctx context.Context, jobID string) ([]*PageLayoutRecord, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT `+pageLayoutColumns+` FROM smartpaper.page_layouts
		 WHERE job_id = $1 ORDER BY page_number, created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list page layouts: %w", err)
	}
	defer rows.Close()

	var records []*PageLayoutRecord
	for rows.Next() {
		rec, err := scanPageLayout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page layout: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate page layouts: %w", err)
	}

	return records, nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, user_id, filename, status, pages_done, box_count,
			processing_time_ms, layout_id::text, error_code, error_message,
			metadata, created_at, updated_at
		FROM smartpaper.layout_jobs
		WHERE id = $1
	`

	var (
		id, userID                        string
		filename, status                  sql.NullString
		pagesDone, boxCount               int
		processingTimeMs                  sql.NullInt64
		layoutID, errorCode, errorMessage sql.NullString
		metadataJSON                      []byte
		createdAt, updatedAt              time.Time
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&id, &userID, &filename, &status, &pagesDone, &boxCount,
		&processingTimeMs, &layoutID, &errorCode, &errorMessage,
		&metadataJSON, &createdAt, &updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var metadata map[string]interface{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	result := map[string]interface{}{
		"id":        id,
		"userId":    userID,
		"status":    status.String,
		"pagesDone": pagesDone,
		"boxCount":  boxCount,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
		"metadata":  metadata,
	}

	if filename.Valid {
		result["filename"] = filename.String
	}
	if processingTimeMs.Valid {
		result["processingTimeMs"] = processingTimeMs.Int64
	}
	if layoutID.Valid {
		result["layoutId"] = layoutID.String
	}
	if errorCode.Valid {
		result["errorCode"] = errorCode.String
	}
	if errorMessage.Valid {
		result["errorMessage"] = errorMessage.String
	}

	return result, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
