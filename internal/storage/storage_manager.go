/**
 * Storage Manager for the SmartPaper layout worker
 *
 * Coordinates page layout storage across PostgreSQL (layouts, job rows) and
 * Qdrant (page embeddings). A page write is atomic across both systems.
 */

package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/sanbuphy/SmartPaper/internal/layout"
)

type layoutStore interface {
	UpdateJobStatus(ctx context.Context, update *JobUpdate) error
	InsertPageLayout(ctx context.Context, rec *PageLayoutRecord) (time.Time, error)
	GetPageLayout(ctx context.Context, id string) (*PageLayoutRecord, error)
	ListPageLayouts(ctx context.Context, jobID string) ([]*PageLayoutRecord, error)
	GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error)
	Ping(ctx context.Context) error
	Close() error
}

type vectorStore interface {
	UpsertVector(ctx context.Context, point *VectorPoint) error
	SearchVectors(ctx context.Context, queryVector []float32, limit int, jobID string) ([]*VectorPoint, error)
	DeleteVector(ctx context.Context, id string) error
	Close() error
}

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	postgres layoutStore
	qdrant   vectorStore
}

// PageLayoutInput is a reconstructed page ready to persist
type PageLayoutInput struct {
	JobID      string
	PageNumber int
	PageWidth  float64
	Boxes      []layout.Box
	Markdown   string
	Embedding  []float32
}

// PageLayoutOutput identifies a stored page
type PageLayoutOutput struct {
	ID            string
	JobID         string
	PageNumber    int
	QdrantPointID string
	Labels        []string
	CreatedAt     time.Time
}

// PageSearchResult is a page matched by semantic search
type PageSearchResult struct {
	LayoutID        string
	JobID           string
	PageNumber      int
	Markdown        string
	SimilarityScore float32
}

// NewStorageManager creates a new storage manager. An empty qdrantAddress
// disables vector storage.
func NewStorageManager(postgresURL string, qdrantAddress string, qdrantCollection string) (*StorageManager, error) {
	postgres, err := NewPostgresClient(postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	if err := postgres.EnsureSchema(context.Background()); err != nil {
		postgres.Close()
		return nil, err
	}

	sm := &StorageManager{postgres: postgres}
	if qdrantAddress == "" {
		return sm, nil
	}

	qdrant, err := NewQdrantClient(qdrantAddress, qdrantCollection)
	if err != nil {
		postgres.Close()
		return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
	}
	sm.qdrant = qdrant

	return sm, nil
}

// CollectLabels lists the distinct labels of the boxes and their children
// in first-seen order
func CollectLabels(boxes []layout.Box) []string {
	seen := make(map[string]bool)
	labels := []string{}
	var walk func([]layout.Box)
	walk = func(bs []layout.Box) {
		for _, b := range bs {
			if !seen[b.Label] {
				seen[b.Label] = true
				labels = append(labels, b.Label)
			}
			walk(b.Children)
		}
	}
	walk(boxes)
	return labels
}

// StorePageLayout writes the page embedding to Qdrant and then the layout to
// PostgreSQL. A failed PostgreSQL write deletes the Qdrant point again.
// Without an embedding, or without Qdrant, only PostgreSQL is written.
func (sm *StorageManager) StorePageLayout(ctx context.Context, input *PageLayoutInput) (*PageLayoutOutput, error) {
	if input == nil {
		return nil, fmt.Errorf("input is required")
	}

	if input.JobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	if input.PageWidth <= 0 {
		return nil, fmt.Errorf("page width must be positive, got %v", input.PageWidth)
	}

	storeVector := len(input.Embedding) > 0 && sm.qdrant != nil
	if storeVector && len(input.Embedding) != VectorDimensions {
		return nil, fmt.Errorf("invalid embedding dimensions: expected %d, got %d", VectorDimensions, len(input.Embedding))
	}

	layoutID := uuid.New().String()
	labels := CollectLabels(input.Boxes)

	// Step 1: vector first, so an invalid vector fails before any row exists
	qdrantPointID := ""
	if storeVector {
		qdrantPointID = uuid.New().String()
		err := sm.qdrant.UpsertVector(ctx, &VectorPoint{
			ID:     qdrantPointID,
			Vector: input.Embedding,
			Metadata: map[string]interface{}{
				"job_id":     input.JobID,
				"page":       input.PageNumber,
				"layout_id":  layoutID,
				"created_at": time.Now().Unix(),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to store vector in Qdrant: %w", err)
		}
	}

	// Step 2: layout row
	createdAt, err := sm.postgres.InsertPageLayout(ctx, &PageLayoutRecord{
		ID:            layoutID,
		JobID:         input.JobID,
		PageNumber:    input.PageNumber,
		PageWidth:     input.PageWidth,
		Boxes:         input.Boxes,
		Markdown:      input.Markdown,
		Labels:        labels,
		QdrantPointID: qdrantPointID,
	})
	if err != nil {
		if qdrantPointID != "" {
			if delErr := sm.qdrant.DeleteVector(ctx, qdrantPointID); delErr != nil {
				return nil, fmt.Errorf("failed to store layout in PostgreSQL: %w (rollback failed: %v)", err, delErr)
			}
		}
		return nil, fmt.Errorf("failed to store layout in PostgreSQL: %w", err)
	}

	return &PageLayoutOutput{
		ID:            layoutID,
		JobID:         input.JobID,
		PageNumber:    input.PageNumber,
		QdrantPointID: qdrantPointID,
		Labels:        labels,
		CreatedAt:     createdAt,
	}, nil
}

// SearchSimilarPages returns stored pages closest to the query vector.
// Points whose layout row is gone are skipped.
func (sm *StorageManager) SearchSimilarPages(ctx context.Context, queryVector []float32, limit int, jobID string) ([]*PageSearchResult, error) {
	if sm.qdrant == nil {
		return nil, fmt.Errorf("vector storage is not configured")
	}

	points, err := sm.qdrant.SearchVectors(ctx, queryVector, limit, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	results := make([]*PageSearchResult, 0, len(points))
	for _, point := range points {
		layoutID, ok := point.Metadata["layout_id"].(string)
		if !ok {
			continue
		}

		rec, err := sm.postgres.GetPageLayout(ctx, layoutID)
		if err != nil {
			continue
		}

		results = append(results, &PageSearchResult{
			LayoutID:        rec.ID,
			JobID:           rec.JobID,
			PageNumber:      rec.PageNumber,
			Markdown:        rec.Markdown,
			SimilarityScore: point.Score,
		})
	}

	return results, nil
}

// GetPageLayout retrieves a stored page
func (sm *StorageManager) GetPageLayout(ctx context.Context, id string) (*PageLayoutRecord, error) {
	return sm.postgres.GetPageLayout(ctx, id)
}

// ListPageLayouts returns a job's stored pages
func (sm *StorageManager) ListPageLayouts(ctx context.Context, jobID string) ([]*PageLayoutRecord, error) {
	return sm.postgres.ListPageLayouts(ctx, jobID)
}

// UpdateJobStatus updates job status in PostgreSQL
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return sm.postgres.UpdateJobStatus(ctx, update)
}

// GetJobByID retrieves job by ID
func (sm *StorageManager) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	return sm.postgres.GetJobByID(ctx, jobID)
}

// Ping checks PostgreSQL connectivity
func (sm *StorageManager) Ping(ctx context.Context) error {
	return sm.postgres.Ping(ctx)
}

// GetStats returns statistics from both systems
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{}

	if pg, ok := sm.postgres.(*PostgresClient); ok {
		pgStats := pg.GetStats()
		stats["postgres"] = map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		}
	}

	if qc, ok := sm.qdrant.(*QdrantClient); ok {
		qdrantStats, err := qc.GetCollectionInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
		}
		stats["qdrant"] = qdrantStats
	}

	return stats, nil
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var pgErr, qdErr error

	if sm.postgres != nil {
		pgErr = sm.postgres.Close()
	}

	if sm.qdrant != nil {
		qdErr = sm.qdrant.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}

	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}

	return nil
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres strips escapes that PostgreSQL JSONB rejects.
// \u0000 is removed and other control escapes become a space.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}
