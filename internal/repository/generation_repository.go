package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eloysh/Gurenko-ai/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) Start(ctx context.Context, gen *models.Generation) error {
	const query = `
INSERT INTO generations (user_id, prompt, aspect_ratio, task_id, status)
VALUES (?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, gen.UserID, gen.Prompt, gen.AspectRatio, gen.TaskID, models.StatusInProgress)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	gen.ID = id
	gen.Status = models.StatusInProgress
	return nil
}

// Finalize moves the record identified by the external task id into a terminal
// status. The status predicate makes the transition happen at most once; a row
// already finalized is left untouched.
func (r *GenerationRepository) Finalize(ctx context.Context, taskID string, status models.GenerationStatus, imageURL string) error {
	if !status.Terminal() {
		return fmt.Errorf("finalize with non-terminal status %s", status)
	}
	const query = `
UPDATE generations SET status = ?, image_url = NULLIF(?, '')
WHERE task_id = ? AND status = ?`
	if _, err := r.db.ExecContext(ctx, query, status, imageURL, taskID, models.StatusInProgress); err != nil {
		return fmt.Errorf("finalize generation: %w", err)
	}
	return nil
}

func (r *GenerationRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Generation, error) {
	const query = `
SELECT id, user_id, prompt, aspect_ratio, task_id, status, COALESCE(image_url, ''), created_at
FROM generations WHERE user_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var items []models.Generation
	for rows.Next() {
		var g models.Generation
		if err := rows.Scan(&g.ID, &g.UserID, &g.Prompt, &g.AspectRatio, &g.TaskID, &g.Status, &g.ImageURL, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

