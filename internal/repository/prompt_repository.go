package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eloysh/Gurenko-ai/internal/models"
)

type PromptRepository struct {
	db *sql.DB
}

func NewPromptRepository(db *sql.DB) *PromptRepository {
	return &PromptRepository{db: db}
}

func (r *PromptRepository) List(ctx context.Context, limit int) ([]models.PromptSuggestion, error) {
	const query = `
SELECT id, text, created_at FROM prompt_suggestions ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list prompt suggestions: %w", err)
	}
	defer rows.Close()

	var items []models.PromptSuggestion
	for rows.Next() {
		var p models.PromptSuggestion
		if err := rows.Scan(&p.ID, &p.Text, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prompt suggestion: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *PromptRepository) Create(ctx context.Context, text string) (*models.PromptSuggestion, error) {
	const query = `INSERT INTO prompt_suggestions (text) VALUES (?)`
	res, err := r.db.ExecContext(ctx, query, text)
	if err != nil {
		return nil, fmt.Errorf("insert prompt suggestion: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &models.PromptSuggestion{ID: id, Text: text}, nil
}

func (r *PromptRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM prompt_suggestions WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete prompt suggestion: %w", err)
	}
	return nil
}

func (r *PromptRepository) Count(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM prompt_suggestions`
	var count int
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count prompt suggestions: %w", err)
	}
	return count, nil
}
