package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/eloysh/Gurenko-ai/internal/models"
)

// PromptStore persists prompt suggestions shown in the mini app.
type PromptStore interface {
	List(ctx context.Context, limit int) ([]models.PromptSuggestion, error)
	Create(ctx context.Context, text string) (*models.PromptSuggestion, error)
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
}

var defaultSuggestions = []string{
	"Неоновый киберпанк-город под дождём, вид с крыши",
	"Акварельный портрет рыжего кота в шарфе",
	"Космонавт верхом на лошади, плёночная фотография",
	"Уютная кофейня в зимнем лесу, тёплый свет",
	"Логотип минималистичной студии в стиле баухаус",
}

type PromptService struct {
	prompts PromptStore
}

func NewPromptService(prompts PromptStore) *PromptService {
	return &PromptService{prompts: prompts}
}

// EnsureDefaults seeds the suggestion list once, when the table is empty.
func (s *PromptService) EnsureDefaults(ctx context.Context) error {
	count, err := s.prompts.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for _, text := range defaultSuggestions {
		if _, err := s.prompts.Create(ctx, text); err != nil {
			return fmt.Errorf("seed prompt suggestion: %w", err)
		}
	}
	return nil
}

func (s *PromptService) List(ctx context.Context, limit int) ([]models.PromptSuggestion, error) {
	return s.prompts.List(ctx, limit)
}

func (s *PromptService) Create(ctx context.Context, text string) (*models.PromptSuggestion, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	return s.prompts.Create(ctx, text)
}

func (s *PromptService) Delete(ctx context.Context, id int64) error {
	return s.prompts.Delete(ctx, id)
}
