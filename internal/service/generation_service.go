package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/eloysh/Gurenko-ai/internal/kie"
	"github.com/eloysh/Gurenko-ai/internal/models"
)

var (
	ErrPromptRequired   = errors.New("prompt is required")
	ErrNoCredits        = errors.New("insufficient credits, payment required")
	ErrGenerationFailed = errors.New("generation failed")
)

const (
	defaultAspectRatio = "1:1"
	historyLimit       = 50
)

// TaskProvider submits generation jobs and reads their status.
type TaskProvider interface {
	CreateTask(ctx context.Context, prompt, aspectRatio string) (string, error)
	TaskStatus(ctx context.Context, taskID string) (kie.TaskStatus, error)
}

// CreditLedger is the per-user balance surface of the user store.
type CreditLedger interface {
	SpendCredit(ctx context.Context, userID int64) (bool, error)
	RefundCredit(ctx context.Context, userID int64) error
	SetLastImageURL(ctx context.Context, userID int64, url string) error
}

// GenerationStore persists generation history records.
type GenerationStore interface {
	Start(ctx context.Context, gen *models.Generation) error
	Finalize(ctx context.Context, taskID string, status models.GenerationStatus, imageURL string) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.Generation, error)
}

// ImageMirror re-hosts a result image and returns the durable URL.
type ImageMirror interface {
	MirrorURL(ctx context.Context, srcURL string) (string, error)
}

type GenerationService struct {
	log         *slog.Logger
	users       CreditLedger
	generations GenerationStore
	provider    TaskProvider
	mirror      ImageMirror // optional, nil skips re-hosting

	pollInterval time.Duration
	pollDeadline time.Duration
}

type GenerateRequest struct {
	Prompt      string
	AspectRatio string
}

type GenerateResult struct {
	Status   models.GenerationStatus
	ImageURL string
	TaskID   string
}

func NewGenerationService(log *slog.Logger, users CreditLedger, generations GenerationStore, provider TaskProvider, mirror ImageMirror) *GenerationService {
	return &GenerationService{
		log:          log,
		users:        users,
		generations:  generations,
		provider:     provider,
		mirror:       mirror,
		pollInterval: 2500 * time.Millisecond,
		pollDeadline: 60 * time.Second,
	}
}

// Generate runs one generation to a terminal state or to the poll deadline:
// debit one credit, submit the task, record it, then poll at a fixed interval.
//
// A task that reaches FAILED (or any submit/poll error) refunds the debit. A
// task still running at the deadline does not: the credit stays spent, the
// record stays IN_PROGRESS and the caller gets the task id back. There is no
// background continuation.
func (s *GenerationService) Generate(ctx context.Context, user *models.User, req GenerateRequest) (*GenerateResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrPromptRequired
	}
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = defaultAspectRatio
	}

	// Once the credit is spent the provider keeps working whether or not the
	// client is still listening, so a disconnect must not cancel the loop.
	ctx = context.WithoutCancel(ctx)

	ok, err := s.users.SpendCredit(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("spend credit: %w", err)
	}
	if !ok {
		return nil, ErrNoCredits
	}

	taskID, err := s.provider.CreateTask(ctx, prompt, aspect)
	if err != nil {
		s.refund(ctx, user.ID)
		return nil, fmt.Errorf("create task: %w", err)
	}

	gen := &models.Generation{
		UserID:      user.ID,
		Prompt:      prompt,
		AspectRatio: aspect,
		TaskID:      taskID,
	}
	if err := s.generations.Start(ctx, gen); err != nil {
		s.log.Error("record generation start", "err", err, "task_id", taskID)
	}

	deadline := time.Now().Add(s.pollDeadline)
	for {
		status, err := s.provider.TaskStatus(ctx, taskID)
		if err != nil {
			s.refund(ctx, user.ID)
			return nil, fmt.Errorf("poll task: %w", err)
		}

		switch status.Status {
		case models.StatusCompleted:
			if len(status.ResultURLs) == 0 {
				s.refund(ctx, user.ID)
				return nil, fmt.Errorf("poll task: completed without result urls")
			}
			url := status.ResultURLs[0]
			if s.mirror != nil {
				if hosted, err := s.mirror.MirrorURL(ctx, url); err != nil {
					s.log.Error("mirror result image", "err", err, "task_id", taskID)
				} else {
					url = hosted
				}
			}
			if err := s.generations.Finalize(ctx, taskID, models.StatusCompleted, url); err != nil {
				s.log.Error("finalize generation", "err", err, "task_id", taskID)
			}
			if err := s.users.SetLastImageURL(ctx, user.ID, url); err != nil {
				s.log.Error("set last image url", "err", err, "user", user.ID)
			}
			return &GenerateResult{Status: models.StatusCompleted, ImageURL: url, TaskID: taskID}, nil

		case models.StatusFailed:
			if err := s.generations.Finalize(ctx, taskID, models.StatusFailed, ""); err != nil {
				s.log.Error("finalize generation", "err", err, "task_id", taskID)
			}
			s.refund(ctx, user.ID)
			if status.FailMsg != "" {
				s.log.Warn("generation failed", "task_id", taskID, "reason", status.FailMsg)
			}
			return nil, ErrGenerationFailed
		}

		if time.Now().After(deadline) {
			// Deliberate: the debit is kept and the record stays IN_PROGRESS.
			return &GenerateResult{Status: models.StatusInProgress, TaskID: taskID}, nil
		}
		time.Sleep(s.pollInterval)
	}
}

func (s *GenerationService) History(ctx context.Context, userID int64) ([]models.Generation, error) {
	items, err := s.generations.ListByUser(ctx, userID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return items, nil
}

func (s *GenerationService) refund(ctx context.Context, userID int64) {
	if err := s.users.RefundCredit(ctx, userID); err != nil {
		s.log.Error("refund credit", "err", err, "user", userID)
	}
}
