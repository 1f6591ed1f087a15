package models

import "time"

type GenerationStatus string

const (
	StatusInProgress GenerationStatus = "IN_PROGRESS"
	StatusCompleted  GenerationStatus = "COMPLETED"
	StatusFailed     GenerationStatus = "FAILED"
)

// Terminal reports whether no further status transitions are permitted.
func (s GenerationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type User struct {
	ID           int64     `json:"-"`
	TelegramID   int64     `json:"telegram_id"`
	Username     string    `json:"username,omitempty"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name,omitempty"`
	Credits      int       `json:"credits"`
	Referral     string    `json:"-"`
	LastImageURL string    `json:"last_image_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"-"`
}

type Generation struct {
	ID          int64            `json:"id"`
	UserID      int64            `json:"-"`
	Prompt      string           `json:"prompt"`
	AspectRatio string           `json:"aspect_ratio"`
	TaskID      string           `json:"task_id"`
	Status      GenerationStatus `json:"status"`
	ImageURL    string           `json:"image_url,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

type PromptSuggestion struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type Payment struct {
	ID             int64
	UserID         int64
	PackID         string
	Provider       string
	ProviderCharge string
	Currency       string
	Amount         int
	Status         string
	RawPayload     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
