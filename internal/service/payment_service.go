package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/eloysh/Gurenko-ai/internal/config"
	"github.com/eloysh/Gurenko-ai/internal/models"
)

// PaymentStore persists purchase audit rows.
type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByProviderCharge(ctx context.Context, provider, chargeID string) (*models.Payment, error)
	UpdateStatus(ctx context.Context, id int64, status, rawPayload string) error
}

// CreditFunder credits purchased packs to the balance.
type CreditFunder interface {
	AddCredits(ctx context.Context, userID int64, delta int) error
}

// TelegramAPI is the slice of the Bot API used for invoices.
type TelegramAPI interface {
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type PaymentService struct {
	cfg      config.Config
	log      *slog.Logger
	payments PaymentStore
	users    CreditFunder
	tg       TelegramAPI
	client   *http.Client
}

func NewPaymentService(cfg config.Config, log *slog.Logger, payments PaymentStore, users CreditFunder, tg TelegramAPI) *PaymentService {
	return &PaymentService{
		cfg:      cfg,
		log:      log,
		payments: payments,
		users:    users,
		tg:       tg,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateInvoiceLink returns a payment URL for the pack, depending on the
// configured provider.
func (s *PaymentService) CreateInvoiceLink(ctx context.Context, user *models.User, pack models.CreditPack) (string, error) {
	switch strings.ToLower(s.cfg.PaymentProvider) {
	case "telegram", "":
		return s.createTelegramInvoiceLink(pack)
	case "yookassa":
		return s.createYooKassaLink(ctx, user, pack)
	default:
		return "", fmt.Errorf("unsupported payment provider: %s", s.cfg.PaymentProvider)
	}
}

func (s *PaymentService) createTelegramInvoiceLink(pack models.CreditPack) (string, error) {
	payload, _ := json.Marshal(map[string]any{
		"pack_id": pack.ID,
	})
	prices, _ := json.Marshal([]map[string]any{
		{"label": fmt.Sprintf("%d кредитов", pack.Credits), "amount": pack.PriceMinorUnits},
	})

	description := pack.Description
	if description == "" {
		description = "Пополнение баланса"
	}

	params := tgbotapi.Params{}
	params.AddNonEmpty("title", pack.Title)
	params.AddNonEmpty("description", description)
	params.AddNonEmpty("payload", string(payload))
	params.AddNonEmpty("provider_token", s.cfg.TelegramPaymentProviderToken)
	params.AddNonEmpty("currency", pack.Currency)
	params.AddNonEmpty("prices", string(prices))

	resp, err := s.tg.MakeRequest("createInvoiceLink", params)
	if err != nil {
		return "", fmt.Errorf("create invoice link: %w", err)
	}

	var link string
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return "", fmt.Errorf("decode invoice link: %w", err)
	}
	if link == "" {
		return "", fmt.Errorf("empty invoice link in response")
	}
	return link, nil
}

type yooPaymentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		Type string `json:"type"`
		URL  string `json:"confirmation_url"`
	} `json:"confirmation"`
	Amount struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

func (s *PaymentService) createYooKassaLink(ctx context.Context, user *models.User, pack models.CreditPack) (string, error) {
	if s.cfg.YooKassaShopID == "" || s.cfg.YooKassaSecretKey == "" {
		return "", fmt.Errorf("yookassa credentials are not configured")
	}

	value := fmt.Sprintf("%.2f", float64(pack.PriceMinorUnits)/100)
	returnURL := s.cfg.YooKassaReturnURL
	if returnURL == "" {
		returnURL = "https://t.me"
	}

	payload := map[string]any{
		"amount": map[string]string{
			"value":    value,
			"currency": pack.Currency,
		},
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": returnURL,
		},
		"description": fmt.Sprintf("%s (%d credits)", pack.Title, pack.Credits),
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.YooKassaAPIURL, strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("build yookassa request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())
	req.SetBasicAuth(s.cfg.YooKassaShopID, s.cfg.YooKassaSecretKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()

	var parsed yooPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode yookassa response: %w", err)
	}
	if parsed.ID == "" || parsed.Confirmation.URL == "" {
		return "", fmt.Errorf("invalid yookassa response (missing id or confirmation url)")
	}
	if parsed.Status == "" {
		parsed.Status = "pending"
	}

	record := &models.Payment{
		UserID:         user.ID,
		PackID:         pack.ID,
		Provider:       "yookassa",
		ProviderCharge: parsed.ID,
		Currency:       pack.Currency,
		Amount:         pack.PriceMinorUnits,
		Status:         parsed.Status,
		RawPayload:     string(jsonMustMarshal(parsed)),
	}
	if err := s.payments.Create(ctx, record); err != nil {
		return "", fmt.Errorf("record payment: %w", err)
	}

	return parsed.Confirmation.URL, nil
}

func (s *PaymentService) HandlePreCheckout(query *tgbotapi.PreCheckoutQuery) error {
	response := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: query.ID,
		OK:                 true,
	}
	if _, err := s.tg.Request(response); err != nil {
		return fmt.Errorf("answer pre-checkout: %w", err)
	}
	return nil
}

// HandleSuccessfulPayment credits the purchased pack and records the charge.
func (s *PaymentService) HandleSuccessfulPayment(ctx context.Context, user *models.User, payment *tgbotapi.SuccessfulPayment) error {
	var payload struct {
		PackID string `json:"pack_id"`
	}
	if err := json.Unmarshal([]byte(payment.InvoicePayload), &payload); err != nil {
		return fmt.Errorf("parse payment payload: %w", err)
	}

	pack, ok := models.FindCreditPack(payload.PackID)
	if !ok {
		return fmt.Errorf("unknown pack in payment payload: %s", payload.PackID)
	}

	if err := s.users.AddCredits(ctx, user.ID, pack.Credits); err != nil {
		return fmt.Errorf("add credits: %w", err)
	}

	record := &models.Payment{
		UserID:         user.ID,
		PackID:         pack.ID,
		Provider:       "telegram",
		ProviderCharge: payment.ProviderPaymentChargeID,
		Currency:       payment.Currency,
		Amount:         payment.TotalAmount,
		Status:         "paid",
		RawPayload:     string(jsonMustMarshal(payment)),
	}
	if err := s.payments.Create(ctx, record); err != nil {
		return fmt.Errorf("record payment: %w", err)
	}

	return nil
}

// HandleYooKassaWebhook processes payment status updates and credits the user.
func (s *PaymentService) HandleYooKassaWebhook(ctx context.Context, payload []byte) error {
	var evt struct {
		Event  string `json:"event"`
		Object struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Amount struct {
				Value    string `json:"value"`
				Currency string `json:"currency"`
			} `json:"amount"`
		} `json:"object"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("parse webhook: %w", err)
	}
	if evt.Object.ID == "" {
		return fmt.Errorf("webhook missing payment id")
	}

	pmt, err := s.payments.FindByProviderCharge(ctx, "yookassa", evt.Object.ID)
	if err != nil {
		return fmt.Errorf("find payment: %w", err)
	}
	if pmt == nil {
		return fmt.Errorf("payment not found for id=%s", evt.Object.ID)
	}
	if pmt.Status == "paid" {
		return nil // already processed
	}

	if evt.Object.Status == "succeeded" {
		pack, ok := models.FindCreditPack(pmt.PackID)
		if !ok {
			return fmt.Errorf("unknown pack for payment: %s", pmt.PackID)
		}
		if err := s.users.AddCredits(ctx, pmt.UserID, pack.Credits); err != nil {
			return fmt.Errorf("add credits: %w", err)
		}
		if err := s.payments.UpdateStatus(ctx, pmt.ID, "paid", string(payload)); err != nil {
			return fmt.Errorf("update payment status: %w", err)
		}
		return nil
	}

	// For failed/canceled just update status
	if err := s.payments.UpdateStatus(ctx, pmt.ID, evt.Object.Status, string(payload)); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

func jsonMustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
