package miniapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eloysh/Gurenko-ai/internal/config"
	"github.com/eloysh/Gurenko-ai/internal/kie"
	"github.com/eloysh/Gurenko-ai/internal/models"
	"github.com/eloysh/Gurenko-ai/internal/service"
	"github.com/eloysh/Gurenko-ai/internal/subscription"
)

// fakeDB backs the user ledger and generation store in memory. Internal ids
// equal telegram ids to keep lookups trivial.
type fakeDB struct {
	mu    sync.Mutex
	users map[int64]*models.User
	gens  map[string]*models.Generation
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		users: map[int64]*models.User{},
		gens:  map[string]*models.Generation{},
	}
}

func (f *fakeDB) Ensure(_ context.Context, telegramID int64, username, firstName, lastName, referral string, signupCredits int) (*models.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[telegramID]; ok {
		return user, false, nil
	}
	user := &models.User{
		ID:         telegramID,
		TelegramID: telegramID,
		Username:   username,
		FirstName:  firstName,
		LastName:   lastName,
		Credits:    signupCredits,
		Referral:   referral,
		CreatedAt:  time.Now(),
	}
	f.users[telegramID] = user
	return user, true, nil
}

func (f *fakeDB) FindByTelegramID(_ context.Context, telegramID int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[telegramID], nil
}

func (f *fakeDB) AddCredits(_ context.Context, userID int64, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[userID]; ok {
		user.Credits += delta
	}
	return nil
}

func (f *fakeDB) ListTelegramIDs(_ context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, 0, len(f.users))
	for id := range f.users {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeDB) SpendCredit(_ context.Context, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok || user.Credits <= 0 {
		return false, nil
	}
	user.Credits--
	return true, nil
}

func (f *fakeDB) RefundCredit(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[userID]; ok {
		user.Credits++
	}
	return nil
}

func (f *fakeDB) SetLastImageURL(_ context.Context, userID int64, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[userID]; ok {
		user.LastImageURL = url
	}
	return nil
}

func (f *fakeDB) Start(_ context.Context, gen *models.Generation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	gen.Status = models.StatusInProgress
	gen.CreatedAt = time.Now()
	clone := *gen
	f.gens[gen.TaskID] = &clone
	return nil
}

func (f *fakeDB) Finalize(_ context.Context, taskID string, status models.GenerationStatus, imageURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.gens[taskID]
	if !ok || rec.Status != models.StatusInProgress {
		return nil
	}
	rec.Status = status
	rec.ImageURL = imageURL
	return nil
}

func (f *fakeDB) ListByUser(_ context.Context, userID int64, limit int) ([]models.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []models.Generation
	for _, rec := range f.gens {
		if rec.UserID == userID {
			items = append(items, *rec)
		}
	}
	return items, nil
}

func (f *fakeDB) credits(telegramID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[telegramID]; ok {
		return user.Credits
	}
	return -1
}

type scriptedProvider struct {
	mu       sync.Mutex
	status   kie.TaskStatus
	created  int
	failSubmit bool
}

func (p *scriptedProvider) CreateTask(_ context.Context, prompt, aspectRatio string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSubmit {
		return "", errors.New("provider unavailable")
	}
	p.created++
	return fmt.Sprintf("task-%d", p.created), nil
}

func (p *scriptedProvider) TaskStatus(_ context.Context, taskID string) (kie.TaskStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, nil
}

type fakePromptStore struct{}

func (fakePromptStore) List(_ context.Context, limit int) ([]models.PromptSuggestion, error) {
	return []models.PromptSuggestion{
		{ID: 2, Text: "second"},
		{ID: 1, Text: "first"},
	}, nil
}
func (fakePromptStore) Create(_ context.Context, text string) (*models.PromptSuggestion, error) {
	return &models.PromptSuggestion{ID: 3, Text: text}, nil
}
func (fakePromptStore) Delete(context.Context, int64) error { return nil }
func (fakePromptStore) Count(context.Context) (int, error)  { return 2, nil }

type fakePaymentStore struct{}

func (fakePaymentStore) Create(context.Context, *models.Payment) error { return nil }
func (fakePaymentStore) FindByProviderCharge(context.Context, string, string) (*models.Payment, error) {
	return nil, nil
}
func (fakePaymentStore) UpdateStatus(context.Context, int64, string, string) error { return nil }

type fakeTelegramAPI struct{}

func (fakeTelegramAPI) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{
		Ok:     true,
		Result: json.RawMessage(`"https://t.me/invoice/abc"`),
	}, nil
}

func (fakeTelegramAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

type memberAPIFunc func(cfg tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)

func (f memberAPIFunc) GetChatMember(cfg tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	return f(cfg)
}

type serverEnv struct {
	server   *Server
	db       *fakeDB
	provider *scriptedProvider
}

func newTestEnv(t *testing.T, gateCfg config.Config, member memberAPIFunc) *serverEnv {
	t.Helper()

	cfg := gateCfg
	cfg.BotToken = testBotToken
	cfg.SignupCredits = 2
	cfg.PaymentProvider = "telegram"
	cfg.TelegramPaymentProviderToken = "prov-token"

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := newFakeDB()
	provider := &scriptedProvider{status: kie.TaskStatus{
		Status:     models.StatusCompleted,
		ResultURLs: []string{"https://img/1.png"},
	}}

	users := service.NewUserService(cfg, db)
	generation := service.NewGenerationService(log, db, db, provider, nil)
	prompts := service.NewPromptService(fakePromptStore{})
	payments := service.NewPaymentService(cfg, log, fakePaymentStore{}, db, fakeTelegramAPI{})

	if member == nil {
		member = func(tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
			return tgbotapi.ChatMember{Status: "member"}, nil
		}
	}
	gate := subscription.NewChecker(cfg, member, log)

	verifier := NewInitDataVerifier(cfg.BotToken, 24*time.Hour)
	server := NewServer(":0", log, verifier, gate, users, generation, prompts, payments)

	return &serverEnv{server: server, db: db, provider: provider}
}

func (e *serverEnv) do(t *testing.T, method, path string, body any, initData string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if initData != "" {
		req.Header.Set(initDataHeader, initData)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func initDataFor(t *testing.T, userID int64) string {
	return signInitData(t, testBotToken, validInitDataFields(userID))
}

func TestAPIRequiresInitData(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	for _, path := range []string{"/api/prompts", "/api/me", "/api/history"} {
		w := env.do(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		body := decodeBody(t, w)
		assert.Equal(t, "unauthorized", body["error"])
		assert.NotEmpty(t, body["reason"])
	}
}

func TestAPIRejectsTamperedInitData(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	w := env.do(t, http.MethodGet, "/api/me", nil, signInitData(t, "1:wrong-token", validInitDataFields(42)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMe(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	w := env.do(t, http.MethodGet, "/api/me", nil, initDataFor(t, 42))
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), user["telegram_id"])
	assert.Equal(t, float64(2), user["credits"], "signup bonus on first contact")
	assert.Nil(t, body["deepLink"], "no channel configured")
}

func TestMeDeepLink(t *testing.T) {
	env := newTestEnv(t, config.Config{
		SubscriptionCheckEnabled: true,
		SubscriptionChannelURL:   "https://t.me/ai_channel",
	}, nil)

	w := env.do(t, http.MethodGet, "/api/me", nil, initDataFor(t, 42))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://t.me/ai_channel", decodeBody(t, w)["deepLink"])
}

func TestPrompts(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	w := env.do(t, http.MethodGet, "/api/prompts", nil, initDataFor(t, 42))
	require.Equal(t, http.StatusOK, w.Code)

	items, ok := decodeBody(t, w)["items"].([]any)
	require.True(t, ok)
	assert.Len(t, items, 2)
}

func TestGenerateSyncCompletion(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	w := env.do(t, http.MethodPost, "/api/generate", map[string]any{"prompt": "a cat"}, initDataFor(t, 42))
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "https://img/1.png", body["url"])
	assert.Equal(t, 1, env.db.credits(42))

	// history picks up the finished record
	w = env.do(t, http.MethodGet, "/api/history", nil, initDataFor(t, 42))
	require.Equal(t, http.StatusOK, w.Code)
	items := decodeBody(t, w)["items"].([]any)
	require.Len(t, items, 1)
	rec := items[0].(map[string]any)
	assert.Equal(t, string(models.StatusCompleted), rec["status"])
	assert.Equal(t, "https://img/1.png", rec["image_url"])
}

func TestGeneratePromptRequired(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	w := env.do(t, http.MethodPost, "/api/generate", map[string]any{"prompt": "  "}, initDataFor(t, 42))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "prompt_required", decodeBody(t, w)["error"])
	assert.Equal(t, 2, env.db.credits(42))
}

func TestGenerateNoCredits(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	// drain the signup balance
	for i := 0; i < 2; i++ {
		w := env.do(t, http.MethodPost, "/api/generate", map[string]any{"prompt": "a cat"}, initDataFor(t, 42))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := env.do(t, http.MethodPost, "/api/generate", map[string]any{"prompt": "a cat"}, initDataFor(t, 42))
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "no_credits", decodeBody(t, w)["error"])
	assert.Equal(t, 0, env.db.credits(42))
}

func TestGenerateProviderFailed(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)
	env.provider.status = kie.TaskStatus{Status: models.StatusFailed, FailMsg: "flagged"}

	w := env.do(t, http.MethodPost, "/api/generate", map[string]any{"prompt": "a cat"}, initDataFor(t, 42))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "gen_failed", decodeBody(t, w)["error"])
	assert.Equal(t, 2, env.db.credits(42), "refund restores the balance")
}

func TestGenerateSubmitError(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)
	env.provider.failSubmit = true

	w := env.do(t, http.MethodPost, "/api/generate", map[string]any{"prompt": "a cat"}, initDataFor(t, 42))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "gen_error", decodeBody(t, w)["error"])
	assert.Equal(t, 2, env.db.credits(42))
}

func TestInvoice(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	w := env.do(t, http.MethodPost, "/api/invoice", map[string]any{"pack_id": "pack50"}, initDataFor(t, 42))
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "https://t.me/invoice/abc", body["url"])
	pack := body["pack"].(map[string]any)
	assert.Equal(t, "pack50", pack["id"])
	assert.Equal(t, float64(50), pack["credits"])
}

func TestInvoiceUnknownPack(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	w := env.do(t, http.MethodPost, "/api/invoice", map[string]any{"pack_id": "nope"}, initDataFor(t, 42))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "pack_not_found", decodeBody(t, w)["error"])
}

func TestGateDeniesNonMember(t *testing.T) {
	env := newTestEnv(t, config.Config{
		SubscriptionCheckEnabled: true,
		SubscriptionChannelID:    -100123,
		SubscriptionChannelURL:   "https://t.me/ai_channel",
	}, func(tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
		return tgbotapi.ChatMember{Status: "left"}, nil
	})

	w := env.do(t, http.MethodGet, "/api/me", nil, initDataFor(t, 42))
	assert.Equal(t, http.StatusForbidden, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "not_subscribed", body["error"])
	assert.Equal(t, "https://t.me/ai_channel", body["channel"])
}

func TestGateFailOpenOnLookupError(t *testing.T) {
	env := newTestEnv(t, config.Config{
		SubscriptionCheckEnabled: true,
		SubscriptionChannelID:    -100123,
	}, func(tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
		return tgbotapi.ChatMember{}, errors.New("bot api down")
	})

	w := env.do(t, http.MethodGet, "/api/me", nil, initDataFor(t, 42))
	assert.Equal(t, http.StatusOK, w.Code, "check failure is not a denial")
}

func TestGateDisabledPassesEveryone(t *testing.T) {
	env := newTestEnv(t, config.Config{
		SubscriptionCheckEnabled: false,
		SubscriptionChannelID:    -100123,
	}, func(tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
		return tgbotapi.ChatMember{Status: "left"}, nil
	})

	w := env.do(t, http.MethodGet, "/api/me", nil, initDataFor(t, 42))
	assert.Equal(t, http.StatusOK, w.Code)
}
