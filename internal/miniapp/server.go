package miniapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eloysh/Gurenko-ai/internal/models"
	"github.com/eloysh/Gurenko-ai/internal/service"
	"github.com/eloysh/Gurenko-ai/internal/subscription"
)

const initDataHeader = "X-Telegram-InitData"

const promptListLimit = 20

type ctxKey int

const userCtxKey ctxKey = iota

// Server is the HTTP API consumed by the mini-app client. Every /api route is
// protected: the init-data header is verified and the subscription gate is
// applied before the handler runs.
type Server struct {
	addr       string
	log        *slog.Logger
	verifier   *InitDataVerifier
	gate       *subscription.Checker
	users      *service.UserService
	generation *service.GenerationService
	prompts    *service.PromptService
	payments   *service.PaymentService
	router     *chi.Mux
}

func NewServer(addr string, log *slog.Logger, verifier *InitDataVerifier, gate *subscription.Checker, users *service.UserService, generation *service.GenerationService, prompts *service.PromptService, payments *service.PaymentService) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:       addr,
		log:        log,
		verifier:   verifier,
		gate:       gate,
		users:      users,
		generation: generation,
		prompts:    prompts,
		payments:   payments,
		router:     r,
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(s.authMiddleware)
		api.Get("/prompts", s.handlePrompts)
		api.Get("/me", s.handleMe)
		api.Get("/history", s.handleHistory)
		api.Post("/invoice", s.handleInvoice)
		api.Post("/generate", s.handleGenerate)
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.router,
		// No WriteTimeout: /api/generate legitimately blocks for up to a
		// minute while polling the provider.
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("webapp shutdown error", "err", err)
		}
	}()

	s.log.Info("webapp api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webapp listen: %w", err)
	}
	return nil
}

// authMiddleware verifies the init-data header, upserts the user and applies
// the subscription gate.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.verifier.Verify(r.Header.Get(initDataHeader))
		if err != nil {
			s.writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":  "unauthorized",
				"reason": err.Error(),
			})
			return
		}

		user, _, err := s.users.Ensure(r.Context(), identity.UserID, identity.Username, identity.FirstName, identity.LastName, identity.StartParam)
		if err != nil {
			s.log.Error("ensure user", "err", err, "telegram_id", identity.UserID)
			s.writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}

		if !s.gate.IsMember(r.Context(), identity.UserID) {
			s.writeJSON(w, http.StatusForbidden, map[string]any{
				"error":   "not_subscribed",
				"channel": s.gate.ChannelLink(),
			})
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userCtxKey, user)))
	})
}

func userFrom(r *http.Request) *models.User {
	user, _ := r.Context().Value(userCtxKey).(*models.User)
	return user
}

func (s *Server) handlePrompts(w http.ResponseWriter, r *http.Request) {
	items, err := s.prompts.List(r.Context(), promptListLimit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if items == nil {
		items = []models.PromptSuggestion{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	var deepLink *string
	if link := s.gate.ChannelLink(); link != "" {
		deepLink = &link
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user":     user,
		"deepLink": deepLink,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	items, err := s.generation.History(r.Context(), user.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if items == nil {
		items = []models.Generation{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type invoiceRequest struct {
	PackID string `json:"pack_id"`
}

func (s *Server) handleInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	pack, ok := models.FindCreditPack(req.PackID)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "pack_not_found")
		return
	}

	user := userFrom(r)
	url, err := s.payments.CreateInvoiceLink(r.Context(), user, pack)
	if err != nil {
		s.log.Error("create invoice link", "err", err, "pack", pack.ID)
		s.writeError(w, http.StatusInternalServerError, "invoice_failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"url":  url,
		"pack": pack,
	})
}

type generateRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	user := userFrom(r)
	result, err := s.generation.Generate(r.Context(), user, service.GenerateRequest{
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPromptRequired):
			s.writeError(w, http.StatusBadRequest, "prompt_required")
		case errors.Is(err, service.ErrNoCredits):
			s.writeError(w, http.StatusPaymentRequired, "no_credits")
		case errors.Is(err, service.ErrGenerationFailed):
			s.writeError(w, http.StatusInternalServerError, "gen_failed")
		default:
			s.log.Error("generate", "err", err, "user", user.TelegramID)
			s.writeError(w, http.StatusInternalServerError, "gen_error")
		}
		return
	}

	if result.Status == models.StatusCompleted {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"ok":  true,
			"url": result.ImageURL,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"task_id": result.TaskID,
		"status":  result.Status,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code string) {
	s.writeJSON(w, status, map[string]any{"error": code})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("webapp handler error", "err", err)
	s.writeError(w, http.StatusInternalServerError, "internal_error")
}
