package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/eloysh/Gurenko-ai/internal/config"
	"github.com/eloysh/Gurenko-ai/internal/models"
	"github.com/eloysh/Gurenko-ai/internal/service"
	"github.com/eloysh/Gurenko-ai/internal/subscription"
)

// Bot is thin conversational glue: onboarding, balance, purchases. Generation
// itself runs through the mini-app API.
type Bot struct {
	cfg      config.Config
	api      *tgbotapi.BotAPI
	log      *slog.Logger
	users    *service.UserService
	payments *service.PaymentService
	gate     *subscription.Checker
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, users *service.UserService, payments *service.PaymentService, gate *subscription.Checker) *Bot {
	return &Bot{
		cfg:      cfg,
		api:      api,
		log:      log,
		users:    users,
		payments: payments,
		gate:     gate,
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started")

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			} else if update.PreCheckoutQuery != nil {
				if err := b.payments.HandlePreCheckout(update.PreCheckoutQuery); err != nil {
					b.log.Error("pre-checkout failed", "err", err)
				}
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, msg)
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	b.sendText(msg.Chat.ID, "Откройте мини-приложение, чтобы сгенерировать изображение, или используйте /balance и /buy.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		referral := strings.TrimSpace(msg.CommandArguments())
		user, created, err := b.ensureUser(ctx, msg.From, msg.Chat.ID, referral)
		if err != nil {
			b.log.Error("ensure user", "err", err)
			return
		}
		text := fmt.Sprintf("Привет, %s!", user.FirstName)
		if created {
			text += fmt.Sprintf("\n\nНа балансе %d бесплатных генераций.", user.Credits)
		}
		text += "\n\nГенерация изображений — в мини-приложении.\n/balance — баланс\n/buy — купить кредиты"
		if b.cfg.WebAppURL != "" {
			text += "\n\nОткрыть приложение: " + b.cfg.WebAppURL
		}
		if link := b.gate.ChannelLink(); link != "" {
			text += "\nНаш канал: " + link
		}
		b.sendText(msg.Chat.ID, text)
	case "balance":
		user, _, err := b.ensureUser(ctx, msg.From, msg.Chat.ID, "")
		if err != nil {
			b.log.Error("ensure user balance", "err", err)
			return
		}
		b.sendText(msg.Chat.ID, fmt.Sprintf("На балансе %d кредитов.", user.Credits))
	case "buy":
		b.handleBuy(ctx, msg)
	default:
		b.sendText(msg.Chat.ID, "Неизвестная команда. Используйте /balance или /buy.")
	}
}

func (b *Bot) handleBuy(ctx context.Context, msg *tgbotapi.Message) {
	user, _, err := b.ensureUser(ctx, msg.From, msg.Chat.ID, "")
	if err != nil {
		b.log.Error("ensure user buy", "err", err)
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, pack := range models.CreditPacks {
		url, err := b.payments.CreateInvoiceLink(ctx, user, pack)
		if err != nil {
			b.log.Error("create invoice link", "err", err, "pack", pack.ID)
			continue
		}
		label := fmt.Sprintf("%s — %.0f %s", pack.Title, float64(pack.PriceMinorUnits)/100, pack.Currency)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(label, url)))
	}
	if len(rows) == 0 {
		b.sendText(msg.Chat.ID, "Не удалось подготовить счета. Попробуйте позже.")
		return
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, "Выберите пакет:")
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(reply); err != nil {
		b.log.Error("send buy keyboard", "err", err)
	}
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	user, _, err := b.ensureUser(ctx, msg.From, msg.Chat.ID, "")
	if err != nil {
		b.log.Error("ensure user payment", "err", err)
		return
	}
	if err := b.payments.HandleSuccessfulPayment(ctx, user, msg.SuccessfulPayment); err != nil {
		b.log.Error("process successful payment", "err", err)
		return
	}
	b.sendText(msg.Chat.ID, "Оплата успешно получена! Кредиты зачислены.")
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User, chatID int64, referral string) (*models.User, bool, error) {
	username := ""
	firstName := ""
	lastName := ""
	telegramID := chatID
	if from != nil {
		username = from.UserName
		firstName = from.FirstName
		lastName = from.LastName
		telegramID = from.ID
	}
	return b.users.Ensure(ctx, telegramID, username, firstName, lastName, referral)
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}
