package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/eloysh/Gurenko-ai/internal/config"
)

const checkTimeout = 15 * time.Second

// MemberAPI is the slice of the Bot API the checker needs.
type MemberAPI interface {
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// Checker gates access behind membership in the configured channel.
//
// The check is fail-open: when the membership lookup itself errors or times
// out, the user passes. A transient Bot API outage must not lock out paying
// users; only a definitive non-member answer denies access.
type Checker struct {
	api             MemberAPI
	log             *slog.Logger
	enabled         bool
	channelID       int64
	channelUsername string
	channelLink     string
}

func NewChecker(cfg config.Config, api MemberAPI, log *slog.Logger) *Checker {
	username := strings.TrimSpace(cfg.SubscriptionChannelUsername)
	var channelID int64
	if cfg.SubscriptionChannelID != 0 {
		channelID = cfg.SubscriptionChannelID
	} else if username != "" {
		if id, err := strconv.ParseInt(username, 10, 64); err == nil && id != 0 {
			channelID = id
			username = ""
		}
	}
	link := strings.TrimSpace(cfg.SubscriptionChannelURL)
	if link == "" && username != "" {
		link = fmt.Sprintf("https://t.me/%s", username)
	}

	return &Checker{
		api:             api,
		log:             log,
		enabled:         cfg.SubscriptionCheckEnabled,
		channelID:       channelID,
		channelUsername: username,
		channelLink:     link,
	}
}

// IsMember reports whether the user may pass the gate. Always true when the
// gate is disabled or no channel is configured.
func (c *Checker) IsMember(ctx context.Context, userID int64) bool {
	if !c.enabled {
		return true
	}
	if c.channelID == 0 && c.channelUsername == "" {
		return true
	}

	memberCfg := tgbotapi.ChatConfigWithUser{UserID: userID}
	if c.channelID != 0 {
		memberCfg.ChatID = c.channelID
	} else {
		memberCfg.SuperGroupUsername = c.channelUsername
	}

	type lookup struct {
		member tgbotapi.ChatMember
		err    error
	}
	ch := make(chan lookup, 1)
	go func() {
		member, err := c.api.GetChatMember(tgbotapi.GetChatMemberConfig{ChatConfigWithUser: memberCfg})
		ch <- lookup{member: member, err: err}
	}()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		c.log.Warn("subscription check timed out, passing through", "user", userID)
		return true
	case res := <-ch:
		if res.err != nil {
			c.log.Warn("subscription check failed, passing through", "user", userID, "err", res.err)
			return true
		}
		switch strings.ToLower(res.member.Status) {
		case "creator", "administrator", "member":
			return true
		default:
			return false
		}
	}
}

// ChannelLink returns the join link for the gated channel, empty when none is
// configured.
func (c *Checker) ChannelLink() string {
	return c.channelLink
}
