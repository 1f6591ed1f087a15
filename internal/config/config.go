package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot, the mini-app API and
// supporting services.
type Config struct {
	BotToken string
	MySQLDSN string

	KIEAPIKey      string
	KIEBaseURL     string
	KIEModel       string
	RequestTimeout time.Duration

	SignupCredits  int
	InitDataMaxAge time.Duration

	WebAppListenAddr string
	WebAppURL        string

	SubscriptionCheckEnabled    bool
	SubscriptionChannelURL      string
	SubscriptionChannelUsername string
	SubscriptionChannelID       int64

	PaymentProvider              string
	TelegramPaymentProviderToken string
	YooKassaShopID               string
	YooKassaSecretKey            string
	YooKassaReturnURL            string
	YooKassaAPIURL               string

	AdminListenAddr string
	AdminUsername   string
	AdminPassword   string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	loadEnvFile()

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		KIEBaseURL:                  normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		KIEModel:                    getEnv("KIE_MODEL", "flux-2/pro-text-to-image"),
		RequestTimeout:              time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 15)),
		SignupCredits:               getInt("SIGNUP_CREDITS", 3),
		InitDataMaxAge:              time.Second * time.Duration(getInt("INITDATA_MAX_AGE_SECONDS", 86400)),
		WebAppListenAddr:            getEnv("WEBAPP_LISTEN_ADDR", ":8081"),
		WebAppURL:                   getEnv("WEBAPP_URL", ""),
		SubscriptionCheckEnabled:    getBool("SUBSCRIPTION_CHECK_ENABLED", true),
		SubscriptionChannelURL:      getEnv("SUBSCRIPTION_CHANNEL_URL", ""),
		SubscriptionChannelUsername: normalizeChannelUsername(getEnv("SUBSCRIPTION_CHANNEL_USERNAME", "")),
		SubscriptionChannelID:       getInt64("SUBSCRIPTION_CHANNEL_ID", 0),
		PaymentProvider:             strings.ToLower(getEnv("PAYMENT_PROVIDER", "telegram")),
		YooKassaShopID:              getEnv("YOOKASSA_SHOP_ID", ""),
		YooKassaSecretKey:           getEnv("YOOKASSA_SECRET_KEY", ""),
		YooKassaReturnURL:           getEnv("YOOKASSA_RETURN_URL", ""),
		YooKassaAPIURL:              getEnv("YOOKASSA_API_URL", "https://api.yookassa.ru/v3/payments"),
		AdminListenAddr:             getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:               getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:               getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:                  getEnv("S3_ENDPOINT", ""),
		S3Region:                    os.Getenv("S3_REGION"),
		S3AccessKey:                 os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:                 os.Getenv("S3_SECRET_KEY"),
		S3Bucket:                    os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:             os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:              getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:                    getEnv("S3_PREFIX", "generations"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.KIEAPIKey = os.Getenv("KIE_API_KEY")
	cfg.TelegramPaymentProviderToken = os.Getenv("TELEGRAM_PAYMENT_PROVIDER_TOKEN")

	if cfg.SubscriptionChannelUsername == "" && cfg.SubscriptionChannelURL != "" {
		if username := extractChannelUsername(cfg.SubscriptionChannelURL); username != "" {
			cfg.SubscriptionChannelUsername = username
		}
	}

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.KIEAPIKey == "" {
		missing = append(missing, "KIE_API_KEY")
	}
	if cfg.PaymentProvider == "telegram" && cfg.TelegramPaymentProviderToken == "" {
		missing = append(missing, "TELEGRAM_PAYMENT_PROVIDER_TOKEN")
	}
	if cfg.PaymentProvider == "yookassa" {
		if cfg.YooKassaShopID == "" {
			missing = append(missing, "YOOKASSA_SHOP_ID")
		}
		if cfg.YooKassaSecretKey == "" {
			missing = append(missing, "YOOKASSA_SECRET_KEY")
		}
	}
	if cfg.S3Bucket != "" {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// normalizeKIEBaseURL ensures we always hit the documented API host. Some docs and UI pages
// use the root kie.ai domain, which returns HTML instead of JSON and causes 404s.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	// Force API subdomain to avoid landing on the marketing site.
	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return parsed.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// loadEnvFile loads the first .env file it can find. Absence is not an error:
// production deployments pass real environment variables.
func loadEnvFile() {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			continue
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err == nil {
			return
		}
	}
}

func normalizeChannelUsername(username string) string {
	username = strings.TrimSpace(username)
	username = strings.TrimPrefix(username, "@")
	return username
}

func extractChannelUsername(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, "/")
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if parsed, err := url.Parse(raw); err == nil {
			path := strings.Trim(parsed.Path, "/")
			if path != "" {
				return normalizeChannelUsername(path)
			}
		}
	}
	if strings.HasPrefix(raw, "t.me/") {
		raw = strings.TrimPrefix(raw, "t.me/")
	}
	return normalizeChannelUsername(raw)
}
