package miniapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Identity is the verified subject of a mini-app session.
type Identity struct {
	UserID     int64
	Username   string
	FirstName  string
	LastName   string
	StartParam string
	AuthDate   time.Time
}

// InitDataVerifier checks the signed init data the Telegram client passes to
// the mini app. The hash field is HMAC-SHA256 over the remaining fields as
// sorted "key=value" lines joined with newlines, keyed by
// HMAC-SHA256("WebAppData", botToken).
type InitDataVerifier struct {
	secret []byte
	maxAge time.Duration
}

func NewInitDataVerifier(botToken string, maxAge time.Duration) *InitDataVerifier {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return &InitDataVerifier{secret: mac.Sum(nil), maxAge: maxAge}
}

// Verify validates the raw init data string and extracts the identity. There
// are no side effects.
func (v *InitDataVerifier) Verify(raw string) (*Identity, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("init data missing")
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed init data: %w", err)
	}

	gotHash := values.Get("hash")
	if gotHash == "" {
		return nil, errors.New("hash field missing")
	}
	values.Del("hash")

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strings.Join(lines, "\n")))
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(gotHash)) {
		return nil, errors.New("hash mismatch")
	}

	authDateRaw := values.Get("auth_date")
	ts, err := strconv.ParseInt(authDateRaw, 10, 64)
	if err != nil {
		return nil, errors.New("auth_date missing or invalid")
	}
	authDate := time.Unix(ts, 0)
	if v.maxAge > 0 && time.Since(authDate) > v.maxAge {
		return nil, errors.New("init data expired")
	}

	userJSON := values.Get("user")
	if userJSON == "" {
		return nil, errors.New("user field missing")
	}
	var u struct {
		ID        int64  `json:"id"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Username  string `json:"username"`
	}
	if err := json.Unmarshal([]byte(userJSON), &u); err != nil {
		return nil, fmt.Errorf("parse user field: %w", err)
	}
	if u.ID == 0 {
		return nil, errors.New("user id missing")
	}

	return &Identity{
		UserID:     u.ID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		StartParam: values.Get("start_param"),
		AuthDate:   authDate,
	}, nil
}
