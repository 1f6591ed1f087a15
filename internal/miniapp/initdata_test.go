package miniapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBotToken = "123456:test-token"

// signInitData builds a correctly signed init data string the way the
// Telegram client would.
func signInitData(t *testing.T, botToken string, fields map[string]string) string {
	t.Helper()

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+fields[k])
	}

	secretMac := hmac.New(sha256.New, []byte("WebAppData"))
	secretMac.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secretMac.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))

	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	values.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return values.Encode()
}

func validInitDataFields(userID int64) map[string]string {
	return map[string]string{
		"auth_date": fmt.Sprintf("%d", time.Now().Unix()),
		"query_id":  "AAE1",
		"user":      fmt.Sprintf(`{"id":%d,"first_name":"Ivan","last_name":"Petrov","username":"ivan"}`, userID),
	}
}

func TestVerifyValid(t *testing.T) {
	v := NewInitDataVerifier(testBotToken, 24*time.Hour)

	fields := validInitDataFields(42)
	fields["start_param"] = "ref_friend"
	identity, err := v.Verify(signInitData(t, testBotToken, fields))
	require.NoError(t, err)

	assert.Equal(t, int64(42), identity.UserID)
	assert.Equal(t, "Ivan", identity.FirstName)
	assert.Equal(t, "Petrov", identity.LastName)
	assert.Equal(t, "ivan", identity.Username)
	assert.Equal(t, "ref_friend", identity.StartParam)
}

func TestVerifyEmpty(t *testing.T) {
	v := NewInitDataVerifier(testBotToken, 24*time.Hour)

	_, err := v.Verify("")
	require.Error(t, err)
	_, err = v.Verify("   ")
	require.Error(t, err)
}

func TestVerifyMissingHash(t *testing.T) {
	v := NewInitDataVerifier(testBotToken, 24*time.Hour)

	values := url.Values{}
	for k, val := range validInitDataFields(42) {
		values.Set(k, val)
	}
	_, err := v.Verify(values.Encode())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash")
}

func TestVerifyTampered(t *testing.T) {
	v := NewInitDataVerifier(testBotToken, 24*time.Hour)

	raw := signInitData(t, testBotToken, validInitDataFields(42))
	values, err := url.ParseQuery(raw)
	require.NoError(t, err)
	values.Set("user", `{"id":43,"first_name":"Mallory"}`)

	_, err = v.Verify(values.Encode())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestVerifyWrongBotToken(t *testing.T) {
	v := NewInitDataVerifier(testBotToken, 24*time.Hour)

	_, err := v.Verify(signInitData(t, "999:other-token", validInitDataFields(42)))
	require.Error(t, err)
}

func TestVerifyExpired(t *testing.T) {
	v := NewInitDataVerifier(testBotToken, time.Hour)

	fields := validInitDataFields(42)
	fields["auth_date"] = fmt.Sprintf("%d", time.Now().Add(-2*time.Hour).Unix())
	_, err := v.Verify(signInitData(t, testBotToken, fields))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestVerifyMissingUser(t *testing.T) {
	v := NewInitDataVerifier(testBotToken, 24*time.Hour)

	fields := validInitDataFields(42)
	delete(fields, "user")
	_, err := v.Verify(signInitData(t, testBotToken, fields))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user")
}
