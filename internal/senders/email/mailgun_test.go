package email

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(key, timestamp, token string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(timestamp + token))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhook(t *testing.T) {
	t.Parallel()

	key := "signing-key"
	ts := "1693526400"
	token := "abc123"

	assert.NoError(t, VerifyWebhook(key, ts, token, sign(key, ts, token)))
	assert.Error(t, VerifyWebhook(key, ts, token, sign("other-key", ts, token)))
	assert.Error(t, VerifyWebhook(key, ts, token, "not-a-signature"))

	// An empty signing key disables verification.
	assert.NoError(t, VerifyWebhook("", ts, token, "anything"))
}

func webhookRequest(t *testing.T, form url.Values) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/mailgun",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestParseWebhook_InboundMessage(t *testing.T) {
	t.Parallel()

	key := "signing-key"
	form := url.Values{
		"timestamp":  {"1693526400"},
		"token":      {"tok"},
		"signature":  {sign(key, "1693526400", "tok")},
		"recipient":  {"requests+a1b2c3@openrecords.example"},
		"sender":     {"clerk@agency.example"},
		"subject":    {"Your request has been received"},
		"body-plain": {"We got it."},
	}

	ev, err := ParseWebhook(webhookRequest(t, form), key)
	require.NoError(t, err)
	assert.Empty(t, ev.Event)
	assert.Equal(t, "requests+a1b2c3@openrecords.example", ev.Recipient)
	assert.Equal(t, "clerk@agency.example", ev.From)
	assert.Equal(t, "We got it.", ev.BodyText)
}

func TestParseWebhook_DeliveryEvent(t *testing.T) {
	t.Parallel()

	key := "signing-key"
	form := url.Values{
		"timestamp":  {"1693526400"},
		"token":      {"tok"},
		"signature":  {sign(key, "1693526400", "tok")},
		"event":      {"bounced"},
		"recipient":  {"records@agency.example"},
		"reason":     {"mailbox full"},
		"request_id": {"req-1"},
	}

	ev, err := ParseWebhook(webhookRequest(t, form), key)
	require.NoError(t, err)
	assert.Equal(t, "bounced", ev.Event)
	assert.Equal(t, "req-1", ev.RequestID)
	assert.Equal(t, "mailbox full", ev.Reason)
}

func TestParseWebhook_BadSignature(t *testing.T) {
	t.Parallel()

	form := url.Values{
		"timestamp": {"1693526400"},
		"token":     {"tok"},
		"signature": {"forged"},
	}
	_, err := ParseWebhook(webhookRequest(t, form), "signing-key")
	assert.Error(t, err)
}

func TestInboundFromWebhook_SplitsRecipients(t *testing.T) {
	t.Parallel()

	ev := WebhookEvent{
		MessageID: "<msg-1@mailgun>",
		From:      "clerk@agency.example",
		Recipient: "requests+abc@openrecords.example, archive@openrecords.example",
		Subject:   "Re: records",
		BodyText:  "attached",
	}
	in := InboundFromWebhook(ev)
	assert.Equal(t, []string{"requests+abc@openrecords.example", "archive@openrecords.example"}, in.To)
	assert.Equal(t, "<msg-1@mailgun>", in.MessageID)
	assert.False(t, in.ReceivedAt.IsZero())
}
