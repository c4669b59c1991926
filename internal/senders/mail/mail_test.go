package mail

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrecords/relay/internal/comms"
	"github.com/openrecords/relay/internal/config"
	"github.com/openrecords/relay/internal/foia"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSend_PostsLetter(t *testing.T) {
	t.Parallel()

	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/letters", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"letter_id": "ltr-3", "tracking": "9400 1000"})
	}))
	defer srv.Close()

	s := NewSender(config.MailConfig{LetterAPIURL: srv.URL, APIKey: "key-1"}, testLogger())
	assert.Equal(t, comms.ChannelMail, s.Channel())

	err := s.Send(context.Background(),
		foia.Request{ID: "req-1"},
		foia.ChannelContact{Channel: "mail", Address: "Records Division, 1 Main St, Springfield"},
		comms.Outbound{Subject: "Records request", Body: "Please send records."})
	require.NoError(t, err)

	assert.Equal(t, "Records Division, 1 Main St, Springfield", got["address"])
	assert.Equal(t, "req-1", got["reference"])
}

func TestSend_APIErrorSurfaces(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "address unparseable", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	s := NewSender(config.MailConfig{LetterAPIURL: srv.URL}, testLogger())
	err := s.Send(context.Background(), foia.Request{ID: "req-1"},
		foia.ChannelContact{Address: "??"}, comms.Outbound{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}
