package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPNotifier(t *testing.T) {
	ctx := context.Background()

	t.Run("PostsNoticeWithServiceToken", func(t *testing.T) {
		var gotPath, gotToken, gotType string
		var body map[string]interface{}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotToken = r.Header.Get("X-Service-Token")
			gotType = r.Header.Get("Content-Type")
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &body)
			w.WriteHeader(http.StatusAccepted)
		}))
		defer server.Close()

		n := NewHTTPNotifier(server.URL+"/", "secret-token", time.Second)
		err := n.NotifyConversion(ctx, ConversionNotice{
			Shop:             testShop,
			RecipientEmail:   "ada@example.com",
			CommissionAmount: decimal.RequireFromString("12.50"),
			OrderID:          "1001",
		})
		require.NoError(t, err)
		assert.Equal(t, "/notifications/referral.conversion", gotPath)
		assert.Equal(t, "secret-token", gotToken)
		assert.Equal(t, "application/json", gotType)
		assert.Equal(t, "ada@example.com", body["recipient_email"])
		assert.Equal(t, "12.5", body["commission_amount"])
	})

	t.Run("RoutesByKind", func(t *testing.T) {
		var paths []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			paths = append(paths, r.URL.Path)
		}))
		defer server.Close()

		n := NewHTTPNotifier(server.URL, "", time.Second)
		require.NoError(t, n.NotifyRegistrationWelcome(ctx, WelcomeNotice{Shop: testShop}))
		require.NoError(t, n.NotifyInvitation(ctx, InvitationNotice{Shop: testShop}))
		assert.Equal(t, []string{"/notifications/referral.welcome", "/notifications/referral.invitation"}, paths)
	})

	t.Run("NonSuccessStatusIsAnError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "mailer down", http.StatusBadGateway)
		}))
		defer server.Close()

		err := NewHTTPNotifier(server.URL, "t", time.Second).NotifyInvitation(ctx, InvitationNotice{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
		assert.Contains(t, err.Error(), "mailer down")
	})
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaNotifier(t *testing.T) {
	ctx := context.Background()

	t.Run("PublishesKeyedEvent", func(t *testing.T) {
		writer := &fakeWriter{}
		n := &KafkaNotifier{Writer: writer, Topic: "referral.notifications"}

		require.NoError(t, n.NotifyRegistrationWelcome(ctx, WelcomeNotice{Shop: testShop, ReferralCode: "WELCOME2"}))
		require.Len(t, writer.messages, 1)
		msg := writer.messages[0]
		assert.Equal(t, "referral.notifications", msg.Topic)
		assert.Equal(t, testShop, string(msg.Key))
		require.Len(t, msg.Headers, 1)
		assert.Equal(t, "referral.welcome", string(msg.Headers[0].Value))

		var event struct {
			Type    string          `json:"type"`
			Shop    string          `json:"shop"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(msg.Value, &event))
		assert.Equal(t, "referral.welcome", event.Type)
		assert.Equal(t, testShop, event.Shop)
		assert.Contains(t, string(event.Payload), `"referral_code":"WELCOME2"`)

		require.NoError(t, n.Close())
		assert.True(t, writer.closed)
	})

	t.Run("WriteErrorReturned", func(t *testing.T) {
		boom := errors.New("leader not available")
		n := &KafkaNotifier{Writer: &fakeWriter{err: boom}, Topic: "t"}
		assert.ErrorIs(t, n.NotifyConversion(ctx, ConversionNotice{Shop: testShop}), boom)
	})

	t.Run("RequiresBrokers", func(t *testing.T) {
		_, err := NewKafkaNotifier(nil, "t")
		assert.Error(t, err)
	})
}

func TestNotifyBestEffort_ZeroTimeoutUsesDefault(t *testing.T) {
	var deadline time.Time
	notifyBestEffort(context.Background(), 0, notifyConversion, func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return nil
	})
	assert.WithinDuration(t, time.Now().Add(defaultNotifyTimeout), deadline, time.Second)
}

func TestShopName(t *testing.T) {
	assert.Equal(t, "demo-store", ShopName("demo-store.myshopify.com"))
	assert.Equal(t, "custom.example", ShopName(" custom.example "))
}
