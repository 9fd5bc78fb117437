package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"referral-engine/utils"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Notifier hands events to whatever sends the emails. Callers treat every
// method as best-effort.
type Notifier interface {
	NotifyConversion(ctx context.Context, n ConversionNotice) error
	NotifyRegistrationWelcome(ctx context.Context, n WelcomeNotice) error
	NotifyInvitation(ctx context.Context, n InvitationNotice) error
}

type ConversionNotice struct {
	Shop             string          `json:"shop"`
	RecipientEmail   string          `json:"recipient_email"`
	RecipientName    string          `json:"recipient_name"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	OrderValue       decimal.Decimal `json:"order_value"`
	OrderID          string          `json:"order_id"`
	CustomerName     string          `json:"customer_name"`
	ProgramName      string          `json:"program_name"`
	ShopName         string          `json:"shop_name"`
	ReferralCode     string          `json:"referral_code"`
}

type WelcomeNotice struct {
	Shop              string `json:"shop"`
	RecipientEmail    string `json:"recipient_email"`
	RecipientName     string `json:"recipient_name"`
	ReferralCode      string `json:"referral_code"`
	ReferralLink      string `json:"referral_link"`
	VerificationToken string `json:"verification_token"`
	ProgramName       string `json:"program_name"`
	ShopName          string `json:"shop_name"`
}

type InvitationNotice struct {
	Shop           string `json:"shop"`
	RecipientEmail string `json:"recipient_email"`
	RecipientName  string `json:"recipient_name,omitempty"`
	ReferrerName   string `json:"referrer_name"`
	ReferralLink   string `json:"referral_link"`
	Message        string `json:"message,omitempty"`
	ProgramName    string `json:"program_name"`
	ShopName       string `json:"shop_name"`
}

const defaultNotifyTimeout = 5 * time.Second

const (
	notifyConversion = "referral.conversion"
	notifyWelcome    = "referral.welcome"
	notifyInvitation = "referral.invitation"
)

// ShopName turns "demo-store.myshopify.com" into "demo-store".
func ShopName(shop string) string {
	return strings.TrimSuffix(strings.TrimSpace(shop), ".myshopify.com")
}

// HTTPNotifier posts notices to the notification service.
type HTTPNotifier struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPNotifier(baseURL, token string, timeout time.Duration) *HTTPNotifier {
	return &HTTPNotifier{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  utils.NewHTTPClient(timeout),
	}
}

func (n *HTTPNotifier) post(ctx context.Context, kind string, payload interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/notifications/%s", n.BaseURL, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", n.Token)

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call notification service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notification service returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (n *HTTPNotifier) NotifyConversion(ctx context.Context, notice ConversionNotice) error {
	return n.post(ctx, notifyConversion, notice)
}

func (n *HTTPNotifier) NotifyRegistrationWelcome(ctx context.Context, notice WelcomeNotice) error {
	return n.post(ctx, notifyWelcome, notice)
}

func (n *HTTPNotifier) NotifyInvitation(ctx context.Context, notice InvitationNotice) error {
	return n.post(ctx, notifyInvitation, notice)
}

// MessageWriter is the part of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes notices as events keyed by shop.
type KafkaNotifier struct {
	Writer MessageWriter
	Topic  string
}

func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier requires at least one broker")
	}
	return &KafkaNotifier{
		Writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		Topic: topic,
	}, nil
}

type notificationEvent struct {
	Type       string      `json:"type"`
	Shop       string      `json:"shop"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

func (n *KafkaNotifier) publish(ctx context.Context, kind, shop string, payload interface{}) error {
	now := time.Now().UTC()
	value, err := json.Marshal(notificationEvent{Type: kind, Shop: shop, OccurredAt: now, Payload: payload})
	if err != nil {
		return err
	}
	return n.Writer.WriteMessages(ctx, kafka.Message{
		Topic: n.Topic,
		Key:   []byte(shop),
		Value: value,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(kind)},
		},
	})
}

func (n *KafkaNotifier) NotifyConversion(ctx context.Context, notice ConversionNotice) error {
	return n.publish(ctx, notifyConversion, notice.Shop, notice)
}

func (n *KafkaNotifier) NotifyRegistrationWelcome(ctx context.Context, notice WelcomeNotice) error {
	return n.publish(ctx, notifyWelcome, notice.Shop, notice)
}

func (n *KafkaNotifier) NotifyInvitation(ctx context.Context, notice InvitationNotice) error {
	return n.publish(ctx, notifyInvitation, notice.Shop, notice)
}

func (n *KafkaNotifier) Close() error {
	return n.Writer.Close()
}

// LogNotifier only logs; used when no notification backend is configured.
type LogNotifier struct{}

func (LogNotifier) NotifyConversion(_ context.Context, n ConversionNotice) error {
	utils.Log.WithFields(logrus.Fields{
		"shop":          n.Shop,
		"referral_code": n.ReferralCode,
		"order_id":      n.OrderID,
		"commission":    n.CommissionAmount.StringFixed(2),
	}).Info("📨 [NOTIFY] conversion")
	return nil
}

func (LogNotifier) NotifyRegistrationWelcome(_ context.Context, n WelcomeNotice) error {
	utils.Log.WithFields(logrus.Fields{
		"shop":          n.Shop,
		"referral_code": n.ReferralCode,
	}).Info("📨 [NOTIFY] welcome")
	return nil
}

func (LogNotifier) NotifyInvitation(_ context.Context, n InvitationNotice) error {
	utils.Log.WithFields(logrus.Fields{
		"shop":          n.Shop,
		"referral_link": n.ReferralLink,
	}).Info("📨 [NOTIFY] invitation")
	return nil
}

// notifyBestEffort runs send detached from the caller's cancellation but bounded by timeout.
func notifyBestEffort(ctx context.Context, timeout time.Duration, kind string, send func(ctx context.Context) error) {
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := send(ctx); err != nil {
		utils.NotificationFailures.WithLabelValues(kind).Inc()
		utils.Log.WithField("kind", kind).WithError(err).Warn("⚠️ [NOTIFY] notification failed")
	}
}
