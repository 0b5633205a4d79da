// Package webpush sends push notifications to browser push subscriptions using VAPID.
package webpush

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"github.com/pushgate/pushgate/internal/push"
)

// DefaultTTL is how long, in seconds, the push service keeps an undelivered message.
const DefaultTTL = 60

// Config holds VAPID credentials.
type Config struct {
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             int

	// HTTPClient sends requests to push services. Default: 10s timeout client.
	HTTPClient webpush.HTTPClient
}

// Sender delivers messages to web push subscriptions. A device's push token is
// the JSON-encoded subscription the browser returned.
type Sender struct {
	cfg    Config
	logger zerolog.Logger
}

// NewSender creates a web push sender.
func NewSender(cfg Config, logger zerolog.Logger) *Sender {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Sender{
		cfg:    cfg,
		logger: logger.With().Str("component", "webpush").Logger(),
	}
}

type payloadBody struct {
	Notification struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"notification"`
	Data map[string]string `json:"data,omitempty"`
}

// SendBatch sends msg to every subscription in turn.
func (s *Sender) SendBatch(ctx context.Context, tokens []string, msg push.Message) ([]push.Outcome, error) {
	var body payloadBody
	body.Notification.Title = msg.Title
	body.Notification.Body = msg.Body
	body.Data = msg.Data

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling web push payload: %w", err)
	}

	outcomes := make([]push.Outcome, len(tokens))
	for i, tok := range tokens {
		outcomes[i] = s.sendOne(ctx, tok, payload)
	}
	return outcomes, nil
}

func (s *Sender) sendOne(ctx context.Context, tok string, payload []byte) push.Outcome {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(tok), &sub); err != nil || sub.Endpoint == "" {
		return push.Outcome{Error: "invalid subscription", Permanent: true}
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &webpush.Options{
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             s.cfg.TTL,
		HTTPClient:      s.cfg.HTTPClient,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("web push transport error")
		return push.Outcome{Error: err.Error()}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK, http.StatusAccepted:
		return push.Outcome{Success: true, MessageID: resp.Header.Get("Location")}
	case http.StatusNotFound, http.StatusGone:
		return push.Outcome{Error: fmt.Sprintf("subscription expired: status %d", resp.StatusCode), Permanent: true}
	default:
		s.logger.Warn().Int("status", resp.StatusCode).Str("endpoint", sub.Endpoint).Msg("web push rejected")
		return push.Outcome{Error: fmt.Sprintf("status %d", resp.StatusCode)}
	}
}
