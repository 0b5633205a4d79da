// Package apns sends push notifications through the Apple Push Notification service.
package apns

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"golang.org/x/sync/errgroup"

	"github.com/pushgate/pushgate/internal/push"
)

// DefaultConcurrency bounds the in-flight requests of one batch. APNs has no
// multicast endpoint, every token is a separate HTTP/2 request.
const DefaultConcurrency = 16

// Client is the subset of *apns2.Client the sender uses.
type Client interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Config holds token-based APNs credentials.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string

	// P8Key is the content of the .p8 signing key.
	P8Key string

	// Production selects the production gateway instead of the sandbox.
	Production bool

	Concurrency int
}

// NewClient creates an APNs client using token authentication. The key is parsed
// immediately so bad credentials fail at startup.
func NewClient(cfg Config) (*apns2.Client, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8Key))
	if err != nil {
		return nil, fmt.Errorf("parsing APNs p8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		return client.Production(), nil
	}
	return client.Development(), nil
}

// Sender delivers messages to APNs device tokens.
type Sender struct {
	client      Client
	topic       string
	concurrency int
	logger      zerolog.Logger
}

// NewSender creates an APNs sender. Topic is the app bundle ID.
func NewSender(client Client, cfg Config, logger zerolog.Logger) *Sender {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Sender{
		client:      client,
		topic:       cfg.BundleID,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "apns").Logger(),
	}
}

// SendBatch pushes msg to every token. An error is returned only when every
// request failed in transport.
func (s *Sender) SendBatch(ctx context.Context, tokens []string, msg push.Message) ([]push.Outcome, error) {
	p := payload.NewPayload().AlertTitle(msg.Title).AlertBody(msg.Body)
	for k, v := range msg.Data {
		p.Custom(k, v)
	}

	outcomes := make([]push.Outcome, len(tokens))
	transportErrs := make([]error, len(tokens))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, deviceToken := range tokens {
		g.Go(func() error {
			res, err := s.client.PushWithContext(gctx, &apns2.Notification{
				DeviceToken: deviceToken,
				Topic:       s.topic,
				Payload:     p,
			})
			if err != nil {
				transportErrs[i] = err
				outcomes[i] = push.Outcome{Error: err.Error()}
				return nil
			}
			outcomes[i] = toOutcome(res)
			return nil
		})
	}
	_ = g.Wait()

	if len(tokens) > 0 && allFailed(transportErrs) {
		return nil, fmt.Errorf("apns send failed: %w", transportErrs[0])
	}

	for i, o := range outcomes {
		if !o.Success && transportErrs[i] == nil {
			s.logger.Debug().Str("reason", o.Error).Bool("permanent", o.Permanent).Msg("apns rejected notification")
		}
	}
	return outcomes, nil
}

func toOutcome(res *apns2.Response) push.Outcome {
	if res.Sent() {
		return push.Outcome{Success: true, MessageID: res.ApnsID}
	}

	out := push.Outcome{Error: res.Reason}
	if out.Error == "" {
		out.Error = fmt.Sprintf("status %d", res.StatusCode)
	}
	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		out.Permanent = true
	}
	return out
}

func allFailed(errs []error) bool {
	for _, err := range errs {
		if err == nil {
			return false
		}
	}
	return true
}
