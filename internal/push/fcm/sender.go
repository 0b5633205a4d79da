// Package fcm sends push notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/pushgate/pushgate/internal/push"
)

// MaxBatchSize is the largest token list FCM accepts in one multicast call.
const MaxBatchSize = 500

// MessagingClient is the subset of the Firebase Messaging API the sender uses.
// *messaging.Client satisfies it.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Config holds Firebase credentials.
type Config struct {
	ProjectID string

	// CredentialsFile is a service account JSON file. If empty, application
	// default credentials are used.
	CredentialsFile string

	// Endpoint replaces the FCM API base URL, for an emulator. Requests to it
	// carry no credentials.
	Endpoint string
}

// NewClient creates a Firebase Messaging client.
func NewClient(ctx context.Context, cfg Config) (*messaging.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase messaging: %w", err)
	}
	return client, nil
}

// Sender delivers messages to FCM registration tokens.
type Sender struct {
	client MessagingClient
	logger zerolog.Logger
}

// NewSender creates an FCM sender.
func NewSender(client MessagingClient, logger zerolog.Logger) *Sender {
	return &Sender{
		client: client,
		logger: logger.With().Str("component", "fcm").Logger(),
	}
}

// SendBatch sends msg to every token, splitting the list into multicast calls of
// at most MaxBatchSize tokens. A failed call fails only its own chunk; an error is
// returned only when no chunk could be sent.
func (s *Sender) SendBatch(ctx context.Context, tokens []string, msg push.Message) ([]push.Outcome, error) {
	outcomes := make([]push.Outcome, 0, len(tokens))
	var lastErr error
	sentChunks := 0

	for start := 0; start < len(tokens); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(tokens))
		chunk := tokens[start:end]

		br, err := s.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens: chunk,
			Data:   msg.Data,
			Notification: &messaging.Notification{
				Title: msg.Title,
				Body:  msg.Body,
			},
		})
		if err == nil && len(br.Responses) != len(chunk) {
			err = fmt.Errorf("%w: %d tokens, %d responses", push.ErrOutcomeMismatch, len(chunk), len(br.Responses))
		}
		if err != nil {
			s.logger.Error().Err(err).Int("tokens", len(chunk)).Msg("fcm multicast failed")
			lastErr = err
			for range chunk {
				outcomes = append(outcomes, push.Outcome{Error: err.Error()})
			}
			continue
		}

		sentChunks++
		for _, resp := range br.Responses {
			outcomes = append(outcomes, toOutcome(resp))
		}
	}

	if sentChunks == 0 && lastErr != nil {
		return nil, fmt.Errorf("fcm send failed: %w", lastErr)
	}
	return outcomes, nil
}

func toOutcome(resp *messaging.SendResponse) push.Outcome {
	if resp.Success {
		return push.Outcome{Success: true, MessageID: resp.MessageID}
	}

	// Only errors about the token itself condemn the device. INVALID_ARGUMENT is
	// also returned for payload problems, so it is not one of them.
	out := push.Outcome{Error: "unknown error"}
	if resp.Error != nil {
		out.Error = resp.Error.Error()
		out.Permanent = messaging.IsUnregistered(resp.Error) ||
			messaging.IsSenderIDMismatch(resp.Error)
	}
	return out
}
