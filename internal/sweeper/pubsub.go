package sweeper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Job types accepted on the trigger subscription.
const (
	JobSweep       = "sweep"
	JobHealthCheck = "health_check"
)

// TriggerMessage asks the worker to run a job outside its own schedule.
type TriggerMessage struct {
	JobType string `json:"job_type"`
}

// PubSubTrigger runs sweeps on demand from a Pub/Sub subscription, so an external
// scheduler can force a sweep.
type PubSubTrigger struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	handler          *TriggerHandler
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub trigger.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Sweeper          *Sweeper
	Logger           zerolog.Logger
}

// NewPubSubTrigger creates a new Pub/Sub trigger.
func NewPubSubTrigger(ctx context.Context, cfg PubSubConfig) (*PubSubTrigger, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Sweeps are serialized by the lease; a small window is enough.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 2
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubTrigger{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		handler:          NewTriggerHandler(cfg.Sweeper, cfg.Logger),
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages. It blocks until ctx is cancelled.
func (t *PubSubTrigger) Start(ctx context.Context) error {
	t.logger.Info().
		Str("subscription", t.subscriptionName).
		Msg("starting pubsub trigger")

	return t.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		logger := t.logger.With().
			Str("message_id", msg.ID).
			Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
			Logger()

		if err := t.handler.Handle(ctx, msg.Data); err != nil {
			logger.Error().Err(err).Msg("job failed")
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Close closes the Pub/Sub client.
func (t *PubSubTrigger) Close() error {
	return t.client.Close()
}

// TriggerHandler executes trigger messages against a sweeper.
type TriggerHandler struct {
	sweeper *Sweeper
	logger  zerolog.Logger
}

// NewTriggerHandler creates a handler for trigger message payloads.
func NewTriggerHandler(s *Sweeper, logger zerolog.Logger) *TriggerHandler {
	return &TriggerHandler{sweeper: s, logger: logger}
}

// Handle runs the job described by data. Malformed payloads are errors; unknown
// job types are logged and dropped so they are not redelivered.
func (h *TriggerHandler) Handle(ctx context.Context, data []byte) error {
	startTime := time.Now()

	var msg TriggerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("parsing trigger message: %w", err)
	}

	var err error
	switch msg.JobType {
	case JobSweep:
		err = h.handleSweep(ctx)
	case JobHealthCheck:
		err = h.handleHealthCheck(ctx)
	default:
		h.logger.Warn().Str("job_type", msg.JobType).Msg("unknown job type")
		return nil
	}
	if err != nil {
		return err
	}

	h.logger.Info().
		Str("job_type", msg.JobType).
		Dur("duration", time.Since(startTime)).
		Msg("job completed successfully")
	return nil
}

func (h *TriggerHandler) handleSweep(ctx context.Context) error {
	result, err := h.sweeper.RunOnce(ctx)
	if err != nil {
		return err
	}
	if result.Failed > 0 && result.Failed >= result.Sent+result.NoTargets {
		return fmt.Errorf("too many dispatch failures: %d/%d", result.Failed, result.Due)
	}
	return nil
}

// handleHealthCheck verifies the store is reachable without dispatching anything.
func (h *TriggerHandler) handleHealthCheck(ctx context.Context) error {
	h.logger.Debug().Msg("running health check")

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := h.sweeper.dispatcher.Due(checkCtx, 1); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	h.logger.Debug().Msg("health check passed")
	return nil
}
