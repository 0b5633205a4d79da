package notification

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pushgate/pushgate/internal/api/models"
	"github.com/pushgate/pushgate/internal/device"
	"github.com/pushgate/pushgate/internal/push"
	"github.com/pushgate/pushgate/internal/topic"
)

// Validation and listing constants.
const (
	MaxTitleLength   = 256
	MaxBodyLength    = 4096
	MaxDataEntries   = 64
	MaxUserIDs       = 1000
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// RecordTimeout bounds the writes that follow a dispatch attempt. They run
// detached from the caller's context so a notification never stays in
// processing because the request or sweep deadline expired mid-send.
const RecordTimeout = 10 * time.Second

// TopicLookup finds topics of an application. The topic service satisfies it.
type TopicLookup interface {
	Get(ctx context.Context, appID, topicID string) (*topic.Topic, error)
}

// DeviceDeactivator marks devices inactive. The device service satisfies it.
type DeviceDeactivator interface {
	Deactivate(ctx context.Context, appID string, deviceIDs []string) error
}

// EngineConfig holds configuration for the dispatch engine.
type EngineConfig struct {
	Repository Repository
	Targets    *TargetResolver
	Topics     TopicLookup
	Devices    DeviceDeactivator
	Senders    *push.Registry
	Logger     zerolog.Logger

	// Clock overrides time.Now. Tests only.
	Clock func() time.Time
}

// Engine owns the notification lifecycle: creation, dispatch and cancellation.
// Every status change is a compare-and-swap, so at most one dispatch of a
// notification is ever in flight.
type Engine struct {
	repo    Repository
	targets *TargetResolver
	topics  TopicLookup
	devices DeviceDeactivator
	senders *push.Registry
	logger  zerolog.Logger
	now     func() time.Time
	metrics *metrics
}

// NewEngine creates a new dispatch engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	m, err := newMetrics()
	if err != nil {
		return nil, fmt.Errorf("creating dispatch metrics: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Senders == nil {
		cfg.Senders = push.NewRegistry()
	}

	return &Engine{
		repo:    cfg.Repository,
		targets: cfg.Targets,
		topics:  cfg.Topics,
		devices: cfg.Devices,
		senders: cfg.Senders,
		logger:  cfg.Logger,
		now:     cfg.Clock,
		metrics: m,
	}, nil
}

// Create stores a notification and, unless it is scheduled in the future,
// dispatches it immediately.
func (e *Engine) Create(ctx context.Context, appID string, input CreateInput) (*Result, error) {
	if fieldErrors := validateCreateInput(input); len(fieldErrors) > 0 {
		return nil, &ValidationError{Errors: fieldErrors}
	}

	sel := Selector{TopicID: input.TopicID, UserIDs: uniqueStrings(input.UserIDs)}
	if sel.TopicID != nil {
		if _, err := e.topics.Get(ctx, appID, *sel.TopicID); err != nil {
			return nil, err
		}
	}

	now := e.now()
	scheduled := input.ScheduleAt != nil && input.ScheduleAt.After(now)

	n := &Notification{
		ID:         "ntf_" + uuid.New().String(),
		AppID:      appID,
		Title:      input.Title,
		Body:       input.Body,
		Data:       input.Data,
		TopicID:    sel.TopicID,
		UserIDs:    sel.UserIDs,
		ScheduleAt: input.ScheduleAt,
		Status:     StatusProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if scheduled {
		n.Status = StatusPending
	}

	if err := e.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("storing notification: %w", err)
	}

	if scheduled {
		e.metrics.recordOutcome(ctx, ResultScheduled)
		e.logger.Info().
			Str("app_id", appID).
			Str("notification_id", n.ID).
			Time("schedule_at", *n.ScheduleAt).
			Msg("notification scheduled")
		return &Result{ID: n.ID, Status: ResultScheduled}, nil
	}

	status, err := e.dispatch(ctx, n, false)
	if err != nil {
		return nil, err
	}
	return &Result{ID: n.ID, Status: string(status)}, nil
}

// DispatchScheduled claims a due notification and dispatches it. Returns
// ErrNotAdmitted when the notification is no longer pending, for example because
// it was cancelled or another worker claimed it.
func (e *Engine) DispatchScheduled(ctx context.Context, n *Notification) (Status, error) {
	ok, err := e.repo.TransitionStatus(ctx, n.ID, StatusPending, StatusProcessing)
	if err != nil {
		return "", fmt.Errorf("claiming notification: %w", err)
	}
	if !ok {
		return "", ErrNotAdmitted
	}
	return e.dispatch(ctx, n, true)
}

// Due returns pending notifications whose schedule time has passed.
func (e *Engine) Due(ctx context.Context, limit int) ([]*Notification, error) {
	return e.repo.ListDue(ctx, e.now(), limit)
}

// Cancel cancels a pending notification.
func (e *Engine) Cancel(ctx context.Context, appID, id string) (*Notification, error) {
	n, err := e.repo.Get(ctx, appID, id)
	if err != nil {
		return nil, err
	}

	ok, err := e.repo.TransitionStatus(ctx, n.ID, StatusPending, StatusCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition
	}

	e.metrics.recordOutcome(ctx, string(StatusCancelled))
	e.logger.Info().Str("app_id", appID).Str("notification_id", id).Msg("notification cancelled")

	n.Status = StatusCancelled
	n.UpdatedAt = e.now()
	return n, nil
}

// Get retrieves a notification of the application with its deliveries.
func (e *Engine) Get(ctx context.Context, appID, id string) (*Notification, error) {
	n, err := e.repo.Get(ctx, appID, id)
	if err != nil {
		return nil, err
	}

	deliveries, err := e.repo.ListDeliveries(ctx, n.ID)
	if err != nil {
		return nil, fmt.Errorf("listing deliveries: %w", err)
	}
	n.Deliveries = deliveries
	return n, nil
}

// List retrieves the newest notifications of the application.
func (e *Engine) List(ctx context.Context, appID string, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return e.repo.List(ctx, appID, limit)
}

// DeleteByTopic removes the notifications addressed to a topic.
func (e *Engine) DeleteByTopic(ctx context.Context, appID, topicID string) (int64, error) {
	return e.repo.DeleteByTopic(ctx, appID, topicID)
}

// dispatch sends a notification already in processing. When resolution fails
// before anything was sent, the notification is released back to pending so the
// next sweep retries it. Once providers were called it always ends in sent, with
// failed deliveries for every device that could not be reached.
func (e *Engine) dispatch(ctx context.Context, n *Notification, claimed bool) (Status, error) {
	start := time.Now()
	log := e.logger.With().Str("app_id", n.AppID).Str("notification_id", n.ID).Bool("scheduled", claimed).Logger()

	targets, err := e.targets.Resolve(ctx, n.AppID, n.Selector())
	if err != nil {
		e.release(ctx, n.ID, log)
		return "", fmt.Errorf("resolving targets: %w", err)
	}

	if len(targets) == 0 {
		if err := e.finish(ctx, n.ID, StatusNoTargets); err != nil {
			return "", err
		}
		e.metrics.recordOutcome(ctx, string(StatusNoTargets))
		e.metrics.recordDispatch(ctx, start, string(StatusNoTargets))
		log.Info().Msg("notification has no targets")
		return StatusNoTargets, nil
	}

	msg := push.Message{Title: n.Title, Body: n.Body, Data: n.Data}
	partitions := partitionByProvider(targets)

	var (
		mu        sync.Mutex
		permanent []string
		sent      int
		failed    int
	)

	var g errgroup.Group
	for _, p := range partitions {
		g.Go(func() error {
			deliveries, rejected := e.sendPartition(ctx, n.ID, p, msg)

			ok := 0
			for _, d := range deliveries {
				if d.Status == DeliverySent {
					ok++
				}
			}
			e.metrics.recordDeliveries(ctx, p.provider, DeliverySent, ok)
			e.metrics.recordDeliveries(ctx, p.provider, DeliveryFailed, len(deliveries)-ok)

			mu.Lock()
			permanent = append(permanent, rejected...)
			sent += ok
			failed += len(deliveries) - ok
			mu.Unlock()

			rctx, cancel := detached(ctx)
			defer cancel()
			if err := e.repo.CreateDeliveries(rctx, deliveries); err != nil {
				return fmt.Errorf("storing %s deliveries: %w", p.provider, err)
			}
			return nil
		})
	}
	recordErr := g.Wait()
	if recordErr != nil {
		log.Error().Err(recordErr).Msg("failed to record deliveries")
	}

	if len(permanent) > 0 && e.devices != nil {
		rctx, cancel := detached(ctx)
		err := e.devices.Deactivate(rctx, n.AppID, permanent)
		cancel()
		if err != nil {
			log.Warn().Err(err).Int("count", len(permanent)).Msg("failed to deactivate rejected devices")
		}
	}

	// Providers were called, so a retry would duplicate pushes. The
	// notification ends in sent even when its deliveries could not be stored.
	if err := e.finish(ctx, n.ID, StatusSent); err != nil {
		return "", err
	}

	e.metrics.recordOutcome(ctx, string(StatusSent))
	e.metrics.recordDispatch(ctx, start, string(StatusSent))
	if recordErr != nil {
		return StatusSent, recordErr
	}
	log.Info().
		Int("targets", len(targets)).
		Int("delivered", sent).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("notification dispatched")
	return StatusSent, nil
}

// detached returns a context that keeps the values of ctx but survives its
// cancellation, bounded by RecordTimeout.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), RecordTimeout)
}

// sendPartition calls one provider for its devices and returns one delivery per
// device plus the IDs of devices whose tokens were permanently rejected.
func (e *Engine) sendPartition(ctx context.Context, notificationID string, p partition, msg push.Message) ([]*Delivery, []string) {
	now := e.now()
	deliveries := make([]*Delivery, len(p.devices))
	for i, d := range p.devices {
		deliveries[i] = &Delivery{
			ID:             "dlv_" + uuid.New().String(),
			NotificationID: notificationID,
			DeviceID:       d.ID,
			Provider:       p.provider,
			Status:         DeliveryFailed,
			CreatedAt:      now,
		}
	}

	failAll := func(err error) {
		msg := err.Error()
		for _, d := range deliveries {
			d.Error = &msg
		}
	}

	sender, err := e.senders.Get(p.provider)
	if err != nil {
		failAll(err)
		return deliveries, nil
	}

	tokens := make([]string, len(p.devices))
	for i, d := range p.devices {
		tokens[i] = d.PushToken
	}

	outcomes, err := sender.SendBatch(ctx, tokens, msg)
	if err == nil {
		err = push.CheckOutcomes(tokens, outcomes)
	}
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("notification_id", notificationID).
			Str("provider", p.provider).
			Int("devices", len(p.devices)).
			Msg("provider batch failed")
		failAll(err)
		return deliveries, nil
	}

	var rejected []string
	for i, o := range outcomes {
		d := deliveries[i]
		if o.Success {
			d.Status = DeliverySent
		}
		if o.Error != "" {
			errMsg := o.Error
			d.Error = &errMsg
		}
		if o.MessageID != "" {
			id := o.MessageID
			d.ProviderMessageID = &id
		}
		if !o.Success && o.Permanent {
			rejected = append(rejected, p.devices[i].ID)
		}
	}
	return deliveries, rejected
}

func (e *Engine) finish(ctx context.Context, id string, to Status) error {
	ctx, cancel := detached(ctx)
	defer cancel()

	ok, err := e.repo.TransitionStatus(ctx, id, StatusProcessing, to)
	if err != nil {
		return fmt.Errorf("marking notification %s: %w", to, err)
	}
	if !ok {
		return fmt.Errorf("marking notification %s: %w", to, ErrInvalidTransition)
	}
	return nil
}

func (e *Engine) release(ctx context.Context, id string, log zerolog.Logger) {
	ctx, cancel := detached(ctx)
	defer cancel()

	if _, err := e.repo.TransitionStatus(ctx, id, StatusProcessing, StatusPending); err != nil {
		log.Warn().Err(err).Msg("failed to release notification for retry")
	}
}

type partition struct {
	provider string
	devices  []*device.Device
}

// partitionByProvider groups devices by provider, in provider name order.
func partitionByProvider(devices []*device.Device) []partition {
	groups := make(map[string][]*device.Device)
	for _, d := range devices {
		groups[string(d.Provider)] = append(groups[string(d.Provider)], d)
	}

	providers := make([]string, 0, len(groups))
	for p := range groups {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	partitions := make([]partition, 0, len(providers))
	for _, p := range providers {
		partitions = append(partitions, partition{provider: p, devices: groups[p]})
	}
	return partitions
}

func validateCreateInput(input CreateInput) []models.FieldError {
	var errs []models.FieldError

	if input.Title == "" {
		errs = append(errs, models.FieldError{Field: "title", Message: "is required"})
	} else if len(input.Title) > MaxTitleLength {
		errs = append(errs, models.FieldError{Field: "title", Message: fmt.Sprintf("must be at most %d characters", MaxTitleLength)})
	}

	if input.Body == "" {
		errs = append(errs, models.FieldError{Field: "body", Message: "is required"})
	} else if len(input.Body) > MaxBodyLength {
		errs = append(errs, models.FieldError{Field: "body", Message: fmt.Sprintf("must be at most %d characters", MaxBodyLength)})
	}

	if len(input.Data) > MaxDataEntries {
		errs = append(errs, models.FieldError{Field: "data", Message: fmt.Sprintf("must have at most %d entries", MaxDataEntries)})
	}

	hasTopic := input.TopicID != nil
	switch {
	case hasTopic && len(input.UserIDs) > 0:
		errs = append(errs, models.FieldError{Field: "topicId", Message: "cannot be combined with userIds"})
	case hasTopic && *input.TopicID == "":
		errs = append(errs, models.FieldError{Field: "topicId", Message: "must not be empty"})
	case !hasTopic && len(input.UserIDs) == 0:
		errs = append(errs, models.FieldError{Field: "userIds", Message: "either topicId or userIds is required"})
	case len(input.UserIDs) > MaxUserIDs:
		errs = append(errs, models.FieldError{Field: "userIds", Message: fmt.Sprintf("must have at most %d entries", MaxUserIDs)})
	}

	for i, id := range input.UserIDs {
		if id == "" {
			errs = append(errs, models.FieldError{Field: fmt.Sprintf("userIds[%d]", i), Message: "must not be empty"})
		}
	}

	return errs
}
