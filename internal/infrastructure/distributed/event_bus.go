package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"heartline/internal/core/domain"
	"heartline/pkg/batch"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	EventCallRinging     EventType = "call.ringing"
	EventCallAnswered    EventType = "call.answered"
	EventCallRejected    EventType = "call.rejected"
	EventCallMissed      EventType = "call.missed"
	EventCallEnded       EventType = "call.ended"
	EventCallFailed      EventType = "call.failed"
	EventQualityDegraded EventType = "quality.degraded"
	EventQualityBatch    EventType = "quality.batch"
)

// Event represents a distributed event
type Event struct {
	Type       EventType       `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	CallID     domain.CallID   `json:"call_id,omitempty"`
	UserID     domain.UserID   `json:"user_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// qualityObservation is one entry in a quality.batch payload.
type qualityObservation struct {
	CallID domain.CallID        `json:"call_id"`
	Sample domain.QualitySample `json:"sample"`
	At     time.Time            `json:"at"`
}

// Execute satisfies batch.Operation. Observations are published together by
// the batch processor, never individually, so this is a no-op.
func (qualityObservation) Execute(ctx context.Context) error { return nil }

// EventBus fans call lifecycle transitions and quality observations out to
// other instances over Redis pub/sub. Quality samples arrive once per
// monitoring interval per call, so they are batched before publishing.
type EventBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
	channels   []string
	quality    *batch.Batcher
}

// NewEventBus creates a new event bus
func NewEventBus(
	client *redis.Client,
	instanceID string,
	logger *zap.SugaredLogger,
) *EventBus {
	eb := &EventBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
		channels:   []string{"heartline:events"},
	}
	eb.quality = batch.NewBatcher(32, 10*time.Second, qualityProcessor{eb})
	return eb
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := eb.channels[0]
	if err := eb.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"call_id", event.CallID,
		"user_id", event.UserID,
	)

	return nil
}

// Subscribe subscribes to events and calls handler for each event
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = eb.client.Subscribe(ctx, eb.channels...)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			// Skip events from this instance
			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

// ObserveStateChange publishes the event matching a call state transition.
// Non-terminal transitions other than ringing stay local.
func (eb *EventBus) ObserveStateChange(call *domain.Call) {
	var eventType EventType
	switch call.Status {
	case domain.CallStatusRinging:
		eventType = EventCallRinging
	case domain.CallStatusActive:
		eventType = EventCallAnswered
	case domain.CallStatusRejected:
		eventType = EventCallRejected
	case domain.CallStatusMissed:
		eventType = EventCallMissed
	case domain.CallStatusEnded:
		eventType = EventCallEnded
	case domain.CallStatusFailed:
		eventType = EventCallFailed
	default:
		return
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"caller_id":   call.CallerID,
		"receiver_id": call.ReceiverID,
		"call_type":   call.Type,
	})

	if err := eb.Publish(context.Background(), &Event{
		Type:    eventType,
		CallID:  call.ID,
		UserID:  call.CallerID,
		Payload: payload,
	}); err != nil {
		eb.logger.Warnw("failed to publish call event",
			"type", eventType,
			"call_id", call.ID,
			"error", err,
		)
	}
}

// ObserveQuality enqueues a quality observation for batched publishing
func (eb *EventBus) ObserveQuality(callID domain.CallID, sample domain.QualitySample) {
	_ = eb.quality.Add(qualityObservation{
		CallID: callID,
		Sample: sample,
		At:     time.Now(),
	})
}

// qualityProcessor publishes accumulated quality observations as one event
type qualityProcessor struct {
	eb *EventBus
}

func (p qualityProcessor) ProcessBatch(ctx context.Context, operations []batch.Operation) error {
	observations := make([]qualityObservation, 0, len(operations))
	for _, op := range operations {
		if obs, ok := op.(qualityObservation); ok {
			observations = append(observations, obs)
		}
	}
	if len(observations) == 0 {
		return nil
	}

	payload, err := json.Marshal(observations)
	if err != nil {
		return fmt.Errorf("failed to marshal quality batch: %w", err)
	}

	return p.eb.Publish(ctx, &Event{
		Type:    EventQualityBatch,
		Payload: payload,
	})
}

// Close closes the event bus
func (eb *EventBus) Close() error {
	eb.quality.Stop()
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
