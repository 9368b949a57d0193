// Package events publishes post-commit domain notifications over watermill.
package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"shuttle/internal/utils"
)

const (
	TopicBookingCreated   = "booking.created"
	TopicBookingCancelled = "booking.cancelled"
	TopicBookingUpdated   = "booking.updated"
	TopicJourneyDeleted   = "journey.deleted"
	TopicDriverAssigned   = "driver.assigned"
	TopicDriverUnassigned = "driver.unassigned"
	TopicUserRoleChanged  = "user.role_changed"
	TopicUserDeleted      = "user.deleted"
	metadataRequestID     = "request_id"
)

var AllTopics = []string{
	TopicBookingCreated,
	TopicBookingCancelled,
	TopicBookingUpdated,
	TopicJourneyDeleted,
	TopicDriverAssigned,
	TopicDriverUnassigned,
	TopicUserRoleChanged,
	TopicUserDeleted,
}

// Publisher is what services depend on. Publishing never fails the caller:
// by the time an event is sent the change is already committed.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

type Nop struct{}

func (Nop) Publish(context.Context, string, any) {}

type Bus struct {
	publisher message.Publisher
	log       *zap.Logger
}

func NewBus(publisher message.Publisher, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{publisher: publisher, log: log}
}

// NewGoChannel is the in-process pub/sub used by the server.
func NewGoChannel(log *zap.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, NewLoggerAdapter(log))
}

func (b *Bus) Publish(ctx context.Context, topic string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		utils.LogEvent(ctx, b.log, "events", "marshal", "failed to encode event", zap.String("topic", topic), zap.Error(err))
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	if id := utils.RequestIDFrom(ctx); id != "" {
		msg.Metadata.Set(metadataRequestID, id)
	}
	if err := b.publisher.Publish(topic, msg); err != nil {
		utils.LogEvent(ctx, b.log, "events", "publish", "failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
}

type BookingPayload struct {
	BookingID string `json:"booking_id"`
	JourneyID string `json:"journey_id"`
	UserID    string `json:"user_id"`
	Seats     int    `json:"seats"`
}

type JourneyDeletedPayload struct {
	JourneyID       string `json:"journey_id"`
	BookingsRemoved int    `json:"bookings_removed"`
	SeatsReleased   int    `json:"seats_released"`
}

type DriverPayload struct {
	JourneyID string `json:"journey_id"`
	DriverID  string `json:"driver_id,omitempty"`
}

type RoleChangedPayload struct {
	UserID             string   `json:"user_id"`
	From               string   `json:"from"`
	To                 string   `json:"to"`
	BookingsRemoved    int      `json:"bookings_removed"`
	JourneysUnassigned []string `json:"journeys_unassigned"`
}

type UserDeletedPayload struct {
	UserID             string   `json:"user_id"`
	BookingsRemoved    int      `json:"bookings_removed"`
	JourneysUnassigned []string `json:"journeys_unassigned"`
}
