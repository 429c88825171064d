package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubnub "github.com/pubnub/go/v7"

	"github.com/artisan-market/api/internal/services"
)

const defaultChannelPrefix = "user-"

// ChannelPublisher publishes a message to a realtime channel.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, message map[string]any) error
}

// PubNubChannelPublisher adapts the PubNub SDK to ChannelPublisher.
type PubNubChannelPublisher struct {
	pn *pubnub.PubNub
}

// NewPubNubChannelPublisher builds a publisher from PubNub keys.
func NewPubNubChannelPublisher(userID, publishKey, subscribeKey, secretKey string) (*PubNubChannelPublisher, error) {
	if strings.TrimSpace(publishKey) == "" || strings.TrimSpace(subscribeKey) == "" {
		return nil, errors.New("pubnub publisher: publish and subscribe keys are required")
	}
	if strings.TrimSpace(userID) == "" {
		userID = "artisan-api"
	}
	cfg := pubnub.NewConfigWithUserId(pubnub.UserId(userID))
	cfg.PublishKey = publishKey
	cfg.SubscribeKey = subscribeKey
	cfg.SecretKey = secretKey
	return &PubNubChannelPublisher{pn: pubnub.NewPubNub(cfg)}, nil
}

// Publish implements ChannelPublisher.
func (p *PubNubChannelPublisher) Publish(ctx context.Context, channel string, message map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := p.pn.Publish().Channel(channel).Message(message).Execute(); err != nil {
		return fmt.Errorf("pubnub publish %s: %w", channel, err)
	}
	return nil
}

// RealtimeNotifier pushes notifications to the recipient's realtime channel so open
// storefront sessions see order and ticket updates without polling.
type RealtimeNotifier struct {
	publisher ChannelPublisher
	prefix    string
}

// NewRealtimeNotifier constructs the realtime notification sink.
func NewRealtimeNotifier(publisher ChannelPublisher, channelPrefix string) (*RealtimeNotifier, error) {
	if publisher == nil {
		return nil, errors.New("realtime notifier: publisher is required")
	}
	if strings.TrimSpace(channelPrefix) == "" {
		channelPrefix = defaultChannelPrefix
	}
	return &RealtimeNotifier{publisher: publisher, prefix: channelPrefix}, nil
}

// Name implements services.NotificationSink.
func (n *RealtimeNotifier) Name() string { return "pubnub" }

// Send implements services.NotificationSink. Notifications without a recipient are skipped.
func (n *RealtimeNotifier) Send(ctx context.Context, notification services.Notification) error {
	recipient := strings.TrimSpace(notification.RecipientID)
	if recipient == "" {
		return nil
	}
	message := map[string]any{
		"type":       notification.Type,
		"occurredAt": notification.OccurredAt,
	}
	if notification.OrderID != "" {
		message["orderId"] = notification.OrderID
	}
	if notification.TicketID != "" {
		message["ticketId"] = notification.TicketID
	}
	if len(notification.Data) > 0 {
		message["data"] = notification.Data
	}
	return n.publisher.Publish(ctx, n.prefix+recipient, message)
}
