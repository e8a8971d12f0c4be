package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/pressdeck/api/internal/services"
)

// PubSubReminderPublisher publishes cart-recovery reminder jobs to a Pub/Sub topic.
type PubSubReminderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubReminderPublisher constructs a Pub/Sub backed reminder publisher.
func NewPubSubReminderPublisher(topic *pubsub.Topic) (*PubSubReminderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub reminder publisher: topic is required")
	}
	return &PubSubReminderPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishReminder enqueues a reminder job message on the configured topic.
// The (cartId, stage) attributes let the consumer deduplicate redeliveries.
func (p *PubSubReminderPublisher) PublishReminder(ctx context.Context, message services.ReminderJobMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub reminder publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal reminder job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "cartId", message.CartID)
	setAttr(attrs, "userId", message.UserID)
	attrs["stage"] = strconv.Itoa(message.Stage)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish reminder job: %w", err)
	}
	return id, nil
}

// PubSubNotificationPublisher publishes checkout outcome notifications.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notification publisher.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishNotification enqueues a checkout notification on the configured topic.
func (p *PubSubNotificationPublisher) PublishNotification(ctx context.Context, message services.NotificationMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub notification publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", message.Type)
	setAttr(attrs, "userId", message.UserID)
	setAttr(attrs, "sessionId", message.SessionID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish notification: %w", err)
	}
	return id, nil
}

// PubSubCustomerSync publishes customer-profile sync jobs for the downstream
// customer record pipeline.
type PubSubCustomerSync struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubCustomerSync constructs a Pub/Sub backed customer sync.
func NewPubSubCustomerSync(topic *pubsub.Topic) (*PubSubCustomerSync, error) {
	if topic == nil {
		return nil, errors.New("pubsub customer sync: topic is required")
	}
	return &PubSubCustomerSync{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// SyncCustomer enqueues a customer-profile update on the configured topic.
func (p *PubSubCustomerSync) SyncCustomer(ctx context.Context, message services.CustomerSyncMessage) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub customer sync: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return fmt.Errorf("marshal customer sync: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "userId", message.UserID)
	setAttr(attrs, "customerId", message.CustomerID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish customer sync: %w", err)
	}
	return nil
}

var (
	_ services.ReminderPublisher     = (*PubSubReminderPublisher)(nil)
	_ services.NotificationPublisher = (*PubSubNotificationPublisher)(nil)
	_ services.CustomerSync          = (*PubSubCustomerSync)(nil)
)

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
