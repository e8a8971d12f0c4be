package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pressdeck/api/internal/services"
)

func newTestTopic(t *testing.T, name string) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, name)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return srv, topic
}

func TestPubSubReminderPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, "cart-recovery-reminders")

	publisher, err := NewPubSubReminderPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubReminderPublisher: %v", err)
	}

	msg := services.ReminderJobMessage{
		CartID:      "01HZXK3V5T",
		UserID:      "user-1",
		Email:       "buyer@example.com",
		Stage:       1,
		RecoveryURL: "https://app.pressdeck.example/recover?token=abc",
		FailureCode: "card_declined",
	}

	if _, err := publisher.PublishReminder(ctx, msg); err != nil {
		t.Fatalf("PublishReminder: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.ReminderJobMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.CartID != msg.CartID || payload.Stage != msg.Stage {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["stage"]; attr != "1" {
		t.Fatalf("expected stage attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["cartId"]; attr != "01HZXK3V5T" {
		t.Fatalf("expected cartId attribute, got %q", attr)
	}
}

func TestPubSubNotificationPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, "checkout-notifications")

	publisher, err := NewPubSubNotificationPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubNotificationPublisher: %v", err)
	}

	msg := services.NotificationMessage{
		Type:        "checkout.paid",
		UserID:      "user-1",
		SessionID:   "cs_test_1",
		OrderNumber: "01HZXK3V5T",
		OrderIDs:    []string{"cs_test_1_outlet-1"},
	}

	if _, err := publisher.PublishNotification(ctx, msg); err != nil {
		t.Fatalf("PublishNotification: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if attr := messages[0].Attributes["type"]; attr != "checkout.paid" {
		t.Fatalf("expected type attribute, got %q", attr)
	}
}

func TestPubSubCustomerSyncPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, "customer-profile-sync")

	sync, err := NewPubSubCustomerSync(topic)
	if err != nil {
		t.Fatalf("NewPubSubCustomerSync: %v", err)
	}

	msg := services.CustomerSyncMessage{
		UserID:    "user-1",
		Email:     "buyer@example.com",
		SessionID: "cs_test_1",
	}

	if err := sync.SyncCustomer(ctx, msg); err != nil {
		t.Fatalf("SyncCustomer: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.CustomerSyncMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.UserID != msg.UserID || payload.Email != msg.Email {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["userId"]; attr != "user-1" {
		t.Fatalf("expected userId attribute, got %q", attr)
	}
}
