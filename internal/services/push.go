package services

import (
	"context"
	"fmt"

	"wesal-sync-backend/internal/metrics"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
	"github.com/sideshow/apns2/payload"
)

// Notification is an alert for a partner's device
type Notification struct {
	Title string
	Body  string
	Data  map[string]any
}

// Notifier delivers partner notifications
type Notifier interface {
	Notify(ctx context.Context, deviceToken string, n Notification) error
}

// NoopNotifier drops every notification
type NoopNotifier struct{}

func (NoopNotifier) Notify(ctx context.Context, deviceToken string, n Notification) error {
	metrics.PushNotifications.WithLabelValues("disabled").Inc()
	return nil
}

// APNsNotifier sends alerts through Apple Push Notification service
type APNsNotifier struct {
	client *apns2.Client
	topic  string
}

// NewAPNsNotifier loads a .p12 certificate and creates a notifier for topic
// (the app bundle id).
func NewAPNsNotifier(certPath, certPassword, topic string, production bool) (*APNsNotifier, error) {
	cert, err := certificate.FromP12File(certPath, certPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to load apns certificate: %w", err)
	}

	client := apns2.NewClient(cert)
	if production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	return &APNsNotifier{client: client, topic: topic}, nil
}

func (a *APNsNotifier) Notify(ctx context.Context, deviceToken string, n Notification) error {
	p := payload.NewPayload().AlertTitle(n.Title).AlertBody(n.Body).Sound("default")
	for k, v := range n.Data {
		p = p.Custom(k, v)
	}

	res, err := a.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       a.topic,
		Payload:     p,
	})
	if err != nil {
		metrics.PushNotifications.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to push notification: %w", err)
	}
	if !res.Sent() {
		metrics.PushNotifications.WithLabelValues("rejected").Inc()
		return fmt.Errorf("push rejected: %d %s", res.StatusCode, res.Reason)
	}

	metrics.PushNotifications.WithLabelValues("sent").Inc()
	log.Debug().Str("apns_id", res.ApnsID).Msg("Push notification sent")
	return nil
}
