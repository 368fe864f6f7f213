// Package notify delivers outbound ride notifications. Delivery is
// fire-and-forget: a failed or slow notification is logged and dropped,
// never surfaced to the action that triggered it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/ecocommute/internal/models"
	"github.com/example/ecocommute/internal/observability"
)

// Message is the payload handed to a notifier.
type Message struct {
	RideID    string `json:"ride_id"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// WebhookNotifier posts messages to an HTTP endpoint (a mail relay or
// messaging bridge). Errors are swallowed after logging.
type WebhookNotifier struct {
	Endpoint string
	Client   *http.Client
	Logger   *slog.Logger
}

func NewWebhookNotifier(endpoint string, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 3 * time.Second},
		Logger:   logger,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, msg Message) {
	b, _ := json.Marshal(msg)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Endpoint, bytes.NewReader(b))
	if err != nil {
		observability.NotificationsTotal.WithLabelValues("error").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.Client.Do(req)
	if err != nil {
		observability.NotificationsTotal.WithLabelValues("error").Inc()
		n.Logger.Warn("notification delivery failed", "ride_id", msg.RideID, "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		observability.NotificationsTotal.WithLabelValues("error").Inc()
		n.Logger.Warn("notification rejected", "ride_id", msg.RideID, "status", resp.StatusCode)
		return
	}
	observability.NotificationsTotal.WithLabelValues("ok").Inc()
}

// LogNotifier is the fallback when no endpoint is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, msg Message) {
	n.Logger.Info("notification", "ride_id", msg.RideID, "recipient", msg.Recipient, "subject", msg.Subject)
	observability.NotificationsTotal.WithLabelValues("ok").Inc()
}

// JoinMessage renders the driver-facing email sent when a passenger
// joins.
func JoinMessage(ride *models.Ride, driverEmail, passengerEmail, pickupPoint, pickupNotes string) Message {
	body := fmt.Sprintf(
		"Hello %s,\n\nA passenger has joined your ride.\n\nRoute: %s -> %s\nDate: %s %s\n\nPassenger: %s\nPickup point: %s\n",
		driverEmail, ride.From, ride.To, ride.RideDate, ride.RideTime, passengerEmail, pickupPoint)
	if pickupNotes != "" {
		body += "Notes: " + pickupNotes + "\n"
	}
	body += fmt.Sprintf("\nSeats available: %d/%d\n", ride.SeatsAvailable, ride.TotalSeats)
	return Message{
		RideID:    ride.ID,
		Recipient: driverEmail,
		Subject:   fmt.Sprintf("New passenger joined your ride - %s to %s", ride.From, ride.To),
		Body:      body,
	}
}
