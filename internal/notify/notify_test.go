package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/ecocommute/internal/models"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestJoinMessage(t *testing.T) {
	ride := &models.Ride{
		ID: "r1", From: "Indiranagar", To: "Whitefield",
		RideDate: "2026-09-15", RideTime: "08:30",
		TotalSeats: 3, SeatsAvailable: 1,
	}
	msg := JoinMessage(ride, "driver@example.com", "rider@example.com", "Domlur signal", "blue backpack")
	if msg.Recipient != "driver@example.com" || msg.RideID != "r1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	for _, want := range []string{"rider@example.com", "Domlur signal", "blue backpack", "1/3"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}
}

func TestJoinMessage_NoNotes(t *testing.T) {
	ride := &models.Ride{ID: "r1", From: "A", To: "B"}
	msg := JoinMessage(ride, "d@example.com", "p@example.com", "gate 2", "")
	if strings.Contains(msg.Body, "Notes:") {
		t.Fatalf("empty notes must not render:\n%s", msg.Body)
	}
}

func TestWebhookNotifier_Delivers(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, testLogger())
	n.Notify(context.Background(), Message{RideID: "r1", Recipient: "d@example.com", Subject: "hi"})
	if got.RideID != "r1" {
		t.Fatalf("webhook did not receive the message: %+v", got)
	}
}

func TestWebhookNotifier_SwallowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, testLogger())
	// must not panic or surface the failure
	n.Notify(context.Background(), Message{RideID: "r1"})
}
