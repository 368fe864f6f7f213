package coord

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ecocommute/internal/apperrors"
	"github.com/example/ecocommute/internal/identity"
	"github.com/example/ecocommute/internal/models"
	"github.com/example/ecocommute/internal/notify"
	"github.com/example/ecocommute/internal/storage"
)

type captureNotifier struct {
	ch chan notify.Message
}

func (c *captureNotifier) Notify(_ context.Context, msg notify.Message) { c.ch <- msg }

type fixture struct {
	f     *Facade
	store *storage.MemoryStore
	notes *captureNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	notes := &captureNotifier{ch: make(chan notify.Message, 8)}
	f := New(Options{
		Rides:     store,
		Users:     store,
		Locations: store,
		Verifier:  identity.StubVerifier{},
		Notifier:  notes,
	})
	return &fixture{f: f, store: store, notes: notes}
}

// register creates an account and, when verified is set, walks the stub
// verification flow.
func (fx *fixture) register(t *testing.T, email string, verified bool) *models.User {
	t.Helper()
	u, err := fx.f.CreateAccount(email, "password1", "91 98765 43210")
	if err != nil {
		t.Fatalf("create account %s: %v", email, err)
	}
	if verified {
		ctx := context.Background()
		if _, err := fx.f.StartVerification(ctx, u.ID, "1234 5678 9012", true); err != nil {
			t.Fatalf("start verification: %v", err)
		}
		if _, err := fx.f.CompleteVerification(ctx, u.ID, "123456"); err != nil {
			t.Fatalf("complete verification: %v", err)
		}
	}
	return u
}

func (fx *fixture) createRide(t *testing.T, driverID string) *models.Ride {
	t.Helper()
	ride, err := fx.f.CreateRide(driverID, CreateRideInput{
		From:          "Indiranagar",
		To:            "Whitefield",
		RideDate:      "2026-09-15",
		RideTime:      "08:30",
		VehicleType:   "car_petrol",
		VehicleNumber: "ka01ab1234",
		DistanceKm:    12,
		TotalSeats:    3,
	})
	if err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return ride
}

func TestCreateAccount_Validation(t *testing.T) {
	fx := newFixture(t)
	cases := []struct{ email, password, phone string }{
		{"", "pw", "919876543210"},
		{"not-an-email", "pw", "919876543210"},
		{"a@example.com", "", "919876543210"},
		{"a@example.com", "pw", "12345"},
		{"a@example.com", "pw", "089876543210"},
	}
	for _, c := range cases {
		if _, err := fx.f.CreateAccount(c.email, c.password, c.phone); !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("CreateAccount(%q,%q,%q): expected validation error, got %v", c.email, c.password, c.phone, err)
		}
	}
}

func TestAuthenticate(t *testing.T) {
	fx := newFixture(t)
	u := fx.register(t, "a@example.com", false)

	got, err := fx.f.Authenticate("A@Example.com", "password1")
	if err != nil || got.ID != u.ID {
		t.Fatalf("authenticate: got %v err=%v", got, err)
	}
	if _, err := fx.f.Authenticate("a@example.com", "wrong"); !errors.Is(err, apperrors.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if _, err := fx.f.Authenticate("ghost@example.com", "password1"); !errors.Is(err, apperrors.ErrAuthorization) {
		t.Fatalf("unknown email must fail the same way, got %v", err)
	}
}

func TestAuthenticate_DeactivatedAccount(t *testing.T) {
	fx := newFixture(t)
	u := fx.register(t, "a@example.com", false)
	u.IsActive = false
	if err := fx.store.UpdateUser(u); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := fx.f.Authenticate("a@example.com", "password1"); !errors.Is(err, apperrors.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestCreateRide_RequiresVerifiedIdentity(t *testing.T) {
	fx := newFixture(t)
	u := fx.register(t, "driver@example.com", false)
	_, err := fx.f.CreateRide(u.ID, CreateRideInput{From: "A", To: "B"})
	if !errors.Is(err, apperrors.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestCreateRide_DriverOccupiesASeat(t *testing.T) {
	fx := newFixture(t)
	driver := fx.register(t, "driver@example.com", true)
	ride := fx.createRide(t, driver.ID)
	if ride.SeatsAvailable != 2 {
		t.Fatalf("expected 2 passenger seats, got %d", ride.SeatsAvailable)
	}
	if ride.VehicleNumber != "KA01AB1234" {
		t.Fatalf("expected normalized plate, got %q", ride.VehicleNumber)
	}
	if ride.Status != models.StatusCreated {
		t.Fatalf("expected created status, got %s", ride.Status)
	}
}

func TestJoinRide_NotifiesDriver(t *testing.T) {
	fx := newFixture(t)
	driver := fx.register(t, "driver@example.com", true)
	passenger := fx.register(t, "rider@example.com", true)
	ride := fx.createRide(t, driver.ID)

	joined, err := fx.f.JoinRide(passenger.ID, ride.ID, "Domlur signal", "blue backpack")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined.SeatsAvailable != 1 {
		t.Fatalf("expected 1 seat left, got %d", joined.SeatsAvailable)
	}

	select {
	case msg := <-fx.notes.ch:
		if msg.Recipient != "driver@example.com" {
			t.Fatalf("expected driver notified, got %q", msg.Recipient)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a join notification")
	}
}

func TestJoinRide_RequiresVerifiedIdentity(t *testing.T) {
	fx := newFixture(t)
	driver := fx.register(t, "driver@example.com", true)
	passenger := fx.register(t, "rider@example.com", false)
	ride := fx.createRide(t, driver.ID)

	if _, err := fx.f.JoinRide(passenger.ID, ride.ID, "Domlur", ""); !errors.Is(err, apperrors.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestDeleteRide(t *testing.T) {
	fx := newFixture(t)
	driver := fx.register(t, "driver@example.com", true)
	passenger := fx.register(t, "rider@example.com", true)
	ride := fx.createRide(t, driver.ID)

	if err := fx.f.DeleteRide(passenger.ID, ride.ID); !errors.Is(err, apperrors.ErrAuthorization) {
		t.Fatalf("expected authorization error for non-creator, got %v", err)
	}
	if _, err := fx.f.JoinRide(passenger.ID, ride.ID, "Domlur", ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := fx.f.DeleteRide(driver.ID, ride.ID); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict with passengers aboard, got %v", err)
	}
	if _, err := fx.f.LeaveRide(passenger.ID, ride.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := fx.f.DeleteRide(driver.ID, ride.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestLifecycle_EndToEndPurgesLocations(t *testing.T) {
	fx := newFixture(t)
	driver := fx.register(t, "driver@example.com", true)
	passenger := fx.register(t, "rider@example.com", true)
	ride := fx.createRide(t, driver.ID)
	if _, err := fx.f.JoinRide(passenger.ID, ride.ID, "Domlur", ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := fx.f.DriverStart(driver.ID, ride.ID); err != nil {
		t.Fatalf("driver start: %v", err)
	}
	res, err := fx.f.PassengerConfirmStart(passenger.ID, ride.ID)
	if err != nil || !res.Transitioned {
		t.Fatalf("passenger start: res=%+v err=%v", res, err)
	}

	if _, err := fx.f.UpdateLocation(passenger.ID, ride.ID, 12.97, 77.59, true); err != nil {
		t.Fatalf("update location: %v", err)
	}
	if _, err := fx.f.GetLocation(driver.ID, ride.ID, passenger.ID); err != nil {
		t.Fatalf("get location: %v", err)
	}

	if _, err := fx.f.PassengerConfirmArrival(passenger.ID, ride.ID); err != nil {
		t.Fatalf("passenger arrival: %v", err)
	}
	res, err = fx.f.DriverEnd(driver.ID, ride.ID)
	if err != nil || !res.Transitioned || res.Ride.Status != models.StatusCompleted {
		t.Fatalf("driver end: res=%+v err=%v", res, err)
	}

	// completing the ride drops the live rows
	if _, err := fx.f.GetLocation(driver.ID, ride.ID, passenger.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected purged location, got %v", err)
	}
}

func TestVerificationFlow(t *testing.T) {
	fx := newFixture(t)
	u := fx.register(t, "a@example.com", false)
	ctx := context.Background()

	if _, err := fx.f.StartVerification(ctx, u.ID, "1234 5678 9012", false); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error without consent, got %v", err)
	}
	if _, err := fx.f.StartVerification(ctx, u.ID, "1234 5678 9012", true); err != nil {
		t.Fatalf("start: %v", err)
	}

	// a mistyped code does not end the flow
	if _, err := fx.f.CompleteVerification(ctx, u.ID, "000000"); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error for wrong code, got %v", err)
	}
	if _, err := fx.f.CompleteVerification(ctx, u.ID, "123456"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	p, err := fx.f.GetProfile(u.ID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if !p.Verified || !p.ConsentGiven {
		t.Fatalf("expected verified profile, got %+v", p)
	}
	if p.MaskedID() != "XXXX-XXXX-9012" {
		t.Fatalf("unexpected masked id: %q", p.MaskedID())
	}

	if _, err := fx.f.StartVerification(ctx, u.ID, "1234 5678 9012", true); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict for already verified, got %v", err)
	}
	if _, err := fx.f.CompleteVerification(ctx, u.ID, "123456"); !errors.Is(err, apperrors.ErrState) {
		t.Fatalf("expected state error with no pending challenge, got %v", err)
	}
}

func TestResendVerificationDropsPending(t *testing.T) {
	fx := newFixture(t)
	u := fx.register(t, "a@example.com", false)
	ctx := context.Background()
	if _, err := fx.f.StartVerification(ctx, u.ID, "123456789012", true); err != nil {
		t.Fatalf("start: %v", err)
	}
	fx.f.ResendVerification(u.ID)
	if _, err := fx.f.CompleteVerification(ctx, u.ID, "123456"); !errors.Is(err, apperrors.ErrState) {
		t.Fatalf("expected state error after resend, got %v", err)
	}
}

func TestRideDetail_Aggregates(t *testing.T) {
	fx := newFixture(t)
	driver := fx.register(t, "driver@example.com", true)
	passenger := fx.register(t, "rider@example.com", true)
	ride := fx.createRide(t, driver.ID)
	if _, err := fx.f.JoinRide(passenger.ID, ride.ID, "Domlur", ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := fx.f.PassengerConfirmStart(passenger.ID, ride.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	d, err := fx.f.RideDetail(ride.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if !d.PassengerStarted || d.PassengerEnded {
		t.Fatalf("unexpected aggregates: %+v", d)
	}
	// 12 km, driver + 1 passenger
	if d.Emissions.SavedKg < 0.71 || d.Emissions.SavedKg > 0.73 {
		t.Fatalf("unexpected savings: %+v", d.Emissions)
	}
}

func TestUserDashboard(t *testing.T) {
	fx := newFixture(t)
	driver := fx.register(t, "driver@example.com", true)
	passenger := fx.register(t, "rider@example.com", true)
	ride := fx.createRide(t, driver.ID)
	if _, err := fx.f.JoinRide(passenger.ID, ride.ID, "Domlur", ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	d, err := fx.f.UserDashboard(passenger.ID)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if len(d.Rides) != 1 || d.Rides[0].Role != "passenger" {
		t.Fatalf("unexpected dashboard: %+v", d)
	}
	if d.BadgeEarned {
		t.Fatal("one short ride must not earn the badge")
	}

	dd, err := fx.f.UserDashboard(driver.ID)
	if err != nil {
		t.Fatalf("driver dashboard: %v", err)
	}
	if len(dd.Rides) != 1 || dd.Rides[0].Role != "driver" {
		t.Fatalf("unexpected driver dashboard: %+v", dd)
	}
}

func makeStaff(t *testing.T, fx *fixture, u *models.User) {
	t.Helper()
	u.IsStaff = true
	if err := fx.store.UpdateUser(u); err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestAdminSurfaceRequiresStaff(t *testing.T) {
	fx := newFixture(t)
	u := fx.register(t, "a@example.com", false)

	if _, err := fx.f.Stats(u.ID); !errors.Is(err, apperrors.ErrAuthorization) {
		t.Fatalf("stats: expected authorization error, got %v", err)
	}
	if _, err := fx.f.ListUsers(u.ID); !errors.Is(err, apperrors.ErrAuthorization) {
		t.Fatalf("list users: expected authorization error, got %v", err)
	}
	if _, err := fx.f.CancelRide(u.ID, "any"); !errors.Is(err, apperrors.ErrAuthorization) {
		t.Fatalf("cancel: expected authorization error, got %v", err)
	}
}

func TestCancelRide_RetainsRecordAndPurgesLocations(t *testing.T) {
	fx := newFixture(t)
	driver := fx.register(t, "driver@example.com", true)
	passenger := fx.register(t, "rider@example.com", true)
	admin := fx.register(t, "admin@example.com", false)
	makeStaff(t, fx, admin)

	ride := fx.createRide(t, driver.ID)
	if _, err := fx.f.JoinRide(passenger.ID, ride.ID, "Domlur", ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := fx.f.UpdateLocation(passenger.ID, ride.ID, 12.97, 77.59, true); err != nil {
		t.Fatalf("update location: %v", err)
	}

	cancelled, err := fx.f.CancelRide(admin.ID, ride.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if _, err := fx.store.GetPassenger(ride.ID, passenger.ID); err != nil {
		t.Fatalf("passenger link must survive cancellation: %v", err)
	}
	if _, err := fx.store.Get(passenger.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected purged location, got %v", err)
	}
}

func TestSetUserActive(t *testing.T) {
	fx := newFixture(t)
	admin := fx.register(t, "admin@example.com", false)
	makeStaff(t, fx, admin)
	target := fx.register(t, "b@example.com", false)

	u, err := fx.f.SetUserActive(admin.ID, target.ID, false)
	if err != nil || u.IsActive {
		t.Fatalf("deactivate: u=%+v err=%v", u, err)
	}
	if _, err := fx.f.SetUserActive(admin.ID, admin.ID, false); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error for self-deactivation, got %v", err)
	}
}

func TestStats(t *testing.T) {
	fx := newFixture(t)
	admin := fx.register(t, "admin@example.com", false)
	makeStaff(t, fx, admin)
	driver := fx.register(t, "driver@example.com", true)
	fx.createRide(t, driver.ID)

	s, err := fx.f.Stats(admin.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.TotalUsers != 2 || s.TotalRides != 1 || s.ActiveRides != 1 || s.CompletedRides != 0 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}
