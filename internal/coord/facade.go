// Package coord is the single entry point the HTTP layer calls. It
// authorizes the actor's role, sequences the seat allocator, the
// lifecycle machine and the location tracker, and shields callers from
// the atomicity requirements internal to those components. Components
// never call each other; only the facade composes them.
package coord

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/example/ecocommute/internal/apperrors"
	"github.com/example/ecocommute/internal/auth"
	"github.com/example/ecocommute/internal/emissions"
	"github.com/example/ecocommute/internal/identity"
	"github.com/example/ecocommute/internal/keylock"
	"github.com/example/ecocommute/internal/lifecycle"
	"github.com/example/ecocommute/internal/models"
	"github.com/example/ecocommute/internal/notify"
	"github.com/example/ecocommute/internal/observability"
	"github.com/example/ecocommute/internal/seats"
	"github.com/example/ecocommute/internal/storage"
	"github.com/example/ecocommute/internal/tracker"
)

// LocationPublisher forwards accepted location fixes to the ingest
// pipeline. Optional; publish failures never fail the update.
type LocationPublisher interface {
	Publish(loc *models.LiveLocation) error
}

type Options struct {
	Rides     storage.RideStore
	Users     storage.UserStore
	Locations storage.LocationStore
	Verifier  identity.Verifier
	Notifier  notify.Notifier
	Publisher LocationPublisher
	Logger    *slog.Logger
}

type Facade struct {
	rides     storage.RideStore
	users     storage.UserStore
	allocator *seats.Allocator
	machine   *lifecycle.Machine
	tracker   *tracker.Tracker
	verifier  identity.Verifier
	pending   *identity.PendingStore
	notifier  notify.Notifier
	publisher LocationPublisher
	logger    *slog.Logger
}

func New(opts Options) *Facade {
	locks := keylock.NewRegistry()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = &notify.LogNotifier{Logger: logger}
	}
	return &Facade{
		rides:     opts.Rides,
		users:     opts.Users,
		allocator: seats.NewAllocator(opts.Rides, locks),
		machine:   lifecycle.NewMachine(opts.Rides, locks),
		tracker:   tracker.New(opts.Rides, opts.Locations),
		verifier:  opts.Verifier,
		pending:   identity.NewPendingStore(),
		notifier:  notifier,
		publisher: opts.Publisher,
		logger:    logger,
	}
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

var phoneRe = regexp.MustCompile(`^91\d{10}$`)

func cleanPhone(phone string) (string, error) {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	cleaned := digits.String()
	if !phoneRe.MatchString(cleaned) {
		return "", apperrors.Validation("phone number must start with 91 and contain exactly 12 digits")
	}
	return cleaned, nil
}

// ---- accounts ----

// CreateAccount registers a user and its profile as one atomic step.
func (f *Facade) CreateAccount(email, password, phone string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperrors.Validation("a valid email is required")
	}
	if password == "" {
		return nil, apperrors.Validation("password is required")
	}
	cleaned, err := cleanPhone(phone)
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		ID:           newID(),
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	p := &models.Profile{UserID: u.ID, PhoneNumber: cleaned}
	if err := f.users.CreateUser(u, p); err != nil {
		return nil, err
	}
	f.logger.Info("account created", "user_id", u.ID)
	return u, nil
}

// Authenticate checks credentials and the active flag. Failures are
// deliberately indistinct.
func (f *Facade) Authenticate(email, password string) (*models.User, error) {
	u, err := f.users.GetUserByEmail(strings.ToLower(strings.TrimSpace(email)))
	if err != nil || !auth.CheckPassword(u.PasswordHash, password) {
		return nil, apperrors.Authorization("invalid credentials")
	}
	if !u.IsActive {
		return nil, apperrors.Authorization("account is deactivated")
	}
	return u, nil
}

func (f *Facade) GetUser(id string) (*models.User, error) { return f.users.GetUser(id) }

func (f *Facade) GetProfile(userID string) (*models.Profile, error) {
	return f.users.GetProfile(userID)
}

// requireVerified is the cross-cutting gate in front of ride creation
// and seat reservation.
func (f *Facade) requireVerified(userID string) error {
	p, err := f.users.GetProfile(userID)
	if err != nil {
		return err
	}
	if !p.Verified {
		return apperrors.Authorization("identity verification required")
	}
	return nil
}

// ---- rides ----

type CreateRideInput struct {
	From          string
	To            string
	RideDate      string
	RideTime      string
	VehicleType   string
	VehicleNumber string
	DistanceKm    float64
	TotalSeats    int
}

func (f *Facade) CreateRide(actorID string, in CreateRideInput) (*models.Ride, error) {
	if err := f.requireVerified(actorID); err != nil {
		return nil, err
	}
	in.From = strings.TrimSpace(in.From)
	in.To = strings.TrimSpace(in.To)
	if in.From == "" || in.To == "" {
		return nil, apperrors.Validation("origin and destination are required")
	}
	if _, err := time.Parse("2006-01-02", in.RideDate); err != nil {
		return nil, apperrors.Validation("ride date must be YYYY-MM-DD")
	}
	if _, err := time.Parse("15:04", in.RideTime); err != nil {
		return nil, apperrors.Validation("ride time must be HH:MM")
	}
	if in.TotalSeats < 1 {
		return nil, apperrors.Validation("total seats must be at least 1")
	}
	if in.DistanceKm <= 0 {
		return nil, apperrors.Validation("distance must be positive")
	}
	vehicleNumber := models.NormalizeVehicleNumber(in.VehicleNumber)
	if vehicleNumber == "" {
		return nil, apperrors.Validation("vehicle number is required")
	}
	if in.VehicleType == "" {
		in.VehicleType = "car_petrol"
	}
	ride := &models.Ride{
		ID:             newID(),
		From:           in.From,
		To:             in.To,
		RideDate:       in.RideDate,
		RideTime:       in.RideTime,
		VehicleType:    in.VehicleType,
		VehicleNumber:  vehicleNumber,
		DistanceKm:     in.DistanceKm,
		TotalSeats:     in.TotalSeats,
		SeatsAvailable: in.TotalSeats - 1, // the driver occupies one seat
		Status:         models.StatusCreated,
		CreatorID:      actorID,
		CreatedAt:      time.Now(),
	}
	if err := f.rides.CreateRide(ride); err != nil {
		return nil, err
	}
	f.logger.Info("ride created", "ride_id", ride.ID, "creator_id", actorID)
	return ride, nil
}

// JoinRide reserves a seat and notifies the driver. The notification is
// fire-and-forget and never fails the join.
func (f *Facade) JoinRide(actorID, rideID, pickupPoint, pickupNotes string) (*models.Ride, error) {
	if err := f.requireVerified(actorID); err != nil {
		return nil, err
	}
	ride, err := f.allocator.Reserve(seats.ReserveRequest{
		RideID:      rideID,
		UserID:      actorID,
		PickupPoint: pickupPoint,
		PickupNotes: pickupNotes,
	})
	if err != nil {
		return nil, err
	}
	f.logger.Info("ride joined", "ride_id", rideID, "user_id", actorID, "seats_available", ride.SeatsAvailable)

	driver, derr := f.users.GetUser(ride.CreatorID)
	passenger, perr := f.users.GetUser(actorID)
	if derr == nil && perr == nil {
		msg := notify.JoinMessage(ride, driver.Email, passenger.Email, strings.TrimSpace(pickupPoint), strings.TrimSpace(pickupNotes))
		go f.notifier.Notify(context.Background(), msg)
	}
	return ride, nil
}

func (f *Facade) LeaveRide(actorID, rideID string) (*models.Ride, error) {
	ride, err := f.allocator.Release(rideID, actorID)
	if err != nil {
		return nil, err
	}
	f.logger.Info("ride left", "ride_id", rideID, "user_id", actorID)
	return ride, nil
}

// DeleteRide removes a ride outright. Only the creator may delete, and
// only while no passenger has joined; cancellation is the admin path
// that keeps the record.
func (f *Facade) DeleteRide(actorID, rideID string) error {
	ride, err := f.rides.GetRide(rideID)
	if err != nil {
		return err
	}
	if ride.CreatorID != actorID {
		return apperrors.Authorization("only the creator can delete the ride")
	}
	ps, err := f.rides.ListPassengers(rideID)
	if err != nil {
		return err
	}
	if len(ps) > 0 {
		return apperrors.Conflict("cannot delete: %d passenger(s) have joined", len(ps))
	}
	return f.rides.DeleteRide(rideID)
}

// CancelRide is the administrative override: the ride moves to the
// terminal cancelled state, the record and its passenger links are
// retained, and live locations are purged.
func (f *Facade) CancelRide(actorID, rideID string) (*models.Ride, error) {
	if err := f.requireStaff(actorID); err != nil {
		return nil, err
	}
	ride, err := f.machine.Cancel(rideID)
	if err != nil {
		return nil, err
	}
	if err := f.tracker.PurgeRide(rideID); err != nil {
		f.logger.Error("location purge failed", "ride_id", rideID, "error", err)
	}
	f.logger.Info("ride cancelled", "ride_id", rideID, "by", actorID)
	return ride, nil
}

// ---- lifecycle confirmations ----

func (f *Facade) DriverStart(actorID, rideID string) (*lifecycle.Result, error) {
	if err := f.requireVerified(actorID); err != nil {
		return nil, err
	}
	return f.machine.ConfirmDriverStart(rideID, actorID)
}

func (f *Facade) PassengerConfirmStart(actorID, rideID string) (*lifecycle.Result, error) {
	if err := f.requireVerified(actorID); err != nil {
		return nil, err
	}
	return f.machine.ConfirmPassengerStart(rideID, actorID)
}

func (f *Facade) DriverEnd(actorID, rideID string) (*lifecycle.Result, error) {
	res, err := f.machine.ConfirmDriverEnd(rideID, actorID)
	if err != nil {
		return nil, err
	}
	f.afterEndTransition(res)
	return res, nil
}

func (f *Facade) PassengerConfirmArrival(actorID, rideID string) (*lifecycle.Result, error) {
	res, err := f.machine.ConfirmPassengerEnd(rideID, actorID)
	if err != nil {
		return nil, err
	}
	f.afterEndTransition(res)
	return res, nil
}

// afterEndTransition purges live locations once the ride has left the
// started state, so location rows never outlive the active window.
func (f *Facade) afterEndTransition(res *lifecycle.Result) {
	if !res.Transitioned || res.Ride.Status != models.StatusCompleted {
		return
	}
	if err := f.tracker.PurgeRide(res.Ride.ID); err != nil {
		f.logger.Error("location purge failed", "ride_id", res.Ride.ID, "error", err)
	}
}

// ---- live location ----

func (f *Facade) UpdateLocation(actorID, rideID string, lat, lon float64, sharing bool) (*models.LiveLocation, error) {
	loc, err := f.tracker.Update(rideID, actorID, lat, lon, sharing)
	if err != nil {
		return nil, err
	}
	if f.publisher != nil {
		if err := f.publisher.Publish(loc); err != nil {
			f.logger.Warn("location publish failed", "ride_id", rideID, "error", err)
		}
	}
	return loc, nil
}

func (f *Facade) GetLocation(requesterID, rideID, targetID string) (*models.LiveLocation, error) {
	return f.tracker.Get(rideID, requesterID, targetID)
}

func (f *Facade) StopSharing(actorID string) error {
	return f.tracker.Stop(actorID)
}

// ---- identity verification ----

// StartVerification records consent and asks the provider to challenge
// the identity number. The number is held in memory only; the pending
// state keeps just the transaction id and the last four digits.
func (f *Facade) StartVerification(ctx context.Context, actorID, identityNumber string, consent bool) (string, error) {
	p, err := f.users.GetProfile(actorID)
	if err != nil {
		return "", err
	}
	if p.Verified {
		return "", apperrors.Conflict("identity already verified")
	}
	if !consent {
		return "", apperrors.Validation("explicit consent is required")
	}
	clean, err := identity.CleanNumber(identityNumber)
	if err != nil {
		return "", err
	}
	now := time.Now()
	p.ConsentGiven = true
	p.ConsentAt = &now
	if err := f.users.UpdateProfile(p); err != nil {
		return "", err
	}
	ch, err := f.verifier.SendChallenge(ctx, clean)
	if err != nil {
		observability.IdentityChallengesTotal.WithLabelValues("send", "error").Inc()
		return "", err
	}
	observability.IdentityChallengesTotal.WithLabelValues("send", "ok").Inc()
	f.pending.Begin(actorID, ch.TransactionID, identity.Last4(clean))
	return ch.Message, nil
}

// CompleteVerification redeems the pending challenge. On success the
// profile is marked verified with the masked last-4 digits.
func (f *Facade) CompleteVerification(ctx context.Context, actorID, code string) (string, error) {
	pend, err := f.pending.Get(actorID)
	if err != nil {
		return "", err
	}
	res, err := f.verifier.VerifyChallenge(ctx, pend.TransactionID, code)
	if err != nil {
		observability.IdentityChallengesTotal.WithLabelValues("verify", "error").Inc()
		return "", err
	}
	if !res.Verified {
		observability.IdentityChallengesTotal.WithLabelValues("verify", "rejected").Inc()
		return "", apperrors.Validation("%s", res.Message)
	}
	observability.IdentityChallengesTotal.WithLabelValues("verify", "ok").Inc()
	p, err := f.users.GetProfile(actorID)
	if err != nil {
		return "", err
	}
	now := time.Now()
	p.Verified = true
	p.VerifiedAt = &now
	p.IDLast4 = pend.Last4
	if err := f.users.UpdateProfile(p); err != nil {
		return "", err
	}
	f.pending.Drop(actorID)
	f.logger.Info("identity verified", "user_id", actorID)
	return res.Message, nil
}

// ResendVerification discards the pending challenge so the client can
// start over with a fresh one.
func (f *Facade) ResendVerification(actorID string) {
	f.pending.Drop(actorID)
}

// ---- queries ----

// RideDetail is the read model for one ride: the row, its passenger
// links, the aggregate passenger-side flags exposed on the wire, and
// the emission breakdown at current occupancy.
type RideDetail struct {
	Ride             *models.Ride            `json:"ride"`
	Passengers       []*models.RidePassenger `json:"passengers"`
	PassengerStarted bool                    `json:"passengerStarted"`
	PassengerEnded   bool                    `json:"passengerEnded"`
	Emissions        emissions.Breakdown     `json:"emissions"`
}

func (f *Facade) RideDetail(rideID string) (*RideDetail, error) {
	ride, err := f.rides.GetRide(rideID)
	if err != nil {
		return nil, err
	}
	ps, err := f.rides.ListPassengers(rideID)
	if err != nil {
		return nil, err
	}
	d := &RideDetail{Ride: ride, Passengers: ps, Emissions: emissions.ForRide(ride)}
	for _, p := range ps {
		if p.StartConfirmed {
			d.PassengerStarted = true
		}
		if p.EndConfirmed {
			d.PassengerEnded = true
		}
	}
	return d, nil
}

func (f *Facade) ListRides(filter storage.RideFilter) ([]*models.Ride, error) {
	return f.rides.ListRides(filter)
}

// RideSummary is one dashboard line: the ride, the caller's role on it
// and the emission breakdown.
type RideSummary struct {
	Ride      *models.Ride        `json:"ride"`
	Role      string              `json:"role"`
	Emissions emissions.Breakdown `json:"emissions"`
}

type Dashboard struct {
	Rides        []RideSummary `json:"rides"`
	TotalSavedKg float64       `json:"totalSavedKg"`
	BadgeEarned  bool          `json:"badgeEarned"`
}

func (f *Facade) UserDashboard(actorID string) (*Dashboard, error) {
	d := &Dashboard{}
	created, err := f.rides.ListRides(storage.RideFilter{})
	if err != nil {
		return nil, err
	}
	for _, r := range created {
		if r.CreatorID != actorID {
			continue
		}
		br := emissions.ForRide(r)
		d.Rides = append(d.Rides, RideSummary{Ride: r, Role: "driver", Emissions: br})
		d.TotalSavedKg += br.SavedKg
	}
	joined, err := f.rides.ListJoined(actorID)
	if err != nil {
		return nil, err
	}
	for _, p := range joined {
		r, err := f.rides.GetRide(p.RideID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		br := emissions.ForRide(r)
		d.Rides = append(d.Rides, RideSummary{Ride: r, Role: "passenger", Emissions: br})
		d.TotalSavedKg += br.SavedKg
	}
	d.BadgeEarned = d.TotalSavedKg > emissions.BadgeThresholdKg
	return d, nil
}

// ---- admin ----

func (f *Facade) requireStaff(actorID string) error {
	u, err := f.users.GetUser(actorID)
	if err != nil {
		return err
	}
	if !u.IsStaff {
		return apperrors.Authorization("staff access required")
	}
	return nil
}

type AdminStats struct {
	TotalUsers     int `json:"totalUsers"`
	TotalRides     int `json:"totalRides"`
	ActiveRides    int `json:"activeRides"`
	CompletedRides int `json:"completedRides"`
}

func (f *Facade) Stats(actorID string) (*AdminStats, error) {
	if err := f.requireStaff(actorID); err != nil {
		return nil, err
	}
	users, err := f.users.ListUsers()
	if err != nil {
		return nil, err
	}
	rides, err := f.rides.ListRides(storage.RideFilter{})
	if err != nil {
		return nil, err
	}
	s := &AdminStats{TotalUsers: len(users), TotalRides: len(rides)}
	for _, r := range rides {
		switch r.Status {
		case models.StatusCreated, models.StatusStarted:
			s.ActiveRides++
		case models.StatusCompleted:
			s.CompletedRides++
		}
	}
	return s, nil
}

func (f *Facade) ListUsers(actorID string) ([]*models.User, error) {
	if err := f.requireStaff(actorID); err != nil {
		return nil, err
	}
	return f.users.ListUsers()
}

// SetUserActive toggles an account. Staff cannot deactivate themselves.
func (f *Facade) SetUserActive(actorID, targetID string, active bool) (*models.User, error) {
	if err := f.requireStaff(actorID); err != nil {
		return nil, err
	}
	if actorID == targetID && !active {
		return nil, apperrors.Validation("you cannot deactivate your own account")
	}
	u, err := f.users.GetUser(targetID)
	if err != nil {
		return nil, err
	}
	u.IsActive = active
	if err := f.users.UpdateUser(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (f *Facade) AdminListRides(actorID string, filter storage.RideFilter) ([]*models.Ride, error) {
	if err := f.requireStaff(actorID); err != nil {
		return nil, err
	}
	return f.rides.ListRides(filter)
}
