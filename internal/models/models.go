package models

import (
	"strings"
	"time"
)

// RideStatus is the lifecycle state of a ride. Transitions are strictly
// forward: created -> started -> completed. Cancelled is terminal and
// reachable from created or started.
type RideStatus string

const (
	StatusCreated   RideStatus = "created"
	StatusStarted   RideStatus = "started"
	StatusCompleted RideStatus = "completed"
	StatusCancelled RideStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// EmissionFactors maps vehicle type to grams of CO2 per km.
var EmissionFactors = map[string]float64{
	"car_petrol": 120,
	"bike":       0,
}

// EmissionFactor returns the factor for a vehicle type, defaulting to
// car_petrol for unknown types.
func EmissionFactor(vehicleType string) float64 {
	if f, ok := EmissionFactors[vehicleType]; ok {
		return f
	}
	return EmissionFactors["car_petrol"]
}

type Ride struct {
	ID             string     `json:"id"`
	From           string     `json:"from"`
	To             string     `json:"to"`
	RideDate       string     `json:"date"` // YYYY-MM-DD
	RideTime       string     `json:"time"` // HH:MM
	VehicleType    string     `json:"vehicleType"`
	VehicleNumber  string     `json:"vehicleNumber"`
	DistanceKm     float64    `json:"distanceKm"`
	TotalSeats     int        `json:"totalSeats"`
	SeatsAvailable int        `json:"seatsAvailable"`
	Status         RideStatus `json:"status"`
	DriverStarted  bool       `json:"driverStarted"`
	DriverEnded    bool       `json:"driverEnded"`
	CreatorID      string     `json:"creatorId"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// OccupantCount counts the driver plus every filled seat. The driver
// always counts even with zero passengers.
func (r *Ride) OccupantCount() int {
	used := r.TotalSeats - r.SeatsAvailable
	if used < 1 {
		return 1
	}
	return used
}

// NormalizeVehicleNumber uppercases registration plates on the way in.
func NormalizeVehicleNumber(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

// RidePassenger is the join record linking a user to a ride. Unique on
// (UserID, RideID); a user joins a given ride at most once.
// StartConfirmed and EndConfirmed are this passenger's own lifecycle
// confirmations, kept per passenger rather than as one shared flag.
type RidePassenger struct {
	UserID         string    `json:"userId"`
	RideID         string    `json:"rideId"`
	PickupPoint    string    `json:"pickupPoint"`
	PickupNotes    string    `json:"pickupNotes,omitempty"`
	StartConfirmed bool      `json:"startConfirmed"`
	EndConfirmed   bool      `json:"endConfirmed"`
	JoinedAt       time.Time `json:"joinedAt"`
}

// LiveLocation is the single latest fix for a user. One row per user
// system-wide; an update for any ride overwrites the previous row.
type LiveLocation struct {
	UserID    string    `json:"userId"`
	RideID    string    `json:"rideId"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	UpdatedAt time.Time `json:"updatedAt"`
	IsSharing bool      `json:"isSharing"`
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsStaff      bool      `json:"isStaff"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Profile carries the identity-verification state for a user. Every user
// has exactly one profile; both are created together by the store's
// atomic constructor. The raw identity number is never persisted, only
// the last four digits for display.
type Profile struct {
	UserID       string     `json:"userId"`
	PhoneNumber  string     `json:"phoneNumber"`
	Verified     bool       `json:"verified"`
	VerifiedAt   *time.Time `json:"verifiedAt,omitempty"`
	IDLast4      string     `json:"-"`
	ConsentGiven bool       `json:"consentGiven"`
	ConsentAt    *time.Time `json:"consentAt,omitempty"`
}

// MaskedID renders the stored last-4 digits as XXXX-XXXX-1234, or ""
// when no verification has happened yet.
func (p *Profile) MaskedID() string {
	if p.IDLast4 == "" {
		return ""
	}
	return "XXXX-XXXX-" + p.IDLast4
}
