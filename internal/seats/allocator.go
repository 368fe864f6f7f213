// Package seats owns seat counting for rides. Reserve and Release are
// the only two ways a seat count changes after ride creation, and each
// pairs the count change with the passenger link as one indivisible
// step under the ride's lock.
package seats

import (
	"errors"
	"strings"
	"time"

	"github.com/example/ecocommute/internal/apperrors"
	"github.com/example/ecocommute/internal/keylock"
	"github.com/example/ecocommute/internal/models"
	"github.com/example/ecocommute/internal/observability"
	"github.com/example/ecocommute/internal/storage"
)

type Allocator struct {
	rides storage.RideStore
	locks *keylock.Registry
}

// NewAllocator builds an allocator over the given store. The registry
// must be the same instance used by the lifecycle machine so seat and
// flag mutations of one ride serialize against each other.
func NewAllocator(rides storage.RideStore, locks *keylock.Registry) *Allocator {
	return &Allocator{rides: rides, locks: locks}
}

type ReserveRequest struct {
	RideID      string
	UserID      string
	PickupPoint string
	PickupNotes string
}

// Reserve grants one seat to the user and records the join. Fails with
// Authorization for the driver, Conflict when no seat is left or the
// user already joined, Validation when the pickup point is missing.
// Under N concurrent calls racing for K remaining seats exactly K
// succeed.
func (a *Allocator) Reserve(req ReserveRequest) (*models.Ride, error) {
	if strings.TrimSpace(req.PickupPoint) == "" {
		return nil, apperrors.Validation("pickup point is required")
	}
	var out *models.Ride
	err := a.locks.Do(req.RideID, func() error {
		ride, err := a.rides.GetRide(req.RideID)
		if err != nil {
			return err
		}
		if ride.CreatorID == req.UserID {
			return apperrors.Authorization("the driver cannot join their own ride")
		}
		if _, err := a.rides.GetPassenger(req.RideID, req.UserID); err == nil {
			observability.SeatConflictsTotal.Inc()
			return apperrors.Conflict("already joined this ride")
		} else if !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		if ride.SeatsAvailable <= 0 {
			observability.SeatConflictsTotal.Inc()
			return apperrors.Conflict("no seats available")
		}
		p := &models.RidePassenger{
			RideID:      req.RideID,
			UserID:      req.UserID,
			PickupPoint: strings.TrimSpace(req.PickupPoint),
			PickupNotes: strings.TrimSpace(req.PickupNotes),
			JoinedAt:    time.Now(),
		}
		if err := a.rides.AddPassenger(p); err != nil {
			return err
		}
		ride.SeatsAvailable--
		if err := a.rides.UpdateRide(ride); err != nil {
			// undo the link so no caller observes it without the decrement
			_ = a.rides.RemovePassenger(req.RideID, req.UserID)
			return err
		}
		observability.SeatReservationsTotal.Inc()
		out = ride
		return nil
	})
	return out, err
}

// Release removes the user's join record and returns the seat. Fails
// with NotFound when the user never joined. The count never exceeds
// totalSeats.
func (a *Allocator) Release(rideID, userID string) (*models.Ride, error) {
	var out *models.Ride
	err := a.locks.Do(rideID, func() error {
		ride, err := a.rides.GetRide(rideID)
		if err != nil {
			return err
		}
		if _, err := a.rides.GetPassenger(rideID, userID); err != nil {
			return err
		}
		if err := a.rides.RemovePassenger(rideID, userID); err != nil {
			return err
		}
		if ride.SeatsAvailable < ride.TotalSeats {
			ride.SeatsAvailable++
		}
		if err := a.rides.UpdateRide(ride); err != nil {
			return err
		}
		observability.SeatReleasesTotal.Inc()
		out = ride
		return nil
	})
	return out, err
}
