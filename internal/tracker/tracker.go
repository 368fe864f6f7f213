// Package tracker maintains at most one live location per user while a
// ride is active. Push from the sharing client, poll from the viewer;
// there is no fan-out or subscription state to keep.
package tracker

import (
	"errors"
	"time"

	"github.com/example/ecocommute/internal/apperrors"
	"github.com/example/ecocommute/internal/models"
	"github.com/example/ecocommute/internal/observability"
	"github.com/example/ecocommute/internal/storage"
)

type Tracker struct {
	rides     storage.RideStore
	locations storage.LocationStore
}

func New(rides storage.RideStore, locations storage.LocationStore) *Tracker {
	return &Tracker{rides: rides, locations: locations}
}

// Update creates or overwrites the actor's single location row. The
// actor must hold a passenger record on the ride; the check precedes
// any write so a rejected update leaves no row behind.
func (t *Tracker) Update(rideID, actorID string, lat, lon float64, sharing bool) (*models.LiveLocation, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, apperrors.Validation("invalid coordinates")
	}
	if _, err := t.rides.GetRide(rideID); err != nil {
		return nil, err
	}
	if _, err := t.rides.GetPassenger(rideID, actorID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Authorization("not a passenger of this ride")
		}
		return nil, err
	}
	loc := &models.LiveLocation{
		UserID:    actorID,
		RideID:    rideID,
		Lat:       lat,
		Lon:       lon,
		UpdatedAt: time.Now(),
		IsSharing: sharing,
	}
	if err := t.locations.Upsert(loc); err != nil {
		return nil, err
	}
	observability.LocationUpdatesTotal.Inc()
	return loc, nil
}

// Get returns the target's location to the ride's driver. A disabled
// consent flag and an absent row are indistinguishable to the caller:
// both come back NotFound, so presence never leaks.
func (t *Tracker) Get(rideID, requesterID, targetID string) (*models.LiveLocation, error) {
	ride, err := t.rides.GetRide(rideID)
	if err != nil {
		return nil, err
	}
	if ride.CreatorID != requesterID {
		return nil, apperrors.Authorization("only the ride creator can view locations")
	}
	if _, err := t.rides.GetPassenger(rideID, targetID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("user is not a passenger of this ride")
		}
		return nil, err
	}
	loc, err := t.locations.Get(targetID)
	if err != nil || !loc.IsSharing || loc.RideID != rideID {
		return nil, apperrors.NotFound("location not available or sharing disabled")
	}
	return loc, nil
}

// Stop deletes the actor's row. Deleting a row that does not exist is
// still Ok, so clients can retry freely.
func (t *Tracker) Stop(actorID string) error {
	return t.locations.Delete(actorID)
}

// PurgeRide drops every location row bound to a ride. The facade calls
// it when a ride leaves the started state so rows never outlive the
// ride's active window.
func (t *Tracker) PurgeRide(rideID string) error {
	if err := t.locations.DeleteByRide(rideID); err != nil {
		return err
	}
	observability.LocationPurgesTotal.Inc()
	return nil
}
