// Package lifecycle advances rides through created -> started ->
// completed on mutual confirmation from driver and passenger sides,
// plus the terminal cancelled state. The status never moves backward
// and each forward transition fires exactly once.
package lifecycle

import (
	"errors"

	"github.com/example/ecocommute/internal/apperrors"
	"github.com/example/ecocommute/internal/keylock"
	"github.com/example/ecocommute/internal/models"
	"github.com/example/ecocommute/internal/observability"
	"github.com/example/ecocommute/internal/storage"
)

type Machine struct {
	rides storage.RideStore
	locks *keylock.Registry
}

// NewMachine builds a state machine over the store. The registry must
// be shared with the seat allocator.
func NewMachine(rides storage.RideStore, locks *keylock.Registry) *Machine {
	return &Machine{rides: rides, locks: locks}
}

// Result reports the ride after a confirmation and whether this call
// advanced the status.
type Result struct {
	Ride         *models.Ride
	Transitioned bool
}

// Passenger-side quorum: one confirmed passenger speaks for the
// passenger side, but every passenger's own flag stays individually
// idempotent. Changing the quorum to all-passengers means changing
// only this function.
func anyConfirmed(ps []*models.RidePassenger, end bool) bool {
	for _, p := range ps {
		if end && p.EndConfirmed {
			return true
		}
		if !end && p.StartConfirmed {
			return true
		}
	}
	return false
}

// ConfirmDriverStart records the driver's start confirmation and, when
// the passenger side already confirmed, moves the ride to started.
func (m *Machine) ConfirmDriverStart(rideID, actorID string) (*Result, error) {
	return m.driverConfirm(rideID, actorID, false)
}

// ConfirmDriverEnd is the symmetric end-side confirmation; valid only
// while the ride is started.
func (m *Machine) ConfirmDriverEnd(rideID, actorID string) (*Result, error) {
	return m.driverConfirm(rideID, actorID, true)
}

func (m *Machine) driverConfirm(rideID, actorID string, end bool) (*Result, error) {
	res := &Result{}
	err := m.locks.Do(rideID, func() error {
		ride, err := m.rides.GetRide(rideID)
		if err != nil {
			return err
		}
		if ride.CreatorID != actorID {
			if end {
				return apperrors.Authorization("only the driver can end the ride")
			}
			return apperrors.Authorization("only the driver can start the ride")
		}
		// already-confirmed beats wrong-status so a retried call after
		// the transition reads as a duplicate, not a fresh violation
		if (end && ride.DriverEnded) || (!end && ride.DriverStarted) {
			return apperrors.Conflict("already confirmed")
		}
		if err := checkStatus(ride, end); err != nil {
			return err
		}
		if end {
			ride.DriverEnded = true
		} else {
			ride.DriverStarted = true
		}
		ps, err := m.rides.ListPassengers(rideID)
		if err != nil {
			return err
		}
		if anyConfirmed(ps, end) {
			advance(ride, end)
			res.Transitioned = true
		}
		if err := m.rides.UpdateRide(ride); err != nil {
			return err
		}
		res.Ride = ride
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Transitioned {
		observability.RideTransitionsTotal.WithLabelValues(string(res.Ride.Status)).Inc()
	}
	return res, nil
}

// ConfirmPassengerStart records one passenger's start confirmation and,
// when the driver already confirmed, moves the ride to started.
func (m *Machine) ConfirmPassengerStart(rideID, actorID string) (*Result, error) {
	return m.passengerConfirm(rideID, actorID, false)
}

// ConfirmPassengerEnd records one passenger's arrival confirmation.
func (m *Machine) ConfirmPassengerEnd(rideID, actorID string) (*Result, error) {
	return m.passengerConfirm(rideID, actorID, true)
}

func (m *Machine) passengerConfirm(rideID, actorID string, end bool) (*Result, error) {
	res := &Result{}
	err := m.locks.Do(rideID, func() error {
		ride, err := m.rides.GetRide(rideID)
		if err != nil {
			return err
		}
		p, err := m.rides.GetPassenger(rideID, actorID)
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.Authorization("only passengers can confirm")
		}
		if err != nil {
			return err
		}
		if (end && p.EndConfirmed) || (!end && p.StartConfirmed) {
			return apperrors.Conflict("already confirmed")
		}
		if err := checkStatus(ride, end); err != nil {
			return err
		}
		if end {
			p.EndConfirmed = true
		} else {
			p.StartConfirmed = true
		}
		if err := m.rides.UpdatePassenger(p); err != nil {
			return err
		}
		driverDone := ride.DriverStarted
		if end {
			driverDone = ride.DriverEnded
		}
		if driverDone {
			advance(ride, end)
			res.Transitioned = true
			if err := m.rides.UpdateRide(ride); err != nil {
				return err
			}
		}
		res.Ride = ride
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Transitioned {
		observability.RideTransitionsTotal.WithLabelValues(string(res.Ride.Status)).Inc()
	}
	return res, nil
}

func checkStatus(ride *models.Ride, end bool) error {
	if end {
		if ride.Status != models.StatusStarted {
			return apperrors.State("ride must be started before it can be ended")
		}
		return nil
	}
	if ride.Status != models.StatusCreated {
		return apperrors.State("ride has already been started or completed")
	}
	return nil
}

func advance(ride *models.Ride, end bool) {
	if end {
		ride.Status = models.StatusCompleted
	} else {
		ride.Status = models.StatusStarted
	}
}

// Cancel moves a non-terminal ride to cancelled, retaining the record
// and its passenger links for audit.
func (m *Machine) Cancel(rideID string) (*models.Ride, error) {
	var out *models.Ride
	err := m.locks.Do(rideID, func() error {
		ride, err := m.rides.GetRide(rideID)
		if err != nil {
			return err
		}
		if ride.Status.Terminal() {
			return apperrors.State("ride is already %s", ride.Status)
		}
		ride.Status = models.StatusCancelled
		if err := m.rides.UpdateRide(ride); err != nil {
			return err
		}
		out = ride
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.RideTransitionsTotal.WithLabelValues(string(models.StatusCancelled)).Inc()
	return out, nil
}
