package seats

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/example/ecocommute/internal/apperrors"
	"github.com/example/ecocommute/internal/keylock"
	"github.com/example/ecocommute/internal/models"
	"github.com/example/ecocommute/internal/storage"
)

func newRide(t *testing.T, store *storage.MemoryStore, totalSeats int) *models.Ride {
	t.Helper()
	r := &models.Ride{
		ID:             "ride-1",
		From:           "Indiranagar",
		To:             "Whitefield",
		TotalSeats:     totalSeats,
		SeatsAvailable: totalSeats - 1,
		Status:         models.StatusCreated,
		CreatorID:      "driver",
	}
	if err := store.CreateRide(r); err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return r
}

func TestReserve_DecrementsSeat(t *testing.T) {
	store := storage.NewMemoryStore()
	a := NewAllocator(store, keylock.NewRegistry())
	newRide(t, store, 3)

	ride, err := a.Reserve(ReserveRequest{RideID: "ride-1", UserID: "u1", PickupPoint: "Domlur"})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if ride.SeatsAvailable != 1 {
		t.Fatalf("expected 1 seat left, got %d", ride.SeatsAvailable)
	}
	if _, err := store.GetPassenger("ride-1", "u1"); err != nil {
		t.Fatalf("expected passenger record: %v", err)
	}
}

func TestReserve_DriverCannotJoinOwnRide(t *testing.T) {
	store := storage.NewMemoryStore()
	a := NewAllocator(store, keylock.NewRegistry())
	newRide(t, store, 3)

	_, err := a.Reserve(ReserveRequest{RideID: "ride-1", UserID: "driver", PickupPoint: "Domlur"})
	if !errors.Is(err, apperrors.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestReserve_DuplicateJoinIsConflict(t *testing.T) {
	store := storage.NewMemoryStore()
	a := NewAllocator(store, keylock.NewRegistry())
	newRide(t, store, 3)

	req := ReserveRequest{RideID: "ride-1", UserID: "u1", PickupPoint: "Domlur"}
	if _, err := a.Reserve(req); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	_, err := a.Reserve(req)
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	ride, _ := store.GetRide("ride-1")
	if ride.SeatsAvailable != 1 {
		t.Fatalf("duplicate join must not consume a seat, got %d left", ride.SeatsAvailable)
	}
}

func TestReserve_MissingPickupPoint(t *testing.T) {
	store := storage.NewMemoryStore()
	a := NewAllocator(store, keylock.NewRegistry())
	newRide(t, store, 3)

	_, err := a.Reserve(ReserveRequest{RideID: "ride-1", UserID: "u1", PickupPoint: "  "})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReserve_ConcurrentRace(t *testing.T) {
	store := storage.NewMemoryStore()
	a := NewAllocator(store, keylock.NewRegistry())
	newRide(t, store, 3) // 2 seats for passengers

	const contenders = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := a.Reserve(ReserveRequest{
				RideID:      "ride-1",
				UserID:      fmt.Sprintf("u%d", n),
				PickupPoint: "Domlur",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, apperrors.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 2 {
		t.Fatalf("expected exactly 2 winners, got %d (conflicts=%d)", wins, conflicts)
	}
	ride, _ := store.GetRide("ride-1")
	if ride.SeatsAvailable != 0 {
		t.Fatalf("expected 0 seats left, got %d", ride.SeatsAvailable)
	}
	ps, _ := store.ListPassengers("ride-1")
	if len(ps) != 2 {
		t.Fatalf("expected 2 passenger records, got %d", len(ps))
	}
}

func TestRelease_ReturnsSeat(t *testing.T) {
	store := storage.NewMemoryStore()
	a := NewAllocator(store, keylock.NewRegistry())
	newRide(t, store, 3)

	if _, err := a.Reserve(ReserveRequest{RideID: "ride-1", UserID: "u1", PickupPoint: "Domlur"}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	ride, err := a.Release("ride-1", "u1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if ride.SeatsAvailable != 2 {
		t.Fatalf("expected seat returned, got %d", ride.SeatsAvailable)
	}
	if _, err := store.GetPassenger("ride-1", "u1"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected passenger record removed, got %v", err)
	}
}

func TestRelease_NeverJoined(t *testing.T) {
	store := storage.NewMemoryStore()
	a := NewAllocator(store, keylock.NewRegistry())
	newRide(t, store, 3)

	_, err := a.Release("ride-1", "stranger")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRelease_CapsAtTotalSeats(t *testing.T) {
	store := storage.NewMemoryStore()
	a := NewAllocator(store, keylock.NewRegistry())
	r := newRide(t, store, 3)
	// simulate a count already at the cap
	r.SeatsAvailable = 3
	if err := store.UpdateRide(r); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.AddPassenger(&models.RidePassenger{RideID: "ride-1", UserID: "u1", PickupPoint: "Domlur"}); err != nil {
		t.Fatalf("add passenger: %v", err)
	}
	ride, err := a.Release("ride-1", "u1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if ride.SeatsAvailable != 3 {
		t.Fatalf("count must not exceed total seats, got %d", ride.SeatsAvailable)
	}
}
