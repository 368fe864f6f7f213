package emissions

import (
	"math"
	"testing"

	"github.com/example/ecocommute/internal/models"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCO2_TwoOccupants(t *testing.T) {
	// 12 km in a petrol car shared by driver + 1 passenger
	b := CO2(12, 120, 2)
	if !approx(b.SoloKg, 1.44) || !approx(b.SharedKg, 0.72) || !approx(b.SavedKg, 0.72) {
		t.Fatalf("unexpected breakdown: %+v", b)
	}
}

func TestCO2_FourOccupants(t *testing.T) {
	b := CO2(12, 120, 4)
	if !approx(b.SharedKg, 0.36) || !approx(b.SavedKg, 1.08) {
		t.Fatalf("unexpected breakdown: %+v", b)
	}
}

func TestCO2_ClampsOccupants(t *testing.T) {
	b := CO2(10, 120, 0)
	if !approx(b.SavedKg, 0) {
		t.Fatalf("solo ride should save nothing, got %+v", b)
	}
}

func TestCO2_ZeroFactor(t *testing.T) {
	b := CO2(15, 0, 3)
	if b.SoloKg != 0 || b.SharedKg != 0 || b.SavedKg != 0 {
		t.Fatalf("zero factor should produce zero emissions, got %+v", b)
	}
}

func TestForRide_UsesOccupancy(t *testing.T) {
	r := &models.Ride{VehicleType: "car_petrol", DistanceKm: 12, TotalSeats: 3, SeatsAvailable: 1}
	b := ForRide(r)
	if !approx(b.SharedKg, 0.72) {
		t.Fatalf("expected shared 0.72 for 2 occupants, got %+v", b)
	}
}

func TestForRide_UnknownVehicleDefaultsToCar(t *testing.T) {
	r := &models.Ride{VehicleType: "hovercraft", DistanceKm: 10, TotalSeats: 2, SeatsAvailable: 1}
	b := ForRide(r)
	if !approx(b.SoloKg, 1.2) {
		t.Fatalf("expected default factor, got %+v", b)
	}
}
