// Package emissions computes the CO2 impact of shared rides. Pure
// arithmetic over ride and occupancy data; no side effects.
package emissions

import "github.com/example/ecocommute/internal/models"

// Breakdown is the per-ride CO2 result in kilograms.
type Breakdown struct {
	SoloKg   float64 `json:"soloKg"`
	SharedKg float64 `json:"sharedKg"`
	SavedKg  float64 `json:"savedKg"`
}

// CO2 computes solo, shared and saved emissions for a trip.
// solo = distanceKm * factor / 1000; shared = solo / occupants.
// Occupants below one are clamped: the driver always counts.
func CO2(distanceKm, factorGPerKm float64, occupants int) Breakdown {
	if occupants < 1 {
		occupants = 1
	}
	solo := distanceKm * factorGPerKm / 1000
	shared := solo / float64(occupants)
	return Breakdown{SoloKg: solo, SharedKg: shared, SavedKg: solo - shared}
}

// ForRide computes the breakdown using the ride's vehicle factor and
// current occupancy.
func ForRide(r *models.Ride) Breakdown {
	return CO2(r.DistanceKm, models.EmissionFactor(r.VehicleType), r.OccupantCount())
}

// BadgeThresholdKg is the total saving at which the dashboard badge is
// earned.
const BadgeThresholdKg = 5.0
