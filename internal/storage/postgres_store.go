package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"

	"github.com/example/ecocommute/internal/apperrors"
	"github.com/example/ecocommute/internal/models"
)

// PostgresStore implements RideStore and UserStore on lib/pq. Per-ride
// serialization still happens in the coordination layer; the seat
// UPDATE below additionally guards on the current count so a lost
// serialization bug can never drive seats_available negative.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies the SQL files under dir in name order.
func (p *PostgresStore) Migrate(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(b)); err != nil {
			return fmt.Errorf("migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) CreateRide(r *models.Ride) error {
	_, err := p.db.Exec(`INSERT INTO rides(id, from_location, to_location, ride_date, ride_time, vehicle_type, vehicle_number, distance_km, total_seats, seats_available, status, driver_started, driver_ended, creator_id, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		r.ID, r.From, r.To, r.RideDate, r.RideTime, r.VehicleType, r.VehicleNumber, r.DistanceKm, r.TotalSeats, r.SeatsAvailable, r.Status, r.DriverStarted, r.DriverEnded, r.CreatorID, r.CreatedAt)
	return err
}

func (p *PostgresStore) GetRide(id string) (*models.Ride, error) {
	r := &models.Ride{}
	err := p.db.QueryRow(`SELECT id, from_location, to_location, ride_date, ride_time, vehicle_type, vehicle_number, distance_km, total_seats, seats_available, status, driver_started, driver_ended, creator_id, created_at FROM rides WHERE id=$1`, id).
		Scan(&r.ID, &r.From, &r.To, &r.RideDate, &r.RideTime, &r.VehicleType, &r.VehicleNumber, &r.DistanceKm, &r.TotalSeats, &r.SeatsAvailable, &r.Status, &r.DriverStarted, &r.DriverEnded, &r.CreatorID, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("ride %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresStore) UpdateRide(r *models.Ride) error {
	res, err := p.db.Exec(`UPDATE rides SET seats_available=$1, status=$2, driver_started=$3, driver_ended=$4
		WHERE id=$5 AND $1 BETWEEN 0 AND total_seats`,
		r.SeatsAvailable, r.Status, r.DriverStarted, r.DriverEnded, r.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NotFound("ride %s not found", r.ID)
	}
	return nil
}

func (p *PostgresStore) DeleteRide(id string) error {
	res, err := p.db.Exec(`DELETE FROM rides WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("ride %s not found", id)
	}
	return nil
}

func (p *PostgresStore) ListRides(f RideFilter) ([]*models.Ride, error) {
	q := `SELECT id, from_location, to_location, ride_date, ride_time, vehicle_type, vehicle_number, distance_km, total_seats, seats_available, status, driver_started, driver_ended, creator_id, created_at FROM rides WHERE 1=1`
	args := []any{}
	if f.From != "" {
		args = append(args, "%"+f.From+"%")
		q += fmt.Sprintf(" AND from_location ILIKE $%d", len(args))
	}
	if f.To != "" {
		args = append(args, "%"+f.To+"%")
		q += fmt.Sprintf(" AND to_location ILIKE $%d", len(args))
	}
	if len(f.Statuses) > 0 {
		ss := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			args = append(args, string(s))
			ss[i] = fmt.Sprintf("$%d", len(args))
		}
		q += " AND status IN (" + strings.Join(ss, ",") + ")"
	}
	q += " ORDER BY created_at DESC, id"
	rows, err := p.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		r := &models.Ride{}
		if err := rows.Scan(&r.ID, &r.From, &r.To, &r.RideDate, &r.RideTime, &r.VehicleType, &r.VehicleNumber, &r.DistanceKm, &r.TotalSeats, &r.SeatsAvailable, &r.Status, &r.DriverStarted, &r.DriverEnded, &r.CreatorID, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AddPassenger(pa *models.RidePassenger) error {
	_, err := p.db.Exec(`INSERT INTO ride_passengers(ride_id, user_id, pickup_point, pickup_notes, start_confirmed, end_confirmed, joined_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)`,
		pa.RideID, pa.UserID, pa.PickupPoint, pa.PickupNotes, pa.StartConfirmed, pa.EndConfirmed, pa.JoinedAt)
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return apperrors.Conflict("user %s already joined ride %s", pa.UserID, pa.RideID)
	}
	return err
}

func (p *PostgresStore) GetPassenger(rideID, userID string) (*models.RidePassenger, error) {
	pa := &models.RidePassenger{}
	err := p.db.QueryRow(`SELECT ride_id, user_id, pickup_point, pickup_notes, start_confirmed, end_confirmed, joined_at FROM ride_passengers WHERE ride_id=$1 AND user_id=$2`, rideID, userID).
		Scan(&pa.RideID, &pa.UserID, &pa.PickupPoint, &pa.PickupNotes, &pa.StartConfirmed, &pa.EndConfirmed, &pa.JoinedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("user %s is not a passenger of ride %s", userID, rideID)
	}
	if err != nil {
		return nil, err
	}
	return pa, nil
}

func (p *PostgresStore) UpdatePassenger(pa *models.RidePassenger) error {
	res, err := p.db.Exec(`UPDATE ride_passengers SET start_confirmed=$1, end_confirmed=$2 WHERE ride_id=$3 AND user_id=$4`,
		pa.StartConfirmed, pa.EndConfirmed, pa.RideID, pa.UserID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("user %s is not a passenger of ride %s", pa.UserID, pa.RideID)
	}
	return nil
}

func (p *PostgresStore) RemovePassenger(rideID, userID string) error {
	res, err := p.db.Exec(`DELETE FROM ride_passengers WHERE ride_id=$1 AND user_id=$2`, rideID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("user %s is not a passenger of ride %s", userID, rideID)
	}
	return nil
}

func (p *PostgresStore) ListPassengers(rideID string) ([]*models.RidePassenger, error) {
	return p.queryPassengers(`SELECT ride_id, user_id, pickup_point, pickup_notes, start_confirmed, end_confirmed, joined_at FROM ride_passengers WHERE ride_id=$1 ORDER BY joined_at`, rideID)
}

func (p *PostgresStore) ListJoined(userID string) ([]*models.RidePassenger, error) {
	return p.queryPassengers(`SELECT ride_id, user_id, pickup_point, pickup_notes, start_confirmed, end_confirmed, joined_at FROM ride_passengers WHERE user_id=$1 ORDER BY joined_at`, userID)
}

func (p *PostgresStore) queryPassengers(q string, arg any) ([]*models.RidePassenger, error) {
	rows, err := p.db.Query(q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.RidePassenger
	for rows.Next() {
		pa := &models.RidePassenger{}
		if err := rows.Scan(&pa.RideID, &pa.UserID, &pa.PickupPoint, &pa.PickupNotes, &pa.StartConfirmed, &pa.EndConfirmed, &pa.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, pa)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateUser(u *models.User, pr *models.Profile) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`INSERT INTO users(id, email, password_hash, is_staff, is_active, created_at) VALUES($1,$2,$3,$4,$5,$6)`,
		u.ID, u.Email, u.PasswordHash, u.IsStaff, u.IsActive, u.CreatedAt); err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return apperrors.Conflict("email %s already registered", u.Email)
		}
		return err
	}
	if _, err := tx.Exec(`INSERT INTO profiles(user_id, phone_number, verified, verified_at, id_last4, consent_given, consent_at) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		pr.UserID, pr.PhoneNumber, pr.Verified, pr.VerifiedAt, pr.IDLast4, pr.ConsentGiven, pr.ConsentAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) GetUser(id string) (*models.User, error) {
	return p.scanUser(p.db.QueryRow(`SELECT id, email, password_hash, is_staff, is_active, created_at FROM users WHERE id=$1`, id), id)
}

func (p *PostgresStore) GetUserByEmail(email string) (*models.User, error) {
	return p.scanUser(p.db.QueryRow(`SELECT id, email, password_hash, is_staff, is_active, created_at FROM users WHERE lower(email)=lower($1)`, email), email)
}

func (p *PostgresStore) scanUser(row *sql.Row, ref string) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsStaff, &u.IsActive, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("user %s not found", ref)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (p *PostgresStore) UpdateUser(u *models.User) error {
	res, err := p.db.Exec(`UPDATE users SET is_staff=$1, is_active=$2 WHERE id=$3`, u.IsStaff, u.IsActive, u.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("user %s not found", u.ID)
	}
	return nil
}

func (p *PostgresStore) ListUsers() ([]*models.User, error) {
	rows, err := p.db.Query(`SELECT id, email, password_hash, is_staff, is_active, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.User
	for rows.Next() {
		u := &models.User{}
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsStaff, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetProfile(userID string) (*models.Profile, error) {
	pr := &models.Profile{}
	err := p.db.QueryRow(`SELECT user_id, phone_number, verified, verified_at, id_last4, consent_given, consent_at FROM profiles WHERE user_id=$1`, userID).
		Scan(&pr.UserID, &pr.PhoneNumber, &pr.Verified, &pr.VerifiedAt, &pr.IDLast4, &pr.ConsentGiven, &pr.ConsentAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("profile for user %s not found", userID)
	}
	if err != nil {
		return nil, err
	}
	return pr, nil
}

func (p *PostgresStore) UpdateProfile(pr *models.Profile) error {
	res, err := p.db.Exec(`UPDATE profiles SET phone_number=$1, verified=$2, verified_at=$3, id_last4=$4, consent_given=$5, consent_at=$6 WHERE user_id=$7`,
		pr.PhoneNumber, pr.Verified, pr.VerifiedAt, pr.IDLast4, pr.ConsentGiven, pr.ConsentAt, pr.UserID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("profile for user %s not found", pr.UserID)
	}
	return nil
}
