package storage

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/ecocommute/internal/apperrors"
	"github.com/example/ecocommute/internal/models"
)

// RideFilter narrows ListRides. Substring matches are case-insensitive.
type RideFilter struct {
	From     string
	To       string
	Statuses []models.RideStatus
}

// RideStore defines persistence for rides and their passenger links.
// Callers are responsible for serializing conflicting mutations of one
// ride (the coordination layer holds a per-ride lock around every
// read-modify-write).
type RideStore interface {
	CreateRide(r *models.Ride) error
	GetRide(id string) (*models.Ride, error)
	UpdateRide(r *models.Ride) error
	DeleteRide(id string) error
	ListRides(f RideFilter) ([]*models.Ride, error)

	AddPassenger(p *models.RidePassenger) error
	GetPassenger(rideID, userID string) (*models.RidePassenger, error)
	UpdatePassenger(p *models.RidePassenger) error
	RemovePassenger(rideID, userID string) error
	ListPassengers(rideID string) ([]*models.RidePassenger, error)
	ListJoined(userID string) ([]*models.RidePassenger, error)
}

// UserStore persists users and their profiles. CreateUser creates the
// user and its profile as one atomic step so "every user has exactly one
// profile" holds by construction.
type UserStore interface {
	CreateUser(u *models.User, p *models.Profile) error
	GetUser(id string) (*models.User, error)
	GetUserByEmail(email string) (*models.User, error)
	UpdateUser(u *models.User) error
	ListUsers() ([]*models.User, error)
	GetProfile(userID string) (*models.Profile, error)
	UpdateProfile(p *models.Profile) error
}

// LocationStore keeps at most one live location per user.
type LocationStore interface {
	Upsert(loc *models.LiveLocation) error
	Get(userID string) (*models.LiveLocation, error)
	Delete(userID string) error
	DeleteByRide(rideID string) error
}

// MemoryStore is the in-process implementation used by default and in
// tests.
type MemoryStore struct {
	mu         sync.RWMutex
	rides      map[string]*models.Ride
	passengers map[string]*models.RidePassenger // key rideID+"/"+userID
	users      map[string]*models.User
	profiles   map[string]*models.Profile
	locations  map[string]*models.LiveLocation // key userID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:      make(map[string]*models.Ride),
		passengers: make(map[string]*models.RidePassenger),
		users:      make(map[string]*models.User),
		profiles:   make(map[string]*models.Profile),
		locations:  make(map[string]*models.LiveLocation),
	}
}

func passengerKey(rideID, userID string) string { return rideID + "/" + userID }

func (m *MemoryStore) CreateRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return apperrors.Conflict("ride %s already exists", r.ID)
	}
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, apperrors.NotFound("ride %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) UpdateRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; !ok {
		return apperrors.NotFound("ride %s not found", r.ID)
	}
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteRide(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[id]; !ok {
		return apperrors.NotFound("ride %s not found", id)
	}
	delete(m.rides, id)
	// cascade the passenger links
	for k, p := range m.passengers {
		if p.RideID == id {
			delete(m.passengers, k)
		}
	}
	return nil
}

func (m *MemoryStore) ListRides(f RideFilter) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Ride, 0, len(m.rides))
	for _, r := range m.rides {
		if f.From != "" && !strings.Contains(strings.ToLower(r.From), strings.ToLower(f.From)) {
			continue
		}
		if f.To != "" && !strings.Contains(strings.ToLower(r.To), strings.ToLower(f.To)) {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, r.Status) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func containsStatus(ss []models.RideStatus, s models.RideStatus) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func (m *MemoryStore) AddPassenger(p *models.RidePassenger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := passengerKey(p.RideID, p.UserID)
	if _, ok := m.passengers[k]; ok {
		return apperrors.Conflict("user %s already joined ride %s", p.UserID, p.RideID)
	}
	cp := *p
	m.passengers[k] = &cp
	return nil
}

func (m *MemoryStore) GetPassenger(rideID, userID string) (*models.RidePassenger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.passengers[passengerKey(rideID, userID)]
	if !ok {
		return nil, apperrors.NotFound("user %s is not a passenger of ride %s", userID, rideID)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) UpdatePassenger(p *models.RidePassenger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := passengerKey(p.RideID, p.UserID)
	if _, ok := m.passengers[k]; !ok {
		return apperrors.NotFound("user %s is not a passenger of ride %s", p.UserID, p.RideID)
	}
	cp := *p
	m.passengers[k] = &cp
	return nil
}

func (m *MemoryStore) RemovePassenger(rideID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := passengerKey(rideID, userID)
	if _, ok := m.passengers[k]; !ok {
		return apperrors.NotFound("user %s is not a passenger of ride %s", userID, rideID)
	}
	delete(m.passengers, k)
	return nil
}

func (m *MemoryStore) ListPassengers(rideID string) ([]*models.RidePassenger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.RidePassenger
	for _, p := range m.passengers {
		if p.RideID == rideID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *MemoryStore) ListJoined(userID string) ([]*models.RidePassenger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.RidePassenger
	for _, p := range m.passengers {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *MemoryStore) CreateUser(u *models.User, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return apperrors.Conflict("user %s already exists", u.ID)
	}
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return apperrors.Conflict("email %s already registered", u.Email)
		}
	}
	cu := *u
	cp := *p
	m.users[u.ID] = &cu
	m.profiles[u.ID] = &cp
	return nil
}

func (m *MemoryStore) GetUser(id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperrors.NotFound("user %s not found", id)
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("no user with email %s", email)
}

func (m *MemoryStore) UpdateUser(u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return apperrors.NotFound("user %s not found", u.ID)
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) ListUsers() ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GetProfile(userID string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, apperrors.NotFound("profile for user %s not found", userID)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) UpdateProfile(p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.UserID]; !ok {
		return apperrors.NotFound("profile for user %s not found", p.UserID)
	}
	cp := *p
	m.profiles[p.UserID] = &cp
	return nil
}

func (m *MemoryStore) Upsert(loc *models.LiveLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *loc
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	m.locations[loc.UserID] = &cp
	return nil
}

func (m *MemoryStore) Get(userID string) (*models.LiveLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.locations[userID]
	if !ok {
		return nil, apperrors.NotFound("no live location for user %s", userID)
	}
	cp := *loc
	return &cp, nil
}

func (m *MemoryStore) Delete(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locations, userID)
	return nil
}

func (m *MemoryStore) DeleteByRide(rideID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, loc := range m.locations {
		if loc.RideID == rideID {
			delete(m.locations, k)
		}
	}
	return nil
}
