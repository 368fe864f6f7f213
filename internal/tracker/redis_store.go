package tracker

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ecocommute/internal/apperrors"
	"github.com/example/ecocommute/internal/models"
)

// RedisStore keeps the single live-location row per user as a Redis
// hash, with a per-ride index set so a whole ride can be purged in one
// sweep. Rows carry a TTL as a backstop against orphans.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(addr, password string, ttl time.Duration) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &RedisStore{client: c, ttl: ttl}
}

func locKey(userID string) string  { return "live_location:" + userID }
func rideKey(rideID string) string { return "ride_locations:" + rideID }

func (s *RedisStore) Upsert(loc *models.LiveLocation) error {
	ctx := context.Background()
	// a user moving to a new ride must leave the old ride's index
	if old, err := s.client.HGet(ctx, locKey(loc.UserID), "ride_id").Result(); err == nil && old != loc.RideID {
		_ = s.client.SRem(ctx, rideKey(old), loc.UserID).Err()
	}
	fields := map[string]interface{}{
		"ride_id":    loc.RideID,
		"lat":        strconv.FormatFloat(loc.Lat, 'f', -1, 64),
		"lon":        strconv.FormatFloat(loc.Lon, 'f', -1, 64),
		"updated_at": loc.UpdatedAt.Format(time.RFC3339Nano),
		"sharing":    strconv.FormatBool(loc.IsSharing),
	}
	if err := s.client.HSet(ctx, locKey(loc.UserID), fields).Err(); err != nil {
		return err
	}
	_ = s.client.Expire(ctx, locKey(loc.UserID), s.ttl).Err()
	return s.client.SAdd(ctx, rideKey(loc.RideID), loc.UserID).Err()
}

func (s *RedisStore) Get(userID string) (*models.LiveLocation, error) {
	ctx := context.Background()
	m, err := s.client.HGetAll(ctx, locKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, apperrors.NotFound("no live location for user %s", userID)
	}
	loc := &models.LiveLocation{UserID: userID, RideID: m["ride_id"]}
	loc.Lat, _ = strconv.ParseFloat(m["lat"], 64)
	loc.Lon, _ = strconv.ParseFloat(m["lon"], 64)
	loc.IsSharing, _ = strconv.ParseBool(m["sharing"])
	if ts, err := time.Parse(time.RFC3339Nano, m["updated_at"]); err == nil {
		loc.UpdatedAt = ts
	}
	return loc, nil
}

func (s *RedisStore) Delete(userID string) error {
	ctx := context.Background()
	if rideID, err := s.client.HGet(ctx, locKey(userID), "ride_id").Result(); err == nil {
		_ = s.client.SRem(ctx, rideKey(rideID), userID).Err()
	}
	return s.client.Del(ctx, locKey(userID)).Err()
}

func (s *RedisStore) DeleteByRide(rideID string) error {
	ctx := context.Background()
	members, err := s.client.SMembers(ctx, rideKey(rideID)).Result()
	if err != nil {
		return err
	}
	for _, userID := range members {
		if err := s.client.Del(ctx, locKey(userID)).Err(); err != nil {
			return err
		}
	}
	return s.client.Del(ctx, rideKey(rideID)).Err()
}
