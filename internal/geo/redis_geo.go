package geo

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/example/driver-hail/internal/models"
)

// RedisIndex implements Index using Redis GEO commands. Locations are kept
// under a single GEOADD key with a small metadata hash per driver.
type RedisIndex struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key, ctx: context.Background()}
}

func (r *RedisIndex) Upsert(u models.LocationUpdate) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: u.Loc.Lng, Latitude: u.Loc.Lat, Name: u.DriverID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(u.DriverID), map[string]interface{}{"online": u.Online}).Err()
}

func (r *RedisIndex) Nearby(lat, lng float64, limit int) []models.LocationUpdate {
	res, err := r.client.GeoRadius(r.ctx, r.key, lng, lat, &redis.GeoRadiusQuery{
		Radius: 10000, Unit: "m", WithCoord: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.LocationUpdate, 0, len(res))
	for _, g := range res {
		u := models.LocationUpdate{DriverID: g.Name, Loc: models.Coordinates{Lat: g.Latitude, Lng: g.Longitude}}
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			u.Online = m["online"] == "1" || m["online"] == "true"
		}
		out = append(out, u)
	}
	return out
}

func metaKey(id string) string { return "driver:loc:" + id }
