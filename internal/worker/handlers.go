// ABOUTME: Built-in job handlers: ping (diagnostic) and location.upsert.
// ABOUTME: location.upsert dedupes coordinates by a rounded "lat,lon" key with negative-zero normalization.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nickskupien/sunset-sunrise-predictor/internal/queue"
)

// PingHandler echoes its payload back. Useful for end-to-end smoke tests of
// the queue pipeline.
func PingHandler(_ context.Context, _ *pgxpool.Pool, payload json.RawMessage) (any, error) {
	return map[string]any{"ok": true, "payload": payload}, nil
}

// locationPayload is the expected shape for location.upsert jobs. Pointers
// distinguish absent fields from zero coordinates.
type locationPayload struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// LocationResult is the serializable return value of LocationUpsertHandler.
type LocationResult struct {
	LocationID  int64   `json:"locationId"`
	LocationKey string  `json:"locationKey"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

// upsertLocationSQL inserts the rounded coordinate or returns the existing
// row's id on key conflict. The no-op DO UPDATE makes RETURNING yield the
// existing id.
const upsertLocationSQL = `
INSERT INTO locations (key, lat, lon)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET key = locations.key
RETURNING id`

// LocationUpsertHandler validates the lat/lon ranges, rounds both to three
// decimals, and upserts a locations row keyed by "lat,lon".
func LocationUpsertHandler(ctx context.Context, db *pgxpool.Pool, payload json.RawMessage) (any, error) {
	var p locationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("invalid location payload: %w", err)
	}
	if p.Lat == nil || p.Lon == nil {
		return nil, fmt.Errorf("invalid location payload: lat and lon are required")
	}
	if *p.Lat < -90 || *p.Lat > 90 {
		return nil, fmt.Errorf("%w: lat out of range: %v", queue.ErrInvalidInput, *p.Lat)
	}
	if *p.Lon < -180 || *p.Lon > 180 {
		return nil, fmt.Errorf("%w: lon out of range: %v", queue.ErrInvalidInput, *p.Lon)
	}

	lat := roundCoord(*p.Lat)
	lon := roundCoord(*p.Lon)
	key := locationKey(lat, lon)

	var id int64
	if err := db.QueryRow(ctx, upsertLocationSQL, key, lat, lon).Scan(&id); err != nil {
		return nil, fmt.Errorf("upsert location %s: %w", key, err)
	}
	return LocationResult{LocationID: id, LocationKey: key, Lat: lat, Lon: lon}, nil
}

// roundCoord rounds to three decimals and normalizes negative zero, so
// -0.0003 and 0.0003 both land on the 0.000 grid line with a stable sign.
func roundCoord(v float64) float64 {
	r := math.Round(v*1000) / 1000
	if r == 0 {
		return 0
	}
	return r
}

// locationKey renders the dedupe key with fixed three-decimal precision.
func locationKey(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', 3, 64) + "," + strconv.FormatFloat(lon, 'f', 3, 64)
}
