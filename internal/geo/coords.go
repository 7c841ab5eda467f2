// Package geo normalizes coordinates from loosely shaped feed records.
package geo

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tripmate/tripmate-sync/internal/model"
)

var (
	splitPattern = regexp.MustCompile(`[;,\s]+`)
	latPattern   = regexp.MustCompile(`(?i)lat(?:itude)?\s*[:=]\s*([-+]?\d+(?:\.\d+)?)`)
	lonPattern   = regexp.MustCompile(`(?i)lon(?:gitude)?\s*[:=]\s*([-+]?\d+(?:\.\d+)?)`)
)

// Normalize extracts a latitude/longitude pair from a decoded JSON value.
//
// Accepted shapes: {"latitude","longitude"}, {"lat","lng"}, {"lat","long"},
// {"coords": ...}, GeoJSON {"geometry":{"coordinates":[lon,lat]}} and
// {"coordinates":[lon,lat]}, [lat, lon] arrays, and strings holding JSON,
// "lat,lon" pairs or "lat: x lon: y".
func Normalize(input any) (model.Coords, bool) {
	switch v := input.(type) {
	case nil:
		return model.Coords{}, false
	case string:
		return fromString(v)
	case []any:
		if len(v) < 2 {
			return model.Coords{}, false
		}
		return pair(v[0], v[1])
	case map[string]any:
		return fromObject(v)
	}
	return model.Coords{}, false
}

// NormalizeRaw is Normalize for an undecoded JSON value.
func NormalizeRaw(raw json.RawMessage) (model.Coords, bool) {
	if len(raw) == 0 {
		return model.Coords{}, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return model.Coords{}, false
	}
	return Normalize(v)
}

// Valid reports whether c lies within the degree ranges of the globe.
func Valid(c model.Coords) bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

func fromString(s string) (model.Coords, bool) {
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err == nil {
		if _, isString := decoded.(string); !isString {
			if c, ok := Normalize(decoded); ok {
				return c, true
			}
		}
	}

	cleaned := strings.NewReplacer("(", "", ")", "").Replace(s)
	var parts []string
	for _, p := range splitPattern.Split(cleaned, -1) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) >= 2 {
		if c, ok := pair(parts[0], parts[1]); ok {
			return c, true
		}
	}

	lat := latPattern.FindStringSubmatch(s)
	lon := lonPattern.FindStringSubmatch(s)
	if lat != nil && lon != nil {
		return pair(lat[1], lon[1])
	}
	return model.Coords{}, false
}

func fromObject(m map[string]any) (model.Coords, bool) {
	if inner, ok := m["coords"]; ok {
		return Normalize(inner)
	}
	if geometry, ok := m["geometry"].(map[string]any); ok {
		if c, ok := lonLat(geometry["coordinates"]); ok {
			return c, true
		}
	}
	if c, ok := lonLat(m["coordinates"]); ok {
		return c, true
	}
	if lat, ok := m["latitude"]; ok {
		if lon, ok := m["longitude"]; ok {
			return pair(lat, lon)
		}
	}
	if lat, ok := m["lat"]; ok {
		if lon, ok := m["lng"]; ok {
			return pair(lat, lon)
		}
		if lon, ok := m["long"]; ok {
			return pair(lat, lon)
		}
	}
	return model.Coords{}, false
}

// lonLat reads a GeoJSON position, which puts longitude first.
func lonLat(v any) (model.Coords, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) < 2 {
		return model.Coords{}, false
	}
	return pair(arr[1], arr[0])
}

func pair(lat, lon any) (model.Coords, bool) {
	a, ok := number(lat)
	if !ok {
		return model.Coords{}, false
	}
	b, ok := number(lon)
	if !ok {
		return model.Coords{}, false
	}
	return model.Coords{Latitude: a, Longitude: b}, true
}

func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
