package geo

import (
	"encoding/json"
	"testing"

	"github.com/tripmate/tripmate-sync/internal/model"
)

func TestNormalize(t *testing.T) {
	want := model.Coords{Latitude: 46.77, Longitude: 23.59}

	tests := []struct {
		name  string
		input string
	}{
		{"latitude longitude object", `{"latitude": 46.77, "longitude": 23.59}`},
		{"lat lng object", `{"lat": "46.77", "lng": "23.59"}`},
		{"lat long object", `{"lat": 46.77, "long": 23.59}`},
		{"nested coords", `{"coords": {"latitude": 46.77, "longitude": 23.59}}`},
		{"geojson geometry", `{"geometry": {"type": "Point", "coordinates": [23.59, 46.77]}}`},
		{"bare coordinates", `{"coordinates": [23.59, 46.77]}`},
		{"array", `[46.77, 23.59]`},
		{"comma string", `"46.77, 23.59"`},
		{"parenthesized string", `"(46.77 23.59)"`},
		{"labelled string", `"lat: 46.77 / lon= 23.59"`},
		{"json inside string", `"{\"latitude\": 46.77, \"longitude\": 23.59}"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeRaw(json.RawMessage(tt.input))
			if !ok {
				t.Fatalf("expected coordinates from %s", tt.input)
			}
			if got != want {
				t.Errorf("got %+v, want %+v", got, want)
			}
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	inputs := []string{
		``,
		`null`,
		`"somewhere nice"`,
		`[46.77]`,
		`{"latitude": "north", "longitude": 1}`,
		`{"name": "no coords"}`,
		`true`,
	}
	for _, in := range inputs {
		if c, ok := NormalizeRaw(json.RawMessage(in)); ok {
			t.Errorf("NormalizeRaw(%s) = %+v, want no result", in, c)
		}
	}
}

func TestValid(t *testing.T) {
	if !Valid(model.Coords{Latitude: -90, Longitude: 180}) {
		t.Error("boundary coordinates should be valid")
	}
	if Valid(model.Coords{Latitude: 91, Longitude: 0}) {
		t.Error("latitude 91 should be invalid")
	}
}
