// Package registry loads the fixed set of locations whose history is
// ingested.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/kelvins/geocoder"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/i474232898/weather-history/internal/weather"
)

var (
	ErrDuplicateID         = errors.New("duplicate location id")
	ErrMissingCoordinates  = errors.New("location has no coordinates")
	ErrUnknownLocation     = errors.New("unknown location id")
	ErrGeocoderUnavailable = errors.New("geocoder not configured")
)

type entry struct {
	ID        int      `mapstructure:"id" validate:"required,gt=0"`
	Name      string   `mapstructure:"name" validate:"required"`
	Region    string   `mapstructure:"region"`
	Country   string   `mapstructure:"country"`
	Latitude  *float64 `mapstructure:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude *float64 `mapstructure:"longitude" validate:"omitempty,gte=-180,lte=180"`
}

type document struct {
	Locations []entry `mapstructure:"locations" validate:"required,min=1,dive"`
}

// Geocoder resolves coordinates for registry entries that carry none.
type Geocoder interface {
	Locate(ctx context.Context, name, region, country string) (lat, lon float64, err error)
}

// GoogleGeocoder resolves addresses through the Google Geocoding API.
type GoogleGeocoder struct{}

// NewGoogleGeocoder configures the geocoding client with apiKey.
func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	geocoder.ApiKey = apiKey
	return &GoogleGeocoder{}
}

func (g *GoogleGeocoder) Locate(ctx context.Context, name, region, country string) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	loc, err := geocoder.Geocoding(geocoder.Address{City: name, State: region, Country: country})
	if err != nil {
		return 0, 0, err
	}
	return loc.Latitude, loc.Longitude, nil
}

// Registry is the immutable, ordered set of locations.
type Registry struct {
	locations []weather.Location
	index     map[int]int
}

// Load reads a registry file (YAML, JSON or TOML, by extension). Entries
// without coordinates are geocoded when gc is non-nil and rejected otherwise.
func Load(ctx context.Context, path string, gc Geocoder, logger zerolog.Logger) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}

	var doc document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("registry: decode %s: %w", path, err)
	}
	if err := validator.New().Struct(doc); err != nil {
		return nil, fmt.Errorf("registry: invalid %s: %w", path, err)
	}

	locs := make([]weather.Location, 0, len(doc.Locations))
	for _, e := range doc.Locations {
		loc := weather.Location{ID: e.ID, Name: e.Name, Region: e.Region}
		if e.Latitude != nil && e.Longitude != nil {
			loc.Lat, loc.Lon = *e.Latitude, *e.Longitude
		} else {
			if gc == nil {
				return nil, fmt.Errorf("registry: %w: %s: %w", ErrMissingCoordinates, loc.Key(), ErrGeocoderUnavailable)
			}
			lat, lon, err := gc.Locate(ctx, e.Name, e.Region, e.Country)
			if err != nil {
				return nil, fmt.Errorf("registry: %w: %s: %w", ErrMissingCoordinates, loc.Key(), err)
			}
			loc.Lat, loc.Lon = lat, lon
			logger.Info().Int("location_id", loc.ID).Float64("lat", lat).Float64("lon", lon).Msg("registry: geocoded location")
		}
		locs = append(locs, loc)
	}
	return New(locs)
}

// New builds a registry from locations, preserving their order.
func New(locations []weather.Location) (*Registry, error) {
	validate := validator.New()
	r := &Registry{
		locations: make([]weather.Location, 0, len(locations)),
		index:     make(map[int]int, len(locations)),
	}
	for _, loc := range locations {
		if err := validate.Struct(loc); err != nil {
			return nil, fmt.Errorf("registry: invalid location %s: %w", loc.Key(), err)
		}
		if _, dup := r.index[loc.ID]; dup {
			return nil, fmt.Errorf("registry: %w: %d", ErrDuplicateID, loc.ID)
		}
		r.index[loc.ID] = len(r.locations)
		r.locations = append(r.locations, loc)
	}
	return r, nil
}

// All returns every location in registry order.
func (r *Registry) All() []weather.Location {
	return append([]weather.Location(nil), r.locations...)
}

// Select returns the locations with the given ids in registry order. No ids
// selects all.
func (r *Registry) Select(ids []int) ([]weather.Location, error) {
	if len(ids) == 0 {
		return r.All(), nil
	}

	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		if _, ok := r.index[id]; !ok {
			return nil, fmt.Errorf("registry: %w: %d", ErrUnknownLocation, id)
		}
		want[id] = true
	}

	out := make([]weather.Location, 0, len(want))
	for _, loc := range r.locations {
		if want[loc.ID] {
			out = append(out, loc)
		}
	}
	return out, nil
}

// Len returns the number of locations.
func (r *Registry) Len() int { return len(r.locations) }
