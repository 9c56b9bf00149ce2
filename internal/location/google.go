package location

import (
	"context"
	"errors"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/example/nearby/internal/models"
)

// GeolocationClient is the part of *maps.Client the provider uses.
type GeolocationClient interface {
	Geolocate(ctx context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error)
}

// GoogleProvider asks the Google Geolocation API for an IP based position.
type GoogleProvider struct {
	client GeolocationClient
}

func NewGoogleProvider(client GeolocationClient) *GoogleProvider {
	return &GoogleProvider{client: client}
}

func NewGoogleProviderFromKey(apiKey string) (*GoogleProvider, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return NewGoogleProvider(c), nil
}

var errEmptyGeolocation = errors.New("empty geolocation response")

func (g *GoogleProvider) Locate(ctx context.Context) (models.Coord, error) {
	resp, err := g.client.Geolocate(ctx, &maps.GeolocationRequest{ConsiderIP: true})
	if err != nil {
		return models.Coord{}, fmt.Errorf("%w: geolocate: %w", ErrUnavailable, err)
	}
	if resp == nil {
		return models.Coord{}, fmt.Errorf("%w: %w", ErrUnavailable, errEmptyGeolocation)
	}
	return models.Coord{Lat: resp.Location.Lat, Lng: resp.Location.Lng}, nil
}
