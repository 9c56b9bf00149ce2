package models

import "time"

// Coord is a latitude/longitude pair in degrees.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Entity is a tracked person or device and its last known position.
type Entity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	UpdatedAt time.Time `json:"-"`
}

func (e Entity) Coord() Coord { return Coord{Lat: e.Lat, Lng: e.Lng} }

// RankedResult is one row of a nearby board. It is computed per request
// and never stored.
type RankedResult struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	DistanceKm float64 `json:"distance"`
}

// PositionEvent is emitted after every accepted position write.
type PositionEvent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	UpdatedAt time.Time `json:"updated_at"`
}
