package location

import (
	"context"
	"errors"

	"github.com/example/nearby/internal/models"
)

// ErrUnavailable is returned when the device cannot produce a position.
// It is always retryable.
var ErrUnavailable = errors.New("location unavailable")

// Provider acquires the current device position.
type Provider interface {
	Locate(ctx context.Context) (models.Coord, error)
}

// Static always reports the same position.
type Static struct {
	Coord models.Coord
}

func (s Static) Locate(ctx context.Context) (models.Coord, error) {
	if err := ctx.Err(); err != nil {
		return models.Coord{}, errors.Join(ErrUnavailable, err)
	}
	return s.Coord, nil
}

// Func adapts a function to Provider.
type Func func(ctx context.Context) (models.Coord, error)

func (f Func) Locate(ctx context.Context) (models.Coord, error) { return f(ctx) }
