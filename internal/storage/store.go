package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/nearby/internal/models"
)

var (
	// ErrNotFound is returned when no entity has the requested id.
	ErrNotFound = errors.New("entity not found")
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("entity already exists")
)

// PositionStore persists entities and their last known position.
// Implementations must be safe for concurrent use and apply each write to a
// single record atomically.
type PositionStore interface {
	// Create inserts e. The record is either fully stored or not at all.
	Create(ctx context.Context, e models.Entity) error
	// UpdatePosition overwrites the coordinates of an existing entity.
	UpdatePosition(ctx context.Context, id string, c models.Coord, at time.Time) error
	Get(ctx context.Context, id string) (models.Entity, error)
	// ListExcept returns every entity other than id, in registration order.
	ListExcept(ctx context.Context, id string) ([]models.Entity, error)
	Ping(ctx context.Context) error
}
