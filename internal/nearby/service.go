package nearby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/nearby/internal/geo"
	"github.com/example/nearby/internal/models"
	"github.com/example/nearby/internal/observability"
	"github.com/example/nearby/internal/ranking"
	"github.com/example/nearby/internal/storage"
)

// DefaultName labels entities registered without a name. Unnamed entities
// stay visible on boards under this label.
const DefaultName = "Snowymountain"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrStorage      = errors.New("storage error")
)

// Publisher receives position events after successful writes.
type Publisher interface {
	PublishPosition(ctx context.Context, ev models.PositionEvent) error
}

type Options struct {
	// Limit bounds every board. Zero means ranking.DefaultLimit.
	Limit int
	// StaleAfter drops candidates whose last update is older than this.
	// Zero keeps every candidate.
	StaleAfter time.Duration
	Publisher  Publisher
}

// Service implements registration and update-and-rank on top of a
// PositionStore.
type Service struct {
	store      storage.PositionStore
	log        *slog.Logger
	limit      int
	staleAfter time.Duration
	publisher  Publisher

	now   func() time.Time
	newID func() string
}

func NewService(store storage.PositionStore, log *slog.Logger, opts Options) *Service {
	if opts.Limit <= 0 {
		opts.Limit = ranking.DefaultLimit
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:      store,
		log:        log,
		limit:      opts.Limit,
		staleAfter: opts.StaleAfter,
		publisher:  opts.Publisher,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

func (s *Service) Limit() int { return s.limit }

// Register creates a new entity at c and returns it.
func (s *Service) Register(ctx context.Context, name string, c models.Coord) (models.Entity, error) {
	if !geo.Valid(c) {
		observability.RegistrationsTotal.WithLabelValues("invalid").Inc()
		return models.Entity{}, fmt.Errorf("%w: coordinate %v out of range", ErrInvalidInput, c)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	e := models.Entity{ID: s.newID(), Name: name, Lat: c.Lat, Lng: c.Lng, UpdatedAt: s.now().UTC()}
	if err := s.store.Create(ctx, e); err != nil {
		observability.RegistrationsTotal.WithLabelValues("error").Inc()
		s.log.ErrorContext(ctx, "register failed", "error", err)
		return models.Entity{}, fmt.Errorf("%w: create user: %w", ErrStorage, err)
	}
	observability.RegistrationsTotal.WithLabelValues("ok").Inc()
	s.log.InfoContext(ctx, "user registered", "user_id", e.ID)
	s.publish(ctx, models.PositionEvent{ID: e.ID, Name: e.Name, Lat: e.Lat, Lng: e.Lng, UpdatedAt: e.UpdatedAt})
	return e, nil
}

// UpdateAndRank records c as the position of id and returns the closest
// other entities, nearest first. The position write happens exactly once;
// if it fails no board is returned.
func (s *Service) UpdateAndRank(ctx context.Context, id string, c models.Coord) (out []models.RankedResult, err error) {
	start := time.Now()
	defer func() {
		observability.RankLatency.Observe(time.Since(start).Seconds())
		observability.RankRequestsTotal.WithLabelValues(outcome(err)).Inc()
	}()

	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}
	if !geo.Valid(c) {
		return nil, fmt.Errorf("%w: coordinate %v out of range", ErrInvalidInput, c)
	}

	at := s.now().UTC()
	if err := s.store.UpdatePosition(ctx, id, c, at); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
		s.log.ErrorContext(ctx, "position update failed", "user_id", id, "error", err)
		return nil, fmt.Errorf("%w: update position: %w", ErrStorage, err)
	}
	s.publish(ctx, models.PositionEvent{ID: id, Lat: c.Lat, Lng: c.Lng, UpdatedAt: at})

	others, err := s.store.ListExcept(ctx, id)
	if err != nil {
		s.log.ErrorContext(ctx, "list candidates failed", "user_id", id, "error", err)
		return nil, fmt.Errorf("%w: list users: %w", ErrStorage, err)
	}
	others = s.dropStale(others, at)
	observability.RankCandidates.Observe(float64(len(others)))

	out = ranking.Rank(c, ranking.FromEntities(others), s.limit)
	s.log.DebugContext(ctx, "ranked", "user_id", id, "candidates", len(others), "returned", len(out))
	return out, nil
}

// Get returns a single entity.
func (s *Service) Get(ctx context.Context, id string) (models.Entity, error) {
	if strings.TrimSpace(id) == "" {
		return models.Entity{}, fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}
	e, err := s.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Entity{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	if err != nil {
		s.log.ErrorContext(ctx, "get user failed", "user_id", id, "error", err)
		return models.Entity{}, fmt.Errorf("%w: get user: %w", ErrStorage, err)
	}
	return e, nil
}

// Ping reports store health.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

func (s *Service) dropStale(es []models.Entity, now time.Time) []models.Entity {
	if s.staleAfter <= 0 {
		return es
	}
	cutoff := now.Add(-s.staleAfter)
	kept := es[:0]
	for _, e := range es {
		// records without a timestamp predate the column and are kept
		if !e.UpdatedAt.IsZero() && e.UpdatedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func (s *Service) publish(ctx context.Context, ev models.PositionEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishPosition(ctx, ev); err != nil {
		observability.EventPublishErrors.Inc()
		s.log.WarnContext(ctx, "position event publish failed", "user_id", ev.ID, "error", err)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
