package ranking

import (
	"math"
	"sort"

	"github.com/example/nearby/internal/geo"
	"github.com/example/nearby/internal/models"
)

// DefaultLimit is the board size used when none is configured.
const DefaultLimit = 10

// Candidate is an entity considered for a board.
type Candidate struct {
	ID    string
	Name  string
	Coord models.Coord
}

// FromEntities converts store records into candidates.
func FromEntities(es []models.Entity) []Candidate {
	out := make([]Candidate, 0, len(es))
	for _, e := range es {
		out = append(out, Candidate{ID: e.ID, Name: e.Name, Coord: e.Coord()})
	}
	return out
}

// Rank orders candidates by great-circle distance from origin and returns
// at most limit of them. The whole list is sorted before truncating, and
// candidates at equal distance keep their input order. Rank never modifies
// candidates and always returns a non-nil slice.
func Rank(origin models.Coord, candidates []Candidate, limit int) []models.RankedResult {
	if limit <= 0 || len(candidates) == 0 {
		return []models.RankedResult{}
	}
	scored := make([]models.RankedResult, len(candidates))
	for i, c := range candidates {
		scored[i] = models.RankedResult{ID: c.ID, Name: c.Name, DistanceKm: geo.Distance(origin, c.Coord)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return less(scored[i].DistanceKm, scored[j].DistanceKm) })

	n := limit
	if n > len(scored) {
		n = len(scored)
	}
	return scored[:n:n]
}

// less sorts NaN distances after every real distance.
func less(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	return a < b
}
