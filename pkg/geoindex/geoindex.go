// Package geoindex provides a copy-on-write spatial index over sensors and
// shelters. Readers always work against an immutable snapshot; writers
// rebuild the cell buckets offline and publish the new snapshot atomically.
package geoindex

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	h3 "github.com/uber/h3-go/v4"

	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/models"
)

// EntityKind separates the two indexed entity families.
type EntityKind string

const (
	KindSensor  EntityKind = "sensor"
	KindShelter EntityKind = "shelter"
)

const (
	// Cell resolution 7: ~1.2km average hexagon edge, a good bucket size
	// for city-scale deployments.
	cellResolution = 7

	// Average hexagon edge length in meters at resolution 7 (H3 table).
	avgEdgeLenM = 1220.63

	// Hexagon center-to-center spacing is edge * sqrt(3).
	cellSpacingM = avgEdgeLenM * 1.7320508

	maxGridRings = 128
)

// earthRadiusM is the WGS84 mean Earth radius. Haversine on this sphere
// stays within 0.5% of geodesic distance for radii up to 100km.
const earthRadiusM = 6371008.8

// Entry is one indexed entity with the payload its predicates need.
type Entry struct {
	Kind     EntityKind
	ID       int64
	Name     string
	Location models.GeoPoint

	SensorKind   models.SensorKind
	SensorStatus models.SensorStatus

	ShelterStatus   models.ShelterStatus
	CapacityMax     int
	CapacityCurrent int
	Services        models.ShelterServices
}

// HasCapacity reports whether a shelter entry can still take evacuees.
func (e Entry) HasCapacity() bool {
	return e.Kind == KindShelter && e.CapacityCurrent < e.CapacityMax
}

// Accepting reports whether a shelter entry should be offered to evacuees.
func (e Entry) Accepting() bool {
	return e.HasCapacity() && e.ShelterStatus == models.ShelterAvailable
}

// Match is a query result with its geodesic distance from the center.
type Match struct {
	Entry
	DistanceM float64
}

// Predicate filters query candidates. A nil predicate matches everything.
type Predicate func(Entry) bool

type snapshot struct {
	entries []Entry
	cells   map[h3.Cell][]int
}

// Index is the copy-on-write spatial index.
type Index struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[snapshot]
}

// New returns an empty index.
func New() *Index {
	ix := &Index{}
	ix.snap.Store(buildSnapshot(nil))
	return ix
}

func buildSnapshot(entries []Entry) *snapshot {
	s := &snapshot{
		entries: entries,
		cells:   make(map[h3.Cell][]int, len(entries)),
	}
	for i, e := range entries {
		cell, ok := cellOf(e.Location)
		if !ok {
			log.Warn().
				Str("kind", string(e.Kind)).
				Int64("id", e.ID).
				Float64("lat", e.Location.Lat).
				Float64("lon", e.Location.Lon).
				Msg("Entity location outside valid coordinates, excluded from spatial index")
			continue
		}
		s.cells[cell] = append(s.cells[cell], i)
	}
	return s
}

func cellOf(p models.GeoPoint) (h3.Cell, bool) {
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return 0, false
	}
	cell, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lon), cellResolution)
	if err != nil {
		return 0, false
	}
	return cell, true
}

// Replace swaps in a fresh set of entries for one entity kind, keeping the
// other kind untouched. Readers see either the old or the new snapshot.
func (ix *Index) Replace(kind EntityKind, entries []Entry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	old := ix.snap.Load()
	next := make([]Entry, 0, len(old.entries)+len(entries))
	for _, e := range old.entries {
		if e.Kind != kind {
			next = append(next, e)
		}
	}
	next = append(next, entries...)
	ix.snap.Store(buildSnapshot(next))
}

// Upsert inserts or updates a single entity.
func (ix *Index) Upsert(entry Entry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	old := ix.snap.Load()
	next := make([]Entry, 0, len(old.entries)+1)
	replaced := false
	for _, e := range old.entries {
		if e.Kind == entry.Kind && e.ID == entry.ID {
			next = append(next, entry)
			replaced = true
			continue
		}
		next = append(next, e)
	}
	if !replaced {
		next = append(next, entry)
	}
	ix.snap.Store(buildSnapshot(next))
}

// Remove deletes an entity, if present.
func (ix *Index) Remove(kind EntityKind, id int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	old := ix.snap.Load()
	next := make([]Entry, 0, len(old.entries))
	for _, e := range old.entries {
		if e.Kind == kind && e.ID == id {
			continue
		}
		next = append(next, e)
	}
	ix.snap.Store(buildSnapshot(next))
}

// Len returns the number of indexed entities.
func (ix *Index) Len() int {
	return len(ix.snap.Load().entries)
}

// WithinRadius returns all entities within radiusM meters of center that
// satisfy pred, sorted ascending by distance (ties by ID).
func (ix *Index) WithinRadius(center models.GeoPoint, radiusM float64, pred Predicate) []Match {
	if radiusM <= 0 {
		return nil
	}
	s := ix.snap.Load()
	candidates := s.candidatesNear(center, ringsForRadius(radiusM))

	matches := make([]Match, 0, len(candidates))
	for _, i := range candidates {
		e := s.entries[i]
		if pred != nil && !pred(e) {
			continue
		}
		d := HaversineM(center, e.Location)
		if d <= radiusM {
			matches = append(matches, Match{Entry: e, DistanceM: d})
		}
	}
	sortMatches(matches)
	return matches
}

// KNearest returns up to k entities satisfying pred, sorted ascending by
// distance from center. The search expands cell rings until enough
// candidates accumulate, then widens one extra ring so no closer entity in
// a neighboring cell is missed.
func (ix *Index) KNearest(center models.GeoPoint, k int, pred Predicate) []Match {
	if k <= 0 {
		return nil
	}
	s := ix.snap.Load()

	var candidates []int
	for rings := 1; rings <= maxGridRings; rings *= 2 {
		candidates = s.candidatesNear(center, rings)
		if countMatching(s, candidates, pred) >= k {
			// One safety ring: a point near a cell border can have nearer
			// neighbors one ring further out.
			candidates = s.candidatesNear(center, rings+1)
			break
		}
	}
	if countMatching(s, candidates, pred) < k {
		candidates = allIndices(s)
	}

	matches := make([]Match, 0, len(candidates))
	for _, i := range candidates {
		e := s.entries[i]
		if pred != nil && !pred(e) {
			continue
		}
		matches = append(matches, Match{Entry: e, DistanceM: HaversineM(center, e.Location)})
	}
	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func (s *snapshot) candidatesNear(center models.GeoPoint, rings int) []int {
	cell, ok := cellOf(center)
	if !ok {
		return allIndices(s)
	}
	disk, err := h3.GridDisk(cell, rings)
	if err != nil {
		return allIndices(s)
	}
	var out []int
	for _, c := range disk {
		out = append(out, s.cells[c]...)
	}
	return out
}

func allIndices(s *snapshot) []int {
	out := make([]int, len(s.entries))
	for i := range s.entries {
		out[i] = i
	}
	return out
}

func countMatching(s *snapshot, indices []int, pred Predicate) int {
	if pred == nil {
		return len(indices)
	}
	n := 0
	for _, i := range indices {
		if pred(s.entries[i]) {
			n++
		}
	}
	return n
}

func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].DistanceM == matches[j].DistanceM {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].DistanceM < matches[j].DistanceM
	})
}

func ringsForRadius(radiusM float64) int {
	rings := int(math.Ceil(radiusM/cellSpacingM)) + 1
	if rings < 1 {
		rings = 1
	}
	if rings > maxGridRings {
		rings = maxGridRings
	}
	return rings
}

// HaversineM computes the great-circle distance between two WGS84 points
// in meters.
func HaversineM(a, b models.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}
