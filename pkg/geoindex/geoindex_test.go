package geoindex

import (
	"fmt"
	"sync"
	"testing"

	"github.com/vigiaops/vigia-go/internal/models"
)

func shelterEntry(id int64, lat, lon float64, current, max int) Entry {
	return Entry{
		Kind:            KindShelter,
		ID:              id,
		Name:            fmt.Sprintf("shelter-%d", id),
		Location:        models.GeoPoint{Lat: lat, Lon: lon},
		ShelterStatus:   models.ShelterAvailable,
		CapacityMax:     max,
		CapacityCurrent: current,
	}
}

func sensorEntry(id int64, lat, lon float64) Entry {
	return Entry{
		Kind:         KindSensor,
		ID:           id,
		Name:         fmt.Sprintf("sensor-%d", id),
		Location:     models.GeoPoint{Lat: lat, Lon: lon},
		SensorKind:   models.KindTemperature,
		SensorStatus: models.SensorActive,
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// One degree of latitude on the mean sphere is pi*R/180.
	a := models.GeoPoint{Lat: 0, Lon: 0}
	b := models.GeoPoint{Lat: 1, Lon: 0}
	want := 111194.9

	got := HaversineM(a, b)
	if diff := got - want; diff > 50 || diff < -50 {
		t.Errorf("HaversineM(1 degree lat) = %.1f, want ~%.1f", got, want)
	}

	if d := HaversineM(a, a); d != 0 {
		t.Errorf("HaversineM(a, a) = %f, want 0", d)
	}
}

func TestWithinRadiusSortedAndFiltered(t *testing.T) {
	ix := New()
	center := models.GeoPoint{Lat: 38.7223, Lon: -9.1393}

	ix.Replace(KindShelter, []Entry{
		shelterEntry(1, 38.7323, -9.1393, 0, 100), // ~1.1km north
		shelterEntry(2, 38.7723, -9.1393, 0, 100), // ~5.6km north
		shelterEntry(3, 38.7233, -9.1393, 0, 100), // ~110m north
		shelterEntry(4, 39.2223, -9.1393, 0, 100), // ~55km north
	})

	matches := ix.WithinRadius(center, 10_000, nil)
	if len(matches) != 3 {
		t.Fatalf("WithinRadius(10km) returned %d matches, want 3", len(matches))
	}
	wantOrder := []int64{3, 1, 2}
	for i, want := range wantOrder {
		if matches[i].ID != want {
			t.Errorf("match[%d].ID = %d, want %d", i, matches[i].ID, want)
		}
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].DistanceM < matches[i-1].DistanceM {
			t.Errorf("matches not sorted ascending at index %d", i)
		}
	}

	if got := ix.WithinRadius(center, 200, nil); len(got) != 1 || got[0].ID != 3 {
		t.Errorf("WithinRadius(200m) = %+v, want only shelter 3", got)
	}
}

func TestWithinRadiusPredicate(t *testing.T) {
	ix := New()
	center := models.GeoPoint{Lat: 38.7223, Lon: -9.1393}

	ix.Replace(KindShelter, []Entry{
		shelterEntry(1, 38.7233, -9.1393, 100, 100), // full
		shelterEntry(2, 38.7323, -9.1393, 10, 100),
	})

	matches := ix.WithinRadius(center, 10_000, func(e Entry) bool { return e.HasCapacity() })
	if len(matches) != 1 || matches[0].ID != 2 {
		t.Fatalf("predicate filter = %+v, want only shelter 2", matches)
	}
}

func TestKNearestExpandsAndLimits(t *testing.T) {
	ix := New()
	center := models.GeoPoint{Lat: 38.7223, Lon: -9.1393}

	var entries []Entry
	for i := int64(1); i <= 8; i++ {
		// Spread shelters north at increasing distance.
		entries = append(entries, shelterEntry(i, 38.7223+float64(i)*0.01, -9.1393, 0, 50))
	}
	ix.Replace(KindShelter, entries)

	matches := ix.KNearest(center, 5, nil)
	if len(matches) != 5 {
		t.Fatalf("KNearest(5) returned %d matches, want 5", len(matches))
	}
	for i, m := range matches {
		if want := int64(i + 1); m.ID != want {
			t.Errorf("match[%d].ID = %d, want %d", i, m.ID, want)
		}
	}

	// More requested than present returns everything, still sorted.
	all := ix.KNearest(center, 50, nil)
	if len(all) != 8 {
		t.Errorf("KNearest(50) returned %d matches, want 8", len(all))
	}
}

func TestKNearestPredicateSkipsNonAccepting(t *testing.T) {
	ix := New()
	center := models.GeoPoint{Lat: 38.7223, Lon: -9.1393}

	closest := shelterEntry(1, 38.7233, -9.1393, 50, 50) // full
	second := shelterEntry(2, 38.7323, -9.1393, 0, 50)
	closed := shelterEntry(3, 38.7243, -9.1393, 0, 50)
	closed.ShelterStatus = models.ShelterClosed
	ix.Replace(KindShelter, []Entry{closest, second, closed})

	matches := ix.KNearest(center, 1, func(e Entry) bool { return e.Accepting() })
	if len(matches) != 1 || matches[0].ID != 2 {
		t.Fatalf("KNearest with Accepting = %+v, want shelter 2", matches)
	}
}

func TestReplaceKeepsOtherKind(t *testing.T) {
	ix := New()
	ix.Replace(KindSensor, []Entry{sensorEntry(10, 38.72, -9.14)})
	ix.Replace(KindShelter, []Entry{shelterEntry(1, 38.73, -9.14, 0, 10)})

	if ix.Len() != 2 {
		t.Fatalf("Len = %d, want 2", ix.Len())
	}

	ix.Replace(KindShelter, []Entry{shelterEntry(2, 38.74, -9.14, 0, 10)})
	matches := ix.WithinRadius(models.GeoPoint{Lat: 38.72, Lon: -9.14}, 50_000, nil)
	ids := map[int64]EntityKind{}
	for _, m := range matches {
		ids[m.ID] = m.Kind
	}
	if ids[10] != KindSensor {
		t.Error("sensor 10 lost after shelter Replace")
	}
	if _, ok := ids[1]; ok {
		t.Error("shelter 1 survived Replace")
	}
	if ids[2] != KindShelter {
		t.Error("shelter 2 missing after Replace")
	}
}

func TestUpsertAndRemove(t *testing.T) {
	ix := New()
	ix.Upsert(shelterEntry(1, 38.72, -9.14, 0, 10))
	ix.Upsert(shelterEntry(1, 38.72, -9.14, 10, 10)) // now full

	matches := ix.WithinRadius(models.GeoPoint{Lat: 38.72, Lon: -9.14}, 1000, nil)
	if len(matches) != 1 {
		t.Fatalf("expected 1 entry after double Upsert, got %d", len(matches))
	}
	if matches[0].HasCapacity() {
		t.Error("Upsert did not replace capacity payload")
	}

	ix.Remove(KindShelter, 1)
	if ix.Len() != 0 {
		t.Errorf("Len = %d after Remove, want 0", ix.Len())
	}
}

func TestInvalidCoordinatesExcluded(t *testing.T) {
	ix := New()
	ix.Replace(KindShelter, []Entry{shelterEntry(1, 95.0, -9.14, 0, 10)})

	matches := ix.WithinRadius(models.GeoPoint{Lat: 38.72, Lon: -9.14}, 1_000_000, nil)
	if len(matches) != 0 {
		t.Errorf("invalid-latitude entry should not be queryable, got %+v", matches)
	}
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	ix := New()
	center := models.GeoPoint{Lat: 38.7223, Lon: -9.1393}
	ix.Replace(KindShelter, []Entry{shelterEntry(1, 38.7233, -9.1393, 0, 10)})

	var wg sync.WaitGroup
	done := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				matches := ix.WithinRadius(center, 10_000, nil)
				for _, m := range matches {
					if m.ID == 0 {
						t.Error("torn read: zero ID")
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		ix.Upsert(shelterEntry(int64(i%5+1), 38.7233, -9.1393, i%10, 10))
	}
	close(done)
	wg.Wait()
}
