package datastore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/whereabouts/internal/monitoring"
	"github.com/banshee-data/whereabouts/internal/testutil"
	"github.com/banshee-data/whereabouts/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

type engineFactory func(t *testing.T, opts Options) Store

var engines = map[string]engineFactory{
	"file": func(t *testing.T, opts Options) Store {
		t.Helper()
		s, err := NewFileStore(t.TempDir(), opts)
		require.NoError(t, err)
		return s
	},
	"sqlite": func(t *testing.T, opts Options) Store {
		t.Helper()
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "points.db"), opts)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	},
}

// forEachEngine runs fn against a fresh store of every engine.
func forEachEngine(t *testing.T, opts Options, fn func(t *testing.T, s Store, clock *timeutil.MockClock)) {
	for name, factory := range engines {
		t.Run(name, func(t *testing.T) {
			clock := testutil.NewClock()
			o := opts
			o.Clock = clock
			fn(t, factory(t, o), clock)
		})
	}
}

func window(center time.Time, d time.Duration) (time.Time, time.Time) {
	return center.Add(-d), center.Add(d)
}

func TestStore_RoundTrip(t *testing.T) {
	forEachEngine(t, Options{}, func(t *testing.T, s Store, clock *timeutil.MockClock) {
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, DataPoint{Type: "android.sensor.pressure", Value: 1012.5}))

		now := clock.Now()
		start, end := window(now, time.Second)
		got, err := s.Get(ctx, Query{Types: []string{"android.sensor.pressure"}, StartedAt: start, EndedAt: end})
		require.NoError(t, err)

		want := []DataPoint{{CreatedAt: now, Type: "android.sensor.pressure", Value: 1012.5}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Get mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, time.UTC, got[0].CreatedAt.Location())
	})
}

func TestStore_HierarchicalTypeFilter(t *testing.T) {
	forEachEngine(t, Options{}, func(t *testing.T, s Store, clock *timeutil.MockClock) {
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, DataPoint{Type: "a.b.c", Value: 1.0}))
		require.NoError(t, s.Set(ctx, DataPoint{Type: "a.bc", Value: 2.0}))
		require.NoError(t, s.Set(ctx, DataPoint{Type: "a_b.c", Value: 3.0}))

		start, end := window(clock.Now(), time.Second)
		count := func(types ...string) int {
			got, err := s.Get(ctx, Query{Types: types, StartedAt: start, EndedAt: end})
			require.NoError(t, err)
			return len(got)
		}

		assert.Equal(t, 1, count("a.b"), "a.b")
		assert.Equal(t, 1, count("a.b.c"), "a.b.c")
		assert.Equal(t, 0, count("a.c"), "a.c")
		assert.Equal(t, 0, count("a.b.c.d"), "a.b.c.d")
		assert.Equal(t, 1, count("a_b"), "a_b")
		assert.Equal(t, 0, count(), "no types")
	})
}

func TestStore_WindowBoundsInclusive(t *testing.T) {
	forEachEngine(t, Options{}, func(t *testing.T, s Store, clock *timeutil.MockClock) {
		ctx := context.Background()
		base := clock.Now()
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Set(ctx, DataPoint{CreatedAt: base.Add(time.Duration(i) * time.Second), Type: "t", Value: float64(i)}))
		}

		got, err := s.Get(ctx, Query{Types: []string{"t"}, StartedAt: base.Add(time.Second), EndedAt: base.Add(3 * time.Second)})
		require.NoError(t, err)
		SortByCreatedAt(got)
		require.Len(t, got, 3)
		assert.Equal(t, 1.0, got[0].Value)
		assert.Equal(t, 3.0, got[2].Value)
	})
}

func TestStore_KeysCategoriesAndLimit(t *testing.T) {
	forEachEngine(t, Options{}, func(t *testing.T, s Store, clock *timeutil.MockClock) {
		ctx := context.Background()
		rssi := "android.sensor.wifi_scan.rssi"
		require.NoError(t, s.Set(ctx, DataPoint{Type: rssi, Key: "aa", Value: -60.0}))
		require.NoError(t, s.Set(ctx, DataPoint{Type: rssi, Key: "bb", Value: -70.0}))
		require.NoError(t, s.Set(ctx, DataPoint{Type: rssi, Key: "aa", Value: -61.0}, CategoryInference))
		require.NoError(t, s.Set(ctx, DataPoint{Type: rssi, Key: "cc", Value: -80.0}, CategoryRaw, CategoryInference))

		start, end := window(clock.Now(), time.Second)
		q := Query{Types: []string{rssi}, StartedAt: start, EndedAt: end}

		all, err := s.Get(ctx, q)
		require.NoError(t, err)
		assert.Len(t, all, 5, "the point written to both categories is returned twice")

		q.Keys = []string{"aa"}
		got, err := s.Get(ctx, q)
		require.NoError(t, err)
		assert.Len(t, got, 2)

		q.Categories = []string{CategoryRaw}
		got, err = s.Get(ctx, q)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, -60.0, got[0].Value)

		q = Query{Types: []string{rssi}, StartedAt: start, EndedAt: end, Categories: []string{CategoryRaw}, Limit: 2}
		got, err = s.Get(ctx, q)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})
}

func TestStore_UnknownCategorySkipped(t *testing.T) {
	forEachEngine(t, Options{}, func(t *testing.T, s Store, clock *timeutil.MockClock) {
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, DataPoint{Type: "t", Value: 1.0}, "bogus", CategoryRaw))

		start, end := window(clock.Now(), time.Second)
		got, err := s.Get(ctx, Query{Types: []string{"t"}, StartedAt: start, EndedAt: end, Categories: []string{"bogus"}})
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = s.Get(ctx, Query{Types: []string{"t"}, StartedAt: start, EndedAt: end})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}

func TestStore_SetRejectsOnlyUnknownCategories(t *testing.T) {
	forEachEngine(t, Options{}, func(t *testing.T, s Store, clock *timeutil.MockClock) {
		ctx := context.Background()
		err := s.Set(ctx, DataPoint{Type: "t", Value: 1.0}, "raw_dta")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownCategory), "got %v", err)
		assert.Contains(t, err.Error(), "raw_dta")

		start, end := window(clock.Now(), time.Second)
		got, err := s.Get(ctx, Query{Types: []string{"t"}, StartedAt: start, EndedAt: end})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestStore_SetRejectsTypelessPoint(t *testing.T) {
	forEachEngine(t, Options{}, func(t *testing.T, s Store, _ *timeutil.MockClock) {
		err := s.Set(context.Background(), DataPoint{Value: 1.0})
		assert.True(t, errors.Is(err, ErrInvalidPoint), "got %v", err)
	})
}

func TestStore_UniqueValues(t *testing.T) {
	forEachEngine(t, Options{}, func(t *testing.T, s Store, _ *timeutil.MockClock) {
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, DataPoint{Type: "b", Value: 1.0, Device: "10.0.0.2"}))
		require.NoError(t, s.Set(ctx, DataPoint{Type: "a", Key: "k1", Value: 1.0, Device: "10.0.0.1"}))
		require.NoError(t, s.Set(ctx, DataPoint{Type: "a", Value: 1.0, Device: "10.0.0.2"}, CategoryInference))

		devices, err := s.UniqueValues(ctx, FieldDevice)
		require.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, devices)

		types, err := s.UniqueValues(ctx, FieldType, CategoryRaw)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, types)

		keys, err := s.UniqueValues(ctx, FieldKey)
		require.NoError(t, err)
		assert.Equal(t, []string{"k1"}, keys)

		_, err = s.UniqueValues(ctx, "value")
		assert.Error(t, err)
	})
}

func TestStore_LastTimestampForDevice(t *testing.T) {
	forEachEngine(t, Options{TailChunkBytes: 64}, func(t *testing.T, s Store, clock *timeutil.MockClock) {
		ctx := context.Background()
		base := clock.Now()
		for i := 0; i < 50; i++ {
			device := "phone"
			if i%3 == 0 {
				device = "watch"
			}
			require.NoError(t, s.Set(ctx, DataPoint{
				CreatedAt: base.Add(time.Duration(i) * time.Second),
				Type:      "android.sensor.pressure",
				Value:     1000.0 + float64(i),
				Device:    device,
			}))
		}

		ts, ok, err := s.LastTimestampForDevice(ctx, "watch", CategoryRaw)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, ts.Equal(base.Add(48*time.Second)), "got %v", ts)

		ts, ok, err = s.LastTimestampForDevice(ctx, "phone", CategoryRaw)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, ts.Equal(base.Add(49*time.Second)), "got %v", ts)

		_, ok, err = s.LastTimestampForDevice(ctx, "tablet", CategoryRaw)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = s.LastTimestampForDevice(ctx, "watch", CategoryInference)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_Tail(t *testing.T) {
	forEachEngine(t, Options{TailChunkBytes: 64}, func(t *testing.T, s Store, clock *timeutil.MockClock) {
		ctx := context.Background()
		for i := 0; i < 20; i++ {
			clock.Advance(time.Second)
			require.NoError(t, s.Set(ctx, DataPoint{Type: "t", Value: float64(i)}))
		}

		got, err := s.Tail(ctx, CategoryRaw, 5)
		require.NoError(t, err)
		require.Len(t, got, 5)
		for i, p := range got {
			assert.Equal(t, float64(15+i), p.Value)
		}

		got, err = s.Tail(ctx, CategoryRaw, 100)
		require.NoError(t, err)
		assert.Len(t, got, 20)

		got, err = s.Tail(ctx, CategoryInference, 5)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestStore_ConcurrentAppend(t *testing.T) {
	forEachEngine(t, Options{}, func(t *testing.T, s Store, clock *timeutil.MockClock) {
		ctx := context.Background()
		const perWriter = 500

		var wg sync.WaitGroup
		errs := make(chan error, 2*perWriter)
		for w := 0; w < 2; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					errs <- s.Set(ctx, DataPoint{
						Type:  "android.sensor.wifi_scan.rssi",
						Key:   fmt.Sprintf("writer-%d", w),
						Value: map[string]any{"seq": float64(i), "padding": "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"},
					})
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		start, end := window(clock.Now(), time.Second)
		got, err := s.Get(ctx, Query{Types: []string{"android.sensor.wifi_scan"}, StartedAt: start, EndedAt: end})
		require.NoError(t, err)
		assert.Len(t, got, 2*perWriter)

		perKey := map[string]int{}
		for _, p := range got {
			perKey[p.Key]++
		}
		assert.Equal(t, map[string]int{"writer-0": perWriter, "writer-1": perWriter}, perKey)
	})
}

func TestStore_CanceledContext(t *testing.T) {
	forEachEngine(t, Options{}, func(t *testing.T, s Store, clock *timeutil.MockClock) {
		require.NoError(t, s.Set(context.Background(), DataPoint{Type: "t", Value: 1.0}))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		start, end := window(clock.Now(), time.Second)
		_, err := s.Get(ctx, Query{Types: []string{"t"}, StartedAt: start, EndedAt: end})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSortByCreatedAt(t *testing.T) {
	base := testutil.Epoch
	points := []DataPoint{
		{CreatedAt: base.Add(2 * time.Second), Type: "c"},
		{CreatedAt: base, Type: "a"},
		{CreatedAt: base.Add(time.Second), Type: "b1"},
		{CreatedAt: base.Add(time.Second), Type: "b2"},
	}
	SortByCreatedAt(points)
	var order []string
	for _, p := range points {
		order = append(order, p.Type)
	}
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, order)
}
