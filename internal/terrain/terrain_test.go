package terrain

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmux/antenna-coverage/core"
	"github.com/lmux/antenna-coverage/internal/config"
)

const tileSize = 256

// encodeTile renders a Terrain-RGB PNG whose elevation is elev(px, py).
func encodeTile(t *testing.T, elev func(px, py int) float64) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, tileSize, tileSize))
	for y := 0; y < tileSize; y++ {
		for x := 0; x < tileSize; x++ {
			v := int(math.Round((elev(x, y) + 10000) * 10))
			img.Set(x, y, color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type tileServer struct {
	*httptest.Server
	requests atomic.Int64
}

// newTileServer serves body for every tile accepted by has and 404 for the
// rest.
func newTileServer(t *testing.T, body []byte, has func(z, x, y int) bool) *tileServer {
	t.Helper()
	ts := &tileServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.requests.Add(1)
		var z, x, y int
		if _, err := fmt.Sscanf(r.URL.Path, "/%d/%d/%d.png", &z, &x, &y); err != nil {
			http.Error(w, "bad path", http.StatusBadRequest)
			return
		}
		if !has(z, x, y) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

type countingObserver struct {
	mu      sync.Mutex
	lookups map[string]int
	fetches int
	cached  int
}

func (o *countingObserver) ObserveTileLookup(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lookups == nil {
		o.lookups = map[string]int{}
	}
	o.lookups[result]++
}

func (o *countingObserver) ObserveTileFetch(time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetches++
}

func (o *countingObserver) SetCachedTiles(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cached = n
}

func TestDecodeElevation(t *testing.T) {
	assert.Equal(t, -10000.0, DecodeElevation(0, 0, 0))
	assert.InDelta(t, 0, DecodeElevation(1, 134, 160), 1e-9)
	assert.InDelta(t, 1667721.5, DecodeElevation(255, 255, 255), 1e-6)
}

func TestTileFor(t *testing.T) {
	tile, fx, fy := TileFor(core.GeoPoint{}, 0)
	assert.Equal(t, TileCoord{Z: 0, X: 0, Y: 0}, tile)
	assert.InDelta(t, 0.5, fx, 1e-12)
	assert.InDelta(t, 0.5, fy, 1e-12)

	tile, _, _ = TileFor(core.GeoPoint{Lat: 10, Lon: 10}, 1)
	assert.Equal(t, TileCoord{Z: 1, X: 1, Y: 0}, tile)

	tile, _, _ = TileFor(core.GeoPoint{Lat: -89, Lon: 180}, 3)
	assert.Equal(t, TileCoord{Z: 3, X: 7, Y: 7}, tile, "edges clamp into the grid")
}

func TestTilesInBounds(t *testing.T) {
	tiles := TilesInBounds(core.GeoPoint{Lat: -10, Lon: -10}, core.GeoPoint{Lat: 10, Lon: 10}, 1)
	assert.ElementsMatch(t, []TileCoord{{1, 0, 0}, {1, 1, 0}, {1, 0, 1}, {1, 1, 1}}, tiles)
	assert.Equal(t, len(tiles), countTiles(core.GeoPoint{Lat: -10, Lon: -10}, core.GeoPoint{Lat: 10, Lon: 10}, 1))
}

func TestTileProviderDecodesPixels(t *testing.T) {
	body := encodeTile(t, func(px, _ int) float64 { return float64(px) * 10 })
	ts := newTileServer(t, body, func(int, int, int) bool { return true })
	p := NewTileProvider(NewHTTPSource(ts.URL+"/{z}/{x}/{y}.png"), WithZoom(10))

	for _, pt := range []core.GeoPoint{{Lat: 46.01, Lon: 7.02}, {Lat: 46.2, Lon: 7.3}, {Lat: -33.9, Lon: 151.2}} {
		_, fx, _ := TileFor(pt, 10)
		want := math.Floor(fx*tileSize) * 10
		got, err := p.ElevationAt(context.Background(), pt)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 0.05, "point %v", pt)
	}
}

func TestTileProviderSharesConcurrentFetches(t *testing.T) {
	body := encodeTile(t, func(int, int) float64 { return 812.3 })
	ts := newTileServer(t, body, func(int, int, int) bool { return true })
	obs := &countingObserver{}
	p := NewTileProvider(NewHTTPSource(ts.URL+"/{z}/{x}/{y}.png"), WithObserver(obs))

	pt := core.GeoPoint{Lat: 46.5, Lon: 7.5}
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.ElevationAt(context.Background(), pt)
			assert.NoError(t, err)
			assert.InDelta(t, 812.3, got, 0.05)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ts.requests.Load(), "one fetch per tile")
	assert.Equal(t, 1, obs.fetches)
	assert.Equal(t, 1, obs.lookups["miss"])
	assert.Equal(t, 1, obs.cached)
}

func TestTileProviderCancelledCallerLeavesSharedLoad(t *testing.T) {
	body := encodeTile(t, func(int, int) float64 { return 812.3 })
	var fetches atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	src := SourceFunc(func(ctx context.Context, _ TileCoord) (io.ReadCloser, error) {
		if fetches.Add(1) == 1 {
			close(started)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	})
	p := NewTileProvider(src, WithStrict(true))
	pt := core.GeoPoint{Lat: 46.5, Lon: 7.5}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := p.ElevationAt(ctxA, pt)
		errA <- err
	}()
	<-started

	type result struct {
		elev float64
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		elev, err := p.ElevationAt(context.Background(), pt)
		resB <- result{elev, err}
	}()
	// Let the second caller join the in-flight load.
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	select {
	case r := <-resB:
		require.NoError(t, r.err)
		assert.InDelta(t, 812.3, r.elev, 0.05)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
	assert.EqualValues(t, 1, fetches.Load(), "one fetch shared by both callers")

	got, err := p.ElevationAt(context.Background(), pt)
	require.NoError(t, err)
	assert.InDelta(t, 812.3, got, 0.05)
	assert.EqualValues(t, 1, fetches.Load(), "loaded tile is cached")
}

func TestTileProviderFetchTimeout(t *testing.T) {
	var fetches atomic.Int64
	src := SourceFunc(func(ctx context.Context, _ TileCoord) (io.ReadCloser, error) {
		fetches.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	pt := core.GeoPoint{Lat: 1, Lon: 1}

	lenient := NewTileProvider(src, WithFetchTimeout(20*time.Millisecond))
	for i := 0; i < 2; i++ {
		got, err := lenient.ElevationAt(context.Background(), pt)
		require.NoError(t, err)
		assert.True(t, core.IsUnavailable(got))
	}
	assert.EqualValues(t, 2, fetches.Load(), "timed-out tiles are not cached")

	strict := NewTileProvider(src, WithFetchTimeout(20*time.Millisecond), WithStrict(true))
	_, err := strict.ElevationAt(context.Background(), pt)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTileProviderMissingTileIsUnavailable(t *testing.T) {
	ts := newTileServer(t, nil, func(int, int, int) bool { return false })
	p := NewTileProvider(NewHTTPSource(ts.URL + "/{z}/{x}/{y}.png"))

	for i := 0; i < 3; i++ {
		got, err := p.ElevationAt(context.Background(), core.GeoPoint{Lat: 1, Lon: 1})
		require.NoError(t, err)
		assert.True(t, core.IsUnavailable(got))
	}
	assert.EqualValues(t, 1, ts.requests.Load(), "missing tiles are cached")
}

func TestTileProviderFetchErrors(t *testing.T) {
	var requests atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer ts.Close()
	src := NewHTTPSource(ts.URL + "/{z}/{x}/{y}.png")

	lenient := NewTileProvider(src)
	got, err := lenient.ElevationAt(context.Background(), core.GeoPoint{Lat: 1, Lon: 1})
	require.NoError(t, err)
	assert.True(t, core.IsUnavailable(got))

	strict := NewTileProvider(src, WithStrict(true))
	_, err = strict.ElevationAt(context.Background(), core.GeoPoint{Lat: 1, Lon: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestTileProviderCorruptTile(t *testing.T) {
	ts := newTileServer(t, []byte("not an image"), func(int, int, int) bool { return true })
	p := NewTileProvider(NewHTTPSource(ts.URL+"/{z}/{x}/{y}.png"), WithStrict(true))
	_, err := p.ElevationAt(context.Background(), core.GeoPoint{Lat: 1, Lon: 1})
	require.Error(t, err)
}

func TestDirSource(t *testing.T) {
	root := t.TempDir()
	pt := core.GeoPoint{Lat: 47.1, Lon: 8.4}
	tile, _, _ := TileFor(pt, 12)

	dir := filepath.Join(root, "12", fmt.Sprint(tile.X))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	body := encodeTile(t, func(int, int) float64 { return 431 })
	require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("%d.png", tile.Y)), body, 0o644))

	p := NewTileProvider(DirSource{Root: root, Ext: ".png"})
	got, err := p.ElevationAt(context.Background(), pt)
	require.NoError(t, err)
	assert.InDelta(t, 431, got, 0.05)

	got, err = p.ElevationAt(context.Background(), core.GeoPoint{Lat: -47.1, Lon: -8.4})
	require.NoError(t, err)
	assert.True(t, core.IsUnavailable(got))
}

func TestPrefetch(t *testing.T) {
	body := encodeTile(t, func(int, int) float64 { return 5 })
	ts := newTileServer(t, body, func(int, int, int) bool { return true })
	p := NewTileProvider(NewHTTPSource(ts.URL+"/{z}/{x}/{y}.png"), WithZoom(8), WithCache(16, time.Minute))

	sw, ne := core.GeoPoint{Lat: 46.0, Lon: 7.0}, core.GeoPoint{Lat: 46.9, Lon: 8.9}
	require.NoError(t, p.Prefetch(context.Background(), sw, ne))
	want := int64(len(TilesInBounds(sw, ne, 8)))
	require.EqualValues(t, want, ts.requests.Load())

	_, err := p.ElevationAt(context.Background(), core.GeoPoint{Lat: 46.5, Lon: 8.0})
	require.NoError(t, err)
	assert.EqualValues(t, want, ts.requests.Load(), "prefetched tiles are served from cache")

	// An area larger than the cache is left alone.
	require.NoError(t, p.Prefetch(context.Background(), core.GeoPoint{Lat: -60, Lon: -170}, core.GeoPoint{Lat: 60, Lon: 170}))
	assert.EqualValues(t, want, ts.requests.Load())
}

func TestTileProviderDrivesCoverageEngine(t *testing.T) {
	body := encodeTile(t, func(int, int) float64 { return 250 })
	ts := newTileServer(t, body, func(int, int, int) bool { return true })
	p := NewTileProvider(NewHTTPSource(ts.URL+"/{z}/{x}/{y}.png"), WithZoom(9))

	// A weak link keeps the border within a few tiles.
	profile := core.AntennaProfile{OutputPowerDBw: 0, GainDBi: 5, SensitivityDBw: 100, FrequencyGHz: 2.4}
	res, err := core.NewCoverageEngine(core.WithStep(500)).ComputeCoverage(context.Background(), core.CoverageRequest{
		Origin:  core.GeoPoint{Lat: 46.5, Lon: 7.5},
		Profile: profile,
		Pattern: core.ConstantPattern(5),
	}, p)
	require.NoError(t, err)

	assert.InDelta(t, 250, res.TxElevationM, 0.05)
	assert.NotEmpty(t, res.Good)
	assert.Empty(t, res.Okay)
	assert.Empty(t, res.Bad)
	assert.Zero(t, res.Stats.Unavailable)
	assert.LessOrEqual(t, ts.requests.Load(), int64(16))
}

func TestNewFromConfig(t *testing.T) {
	prov, err := New(context.Background(), config.TerrainConfig{Source: config.TerrainSourceFlat, Zoom: 12, CacheTiles: 8, FlatElevationM: 42})
	require.NoError(t, err)
	got, err := prov.ElevationAt(context.Background(), core.GeoPoint{})
	require.NoError(t, err)
	assert.Equal(t, 42.0, got)

	prov, err = New(context.Background(), config.TerrainConfig{Source: config.TerrainSourceDir, Dir: t.TempDir(), Zoom: 11, CacheTiles: 8})
	require.NoError(t, err)
	tp, ok := prov.(*TileProvider)
	require.True(t, ok)
	assert.Equal(t, 11, tp.Zoom())

	_, err = New(context.Background(), config.TerrainConfig{Source: "nope", Zoom: 1, CacheTiles: 1})
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
}
