package terrain

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lmux/antenna-coverage/core"
	"github.com/lmux/antenna-coverage/internal/logging"
	"github.com/lmux/antenna-coverage/internal/observability"
)

const (
	// DefaultZoom is the lookup zoom level, about 38 m per pixel at the equator.
	DefaultZoom = 12
	// DefaultCacheTiles bounds the decoded tiles kept in memory.
	DefaultCacheTiles = 256
	// DefaultCacheTTL is how long a cached tile, or its absence, stays valid.
	DefaultCacheTTL = time.Hour
	// DefaultFetchTimeout bounds one shared tile load.
	DefaultFetchTimeout = 30 * time.Second
)

// TileObserver receives cache and fetch measurements.
// *observability.TerrainCollector implements it.
type TileObserver interface {
	ObserveTileLookup(result string)
	ObserveTileFetch(d time.Duration)
	SetCachedTiles(n int)
}

// TileProvider answers elevation queries from Terrain-RGB tiles.
//
// Decoded tiles are kept in a size- and age-bounded cache; concurrent
// misses on one tile share a single fetch. Missing tiles are cached as
// absent and their points reported as core.Unavailable. Fetch and decode
// failures are treated the same way unless the provider is strict, in
// which case they are returned and abort the computation.
type TileProvider struct {
	source  Source
	zoom    int
	strict  bool
	size    int
	ttl     time.Duration
	workers int
	timeout time.Duration

	cache *expirable.LRU[TileCoord, *Grid]
	group singleflight.Group

	log     logging.Logger
	metrics TileObserver
}

// Option customises TileProvider construction.
type Option func(*TileProvider)

// WithZoom selects the tile zoom level used for lookups.
func WithZoom(z int) Option {
	return func(p *TileProvider) { p.zoom = z }
}

// WithCache bounds the number of decoded tiles kept and how long they stay
// valid. Non-positive values keep the defaults.
func WithCache(tiles int, ttl time.Duration) Option {
	return func(p *TileProvider) {
		if tiles > 0 {
			p.size = tiles
		}
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithStrict makes fetch and decode failures abort lookups.
func WithStrict(strict bool) Option {
	return func(p *TileProvider) { p.strict = strict }
}

// WithFetchTimeout bounds each tile load. Non-positive values keep the
// default.
func WithFetchTimeout(d time.Duration) Option {
	return func(p *TileProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithPrefetchWorkers bounds concurrent fetches during Prefetch.
func WithPrefetchWorkers(n int) Option {
	return func(p *TileProvider) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(p *TileProvider) { p.log = l }
}

// WithObserver attaches tile metrics.
func WithObserver(o TileObserver) Option {
	return func(p *TileProvider) { p.metrics = o }
}

// NewTileProvider builds a provider over src.
func NewTileProvider(src Source, opts ...Option) *TileProvider {
	p := &TileProvider{
		source:  src,
		zoom:    DefaultZoom,
		size:    DefaultCacheTiles,
		ttl:     DefaultCacheTTL,
		workers: min(8, runtime.GOMAXPROCS(0)),
		timeout: DefaultFetchTimeout,
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.log == nil {
		p.log = logging.Noop()
	}
	p.cache = expirable.NewLRU[TileCoord, *Grid](p.size, nil, p.ttl)
	return p
}

// Zoom reports the lookup zoom level.
func (p *TileProvider) Zoom() int { return p.zoom }

// ElevationAt satisfies core.TerrainProvider.
func (p *TileProvider) ElevationAt(ctx context.Context, pt core.GeoPoint) (float64, error) {
	t, fx, fy := TileFor(pt, p.zoom)
	g, err := p.tile(ctx, t)
	if err != nil {
		return 0, err
	}
	if g == nil {
		return core.Unavailable, nil
	}
	return g.At(fx, fy), nil
}

// Prefetch loads every tile intersecting the box. Boxes needing more tiles
// than the cache holds are skipped, since the early tiles would be evicted
// before use.
func (p *TileProvider) Prefetch(ctx context.Context, southWest, northEast core.GeoPoint) error {
	if n := countTiles(southWest, northEast, p.zoom); n > p.size {
		p.log.Debug(ctx, "skipping terrain prefetch; area exceeds tile cache",
			logging.Int("tiles", n),
			logging.Int("cache_tiles", p.size),
		)
		return nil
	}

	tiles := TilesInBounds(southWest, northEast, p.zoom)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, t := range tiles {
		g.Go(func() error {
			_, err := p.tile(gctx, t)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("prefetch %d tiles: %w", len(tiles), err)
	}
	p.log.Debug(ctx, "terrain prefetched", logging.Int("tiles", len(tiles)), logging.Int("zoom", p.zoom))
	return nil
}

// tile returns the decoded tile, or nil when the tile is absent.
//
// Concurrent misses share one load. The load is detached from the caller
// that started it, so a cancelled caller only abandons its own wait.
func (p *TileProvider) tile(ctx context.Context, t TileCoord) (*Grid, error) {
	if g, ok := p.cache.Get(t); ok {
		p.observeLookup(observability.TileHit)
		return g, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := p.group.DoChan(t.String(), func() (any, error) {
		if g, ok := p.cache.Get(t); ok {
			p.observeLookup(observability.TileHit)
			return g, nil
		}
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return p.load(lctx, t)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Grid), nil
	}
}

func (p *TileProvider) load(ctx context.Context, t TileCoord) (*Grid, error) {
	start := time.Now()
	g, err := p.fetch(ctx, t)
	if p.metrics != nil {
		p.metrics.ObserveTileFetch(time.Since(start))
	}

	switch {
	case err == nil:
		p.observeLookup(observability.TileMiss)
	case errors.Is(err, ErrTileNotFound):
		p.observeLookup(observability.TileMissing)
		g = nil
	case ctx.Err() != nil:
		// Timed out; not cached so the next lookup retries.
		p.observeLookup(observability.TileError)
		if p.strict {
			return nil, fmt.Errorf("tile %s: %w", t, ctx.Err())
		}
		p.log.Warn(ctx, "terrain tile load timed out", logging.String("tile", t.String()), logging.Err(err))
		return nil, nil
	default:
		p.observeLookup(observability.TileError)
		if p.strict {
			return nil, err
		}
		p.log.Warn(ctx, "terrain tile unavailable", logging.String("tile", t.String()), logging.Err(err))
		g = nil
	}

	p.cache.Add(t, g)
	if p.metrics != nil {
		p.metrics.SetCachedTiles(p.cache.Len())
	}
	return g, nil
}

func (p *TileProvider) fetch(ctx context.Context, t TileCoord) (*Grid, error) {
	rc, err := p.source.Fetch(ctx, t)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	g, err := DecodeTile(rc)
	if err != nil {
		return nil, fmt.Errorf("tile %s: %w", t, err)
	}
	return g, nil
}

func (p *TileProvider) observeLookup(result string) {
	if p.metrics != nil {
		p.metrics.ObserveTileLookup(result)
	}
}

func countTiles(southWest, northEast core.GeoPoint, zoom int) int {
	a, _, _ := TileFor(core.GeoPoint{Lat: northEast.Lat, Lon: southWest.Lon}, zoom)
	b, _, _ := TileFor(core.GeoPoint{Lat: southWest.Lat, Lon: northEast.Lon}, zoom)
	return (b.X - a.X + 1) * (b.Y - a.Y + 1)
}

// Flat is a constant-elevation provider.
type Flat float64

func (f Flat) ElevationAt(context.Context, core.GeoPoint) (float64, error) {
	return float64(f), nil
}
