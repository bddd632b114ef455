package terrain

import (
	"context"
	"fmt"

	"github.com/lmux/antenna-coverage/core"
	"github.com/lmux/antenna-coverage/internal/config"
)

// New builds the provider selected by cfg. Extra options are applied after
// the ones derived from cfg.
func New(ctx context.Context, cfg config.TerrainConfig, opts ...Option) (core.TerrainProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var src Source
	switch cfg.Source {
	case config.TerrainSourceFlat:
		return Flat(cfg.FlatElevationM), nil
	case config.TerrainSourceHTTP:
		src = NewHTTPSource(cfg.URL)
	case config.TerrainSourceDir:
		src = DirSource{Root: cfg.Dir, Ext: cfg.Ext}
	case config.TerrainSourceMinio:
		ms, err := NewMinioSource(ctx, cfg.Minio, cfg.Ext)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrTerrainFailure, err)
		}
		src = ms
	}

	base := []Option{
		WithZoom(cfg.Zoom),
		WithCache(cfg.CacheTiles, cfg.CacheTTL),
		WithStrict(cfg.Strict),
	}
	return NewTileProvider(src, append(base, opts...)...), nil
}
