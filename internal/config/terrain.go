package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lmux/antenna-coverage/core"
)

// Terrain source kinds.
const (
	TerrainSourceFlat  = "flat"
	TerrainSourceHTTP  = "http"
	TerrainSourceDir   = "dir"
	TerrainSourceMinio = "minio"
)

// TerrainConfig selects and tunes the elevation provider.
type TerrainConfig struct {
	Source string

	// URL is an HTTP tile template with {z}, {x} and {y} placeholders.
	URL string
	// Dir is the root of a local {z}/{x}/{y}.<ext> tile tree.
	Dir string
	// Ext is the tile file extension for dir and minio sources.
	Ext string

	Zoom       int
	CacheTiles int
	CacheTTL   time.Duration
	Strict     bool

	FlatElevationM float64

	Minio MinioConfig
}

// MinioConfig addresses an S3-compatible bucket holding Terrain-RGB tiles.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	SSL       bool
}

// Defaults for TerrainConfigFromEnv.
const (
	DefaultTerrainZoom       = 12
	DefaultTerrainCacheTiles = 256
	DefaultTerrainCacheTTL   = time.Hour
)

// TerrainConfigFromEnv reads TERRAIN_* variables. An unset TERRAIN_SOURCE
// selects flat terrain at sea level.
func TerrainConfigFromEnv() (TerrainConfig, error) {
	cfg := TerrainConfig{
		Source:     strings.ToLower(strings.TrimSpace(os.Getenv("TERRAIN_SOURCE"))),
		URL:        os.Getenv("TERRAIN_URL"),
		Dir:        os.Getenv("TERRAIN_DIR"),
		Ext:        os.Getenv("TERRAIN_TILE_EXT"),
		Zoom:       DefaultTerrainZoom,
		CacheTiles: DefaultTerrainCacheTiles,
		CacheTTL:   DefaultTerrainCacheTTL,
		Minio: MinioConfig{
			Endpoint:  os.Getenv("TERRAIN_MINIO_ENDPOINT"),
			AccessKey: os.Getenv("TERRAIN_MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("TERRAIN_MINIO_SECRET_KEY"),
			Bucket:    os.Getenv("TERRAIN_MINIO_BUCKET"),
			Prefix:    os.Getenv("TERRAIN_MINIO_PREFIX"),
		},
	}
	if cfg.Source == "" {
		cfg.Source = TerrainSourceFlat
	}
	if cfg.Ext == "" {
		cfg.Ext = "png"
	}

	var err error
	if cfg.Zoom, err = envInt("TERRAIN_ZOOM", cfg.Zoom); err != nil {
		return cfg, err
	}
	if cfg.CacheTiles, err = envInt("TERRAIN_CACHE_TILES", cfg.CacheTiles); err != nil {
		return cfg, err
	}
	if raw := os.Getenv("TERRAIN_CACHE_TTL"); raw != "" {
		if cfg.CacheTTL, err = time.ParseDuration(raw); err != nil {
			return cfg, fmt.Errorf("%w: TERRAIN_CACHE_TTL: %v", core.ErrInvalidConfiguration, err)
		}
	}
	if cfg.Strict, err = envBool("TERRAIN_STRICT", false); err != nil {
		return cfg, err
	}
	if cfg.Minio.SSL, err = envBool("TERRAIN_MINIO_SSL", false); err != nil {
		return cfg, err
	}
	if raw := os.Getenv("TERRAIN_FLAT_ELEVATION"); raw != "" {
		if cfg.FlatElevationM, err = strconv.ParseFloat(raw, 64); err != nil {
			return cfg, fmt.Errorf("%w: TERRAIN_FLAT_ELEVATION: %v", core.ErrInvalidConfiguration, err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks that the selected source has what it needs.
func (c TerrainConfig) Validate() error {
	if c.Zoom < 0 || c.Zoom > 22 {
		return fmt.Errorf("%w: terrain zoom %d outside [0,22]", core.ErrInvalidConfiguration, c.Zoom)
	}
	if c.CacheTiles <= 0 {
		return fmt.Errorf("%w: terrain cache size must be positive", core.ErrInvalidConfiguration)
	}
	switch c.Source {
	case TerrainSourceFlat:
	case TerrainSourceHTTP:
		if !strings.Contains(c.URL, "{z}") || !strings.Contains(c.URL, "{x}") || !strings.Contains(c.URL, "{y}") {
			return fmt.Errorf("%w: TERRAIN_URL must contain {z}, {x} and {y}", core.ErrInvalidConfiguration)
		}
	case TerrainSourceDir:
		if c.Dir == "" {
			return fmt.Errorf("%w: TERRAIN_DIR is required for dir terrain", core.ErrInvalidConfiguration)
		}
	case TerrainSourceMinio:
		m := c.Minio
		if m.Endpoint == "" || m.AccessKey == "" || m.SecretKey == "" || m.Bucket == "" {
			return fmt.Errorf("%w: minio terrain configuration is incomplete", core.ErrInvalidConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown terrain source %q", core.ErrInvalidConfiguration, c.Source)
	}
	return nil
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%w: %s: %v", core.ErrInvalidConfiguration, key, err)
	}
	return v, nil
}

func envBool(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, fmt.Errorf("%w: %s: %v", core.ErrInvalidConfiguration, key, err)
	}
	return v, nil
}
