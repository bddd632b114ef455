package terrain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/lmux/antenna-coverage/internal/config"
)

// ErrTileNotFound reports that a source has no tile at the requested
// coordinate. Points on such tiles are unavailable rather than failed.
var ErrTileNotFound = errors.New("tile not found")

// Source fetches encoded tiles.
type Source interface {
	Fetch(ctx context.Context, t TileCoord) (io.ReadCloser, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, t TileCoord) (io.ReadCloser, error)

func (f SourceFunc) Fetch(ctx context.Context, t TileCoord) (io.ReadCloser, error) {
	return f(ctx, t)
}

func expandTemplate(tmpl string, t TileCoord) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(t.Z),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
	).Replace(tmpl)
}

// HTTPSource fetches tiles from a URL template such as
// https://tiles.example.com/terrain-rgb/{z}/{x}/{y}.png.
type HTTPSource struct {
	Template string
	Client   *http.Client
}

// NewHTTPSource returns an HTTPSource with a 30 second client timeout.
func NewHTTPSource(template string) *HTTPSource {
	return &HTTPSource{Template: template, Client: &http.Client{Timeout: 30 * time.Second}}
}

func (s *HTTPSource) Fetch(ctx context.Context, t TileCoord) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, expandTemplate(s.Template, t), nil)
	if err != nil {
		return nil, err
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tile %s: %w", t, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		resp.Body.Close()
		return nil, fmt.Errorf("tile %s: %w", t, ErrTileNotFound)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("fetch tile %s: unexpected status %s", t, resp.Status)
	}
	return resp.Body, nil
}

// DirSource reads tiles laid out as <Root>/{z}/{x}/{y}.<Ext>.
type DirSource struct {
	Root string
	Ext  string
}

func (s DirSource) Fetch(_ context.Context, t TileCoord) (io.ReadCloser, error) {
	ext := strings.TrimPrefix(s.Ext, ".")
	if ext == "" {
		ext = "png"
	}
	path := filepath.Join(s.Root, strconv.Itoa(t.Z), strconv.Itoa(t.X), strconv.Itoa(t.Y)+"."+ext)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("tile %s: %w", t, ErrTileNotFound)
	}
	return f, err
}

// MinioSource reads tiles from an S3-compatible bucket under
// <Prefix>{z}/{x}/{y}.<Ext>.
type MinioSource struct {
	Client *minio.Client
	Bucket string
	Prefix string
	Ext    string
}

// NewMinioSource connects to the configured endpoint and checks that the
// bucket exists.
func NewMinioSource(ctx context.Context, cfg config.MinioConfig, ext string) (*MinioSource, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.SSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check tile bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("tile bucket %q does not exist", cfg.Bucket)
	}
	return &MinioSource{Client: client, Bucket: cfg.Bucket, Prefix: cfg.Prefix, Ext: ext}, nil
}

// Key returns the object key for a tile.
func (s *MinioSource) Key(t TileCoord) string {
	ext := strings.TrimPrefix(s.Ext, ".")
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("%s%d/%d/%d.%s", s.Prefix, t.Z, t.X, t.Y, ext)
}

func (s *MinioSource) Fetch(ctx context.Context, t TileCoord) (io.ReadCloser, error) {
	obj, err := s.Client.GetObject(ctx, s.Bucket, s.Key(t), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch tile %s: %w", t, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before decoding.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("tile %s: %w", t, ErrTileNotFound)
		}
		return nil, fmt.Errorf("fetch tile %s: %w", t, err)
	}
	return obj, nil
}
