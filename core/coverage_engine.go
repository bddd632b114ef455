package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/lmux/antenna-coverage/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/lmux/antenna-coverage/core"

// CoverageRequest describes one antenna to evaluate.
type CoverageRequest struct {
	Origin         GeoPoint
	DirectionDeg   float64
	InstallHeightM float64
	Profile        AntennaProfile
	Pattern        RadiationPattern
	// StepMeters overrides the engine's sample spacing when positive.
	StepMeters float64
}

// CoverageStats summarises one computation.
type CoverageStats struct {
	Rays        int `json:"rays" msgpack:"rays"`
	Samples     int `json:"samples" msgpack:"samples"`
	Good        int `json:"good" msgpack:"good"`
	Okay        int `json:"okay" msgpack:"okay"`
	Bad         int `json:"bad" msgpack:"bad"`
	Obstructed  int `json:"obstructed" msgpack:"obstructed"`
	Unavailable int `json:"unavailable" msgpack:"unavailable"`
}

// CoverageResult holds the quality-tiered ground points and the free-space
// border. Border is ordered by azimuth offset from the pointing direction;
// points are ordered by offset, then by distance.
type CoverageResult struct {
	Good         []GeoPoint    `json:"good" msgpack:"good"`
	Okay         []GeoPoint    `json:"okay" msgpack:"okay"`
	Bad          []GeoPoint    `json:"bad" msgpack:"bad"`
	Border       []BorderPoint `json:"border" msgpack:"border"`
	TxElevationM float64       `json:"tx_elevation_m" msgpack:"tx_elevation_m"`
	Stats        CoverageStats `json:"stats" msgpack:"stats"`
	// OriginUnavailable is set when the terrain provider had no elevation
	// for the antenna itself; no points are classified in that case.
	OriginUnavailable bool `json:"origin_unavailable,omitempty" msgpack:"origin_unavailable,omitempty"`
}

// MetricsRecorder receives one observation per ComputeCoverage call.
type MetricsRecorder interface {
	ObserveCoverage(stats CoverageStats, elapsed time.Duration, err error)
}

// CoverageEngine orchestrates border computation and terrain
// classification. It holds no per-call state and may be shared.
type CoverageEngine struct {
	Classifier Classifier
	Workers    int

	log      logging.Logger
	metrics  MetricsRecorder
	observer func(RayResult)
}

// EngineOption customises CoverageEngine construction.
type EngineOption func(*CoverageEngine)

// WithWorkers bounds the number of rays evaluated concurrently.
func WithWorkers(n int) EngineOption {
	return func(e *CoverageEngine) {
		if n > 0 {
			e.Workers = n
		}
	}
}

// WithStep sets the default sample spacing along each ray.
func WithStep(m float64) EngineOption {
	return func(e *CoverageEngine) {
		e.Classifier.StepMeters = m
	}
}

// WithTiers sets the Fresnel fractions tested by the classifier.
func WithTiers(tiers []float64) EngineOption {
	return func(e *CoverageEngine) {
		e.Classifier.Tiers = append([]float64(nil), tiers...)
	}
}

// WithLogger attaches a structured logger. Without one the engine uses the
// logger carried on the context, if any.
func WithLogger(l logging.Logger) EngineOption {
	return func(e *CoverageEngine) {
		e.log = l
	}
}

// WithMetricsRecorder attaches an optional metrics sink.
func WithMetricsRecorder(m MetricsRecorder) EngineOption {
	return func(e *CoverageEngine) {
		e.metrics = m
	}
}

// WithRayObserver registers a callback invoked as each ray completes, for
// callers that consume results progressively.
func WithRayObserver(fn func(RayResult)) EngineOption {
	return func(e *CoverageEngine) {
		e.observer = fn
	}
}

// NewCoverageEngine returns an engine using DefaultTiers, the
// default step and one worker per CPU.
func NewCoverageEngine(opts ...EngineOption) *CoverageEngine {
	e := &CoverageEngine{
		Classifier: NewClassifier(),
		Workers:    runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// ComputeCoverage evaluates one antenna against terrain.
//
// Configuration and parameter errors are returned before any terrain
// query. If ctx is cancelled mid-way, the result holds every ray that
// completed and the error is ctx.Err().
func (e *CoverageEngine) ComputeCoverage(ctx context.Context, req CoverageRequest, terrain TerrainProvider) (*CoverageResult, error) {
	start := time.Now()
	log := e.logger(ctx)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "core.ComputeCoverage")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("antenna.lat", req.Origin.Lat),
		attribute.Float64("antenna.lon", req.Origin.Lon),
		attribute.Float64("antenna.direction_deg", req.DirectionDeg),
		attribute.Float64("antenna.frequency_ghz", req.Profile.FrequencyGHz),
	)
	if id := logging.RunIDFromContext(ctx); id != "" {
		span.SetAttributes(attribute.String("coverage.run_id", id))
	}

	res, err := e.compute(ctx, req, terrain, log)

	var stats CoverageStats
	if res != nil {
		stats = res.Stats
	}
	if e.metrics != nil {
		e.metrics.ObserveCoverage(stats, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn(ctx, "coverage computation stopped",
			logging.Err(err),
			logging.Int("rays_completed", stats.Rays),
		)
		return res, err
	}

	span.SetAttributes(
		attribute.Int("coverage.samples", stats.Samples),
		attribute.Int("coverage.good", stats.Good),
		attribute.Int("coverage.okay", stats.Okay),
		attribute.Int("coverage.bad", stats.Bad),
	)
	log.Info(ctx, "coverage computed",
		logging.Int("samples", stats.Samples),
		logging.Int("good", stats.Good),
		logging.Int("okay", stats.Okay),
		logging.Int("bad", stats.Bad),
		logging.Int("obstructed", stats.Obstructed),
		logging.Int("unavailable", stats.Unavailable),
		logging.String("elapsed", time.Since(start).String()),
	)
	return res, nil
}

func (e *CoverageEngine) compute(ctx context.Context, req CoverageRequest, terrain TerrainProvider, log logging.Logger) (*CoverageResult, error) {
	if err := req.Pattern.Validate(); err != nil {
		return nil, err
	}
	if err := req.Profile.Validate(); err != nil {
		return nil, err
	}
	if err := validateOrigin(req); err != nil {
		return nil, err
	}
	if terrain == nil {
		return nil, fmt.Errorf("%w: terrain provider is required", ErrInvalidConfiguration)
	}

	classifier := e.Classifier
	if req.StepMeters > 0 {
		classifier.StepMeters = req.StepMeters
	}
	if err := classifier.Validate(); err != nil {
		return nil, err
	}

	border, err := ComputeBorder(req.Origin, req.DirectionDeg, req.Pattern, req.Profile)
	if err != nil {
		return nil, err
	}

	if pf, ok := terrain.(Prefetcher); ok {
		sw, ne := borderBounds(req.Origin, border)
		if err := pf.Prefetch(ctx, sw, ne); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return &CoverageResult{Border: border}, ctxErr
			}
			// Missing tiles surface again as unavailable samples.
			log.Warn(ctx, "terrain prefetch failed", logging.Err(err))
		}
	}

	groundElev, err := terrain.ElevationAt(ctx, req.Origin)
	if err != nil {
		return nil, fmt.Errorf("%w: elevation at origin: %w", ErrTerrainFailure, err)
	}
	if IsUnavailable(groundElev) {
		// Every comparison against an unknown transmitter height fails, so
		// no point can be classified.
		log.Warn(ctx, "terrain unavailable at antenna origin; no points classified",
			logging.Float("lat", req.Origin.Lat),
			logging.Float("lon", req.Origin.Lon),
		)
		return &CoverageResult{
			Border:            border,
			OriginUnavailable: true,
			Stats:             CoverageStats{Rays: len(border)},
		}, nil
	}

	rp := RayParams{
		Origin:         req.Origin,
		TxElevationM:   groundElev + req.InstallHeightM,
		InstallHeightM: req.InstallHeightM,
		FrequencyGHz:   req.Profile.FrequencyGHz,
	}

	log.Debug(ctx, "classifying rays",
		logging.Float("tx_elevation_m", rp.TxElevationM),
		logging.Float("step_m", classifier.StepMeters),
		logging.Int("workers", e.Workers),
	)

	rays, err := classifier.ClassifyAll(ctx, rp, border, terrain, e.Workers, e.observer)
	res := merge(rays, border, rp.TxElevationM)
	for _, r := range rays {
		if r != nil && r.Unavailable > 0 {
			log.Debug(ctx, "ray had unavailable terrain samples",
				logging.Int("offset", r.Offset),
				logging.Int("unavailable", r.Unavailable),
			)
		}
	}
	return res, err
}

func validateOrigin(req CoverageRequest) error {
	o := req.Origin
	if math.IsNaN(o.Lat) || math.IsNaN(o.Lon) || math.Abs(o.Lat) > 90 || math.IsInf(o.Lon, 0) {
		return fmt.Errorf("%w: origin (%v, %v) is not a valid position", ErrInvalidParameter, o.Lat, o.Lon)
	}
	if math.IsNaN(req.DirectionDeg) || math.IsInf(req.DirectionDeg, 0) {
		return fmt.Errorf("%w: pointing direction is not finite", ErrInvalidParameter)
	}
	if math.IsNaN(req.InstallHeightM) || math.IsInf(req.InstallHeightM, 0) {
		return fmt.Errorf("%w: install height is not finite", ErrInvalidParameter)
	}
	return nil
}

// merge concatenates completed rays in azimuth order.
func merge(rays []*RayResult, border []BorderPoint, txElev float64) *CoverageResult {
	res := &CoverageResult{Border: border, TxElevationM: txElev}
	for _, r := range rays {
		if r == nil {
			continue
		}
		res.Good = append(res.Good, r.Good...)
		res.Okay = append(res.Okay, r.Okay...)
		res.Bad = append(res.Bad, r.Bad...)
		res.Stats.Rays++
		res.Stats.Samples += r.Samples
		res.Stats.Obstructed += r.Obstructed
		res.Stats.Unavailable += r.Unavailable
	}
	res.Stats.Good = len(res.Good)
	res.Stats.Okay = len(res.Okay)
	res.Stats.Bad = len(res.Bad)
	return res
}

// logger prefers the engine's own logger, tagged with the context's run
// ID, over one carried on the context.
func (e *CoverageEngine) logger(ctx context.Context) logging.Logger {
	if e.log != nil {
		if id := logging.RunIDFromContext(ctx); id != "" {
			return e.log.With(logging.String("run_id", id))
		}
		return e.log
	}
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return logging.Noop()
}

// ComputeCoverage runs a default engine with the given sample step. A
// non-positive step selects DefaultStepMeters.
func ComputeCoverage(ctx context.Context, origin GeoPoint, directionDeg, installHeightM float64, profile AntennaProfile, pattern RadiationPattern, terrain TerrainProvider, stepMeters float64) (*CoverageResult, error) {
	return NewCoverageEngine().ComputeCoverage(ctx, CoverageRequest{
		Origin:         origin,
		DirectionDeg:   directionDeg,
		InstallHeightM: installHeightM,
		Profile:        profile,
		Pattern:        pattern,
		StepMeters:     stepMeters,
	}, terrain)
}

// IsConfigError reports whether err should be surfaced as a caller input
// problem rather than a runtime failure.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) || errors.Is(err, ErrInvalidParameter)
}
