package core

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Quality is the coverage class assigned to a ground point.
type Quality int

const (
	QualityGood Quality = iota
	QualityOkay
	QualityBad
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityOkay:
		return "okay"
	case QualityBad:
		return "bad"
	default:
		return "unknown"
	}
}

// DefaultStepMeters is the spacing between samples along a ray.
const DefaultStepMeters = 50.0

// ctxCheckInterval is how many samples a ray walks between
// cancellation checks.
const ctxCheckInterval = 32

var (
	// DefaultTiers yields Good for points clear of the first-zone radius
	// and Bad otherwise. The √2 tier only catches points that already
	// failed the first zone, so it never passes and Okay stays empty.
	DefaultTiers = []float64{1, math.Sqrt2}
	// GradedTiers yields Good for points clear of the √2-scaled radius,
	// Okay for points clear of the first-zone radius only, and Bad
	// otherwise.
	GradedTiers = []float64{math.Sqrt2, 1}
	// TwoTier tests only the first Fresnel zone, yielding Good and Bad.
	TwoTier = []float64{1}
)

// Classifier walks rays outward from an antenna and sorts each sampled
// ground point into a Quality.
//
// Tiers lists the Fresnel-zone fractions to test in order. Passing tier i
// yields Quality(i); a point that keeps line-of-sight but fails every tier
// is Bad. Points without line-of-sight are dropped.
type Classifier struct {
	StepMeters float64
	Tiers      []float64
}

// NewClassifier returns a classifier with DefaultTiers and the default step.
func NewClassifier() Classifier {
	return Classifier{StepMeters: DefaultStepMeters, Tiers: DefaultTiers}
}

// Validate checks the step and tier list.
func (c Classifier) Validate() error {
	if !(c.StepMeters > 0) || math.IsInf(c.StepMeters, 0) {
		return fmt.Errorf("%w: step must be a positive number of metres, got %v", ErrInvalidParameter, c.StepMeters)
	}
	if len(c.Tiers) == 0 || len(c.Tiers) > int(QualityBad) {
		return fmt.Errorf("%w: need 1 to %d Fresnel tiers, got %d", ErrInvalidConfiguration, int(QualityBad), len(c.Tiers))
	}
	for _, f := range c.Tiers {
		if !(f > 0) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: Fresnel tiers must be positive and finite: %v", ErrInvalidConfiguration, c.Tiers)
		}
	}
	return nil
}

// RayResult is the outcome of walking one azimuth.
type RayResult struct {
	// Offset is the azimuth offset from the pointing direction in degrees.
	Offset  int
	Border  BorderPoint
	Good    []GeoPoint
	Okay    []GeoPoint
	Bad     []GeoPoint
	Samples int
	// Obstructed counts samples without line-of-sight.
	Obstructed int
	// Unavailable counts samples the terrain provider had no data for.
	Unavailable int
}

func (r *RayResult) add(q Quality, p GeoPoint) {
	switch q {
	case QualityGood:
		r.Good = append(r.Good, p)
	case QualityOkay:
		r.Okay = append(r.Okay, p)
	default:
		r.Bad = append(r.Bad, p)
	}
}

// RayParams carries the per-computation inputs shared by every ray.
type RayParams struct {
	Origin         GeoPoint
	TxElevationM   float64
	InstallHeightM float64
	FrequencyGHz   float64
}

// Judge classifies a candidate against the retained history of its ray.
// ok is false when line-of-sight is blocked.
func (c Classifier) Judge(s Sightline, history []RaySample) (q Quality, ok bool) {
	if !allClear(history, func(h RaySample) bool { return LineOfSightClear(s, h) }) {
		return 0, false
	}
	for i, fraction := range c.Tiers {
		if allClear(history, func(h RaySample) bool { return FresnelClear(s, h, fraction) }) {
			return Quality(i), true
		}
	}
	return QualityBad, true
}

// ClassifyRay walks one azimuth out to its border distance.
//
// Unavailable samples are counted and skipped: they are neither
// classified nor added to the history used by later samples.
func (c Classifier) ClassifyRay(ctx context.Context, rp RayParams, offset int, border BorderPoint, terrain TerrainProvider) (RayResult, error) {
	res := RayResult{Offset: offset, Border: border}

	history := []RaySample{{DistanceM: 0, ElevationM: rp.TxElevationM}}
	runningMax := rp.TxElevationM

	for k := 1; ; k++ {
		d := float64(k) * c.StepMeters
		if d > border.DistanceM {
			break
		}
		if k%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}

		p := Destination(rp.Origin, border.BearingDeg, d)
		elev, err := terrain.ElevationAt(ctx, p)
		if err != nil {
			return res, fmt.Errorf("%w: elevation at (%.6f, %.6f): %w", ErrTerrainFailure, p.Lat, p.Lon, err)
		}
		res.Samples++
		if IsUnavailable(elev) {
			res.Unavailable++
			continue
		}

		if elev >= runningMax {
			// Ground at or above every earlier sample cannot be shadowed.
			runningMax = elev
			res.Good = append(res.Good, p)
		} else {
			q, ok := c.Judge(Sightline{
				CandidateDistanceM:  d,
				CandidateElevationM: elev,
				TxElevationM:        rp.TxElevationM,
				InstallHeightM:      rp.InstallHeightM,
				FrequencyGHz:        rp.FrequencyGHz,
			}, history)
			if ok {
				res.add(q, p)
			} else {
				res.Obstructed++
			}
		}

		history = append(history, RaySample{DistanceM: d, ElevationM: elev})
	}
	return res, nil
}

// ClassifyAll walks every border ray with at most workers rays in flight.
//
// It returns the results of completed rays indexed by azimuth offset;
// entries for rays that did not complete are nil. observe, when non-nil,
// is called once per completed ray; calls are serialized.
func (c Classifier) ClassifyAll(ctx context.Context, rp RayParams, border []BorderPoint, terrain TerrainProvider, workers int, observe func(RayResult)) ([]*RayResult, error) {
	if workers <= 0 {
		workers = 1
	}
	rays := make([]*RayResult, len(border))

	var observeMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for a := range border {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			ray, err := c.ClassifyRay(gctx, rp, a, border[a], terrain)
			if err != nil {
				return err
			}
			rays[a] = &ray
			if observe != nil {
				observeMu.Lock()
				observe(ray)
				observeMu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		for _, r := range rays {
			if r == nil {
				// The launch loop stopped early, so ctx was cancelled.
				err = ctx.Err()
				break
			}
		}
	}
	return rays, err
}
