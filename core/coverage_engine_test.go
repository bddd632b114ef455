package core

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testStep = 5_000.0

var (
	testOrigin  = GeoPoint{Lat: 46.0, Lon: 7.0}
	testProfile = AntennaProfile{OutputPowerDBw: 27, GainDBi: 19, SensitivityDBw: 85, FrequencyGHz: 2.4}
)

func flatTerrain(elev float64) TerrainFunc {
	return func(context.Context, GeoPoint) (float64, error) { return elev, nil }
}

func samplesPerRay(border []BorderPoint, step float64) []int {
	out := make([]int, len(border))
	for i, b := range border {
		out[i] = int(math.Floor(b.DistanceM / step))
	}
	return out
}

func sum(xs []int) int {
	n := 0
	for _, x := range xs {
		n += x
	}
	return n
}

func newTestEngine(opts ...EngineOption) *CoverageEngine {
	return NewCoverageEngine(append([]EngineOption{WithStep(testStep), WithWorkers(4)}, opts...)...)
}

func testRequest(installHeight float64) CoverageRequest {
	return CoverageRequest{
		Origin:         testOrigin,
		DirectionDeg:   0,
		InstallHeightM: installHeight,
		Profile:        testProfile,
		Pattern:        ConstantPattern(19),
	}
}

func TestComputeCoverageFlatTerrainAllGood(t *testing.T) {
	res, err := newTestEngine().ComputeCoverage(context.Background(), testRequest(0), flatTerrain(0))
	if err != nil {
		t.Fatalf("ComputeCoverage: %v", err)
	}

	if len(res.Border) != PatternSize {
		t.Fatalf("len(border) = %d, want %d", len(res.Border), PatternSize)
	}
	want := math.Pow(10, 150.0/20-1.62238-math.Log10(2.4))
	for a, b := range res.Border {
		if math.Abs(b.DistanceM-want) > 1e-6*want {
			t.Fatalf("offset %d: border distance %v, want %v", a, b.DistanceM, want)
		}
	}

	total := sum(samplesPerRay(res.Border, testStep))
	if len(res.Good) != total {
		t.Fatalf("len(good) = %d, want %d", len(res.Good), total)
	}
	if len(res.Okay) != 0 || len(res.Bad) != 0 {
		t.Fatalf("flat terrain produced okay=%d bad=%d", len(res.Okay), len(res.Bad))
	}
	if res.Stats.Rays != PatternSize || res.Stats.Samples != total || res.Stats.Obstructed != 0 {
		t.Fatalf("unexpected stats %+v", res.Stats)
	}
}

func TestComputeCoverageFlatTerrainTallMastClearsFresnel(t *testing.T) {
	// The √2-scaled first-zone radius peaks near 140 m at mid path, so a
	// 200 m mast clears it everywhere.
	res, err := newTestEngine().ComputeCoverage(context.Background(), testRequest(200), flatTerrain(0))
	if err != nil {
		t.Fatalf("ComputeCoverage: %v", err)
	}
	total := sum(samplesPerRay(res.Border, testStep))
	if len(res.Good) != total || len(res.Okay) != 0 || len(res.Bad) != 0 {
		t.Fatalf("good=%d okay=%d bad=%d, want all %d good", len(res.Good), len(res.Okay), len(res.Bad), total)
	}
	if res.TxElevationM != 200 {
		t.Fatalf("TxElevationM = %v, want ground plus install height", res.TxElevationM)
	}
}

func TestComputeCoverageFlatTerrainDefaultTiersFirstZone(t *testing.T) {
	// At 120 m the mast clears the first zone over the whole range.
	res, err := newTestEngine().ComputeCoverage(context.Background(), testRequest(120), flatTerrain(0))
	if err != nil {
		t.Fatalf("ComputeCoverage: %v", err)
	}
	total := sum(samplesPerRay(res.Border, testStep))
	if len(res.Good) != total || len(res.Okay) != 0 || len(res.Bad) != 0 {
		t.Fatalf("good=%d okay=%d bad=%d, want all %d good", len(res.Good), len(res.Okay), len(res.Bad), total)
	}
}

func TestComputeCoverageFlatTerrainGradedTiers(t *testing.T) {
	// At 120 m the mast clears the first zone over the whole range but
	// the √2-scaled zone only for paths shorter than about 230 km.
	res, err := newTestEngine(WithTiers(GradedTiers)).ComputeCoverage(context.Background(), testRequest(120), flatTerrain(0))
	if err != nil {
		t.Fatalf("ComputeCoverage: %v", err)
	}
	if len(res.Bad) != 0 {
		t.Fatalf("bad = %d, want 0", len(res.Bad))
	}
	if len(res.Good) == 0 || len(res.Okay) == 0 {
		t.Fatalf("good=%d okay=%d, want both tiers populated", len(res.Good), len(res.Okay))
	}
	if total := sum(samplesPerRay(res.Border, testStep)); len(res.Good)+len(res.Okay) != total {
		t.Fatalf("good+okay = %d, want %d", len(res.Good)+len(res.Okay), total)
	}
	for _, p := range res.Good {
		if d := Distance(testOrigin, p); d > 240_000 {
			t.Fatalf("good point at %.0f m should have been okay", d)
		}
	}
	for _, p := range res.Okay {
		if d := Distance(testOrigin, p); d < 225_000 {
			t.Fatalf("okay point at %.0f m should have been good", d)
		}
	}
}

func TestComputeCoverageObstructionShadowsRay(t *testing.T) {
	onRay := func(p GeoPoint) bool {
		return angularDiff(InitialBearing(testOrigin, p), 0) < 0.25
	}
	terrain := TerrainFunc(func(_ context.Context, p GeoPoint) (float64, error) {
		d := Distance(testOrigin, p)
		if d >= 49_000 && d <= 61_000 && onRay(p) {
			return 500, nil
		}
		return 0, nil
	})

	res, err := newTestEngine().ComputeCoverage(context.Background(), testRequest(0), terrain)
	if err != nil {
		t.Fatalf("ComputeCoverage: %v", err)
	}

	var before int
	for _, p := range res.Good {
		if !onRay(p) {
			continue
		}
		d := Distance(testOrigin, p)
		if d > 61_000 {
			t.Fatalf("point at %.0f m behind the ridge should be absent", d)
		}
		before++
	}
	// 5 km .. 60 km, ridge samples included.
	if before != 12 {
		t.Fatalf("ray 0 kept %d points, want 12", before)
	}
	for _, p := range append(res.Okay, res.Bad...) {
		if onRay(p) {
			t.Fatalf("unexpected okay/bad point on ray 0 at %.0f m", Distance(testOrigin, p))
		}
	}

	perRay := samplesPerRay(res.Border, testStep)
	if res.Stats.Obstructed != perRay[0]-12 {
		t.Fatalf("obstructed = %d, want %d", res.Stats.Obstructed, perRay[0]-12)
	}
	if len(res.Good) != sum(perRay)-res.Stats.Obstructed {
		t.Fatalf("other rays should be unaffected: good=%d", len(res.Good))
	}
}

func TestComputeCoverageRejectsBadInputBeforeTerrain(t *testing.T) {
	var calls atomic.Int64
	terrain := TerrainFunc(func(context.Context, GeoPoint) (float64, error) {
		calls.Add(1)
		return 0, nil
	})
	engine := newTestEngine()

	cases := []struct {
		name string
		mut  func(*CoverageRequest)
		want error
	}{
		{"short pattern", func(r *CoverageRequest) { r.Pattern = make(RadiationPattern, 359) }, ErrInvalidConfiguration},
		{"NaN gain", func(r *CoverageRequest) { r.Pattern[10] = math.NaN() }, ErrInvalidConfiguration},
		{"zero frequency", func(r *CoverageRequest) { r.Profile.FrequencyGHz = 0 }, ErrInvalidParameter},
		{"NaN power", func(r *CoverageRequest) { r.Profile.OutputPowerDBw = math.NaN() }, ErrInvalidConfiguration},
		{"bad latitude", func(r *CoverageRequest) { r.Origin.Lat = 91 }, ErrInvalidParameter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := testRequest(0)
			tc.mut(&req)
			res, err := engine.ComputeCoverage(context.Background(), req, terrain)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if !IsConfigError(err) {
				t.Fatalf("IsConfigError(%v) = false", err)
			}
			if res != nil {
				t.Fatalf("expected nil result on invalid input")
			}
		})
	}
	if n := calls.Load(); n != 0 {
		t.Fatalf("terrain queried %d times for invalid input", n)
	}

	if _, err := engine.ComputeCoverage(context.Background(), testRequest(0), nil); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("nil terrain: err = %v", err)
	}
}

func TestComputeCoverageSkipsUnavailableSamples(t *testing.T) {
	gap := Destination(testOrigin, 90, 100_000)
	isGap := func(p GeoPoint) bool { return Distance(gap, p) < 1 }
	terrain := TerrainFunc(func(_ context.Context, p GeoPoint) (float64, error) {
		if isGap(p) {
			return Unavailable, nil
		}
		return 0, nil
	})

	baseline, err := newTestEngine().ComputeCoverage(context.Background(), testRequest(0), flatTerrain(0))
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	res, err := newTestEngine().ComputeCoverage(context.Background(), testRequest(0), terrain)
	if err != nil {
		t.Fatalf("ComputeCoverage: %v", err)
	}

	if res.Stats.Unavailable != 1 {
		t.Fatalf("unavailable = %d, want 1", res.Stats.Unavailable)
	}
	if len(res.Good) != len(baseline.Good)-1 {
		t.Fatalf("good = %d, want baseline %d minus the gap", len(res.Good), len(baseline.Good))
	}
	j := 0
	for _, p := range baseline.Good {
		if isGap(p) {
			continue
		}
		if res.Good[j] != p {
			t.Fatalf("point %d differs from baseline: %v vs %v", j, res.Good[j], p)
		}
		j++
	}
}

func TestComputeCoverageDeterministicAcrossWorkers(t *testing.T) {
	rugged := TerrainFunc(func(_ context.Context, p GeoPoint) (float64, error) {
		return 400 + 300*math.Sin(p.Lat*37)*math.Cos(p.Lon*23) + 150*math.Sin(p.Lon*91), nil
	})
	req := testRequest(30)
	req.StepMeters = 10_000

	serial, err := NewCoverageEngine(WithWorkers(1)).ComputeCoverage(context.Background(), req, rugged)
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	for i := 0; i < 3; i++ {
		parallel, err := NewCoverageEngine(WithWorkers(8)).ComputeCoverage(context.Background(), req, rugged)
		if err != nil {
			t.Fatalf("parallel: %v", err)
		}
		if !reflect.DeepEqual(serial, parallel) {
			t.Fatalf("run %d: parallel result differs from serial", i)
		}
	}
}

func TestComputeCoverageCancelledReturnsPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int64
	terrain := TerrainFunc(func(context.Context, GeoPoint) (float64, error) {
		if calls.Add(1) == 100 {
			cancel()
		}
		return 0, nil
	})

	res, err := newTestEngine(WithWorkers(1)).ComputeCoverage(ctx, testRequest(0), terrain)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res == nil {
		t.Fatalf("expected partial result")
	}
	if res.Stats.Rays == 0 || res.Stats.Rays >= PatternSize {
		t.Fatalf("completed rays = %d, want a partial count", res.Stats.Rays)
	}
	perRay := samplesPerRay(res.Border, testStep)
	if len(res.Good) != res.Stats.Rays*perRay[0] {
		t.Fatalf("good = %d, want only points from %d completed rays", len(res.Good), res.Stats.Rays)
	}
}

func TestComputeCoverageTerrainError(t *testing.T) {
	boom := errors.New("tile server down")
	var calls atomic.Int64
	terrain := TerrainFunc(func(context.Context, GeoPoint) (float64, error) {
		if calls.Add(1) > 50 {
			return 0, boom
		}
		return 0, nil
	})

	_, err := newTestEngine().ComputeCoverage(context.Background(), testRequest(0), terrain)
	if !errors.Is(err, ErrTerrainFailure) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrTerrainFailure wrapping the provider error", err)
	}

	failing := TerrainFunc(func(context.Context, GeoPoint) (float64, error) { return 0, boom })
	if _, err := newTestEngine().ComputeCoverage(context.Background(), testRequest(0), failing); !errors.Is(err, ErrTerrainFailure) {
		t.Fatalf("origin failure: err = %v", err)
	}
}

func TestComputeCoverageOriginUnavailable(t *testing.T) {
	res, err := newTestEngine().ComputeCoverage(context.Background(), testRequest(0), flatTerrain(Unavailable))
	if err != nil {
		t.Fatalf("ComputeCoverage: %v", err)
	}
	if !res.OriginUnavailable {
		t.Fatalf("OriginUnavailable not set")
	}
	if len(res.Border) != PatternSize {
		t.Fatalf("border should still be computed, got %d points", len(res.Border))
	}
	if len(res.Good)+len(res.Okay)+len(res.Bad) != 0 {
		t.Fatalf("no points should be classified")
	}
}

func TestComputeCoverageObserverAndMetrics(t *testing.T) {
	var (
		mu      sync.Mutex
		offsets = map[int]int{}
	)
	rec := &recordingMetrics{}
	engine := newTestEngine(
		WithRayObserver(func(r RayResult) {
			mu.Lock()
			offsets[r.Offset]++
			mu.Unlock()
		}),
		WithMetricsRecorder(rec),
	)

	res, err := engine.ComputeCoverage(context.Background(), testRequest(0), flatTerrain(0))
	if err != nil {
		t.Fatalf("ComputeCoverage: %v", err)
	}
	if len(offsets) != PatternSize {
		t.Fatalf("observer saw %d distinct rays, want %d", len(offsets), PatternSize)
	}
	for off, n := range offsets {
		if n != 1 {
			t.Fatalf("ray %d observed %d times", off, n)
		}
	}
	if rec.calls != 1 || rec.err != nil || rec.stats != res.Stats {
		t.Fatalf("metrics recorder got calls=%d err=%v stats=%+v", rec.calls, rec.err, rec.stats)
	}
}

func TestPackageComputeCoverage(t *testing.T) {
	res, err := ComputeCoverage(context.Background(), testOrigin, 45, 0, testProfile, ConstantPattern(19), flatTerrain(12), 20_000)
	if err != nil {
		t.Fatalf("ComputeCoverage: %v", err)
	}
	if res.Border[0].BearingDeg != 45 {
		t.Fatalf("border should start at the pointing direction, got %v", res.Border[0].BearingDeg)
	}
	if res.TxElevationM != 12 {
		t.Fatalf("TxElevationM = %v, want 12", res.TxElevationM)
	}
	if want := sum(samplesPerRay(res.Border, 20_000)); len(res.Good) != want {
		t.Fatalf("good = %d, want %d", len(res.Good), want)
	}
}

type recordingMetrics struct {
	calls int
	stats CoverageStats
	err   error
}

func (r *recordingMetrics) ObserveCoverage(stats CoverageStats, _ time.Duration, err error) {
	r.calls++
	r.stats = stats
	r.err = err
}
