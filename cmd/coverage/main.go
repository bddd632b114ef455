// Command coverage computes antenna coverage for the sites in a site file
// and writes the results as GeoJSON and/or shapefiles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/lmux/antenna-coverage/core"
	"github.com/lmux/antenna-coverage/internal/archive"
	"github.com/lmux/antenna-coverage/internal/config"
	"github.com/lmux/antenna-coverage/internal/export"
	"github.com/lmux/antenna-coverage/internal/logging"
	"github.com/lmux/antenna-coverage/internal/observability"
	"github.com/lmux/antenna-coverage/internal/terrain"
	"github.com/lmux/antenna-coverage/model"
)

const tracerName = "github.com/lmux/antenna-coverage/cmd/coverage"

type options struct {
	sitesPath   string
	siteID      string
	outDir      string
	format      string
	simplify    float64
	archivePath string
	listRuns    bool
	workers     int
	step        float64
	twoTier     bool
	graded      bool
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("coverage", flag.ContinueOnError)
	var o options
	fs.StringVar(&o.sitesPath, "sites", "", "Path to the JSON site file (required)")
	fs.StringVar(&o.siteID, "site", "", "Only evaluate the site with this id")
	fs.StringVar(&o.outDir, "out", ".", "Output directory")
	fs.StringVar(&o.format, "format", "geojson", "Output format: geojson, shp, both or none")
	fs.Float64Var(&o.simplify, "simplify", 0, "Douglas-Peucker tolerance for the GeoJSON border, in degrees")
	fs.StringVar(&o.archivePath, "archive", "", "SQLite file to archive runs in")
	fs.BoolVar(&o.listRuns, "list-runs", false, "List archived runs instead of computing")
	fs.IntVar(&o.workers, "workers", 0, "Rays evaluated concurrently (0 = GOMAXPROCS)")
	fs.Float64Var(&o.step, "step", core.DefaultStepMeters, "Sample spacing along each ray in metres")
	fs.BoolVar(&o.twoTier, "two-tier", false, "Classify into good and bad only")
	fs.BoolVar(&o.graded, "graded", false, "Require the √2-scaled Fresnel clearance for good; first-zone clearance only is okay")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	switch {
	case o.sitesPath == "" && !o.listRuns:
		return options{}, errors.New("-sites is required")
	case o.listRuns && o.archivePath == "":
		return options{}, errors.New("-list-runs needs -archive")
	case o.twoTier && o.graded:
		return options{}, errors.New("-two-tier and -graded are mutually exclusive")
	case !(o.step > 0):
		return options{}, fmt.Errorf("-step must be positive, got %v", o.step)
	}
	switch o.format {
	case "geojson", "shp", "both", "none":
	default:
		return options{}, fmt.Errorf("unknown -format %q", o.format)
	}
	return o, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log := logging.NewFromEnv()
	if err := run(ctx, o, log, os.Stdout); err != nil {
		log.Error(ctx, "coverage failed", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, log logging.Logger, out io.Writer) error {
	var store *archive.Archive
	if o.archivePath != "" {
		var err error
		if store, err = archive.Open(o.archivePath); err != nil {
			return err
		}
		defer store.Close()
	}
	if o.listRuns {
		return listRuns(ctx, store, o.siteID, out)
	}

	sites, err := selectSites(o.sitesPath, o.siteID)
	if err != nil {
		return err
	}

	tcfg, err := config.TerrainConfigFromEnv()
	if err != nil {
		return err
	}

	// Spans go to stderr so stdout keeps only the run summary.
	tracing := observability.TracingConfigFromEnv(observability.ServiceCLI)
	tracing.Writer = os.Stderr
	tracing.Attributes = observability.TerrainAttributes(tcfg.Source, tcfg.Zoom, tcfg.Strict)
	shutdownTracing, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.WithoutCancel(ctx), shutdownTracing, log)

	provider, err := terrain.New(ctx, tcfg, terrain.WithLogger(log))
	if err != nil {
		return fmt.Errorf("init terrain: %w", err)
	}

	engineOpts := []core.EngineOption{
		core.WithWorkers(o.workers),
		core.WithStep(o.step),
		core.WithLogger(log),
	}
	switch {
	case o.twoTier:
		engineOpts = append(engineOpts, core.WithTiers(core.TwoTier))
	case o.graded:
		engineOpts = append(engineOpts, core.WithTiers(core.GradedTiers))
	}
	engine := core.NewCoverageEngine(engineOpts...)

	for _, site := range sites {
		run, err := compute(ctx, engine, provider, site)
		if run != nil && store != nil {
			if serr := store.Save(context.WithoutCancel(ctx), &archive.Entry{Run: *run, Request: site.Request()}); serr != nil {
				log.Warn(ctx, "failed to archive run", logging.String("site_id", site.ID), logging.Err(serr))
			}
		}
		if err != nil {
			return fmt.Errorf("site %q: %w", site.ID, err)
		}

		if err := write(o, site.ID, run.Result); err != nil {
			return err
		}
		s := run.Result.Stats
		fmt.Fprintf(out, "%-16s good=%-6d okay=%-6d bad=%-6d obstructed=%-6d unavailable=%-6d %s\n",
			site.ID, s.Good, s.Okay, s.Bad, s.Obstructed, s.Unavailable, run.Duration().Round(time.Millisecond))
	}
	return nil
}

func selectSites(path, id string) ([]*model.AntennaSite, error) {
	sites, err := config.LoadSitesFile(path)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return sites, nil
	}
	for _, s := range sites {
		if s.ID == id {
			return []*model.AntennaSite{s}, nil
		}
	}
	return nil, fmt.Errorf("site %q not found in %s", id, path)
}

// compute returns a run even when cancelled, so the partial result can be
// archived.
func compute(ctx context.Context, engine *core.CoverageEngine, provider core.TerrainProvider, site *model.AntennaSite) (*model.CoverageRun, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "coverage.site")
	defer span.End()
	ctx = logging.ContextWithRunID(ctx, logging.NewID())

	run := &model.CoverageRun{
		ID:        logging.RunIDFromContext(ctx),
		SiteID:    site.ID,
		StartedAt: time.Now().UTC(),
	}
	res, err := engine.ComputeCoverage(ctx, site.Request(), provider)
	run.FinishedAt = time.Now().UTC()
	if res == nil {
		return nil, err
	}
	run.Result = res
	run.Partial = err != nil
	observability.AnnotateRun(span, run.SiteID, run.ID, res.Stats, run.Partial)
	return run, err
}

func write(o options, base string, res *core.CoverageResult) error {
	if o.format == "geojson" || o.format == "both" {
		if err := os.MkdirAll(o.outDir, 0o755); err != nil {
			return err
		}
		f, err := os.Create(filepath.Join(o.outDir, base+".geojson"))
		if err != nil {
			return err
		}
		werr := export.WriteGeoJSON(f, res, export.Options{
			SimplifyTolerance: o.simplify,
			Properties:        map[string]any{"site_id": base},
		})
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return werr
		}
	}
	if o.format == "shp" || o.format == "both" {
		return export.WriteShapefiles(o.outDir, base, res)
	}
	return nil
}

func listRuns(ctx context.Context, store *archive.Archive, siteID string, out io.Writer) error {
	runs, err := store.List(ctx, siteID, 0)
	if err != nil {
		return err
	}
	for _, r := range runs {
		partial := ""
		if r.Partial {
			partial = " (partial)"
		}
		fmt.Fprintf(out, "%s  %-16s %s  good=%d okay=%d bad=%d%s\n",
			r.ID, r.SiteID, r.StartedAt.Format(time.RFC3339), r.Stats.Good, r.Stats.Okay, r.Stats.Bad, partial)
	}
	return nil
}
