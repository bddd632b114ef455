// Package api exposes the coverage engine over gRPC.
package api

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lmux/antenna-coverage/core"
	"github.com/lmux/antenna-coverage/internal/archive"
	"github.com/lmux/antenna-coverage/internal/logging"
	"github.com/lmux/antenna-coverage/internal/observability"
	"github.com/lmux/antenna-coverage/kb"
	"github.com/lmux/antenna-coverage/model"
)

// rayBuffer bounds how far ray evaluation may run ahead of a slow
// streaming client.
const rayBuffer = 16

// RunArchive persists finished runs.
type RunArchive interface {
	Save(ctx context.Context, e *archive.Entry) error
}

// CoverageService implements CoverageServiceServer on top of a site
// registry and a terrain provider.
type CoverageService struct {
	sites      *kb.KnowledgeBase
	terrain    core.TerrainProvider
	archive    RunArchive
	engineOpts []core.EngineOption
	log        logging.Logger
}

// ServiceOption customises CoverageService construction.
type ServiceOption func(*CoverageService)

// WithArchive stores every run, including partial ones, in a.
func WithArchive(a RunArchive) ServiceOption {
	return func(s *CoverageService) { s.archive = a }
}

// WithEngineOptions is applied to the engine built for each call.
func WithEngineOptions(opts ...core.EngineOption) ServiceOption {
	return func(s *CoverageService) { s.engineOpts = append(s.engineOpts, opts...) }
}

// WithLogger sets the service logger.
func WithLogger(l logging.Logger) ServiceOption {
	return func(s *CoverageService) {
		if l != nil {
			s.log = l
		}
	}
}

// NewCoverageService constructs a CoverageService bound to a site registry
// and terrain provider.
func NewCoverageService(sites *kb.KnowledgeBase, terrain core.TerrainProvider, opts ...ServiceOption) *CoverageService {
	s := &CoverageService{
		sites:   sites,
		terrain: terrain,
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// ComputeCoverage evaluates one site and replies with the border, stats and
// optionally the classified points.
func (s *CoverageService) ComputeCoverage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	ctx, reqLog := logging.WithRequestLogger(ctx, s.log)
	reqLog = reqLog.With(logging.String("operation", "compute"))

	req, site, registered, err := s.prepare(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	reqLog = reqLog.With(logging.String("site_id", site.ID))
	ctx = logging.ContextWithLogger(ctx, reqLog)

	ctx, span := StartChildSpan(ctx, "CoverageService.ComputeCoverage", "site", site.ID)
	defer span.End()

	run, err := s.run(ctx, site, req, registered, s.newEngine())
	if err != nil {
		return nil, ToStatusError(err)
	}

	out, err := toStruct(newComputeResponse(run, req.IncludePoints))
	if err != nil {
		return nil, ToStatusError(err)
	}
	reqLog.Debug(ctx, "ComputeCoverage completed",
		logging.String("run_id", run.ID),
		logging.Int("good", run.Result.Stats.Good),
	)
	return out, nil
}

// StreamCoverage evaluates one site and sends each ray as it completes,
// followed by a final message carrying the run id and stats.
func (s *CoverageService) StreamCoverage(in *structpb.Struct, stream CoverageStreamServer) error {
	ctx, reqLog := logging.WithRequestLogger(stream.Context(), s.log)
	reqLog = reqLog.With(logging.String("operation", "stream"))

	req, site, registered, err := s.prepare(in)
	if err != nil {
		return ToStatusError(err)
	}
	reqLog = reqLog.With(logging.String("site_id", site.ID))
	ctx = logging.ContextWithLogger(ctx, reqLog)

	ctx, span := StartChildSpan(ctx, "CoverageService.StreamCoverage", "site", site.ID)
	defer span.End()

	rays := make(chan core.RayResult, rayBuffer)
	g, gctx := errgroup.WithContext(ctx)

	var run *model.CoverageRun
	g.Go(func() error {
		defer close(rays)
		engine := s.newEngine(core.WithRayObserver(func(r core.RayResult) {
			select {
			case rays <- r:
			case <-gctx.Done():
			}
		}))
		var err error
		run, err = s.run(gctx, site, req, registered, engine)
		return err
	})
	g.Go(func() error {
		for r := range rays {
			msg, err := toStruct(newRayMessage(r))
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return ToStatusError(err)
	}

	done, err := toStruct(DoneMessage{RunID: run.ID, SiteID: run.SiteID, Stats: run.Result.Stats, Done: true})
	if err != nil {
		return ToStatusError(err)
	}
	reqLog.Debug(ctx, "StreamCoverage completed", logging.String("run_id", run.ID))
	return stream.Send(done)
}

// ListSites returns every registered site ordered by id.
func (s *CoverageService) ListSites(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	ctx, reqLog := logging.WithRequestLogger(ctx, s.log)

	if s.sites == nil {
		return nil, status.Error(codes.Internal, "site registry not available")
	}
	resp := listSitesResponse{Sites: []SiteSummary{}}
	for _, site := range s.sites.ListSites() {
		resp.Sites = append(resp.Sites, summarize(site))
	}
	out, err := toStruct(resp)
	if err != nil {
		return nil, ToStatusError(err)
	}
	reqLog.Debug(ctx, "ListSites completed", logging.Int("count", len(resp.Sites)))
	return out, nil
}

// prepare decodes the request and resolves its site. registered reports
// whether the site came from the registry.
func (s *CoverageService) prepare(in *structpb.Struct) (ComputeRequest, *model.AntennaSite, bool, error) {
	if s.terrain == nil {
		return ComputeRequest{}, nil, false, status.Error(codes.Internal, "terrain provider not available")
	}
	req, err := ParseComputeRequest(in)
	if err != nil {
		return req, nil, false, err
	}
	if req.Site != nil {
		return req, req.Site, false, nil
	}
	if s.sites == nil {
		return req, nil, false, status.Error(codes.Internal, "site registry not available")
	}
	site := s.sites.GetSite(req.SiteID)
	if site == nil {
		return req, nil, false, fmt.Errorf("%w: site %q", ErrNotFound, req.SiteID)
	}
	return req, site, true, nil
}

func (s *CoverageService) newEngine(extra ...core.EngineOption) *core.CoverageEngine {
	opts := make([]core.EngineOption, 0, len(s.engineOpts)+len(extra))
	opts = append(opts, s.engineOpts...)
	return core.NewCoverageEngine(append(opts, extra...)...)
}

// run computes coverage for site and records the outcome. Cancelled runs
// are archived as partial and the cancellation error is returned.
func (s *CoverageService) run(ctx context.Context, site *model.AntennaSite, req ComputeRequest, registered bool, engine *core.CoverageEngine) (*model.CoverageRun, error) {
	creq := site.Request()
	if req.StepM > 0 {
		creq.StepMeters = req.StepM
	}

	base := logging.LoggerFromContext(ctx)
	if base == nil {
		base = s.log
	}
	ctx, runLog, runID := logging.WithRunLogger(ctx, base)
	ctx = logging.ContextWithLogger(ctx, runLog)

	run := &model.CoverageRun{
		ID:        runID,
		SiteID:    site.ID,
		StartedAt: time.Now().UTC(),
	}
	res, err := engine.ComputeCoverage(ctx, creq, s.terrain)
	run.FinishedAt = time.Now().UTC()
	run.Result = res
	if err != nil {
		if res == nil || ctx.Err() == nil {
			return nil, err
		}
		run.Partial = true
	}
	observability.AnnotateRun(trace.SpanFromContext(ctx), run.SiteID, run.ID, res.Stats, run.Partial)

	s.record(ctx, run, creq, registered)
	return run, err
}

func (s *CoverageService) record(ctx context.Context, run *model.CoverageRun, req core.CoverageRequest, registered bool) {
	log := logging.LoggerFromContext(ctx)
	if log == nil {
		log = s.log
	}

	if registered && !run.Partial && s.sites != nil {
		if err := s.sites.RecordCoverage(run); err != nil {
			log.Warn(ctx, "failed to record coverage run", logging.Err(err))
		}
	}
	if s.archive != nil {
		saveCtx := context.WithoutCancel(ctx)
		if err := s.archive.Save(saveCtx, &archive.Entry{Run: *run, Request: req}); err != nil {
			log.Warn(ctx, "failed to archive coverage run", logging.Err(err))
		}
	}
}
