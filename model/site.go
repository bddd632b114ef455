package model

import (
	"fmt"
	"time"

	"github.com/lmux/antenna-coverage/core"
)

// AntennaSite is a named antenna installation: where it stands, which way
// it points, and how it radiates.
type AntennaSite struct {
	ID   string
	Name string

	Position       core.GeoPoint
	DirectionDeg   float64
	InstallHeightM float64

	Profile core.AntennaProfile
	Pattern core.RadiationPattern

	// StepMeters overrides the engine's sample spacing when positive.
	StepMeters float64
	Tags       []string
}

// Validate checks the site identity and delegates the RF checks to core.
func (s *AntennaSite) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: site is nil", core.ErrInvalidConfiguration)
	}
	if s.ID == "" {
		return fmt.Errorf("%w: site with empty id", core.ErrInvalidConfiguration)
	}
	if err := s.Pattern.Validate(); err != nil {
		return fmt.Errorf("site %q: %w", s.ID, err)
	}
	if err := s.Profile.Validate(); err != nil {
		return fmt.Errorf("site %q: %w", s.ID, err)
	}
	return nil
}

// Request builds the engine input for this site.
func (s *AntennaSite) Request() core.CoverageRequest {
	return core.CoverageRequest{
		Origin:         s.Position,
		DirectionDeg:   s.DirectionDeg,
		InstallHeightM: s.InstallHeightM,
		Profile:        s.Profile,
		Pattern:        s.Pattern,
		StepMeters:     s.StepMeters,
	}
}

// CoverageRun is one completed (or partially completed) computation for a
// site.
type CoverageRun struct {
	ID         string
	SiteID     string
	StartedAt  time.Time
	FinishedAt time.Time
	Result     *core.CoverageResult
	// Partial is set when the run was cancelled before every ray finished.
	Partial bool
}

// Duration is the wall time the run took.
func (r *CoverageRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
