package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lmux/antenna-coverage/core"
	"github.com/lmux/antenna-coverage/internal/config"
	"github.com/lmux/antenna-coverage/model"
)

// Messages travel as google.protobuf.Struct. The Go types below fix their
// JSON shape; toStruct and FromStruct convert between the two.

// ComputeRequest selects a site and tunes one computation. Exactly one of
// SiteID and Site is set.
type ComputeRequest struct {
	SiteID string
	// Site is evaluated without being registered.
	Site *model.AntennaSite
	// StepM overrides the site's sample spacing when positive.
	StepM float64
	// IncludePoints asks ComputeCoverage to return the classified points,
	// not only the border and stats.
	IncludePoints bool
}

type requestWire struct {
	SiteID        string          `json:"site_id,omitempty"`
	Site          json.RawMessage `json:"site,omitempty"`
	StepM         float64         `json:"step_m,omitempty"`
	IncludePoints bool            `json:"include_points,omitempty"`
}

type siteWire struct {
	ID             string              `json:"id"`
	Name           string              `json:"name,omitempty"`
	Latitude       float64             `json:"latitude"`
	Longitude      float64             `json:"longitude"`
	DirectionDeg   float64             `json:"direction_deg"`
	InstallHeightM float64             `json:"install_height_m"`
	StepM          float64             `json:"step_m,omitempty"`
	Tags           []string            `json:"tags,omitempty"`
	Profile        core.AntennaProfile `json:"profile"`
	Pattern        []float64           `json:"pattern"`
}

// ParseComputeRequest decodes and checks a ComputeCoverage or
// StreamCoverage request.
func ParseComputeRequest(in *structpb.Struct) (ComputeRequest, error) {
	if in == nil {
		return ComputeRequest{}, fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	var w requestWire
	if err := FromStruct(in, &w); err != nil {
		return ComputeRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	req := ComputeRequest{SiteID: w.SiteID, StepM: w.StepM, IncludePoints: w.IncludePoints}
	if len(w.Site) > 0 {
		site, err := config.ParseSite(w.Site)
		if err != nil {
			return ComputeRequest{}, err
		}
		req.Site = site
	}
	if (req.SiteID == "") == (req.Site == nil) {
		return ComputeRequest{}, fmt.Errorf("%w: set exactly one of site_id or site", ErrInvalidRequest)
	}
	if req.StepM < 0 {
		return ComputeRequest{}, fmt.Errorf("%w: step_m must not be negative", ErrInvalidRequest)
	}
	return req, nil
}

// Struct encodes the request for the wire.
func (r ComputeRequest) Struct() (*structpb.Struct, error) {
	w := requestWire{SiteID: r.SiteID, StepM: r.StepM, IncludePoints: r.IncludePoints}
	if s := r.Site; s != nil {
		raw, err := json.Marshal(siteWire{
			ID:             s.ID,
			Name:           s.Name,
			Latitude:       s.Position.Lat,
			Longitude:      s.Position.Lon,
			DirectionDeg:   s.DirectionDeg,
			InstallHeightM: s.InstallHeightM,
			StepM:          s.StepMeters,
			Tags:           s.Tags,
			Profile:        s.Profile,
			Pattern:        s.Pattern,
		})
		if err != nil {
			return nil, err
		}
		w.Site = raw
	}
	return toStruct(w)
}

// ComputeResponse is the reply to ComputeCoverage.
type ComputeResponse struct {
	RunID             string             `json:"run_id"`
	SiteID            string             `json:"site_id"`
	TxElevationM      float64            `json:"tx_elevation_m"`
	OriginUnavailable bool               `json:"origin_unavailable,omitempty"`
	Stats             core.CoverageStats `json:"stats"`
	Border            []core.BorderPoint `json:"border"`
	Good              []core.GeoPoint    `json:"good,omitempty"`
	Okay              []core.GeoPoint    `json:"okay,omitempty"`
	Bad               []core.GeoPoint    `json:"bad,omitempty"`
}

func newComputeResponse(run *model.CoverageRun, includePoints bool) ComputeResponse {
	res := run.Result
	out := ComputeResponse{
		RunID:             run.ID,
		SiteID:            run.SiteID,
		TxElevationM:      res.TxElevationM,
		OriginUnavailable: res.OriginUnavailable,
		Stats:             res.Stats,
		Border:            res.Border,
	}
	if includePoints {
		out.Good, out.Okay, out.Bad = res.Good, res.Okay, res.Bad
	}
	return out
}

// RayMessage carries one completed ray of a StreamCoverage call.
type RayMessage struct {
	// Azimuth is the offset from the pointing direction in degrees.
	Azimuth     int              `json:"azimuth"`
	Border      core.BorderPoint `json:"border"`
	Good        []core.GeoPoint  `json:"good"`
	Okay        []core.GeoPoint  `json:"okay"`
	Bad         []core.GeoPoint  `json:"bad"`
	Obstructed  int              `json:"obstructed"`
	Unavailable int              `json:"unavailable"`
}

func newRayMessage(r core.RayResult) RayMessage {
	return RayMessage{
		Azimuth:     r.Offset,
		Border:      r.Border,
		Good:        nonNil(r.Good),
		Okay:        nonNil(r.Okay),
		Bad:         nonNil(r.Bad),
		Obstructed:  r.Obstructed,
		Unavailable: r.Unavailable,
	}
}

// DoneMessage ends a StreamCoverage call.
type DoneMessage struct {
	RunID  string             `json:"run_id"`
	SiteID string             `json:"site_id"`
	Stats  core.CoverageStats `json:"stats"`
	Done   bool               `json:"done"`
}

// SiteSummary is one entry of a ListSites reply.
type SiteSummary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	DirectionDeg float64  `json:"direction_deg"`
	FrequencyGHz float64  `json:"frequency_ghz"`
	Tags         []string `json:"tags,omitempty"`
}

type listSitesResponse struct {
	Sites []SiteSummary `json:"sites"`
}

func summarize(s *model.AntennaSite) SiteSummary {
	return SiteSummary{
		ID:           s.ID,
		Name:         s.Name,
		Latitude:     s.Position.Lat,
		Longitude:    s.Position.Lon,
		DirectionDeg: s.DirectionDeg,
		FrequencyGHz: s.Profile.FrequencyGHz,
		Tags:         s.Tags,
	}
}

func nonNil(pts []core.GeoPoint) []core.GeoPoint {
	if pts == nil {
		return []core.GeoPoint{}
	}
	return pts
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return out, nil
}

// FromStruct decodes a Struct message into v, rejecting unknown fields.
func FromStruct(s *structpb.Struct, v any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
