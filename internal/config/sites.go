// Package config turns files and environment variables into the values the
// coverage engine and its providers consume.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/lmux/antenna-coverage/core"
	"github.com/lmux/antenna-coverage/model"
)

// JSON shapes stay unexported so the file format can evolve independently
// of model.AntennaSite.
type siteJSON struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Latitude       *float64     `json:"latitude"`
	Longitude      *float64     `json:"longitude"`
	DirectionDeg   float64      `json:"direction_deg"`
	InstallHeightM float64      `json:"install_height_m"`
	StepM          float64      `json:"step_m"`
	Tags           []string     `json:"tags"`
	Profile        *profileJSON `json:"profile"`
	Pattern        []float64    `json:"pattern"`
	PatternFile    string       `json:"pattern_file"`
}

// Every profile field is required; pointers tell "absent" from zero.
type profileJSON struct {
	OutputPowerDBw *float64 `json:"output_power_dbw"`
	GainDBi        *float64 `json:"gain_dbi"`
	SensitivityDBw *float64 `json:"sensitivity_dbw"`
	FrequencyGHz   *float64 `json:"frequency_ghz"`
}

// LoadSitesFile reads a site file from disk. Relative pattern_file paths
// resolve against the site file's directory.
func LoadSitesFile(path string) ([]*model.AntennaSite, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open site file: %w", err)
	}
	defer f.Close()
	return LoadSites(f, filepath.Dir(path))
}

// LoadSites decodes a JSON array of sites from r and validates each one.
func LoadSites(r io.Reader, baseDir string) ([]*model.AntennaSite, error) {
	var payload []siteJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode site file: %v", core.ErrInvalidConfiguration, err)
	}

	seen := make(map[string]bool, len(payload))
	sites := make([]*model.AntennaSite, 0, len(payload))
	for i, js := range payload {
		site, err := js.toSite(baseDir)
		if err != nil {
			return nil, fmt.Errorf("site %d (%q): %w", i, js.ID, err)
		}
		if seen[site.ID] {
			return nil, fmt.Errorf("%w: duplicate site id %q", core.ErrInvalidConfiguration, site.ID)
		}
		seen[site.ID] = true
		sites = append(sites, site)
	}
	return sites, nil
}

// ParseSite decodes one site object. pattern_file is rejected: the data
// comes from a remote caller and must not name local paths.
func ParseSite(data []byte) (*model.AntennaSite, error) {
	var js siteJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&js); err != nil {
		return nil, fmt.Errorf("%w: decode site: %v", core.ErrInvalidConfiguration, err)
	}
	if js.PatternFile != "" {
		return nil, fmt.Errorf("%w: pattern_file is not accepted here", core.ErrInvalidConfiguration)
	}
	return js.toSite("")
}

func (js siteJSON) toSite(baseDir string) (*model.AntennaSite, error) {
	if js.Latitude == nil || js.Longitude == nil {
		return nil, fmt.Errorf("%w: latitude and longitude are required", core.ErrInvalidConfiguration)
	}
	profile, err := js.Profile.toProfile()
	if err != nil {
		return nil, err
	}
	pattern, err := js.pattern(baseDir)
	if err != nil {
		return nil, err
	}

	site := &model.AntennaSite{
		ID:             js.ID,
		Name:           js.Name,
		Position:       core.GeoPoint{Lat: *js.Latitude, Lon: *js.Longitude},
		DirectionDeg:   js.DirectionDeg,
		InstallHeightM: js.InstallHeightM,
		Profile:        profile,
		Pattern:        pattern,
		StepMeters:     js.StepM,
		Tags:           js.Tags,
	}
	if site.Name == "" {
		site.Name = site.ID
	}
	if err := site.Validate(); err != nil {
		return nil, err
	}
	return site, nil
}

func (p *profileJSON) toProfile() (core.AntennaProfile, error) {
	if p == nil {
		return core.AntennaProfile{}, fmt.Errorf("%w: profile is required", core.ErrInvalidConfiguration)
	}
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"output_power_dbw", p.OutputPowerDBw},
		{"gain_dbi", p.GainDBi},
		{"sensitivity_dbw", p.SensitivityDBw},
		{"frequency_ghz", p.FrequencyGHz},
	} {
		if f.v == nil {
			return core.AntennaProfile{}, fmt.Errorf("%w: profile field %s is required", core.ErrInvalidConfiguration, f.name)
		}
	}
	return core.AntennaProfile{
		OutputPowerDBw: *p.OutputPowerDBw,
		GainDBi:        *p.GainDBi,
		SensitivityDBw: *p.SensitivityDBw,
		FrequencyGHz:   *p.FrequencyGHz,
	}, nil
}

func (js siteJSON) pattern(baseDir string) (core.RadiationPattern, error) {
	switch {
	case len(js.Pattern) > 0 && js.PatternFile != "":
		return nil, fmt.Errorf("%w: set pattern or pattern_file, not both", core.ErrInvalidConfiguration)
	case js.PatternFile != "":
		path := js.PatternFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		return LoadPatternFile(path)
	default:
		return core.NewRadiationPattern(js.Pattern)
	}
}
