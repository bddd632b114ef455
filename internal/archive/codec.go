package archive

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/lmux/antenna-coverage/core"
)

// payload is the archived blob: everything needed to reproduce or redraw a
// run. Field tags keep the msgpack layout stable across renames.
type payload struct {
	Origin         core.GeoPoint       `msgpack:"origin"`
	DirectionDeg   float64             `msgpack:"direction_deg"`
	InstallHeightM float64             `msgpack:"install_height_m"`
	Profile        core.AntennaProfile `msgpack:"profile"`
	Pattern        []float64           `msgpack:"pattern"`
	StepMeters     float64             `msgpack:"step_m"`

	Result *core.CoverageResult `msgpack:"result"`
}

// encodePayload writes msgpack compressed with zstd.
func encodePayload(w io.Writer, req core.CoverageRequest, res *core.CoverageResult) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	defer zw.Close()

	p := payload{
		Origin:         req.Origin,
		DirectionDeg:   req.DirectionDeg,
		InstallHeightM: req.InstallHeightM,
		Profile:        req.Profile,
		Pattern:        req.Pattern,
		StepMeters:     req.StepMeters,
		Result:         res,
	}
	if err := msgpack.NewEncoder(zw).Encode(&p); err != nil {
		return fmt.Errorf("failed to encode run payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to close zstd writer: %w", err)
	}
	return nil
}

func decodePayload(r io.Reader) (core.CoverageRequest, *core.CoverageResult, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return core.CoverageRequest{}, nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer zr.Close()

	var p payload
	if err := msgpack.NewDecoder(zr).Decode(&p); err != nil {
		return core.CoverageRequest{}, nil, fmt.Errorf("failed to decode run payload: %w", err)
	}
	req := core.CoverageRequest{
		Origin:         p.Origin,
		DirectionDeg:   p.DirectionDeg,
		InstallHeightM: p.InstallHeightM,
		Profile:        p.Profile,
		Pattern:        core.RadiationPattern(p.Pattern),
		StepMeters:     p.StepMeters,
	}
	return req, p.Result, nil
}

func marshalPayload(req core.CoverageRequest, res *core.CoverageResult) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodePayload(&buf, req, res); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
