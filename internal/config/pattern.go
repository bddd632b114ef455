package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/lmux/antenna-coverage/core"
)

// LoadPatternFile reads a radiation pattern from disk.
func LoadPatternFile(path string) (core.RadiationPattern, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open pattern file: %v", core.ErrInvalidConfiguration, err)
	}
	defer f.Close()
	return LoadPattern(f)
}

// LoadPattern parses a radiation pattern table.
//
// Each non-blank line holds either a single gain in dBi, taken in order
// starting at offset 0, or an "angle gain" pair. The two forms cannot be
// mixed. Text after '#' is ignored.
func LoadPattern(r io.Reader) (core.RadiationPattern, error) {
	var (
		ordered []float64
		paired  = make(map[int]float64)
		lineNo  int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.FieldsFunc(line, func(r rune) bool { return r == ' ' || r == '\t' || r == ',' || r == ';' })

		switch len(fields) {
		case 0:
			continue
		case 1:
			if len(paired) > 0 {
				return nil, patternErr(lineNo, "mixes bare gains with angle/gain pairs")
			}
			g, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				return nil, patternErr(lineNo, "bad gain %q", fields[0])
			}
			ordered = append(ordered, g)
		case 2:
			if len(ordered) > 0 {
				return nil, patternErr(lineNo, "mixes bare gains with angle/gain pairs")
			}
			angle, err := strconv.Atoi(fields[0])
			if err != nil || angle < 0 || angle >= core.PatternSize {
				return nil, patternErr(lineNo, "angle %q must be an integer in [0,%d)", fields[0], core.PatternSize)
			}
			if _, dup := paired[angle]; dup {
				return nil, patternErr(lineNo, "angle %d listed twice", angle)
			}
			g, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return nil, patternErr(lineNo, "bad gain %q", fields[1])
			}
			paired[angle] = g
		default:
			return nil, patternErr(lineNo, "expected 1 or 2 fields, got %d", len(fields))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: read pattern: %v", core.ErrInvalidConfiguration, err)
	}

	if len(paired) == 0 {
		return core.NewRadiationPattern(ordered)
	}
	if len(paired) != core.PatternSize {
		return nil, fmt.Errorf("%w: pattern lists %d of %d angles", core.ErrInvalidConfiguration, len(paired), core.PatternSize)
	}
	gains := make([]float64, core.PatternSize)
	for a, g := range paired {
		gains[a] = g
	}
	return core.NewRadiationPattern(gains)
}

func patternErr(line int, format string, args ...any) error {
	return fmt.Errorf("%w: pattern line %d: %s", core.ErrInvalidConfiguration, line, fmt.Sprintf(format, args...))
}
