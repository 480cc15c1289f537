// Package scenario loads batch simulation inputs from JSON or YAML files.
package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cxd309/tms-dispatch/internal/engine"
)

// MaxSize is the largest scenario accepted, in bytes.
const MaxSize = 16 << 20

// Format is a scenario encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported scenario format")
	ErrTooLarge          = errors.New("scenario too large")
)

// FormatOf returns the format implied by the extension of path.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Load reads the scenario at path.
func Load(path string) (engine.SimulationInput, error) {
	format, err := FormatOf(path)
	if err != nil {
		return engine.SimulationInput{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return engine.SimulationInput{}, fmt.Errorf("opening scenario: %w", err)
	}
	defer f.Close()

	in, err := Decode(f, format)
	if err != nil {
		return engine.SimulationInput{}, fmt.Errorf("%s: %w", path, err)
	}
	return in, nil
}

// Decode reads one scenario in the given format from r.
func Decode(r io.Reader, format Format) (engine.SimulationInput, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return engine.SimulationInput{}, fmt.Errorf("reading scenario: %w", err)
	}
	if len(data) > MaxSize {
		return engine.SimulationInput{}, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, MaxSize)
	}

	var in engine.SimulationInput
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &in)
	case FormatYAML:
		err = yaml.Unmarshal(data, &in)
	default:
		return engine.SimulationInput{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return engine.SimulationInput{}, fmt.Errorf("decoding %s scenario: %w", format, err)
	}
	return in, nil
}
