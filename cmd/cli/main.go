// Command tms-dispatch runs a batch corridor simulation. It reads a scenario
// from a JSON or YAML file (or JSON from stdin), runs it and writes the
// SimulationLog JSON to stdout. Logs go to stderr.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cxd309/tms-dispatch/internal/engine"
	"github.com/cxd309/tms-dispatch/internal/scenario"
)

func main() {
	input := flag.String("input", "", "scenario file (.json, .yaml or .yml); defaults to the first argument, then stdin")
	logLevel := flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "console", "log format (console or json)")
	pretty := flag.Bool("pretty", false, "indent the output JSON")
	flag.Parse()

	logger, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	path := *input
	if path == "" && flag.NArg() > 0 {
		path = flag.Arg(0)
	}
	in, err := load(path)
	if err != nil {
		logger.Fatal().Err(err).Str("input", path).Msg("error reading input")
	}

	cfg := engine.DefaultConfig()
	cfg.Logger = logger
	out, err := engine.Run(in, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("simulation error")
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		logger.Fatal().Err(err).Msg("error writing output")
	}
}

func load(path string) (engine.SimulationInput, error) {
	if path != "" {
		return scenario.Load(path)
	}
	return scenario.Decode(os.Stdin, scenario.FormatJSON)
}

func newLogger(level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var w io.Writer
	switch format {
	case "console":
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	case "json":
		w = os.Stderr
	default:
		return zerolog.Logger{}, fmt.Errorf("invalid log format %q", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
