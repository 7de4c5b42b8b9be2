package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ChainConfig holds the parameters for building the engine chain.
type ChainConfig struct {
	Order          []string
	DefaultTimeout time.Duration
	Timeouts       map[string]time.Duration
	SofficePath    string
	DPI            float64

	// Runner and Renderer default to ExecRunner and FitzRenderer.
	Runner   Runner
	Renderer Renderer
	Logger   *slog.Logger
}

// Build constructs the chain once at startup. Unknown or repeated names are
// an error. The placeholder engine is appended when missing and always runs
// last, so a checked input can always complete.
func Build(cfg ChainConfig) (*Chain, error) {
	order := cfg.Order
	if len(order) == 0 {
		order = DefaultOrder
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runner := cfg.Runner
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = FitzRenderer{DPI: cfg.DPI}
	}

	seen := map[string]bool{}
	var engines []Engine
	for _, raw := range order {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if seen[name] {
			return nil, fmt.Errorf("engine %q listed twice", name)
		}
		seen[name] = true

		switch name {
		case Office:
			bin := FindSoffice(cfg.SofficePath)
			if bin == "" {
				logger.Warn("libreoffice not found; office engine will always fall through")
			}
			oe := NewOfficeEngine(bin, runner)
			oe.logger = logger
			engines = append(engines, oe)
		case Raster:
			engines = append(engines, NewRasterEngine(renderer))
		case Synth:
			engines = append(engines, NewSynthEngine(renderer))
		case Placeholder:
			// Appended below so it is always last.
		default:
			return nil, fmt.Errorf("unknown engine %q (valid: %s)", name, strings.Join(DefaultOrder, ", "))
		}
	}
	engines = append(engines, NewPlaceholderEngine())

	chain := NewChain(cfg.DefaultTimeout, engines...)
	for name, d := range cfg.Timeouts {
		chain.SetTimeout(name, d)
	}
	return chain, nil
}

// ValidName reports whether name is a known engine.
func ValidName(name string) bool {
	for _, n := range DefaultOrder {
		if n == name {
			return true
		}
	}
	return false
}
