package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is one strategy instance entry in the YAML file.
type Config struct {
	ID          string    `yaml:"id"`
	Type        string    `yaml:"type"`
	Interval    string    `yaml:"interval"`
	QuoteBudget float64   `yaml:"quote_budget"` // quote spent per entry
	OrderLimit  int       `yaml:"order_limit"`  // coordinator budget slots
	Symbols     []string  `yaml:"symbols"`      // overrides the global universe when set
	Parameters  yaml.Node `yaml:"parameters"`
}

type configFile struct {
	Strategies []Config `yaml:"strategies"`
}

// LoadConfig reads strategy instances from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for i, c := range file.Strategies {
		if c.ID == "" {
			return nil, fmt.Errorf("strategy %d: missing id", i)
		}
		if c.QuoteBudget <= 0 {
			return nil, fmt.Errorf("strategy %s: quote_budget must be positive", c.ID)
		}
	}
	return file.Strategies, nil
}

// NewEvaluator builds the evaluator for a config entry.
func NewEvaluator(cfg Config) (Evaluator, error) {
	switch cfg.Type {
	case "trend":
		var p TrendParams
		if err := decodeParams(cfg, &p); err != nil {
			return nil, err
		}
		return NewTrend(p), nil
	case "meanrev":
		var p MeanRevParams
		if err := decodeParams(cfg, &p); err != nil {
			return nil, err
		}
		return NewMeanRev(p), nil
	case "breakout":
		var p BreakoutParams
		if err := decodeParams(cfg, &p); err != nil {
			return nil, err
		}
		return NewBreakout(p), nil
	case "volume_spike":
		var p VolumeSpikeParams
		if err := decodeParams(cfg, &p); err != nil {
			return nil, err
		}
		return NewVolumeSpike(p), nil
	default:
		return nil, fmt.Errorf("unknown strategy type %q", cfg.Type)
	}
}

func decodeParams(cfg Config, out any) error {
	if cfg.Parameters.IsZero() {
		return nil
	}
	if err := cfg.Parameters.Decode(out); err != nil {
		return fmt.Errorf("strategy %s: bad parameters: %w", cfg.ID, err)
	}
	return nil
}
