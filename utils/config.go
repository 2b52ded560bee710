package utils

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the run configuration of the command line tools. Every field
// can come from a YAML file and be overridden by a flag of the same meaning.
type Config struct {
	RandPerm       bool    `yaml:"rp"`
	Ratio          int     `yaml:"ratio"`
	MaxEpoch       int     `yaml:"max_epoch"`
	MinAcc         float64 `yaml:"min_acc"`
	LearningRate   float64 `yaml:"learning_rate"`
	Variance       float64 `yaml:"variance"`
	BatchSize      int     `yaml:"batch_size"`
	Type           int     `yaml:"type"`
	Nodes          string  `yaml:"nodes"`
	Rescale        bool    `yaml:"rescale"`
	SlopeThres     float64 `yaml:"slope_thres"`
	Pre            int     `yaml:"pre"`
	Seed           int64   `yaml:"seed"`
	Workers        int     `yaml:"workers"`
	Tolerance      float64 `yaml:"tolerance"`
	MaxSweeps      int     `yaml:"max_sweeps"`
	PretrainEpochs int     `yaml:"pretrain_epochs"`
}

// DefaultConfig returns the defaults of dnn-train.
func DefaultConfig() Config {
	return Config{
		Ratio:          5,
		MaxEpoch:       100000,
		MinAcc:         0.5,
		LearningRate:   0.01,
		Variance:       0.01,
		BatchSize:      32,
		SlopeThres:     0.05,
		Seed:           42,
		Workers:        1,
		Tolerance:      0.5,
		MaxSweeps:      1000,
		PretrainEpochs: 5,
	}
}

// LoadConfig decodes the YAML file at path over base. Unknown keys are an
// error.
func LoadConfig(path string, base Config) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return base, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := base
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return base, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.Ratio <= 0 {
		return fmt.Errorf("ratio must be > 0 (got %d)", c.Ratio)
	}
	if c.MaxEpoch <= 0 {
		return fmt.Errorf("max_epoch must be > 0 (got %d)", c.MaxEpoch)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if math.IsNaN(c.LearningRate) || c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %v)", c.LearningRate)
	}
	if math.IsNaN(c.Variance) || c.Variance <= 0 {
		return fmt.Errorf("variance must be > 0 (got %v)", c.Variance)
	}
	if math.IsNaN(c.MinAcc) || c.MinAcc < 0 {
		return fmt.Errorf("min_acc must be >= 0 (got %v)", c.MinAcc)
	}
	if c.Type != 0 && c.Type != 1 {
		return fmt.Errorf("type must be 0 (classification) or 1 (regression), got %d", c.Type)
	}
	if c.Pre < 0 || c.Pre > 2 {
		return fmt.Errorf("pre must be 0, 1 or 2 (got %d)", c.Pre)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0 (got %d)", c.Workers)
	}
	if math.IsNaN(c.Tolerance) || c.Tolerance < 0 {
		return fmt.Errorf("tolerance must be >= 0 (got %v)", c.Tolerance)
	}
	if c.MaxSweeps <= 0 {
		return fmt.Errorf("max_sweeps must be > 0 (got %d)", c.MaxSweeps)
	}
	if c.PretrainEpochs <= 0 {
		return fmt.Errorf("pretrain_epochs must be > 0 (got %d)", c.PretrainEpochs)
	}
	if _, err := ParseStructure(c.Nodes); err != nil {
		return err
	}
	return nil
}

// ParseStructure parses hidden layer widths separated by "-", such as
// "1024-1024-1024". An empty string means no hidden layers.
func ParseStructure(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "-")
	widths := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("nodes %q: %w", s, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("nodes %q: width %d must be > 0", s, n)
		}
		widths[i] = n
	}
	return widths, nil
}
