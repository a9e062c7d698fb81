package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/astrolight/internal/catalog"
	"github.com/banshee-data/astrolight/internal/plasticc"
	"github.com/banshee-data/astrolight/internal/ztf"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

// maxFileSize bounds configuration files.
const maxFileSize = 1 * 1024 * 1024

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// PipelineConfig is the pipeline configuration file. Every field is
// optional; the Get* methods fall back to the built-in defaults.
type PipelineConfig struct {
	// PLAsTiCC conversion
	Classes         map[int]int    `json:"classes,omitempty" yaml:"classes,omitempty"`
	Bands           map[int]string `json:"bands,omitempty" yaml:"bands,omitempty"`
	TriggerPolicy   *string        `json:"trigger_policy,omitempty" yaml:"trigger_policy,omitempty"`
	SampleFraction  *float64       `json:"sample_fraction,omitempty" yaml:"sample_fraction,omitempty"`
	Seed            *uint64        `json:"seed,omitempty" yaml:"seed,omitempty"`
	SkipEmptyCurves *bool          `json:"skip_empty_curves,omitempty" yaml:"skip_empty_curves,omitempty"`

	// ZTF ingestion
	SentinelEnabled *bool          `json:"sentinel_enabled,omitempty" yaml:"sentinel_enabled,omitempty"`
	SentinelMJD     *float64       `json:"sentinel_mjd,omitempty" yaml:"sentinel_mjd,omitempty"`
	ZTFBands        map[string]int `json:"ztf_bands,omitempty" yaml:"ztf_bands,omitempty"`
	Workers         *int           `json:"workers,omitempty" yaml:"workers,omitempty"`
	FailFast        *bool          `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty"`

	// Classifier
	ClassifierAddr *string `json:"classifier_addr,omitempty" yaml:"classifier_addr,omitempty"`
	ModelPath      *string `json:"model_path,omitempty" yaml:"model_path,omitempty"`
	SaveDir        *string `json:"save_dir,omitempty" yaml:"save_dir,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields unset.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultPipelineConfig returns a config with every field set to its default.
func DefaultPipelineConfig() *PipelineConfig {
	seed := uint64(0)
	return &PipelineConfig{
		Classes:         catalog.DefaultClassMap(),
		Bands:           catalog.DefaultBandMap(),
		TriggerPolicy:   ptrString(plasticc.TriggerCorrected.String()),
		SampleFraction:  ptrFloat64(1),
		Seed:            &seed,
		SkipEmptyCurves: ptrBool(false),
		SentinelEnabled: ptrBool(true),
		SentinelMJD:     ptrFloat64(ztf.DefaultSentinelMJD),
		ZTFBands:        ztf.DefaultBands(),
		Workers:         ptrInt(0),
		FailFast:        ptrBool(false),
		ClassifierAddr:  ptrString("localhost:50061"),
		ModelPath:       ptrString(""),
		SaveDir:         ptrString("models"),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a .json, .yaml or .yml
// file. Fields omitted from the file keep their defaults.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file cannot
// be loaded, intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if c.Classes != nil {
		seen := make(map[int]int, len(c.Classes))
		for _, k := range catalog.ClassMap(c.Classes).Keys() {
			v := c.Classes[k]
			if v < 1 {
				return fmt.Errorf("%w: class %d maps to %d, targets start at 1", ErrInvalidConfig, k, v)
			}
			if prev, dup := seen[v]; dup {
				return fmt.Errorf("%w: classes %d and %d both map to %d", ErrInvalidConfig, prev, k, v)
			}
			seen[v] = k
		}
	}

	if c.Bands != nil {
		seen := make(map[string]int, len(c.Bands))
		for _, k := range catalog.BandMap(c.Bands).Keys() {
			label := c.Bands[k]
			if label == "" {
				return fmt.Errorf("%w: band %d has an empty label", ErrInvalidConfig, k)
			}
			if prev, dup := seen[label]; dup {
				return fmt.Errorf("%w: bands %d and %d are both labelled %q", ErrInvalidConfig, prev, k, label)
			}
			seen[label] = k
		}
	}

	if c.TriggerPolicy != nil {
		if _, err := plasticc.ParseTriggerPolicy(*c.TriggerPolicy); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	if c.SampleFraction != nil {
		f := *c.SampleFraction
		if math.IsNaN(f) || f < 0 || f > 1 {
			return fmt.Errorf("%w: sample_fraction must be between 0 and 1, got %f", ErrInvalidConfig, f)
		}
	}

	if c.SentinelMJD != nil && (math.IsNaN(*c.SentinelMJD) || math.IsInf(*c.SentinelMJD, 0)) {
		return fmt.Errorf("%w: sentinel_mjd must be finite", ErrInvalidConfig)
	}

	for code := range c.ZTFBands {
		if code == "" {
			return fmt.Errorf("%w: ztf_bands has an empty filter code", ErrInvalidConfig)
		}
	}

	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative, got %d", ErrInvalidConfig, *c.Workers)
	}

	return nil
}

// GetClassMap returns a copy of the class map or the default.
func (c *PipelineConfig) GetClassMap() catalog.ClassMap {
	if c.Classes == nil {
		return catalog.DefaultClassMap()
	}
	return catalog.ClassMap(c.Classes).Clone()
}

// GetBandMap returns a copy of the band map or the default.
func (c *PipelineConfig) GetBandMap() catalog.BandMap {
	if c.Bands == nil {
		return catalog.DefaultBandMap()
	}
	return catalog.BandMap(c.Bands).Clone()
}

// GetTriggerPolicy returns the trigger policy or the default. An unparsable
// name falls back to the default; Validate reports it.
func (c *PipelineConfig) GetTriggerPolicy() plasticc.TriggerPolicy {
	if c.TriggerPolicy == nil {
		return plasticc.TriggerCorrected
	}
	p, err := plasticc.ParseTriggerPolicy(*c.TriggerPolicy)
	if err != nil {
		return plasticc.TriggerCorrected
	}
	return p
}

// GetSampleFraction returns the sample_fraction value or the default.
func (c *PipelineConfig) GetSampleFraction() float64 {
	if c.SampleFraction == nil {
		return 1
	}
	return *c.SampleFraction
}

// GetSeed returns the seed value or the default.
func (c *PipelineConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}

// GetSkipEmptyCurves returns the skip_empty_curves value or the default.
func (c *PipelineConfig) GetSkipEmptyCurves() bool {
	if c.SkipEmptyCurves == nil {
		return false
	}
	return *c.SkipEmptyCurves
}

// GetSentinel returns the separator row filter, enabled at -777 by default.
func (c *PipelineConfig) GetSentinel() ztf.Sentinel {
	s := ztf.Sentinel{Enabled: true, MJD: ztf.DefaultSentinelMJD}
	if c.SentinelEnabled != nil {
		s.Enabled = *c.SentinelEnabled
	}
	if c.SentinelMJD != nil {
		s.MJD = *c.SentinelMJD
	}
	return s
}

// GetZTFBands returns a copy of the ZTF filter code map or the default.
func (c *PipelineConfig) GetZTFBands() map[string]int {
	if c.ZTFBands == nil {
		return ztf.DefaultBands()
	}
	out := make(map[string]int, len(c.ZTFBands))
	for k, v := range c.ZTFBands {
		out[k] = v
	}
	return out
}

// GetWorkers returns the workers value or the default of 0, one per CPU.
func (c *PipelineConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetFailFast returns the fail_fast value or the default.
func (c *PipelineConfig) GetFailFast() bool {
	if c.FailFast == nil {
		return false
	}
	return *c.FailFast
}

// GetClassifierAddr returns the classifier service address or the default.
func (c *PipelineConfig) GetClassifierAddr() string {
	if c.ClassifierAddr == nil {
		return "localhost:50061"
	}
	return *c.ClassifierAddr
}

// GetModelPath returns the model path; empty means the bundled model.
func (c *PipelineConfig) GetModelPath() string {
	if c.ModelPath == nil {
		return ""
	}
	return *c.ModelPath
}

// GetSaveDir returns the directory trained models are saved to.
func (c *PipelineConfig) GetSaveDir() string {
	if c.SaveDir == nil {
		return "models"
	}
	return *c.SaveDir
}

// PlasticcOptions assembles the conversion options.
func (c *PipelineConfig) PlasticcOptions() plasticc.Options {
	return plasticc.Options{
		Classes:         c.GetClassMap(),
		Bands:           c.GetBandMap(),
		Trigger:         c.GetTriggerPolicy(),
		SampleFraction:  c.GetSampleFraction(),
		Seed:            c.GetSeed(),
		SkipEmptyCurves: c.GetSkipEmptyCurves(),
	}
}

// ZTFOptions assembles the ingestion options.
func (c *PipelineConfig) ZTFOptions() ztf.LoadOptions {
	opts := ztf.LoadOptions{
		Options:  ztf.DefaultOptions(),
		Workers:  c.GetWorkers(),
		FailFast: c.GetFailFast(),
	}
	opts.Sentinel = c.GetSentinel()
	opts.Bands = c.GetZTFBands()
	return opts
}
