// Package config loads and validates the radscribe configuration file.
package config

import (
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration for a pipeline run.
type Config struct {
	ScratchDir string         `yaml:"scratch_dir"`
	Dicom      DicomConfig    `yaml:"dicom"`
	PHI        PHIConfig      `yaml:"phi"`
	Matching   MatchingConfig `yaml:"matching"`
	LLM        LLMConfig      `yaml:"llm"`
	Prompt     PromptConfig   `yaml:"prompt"`
}

// DicomConfig controls image normalization.
type DicomConfig struct {
	TargetWidth    int  `yaml:"target_width"`
	TargetHeight   int  `yaml:"target_height"`
	JPEGQuality    int  `yaml:"jpeg_quality"`
	PreserveAspect bool `yaml:"preserve_aspect"`
	Workers        int  `yaml:"workers"` // 0 = NumCPU
}

// PHIConfig controls the de-identification stage.
type PHIConfig struct {
	Method              string   `yaml:"method"` // crop, ocr, hybrid
	CropFraction        float64  `yaml:"crop_fraction"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	HybridMinRegions    int      `yaml:"hybrid_min_regions"`
	OCRLanguages        []string `yaml:"ocr_languages"`
}

// MatchingConfig controls template selection.
type MatchingConfig struct {
	FuzzyThreshold  float64 `yaml:"fuzzy_threshold"`
	TieBreak        string  `yaml:"tie_break"` // first, last
	DefaultTemplate string  `yaml:"default_template"`
}

// LLMConfig controls the model client.
type LLMConfig struct {
	BaseURL             string  `yaml:"base_url"`
	Model               string  `yaml:"model"`
	APIKey              string  `yaml:"api_key"` // normally resolved from env
	MaxTokens           int     `yaml:"max_tokens"`
	Temperature         float64 `yaml:"temperature"`
	TimeoutSeconds      int     `yaml:"timeout_seconds"`
	MaxAttempts         int     `yaml:"max_attempts"`
	RetryDelaySeconds   int     `yaml:"retry_delay_seconds"`
	ExponentialBackoff  bool    `yaml:"exponential_backoff"`
	MaxImagesPerRequest int     `yaml:"max_images_per_request"`
}

// PromptConfig controls prompt assembly.
type PromptConfig struct {
	IncludeFewShot bool `yaml:"include_few_shot"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		ScratchDir: os.TempDir(),
		Dicom: DicomConfig{
			TargetWidth:    1024,
			TargetHeight:   768,
			JPEGQuality:    95,
			PreserveAspect: true,
			Workers:        runtime.NumCPU(),
		},
		PHI: PHIConfig{
			Method:              "hybrid",
			CropFraction:        0.07,
			ConfidenceThreshold: 0.6,
			HybridMinRegions:    3,
			OCRLanguages:        []string{"eng"},
		},
		Matching: MatchingConfig{
			FuzzyThreshold:  0.7,
			TieBreak:        "first",
			DefaultTemplate: "ULTRASOUND OF BOTH BREASTS",
		},
		LLM: LLMConfig{
			BaseURL:             "https://openrouter.ai/api/v1",
			Model:               "google/gemini-2.5-pro",
			MaxTokens:           4000,
			Temperature:         0.3,
			TimeoutSeconds:      120,
			MaxAttempts:         3,
			RetryDelaySeconds:   2,
			ExponentialBackoff:  true,
			MaxImagesPerRequest: 10,
		},
		Prompt: PromptConfig{
			IncludeFewShot: true,
		},
	}
}

// Load reads a YAML config file, fills in defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ScratchDir == "" {
		c.ScratchDir = os.TempDir()
	}
	if c.Dicom.Workers <= 0 {
		c.Dicom.Workers = runtime.NumCPU()
	}
	if len(c.PHI.OCRLanguages) == 0 {
		c.PHI.OCRLanguages = []string{"eng"}
	}
	if c.Matching.TieBreak == "" {
		c.Matching.TieBreak = "first"
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.PHI.Method {
	case "crop", "ocr", "hybrid":
	default:
		return fmt.Errorf("invalid phi.method %q (valid: crop, ocr, hybrid)", c.PHI.Method)
	}
	if c.PHI.CropFraction <= 0 || c.PHI.CropFraction >= 1 {
		return fmt.Errorf("phi.crop_fraction must be in (0,1), got %v", c.PHI.CropFraction)
	}
	if c.PHI.ConfidenceThreshold < 0 || c.PHI.ConfidenceThreshold > 1 {
		return fmt.Errorf("phi.confidence_threshold must be in [0,1], got %v", c.PHI.ConfidenceThreshold)
	}
	if c.Matching.FuzzyThreshold < 0 || c.Matching.FuzzyThreshold > 1 {
		return fmt.Errorf("matching.fuzzy_threshold must be in [0,1], got %v", c.Matching.FuzzyThreshold)
	}
	switch c.Matching.TieBreak {
	case "first", "last":
	default:
		return fmt.Errorf("invalid matching.tie_break %q (valid: first, last)", c.Matching.TieBreak)
	}
	if c.Matching.DefaultTemplate == "" {
		return fmt.Errorf("matching.default_template is required")
	}
	if c.Dicom.TargetWidth <= 0 || c.Dicom.TargetHeight <= 0 {
		return fmt.Errorf("dicom target resolution must be positive, got %dx%d", c.Dicom.TargetWidth, c.Dicom.TargetHeight)
	}
	if c.Dicom.JPEGQuality < 1 || c.Dicom.JPEGQuality > 100 {
		return fmt.Errorf("dicom.jpeg_quality must be in [1,100], got %d", c.Dicom.JPEGQuality)
	}
	if c.LLM.MaxAttempts < 1 {
		return fmt.Errorf("llm.max_attempts must be >= 1, got %d", c.LLM.MaxAttempts)
	}
	if c.LLM.MaxImagesPerRequest < 1 {
		return fmt.Errorf("llm.max_images_per_request must be >= 1, got %d", c.LLM.MaxImagesPerRequest)
	}
	return nil
}

// ResolveAPIKey returns the model API key, preferring the OPENROUTER_API_KEY
// environment variable over the config file. A .env file in the working
// directory is loaded first if present.
func (c *Config) ResolveAPIKey() string {
	_ = godotenv.Load()
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		return key
	}
	return c.LLM.APIKey
}
