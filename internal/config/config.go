// Package config loads nbscore settings from defaults, an optional JSON5 file,
// a .env file and NB_* environment variables, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"
)

// Code-point modes for text input.
const (
	CodepointPlain      = "plain"
	CodepointLangPrefix = "lang-prefix"
)

// Config holds every tunable. JSON names match the config.json keys.
type Config struct {
	DataDir                 string  `json:"dataDir"`
	Addr                    string  `json:"addr"`
	BitDefaultValue         float64 `json:"bitDefaultValue"`
	DecimalPlaces           int     `json:"decimalPlaces"`
	CalculationCountForText int     `json:"calculationCountForText"`
	LatestCap               int     `json:"latestCap"`
	CodepointMode           string  `json:"codepointMode"`
	KeyScheme               string  `json:"keyScheme"`
	KeyDepth                int     `json:"keyDepth"`
	RateLimitRPM            int     `json:"rateLimitRPM"`
	RateLimitBurst          int     `json:"rateLimitBurst"`

	// Path is the file the config was read from; empty when none was found.
	Path string `json:"-"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		DataDir:                 "data",
		Addr:                    ":3000",
		BitDefaultValue:         5.5,
		DecimalPlaces:           10,
		CalculationCountForText: 1,
		LatestCap:               100,
		CodepointMode:           CodepointPlain,
		KeyScheme:               "char",
		KeyDepth:                4,
		RateLimitRPM:            120,
		RateLimitBurst:          20,
	}
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; variables already set are not overwritten.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
}

// Load builds a Config from defaults, the JSON5 file at path (if it exists)
// and NB_* environment overrides, then validates it. An empty path uses
// $NB_CONFIG, falling back to "config.json".
//
// Expectations:
//   - A missing file is not an error; defaults and env still apply
//   - A malformed file returns a wrapped error
//   - Env overrides win over file values
//   - The result always passes Validate
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("NB_CONFIG")
	}
	if path == "" {
		path = "config.json"
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if abs, err := filepath.Abs(path); err == nil {
			cfg.Path = abs
		} else {
			cfg.Path = path
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first setting out of range.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("dataDir must not be empty")
	}
	if math.IsNaN(c.BitDefaultValue) || math.IsInf(c.BitDefaultValue, 0) || c.BitDefaultValue == 0 {
		return fmt.Errorf("bitDefaultValue must be finite and non-zero")
	}
	if c.DecimalPlaces < 0 || c.DecimalPlaces > 17 {
		return fmt.Errorf("decimalPlaces must be in [0,17]")
	}
	if c.CalculationCountForText < 1 {
		return fmt.Errorf("calculationCountForText must be >= 1")
	}
	if c.LatestCap < 1 {
		return fmt.Errorf("latestCap must be >= 1")
	}
	if c.CodepointMode != CodepointPlain && c.CodepointMode != CodepointLangPrefix {
		return fmt.Errorf("codepointMode must be %q or %q", CodepointPlain, CodepointLangPrefix)
	}
	if c.KeyScheme != "char" && c.KeyScheme != "hash" {
		return fmt.Errorf("keyScheme must be \"char\" or \"hash\"")
	}
	if c.KeyDepth < 1 || c.KeyDepth > 64 {
		return fmt.Errorf("keyDepth must be in [1,64]")
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("rateLimitRPM must be >= 0")
	}
	if c.RateLimitBurst < 0 {
		return fmt.Errorf("rateLimitBurst must be >= 0")
	}
	return nil
}

// Format renders v with the configured number of decimal places.
func (c Config) Format(v float64) string {
	return strconv.FormatFloat(v, 'f', c.DecimalPlaces, 64)
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("NB_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("NB_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("NB_CODEPOINT_MODE"); v != "" {
		c.CodepointMode = v
	}
	if v := os.Getenv("NB_KEY_SCHEME"); v != "" {
		c.KeyScheme = v
	}
	if v := os.Getenv("NB_DEFAULT_BIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: NB_DEFAULT_BIT: %w", err)
		}
		c.BitDefaultValue = f
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{"NB_DECIMAL_PLACES", &c.DecimalPlaces},
		{"NB_TEXT_RUNS", &c.CalculationCountForText},
		{"NB_LATEST_CAP", &c.LatestCap},
		{"NB_KEY_DEPTH", &c.KeyDepth},
		{"NB_RATE_RPM", &c.RateLimitRPM},
		{"NB_RATE_BURST", &c.RateLimitBurst},
	}
	for _, e := range ints {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", e.name, err)
		}
		*e.dst = n
	}
	return nil
}
