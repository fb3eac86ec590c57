package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical calibration defaults file.
const DefaultConfigPath = "config/calib.defaults.json"

// DefaultTDCGain is the TDC gain in ns/channel used when a time calibration
// does not configure one.
const DefaultTDCGain = 0.11771

// ErrMissingKey is returned by the Require* lookups when a key is absent or
// has the wrong shape.
var ErrMissingKey = errors.New("configuration key not found")

// Config is a flat, string-keyed configuration. Keys follow the dotted
// convention of the calibration suite, e.g. "CB.Time.Histo.Fit.Name" or
// "CB.QuadEnergy.Pi0.Prompt.Range". Values are strings, numbers, or lists of
// numbers; a range is a two element list.
type Config struct {
	values map[string]interface{}
}

// New returns a Config backed by a copy of values.
func New(values map[string]interface{}) *Config {
	c := &Config{values: make(map[string]interface{}, len(values))}
	for k, v := range values {
		c.values[k] = v
	}
	return c
}

// Load reads a Config from a .json, .yaml or .yml file.
// The file is validated to ensure it has a known extension and is under the
// max file size.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	values := make(map[string]interface{})
	if ext == ".json" {
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	cfg := &Config{values: values}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the calibration defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Merge overlays other on top of c and returns c.
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}
	for k, v := range other.values {
		c.values[k] = v
	}
	return c
}

// Validate checks that every "*.Range" key holds an ordered numeric pair.
func (c *Config) Validate() error {
	for _, key := range c.Keys() {
		if !strings.HasSuffix(key, ".Range") {
			continue
		}
		lo, hi, ok := c.Range(key)
		if !ok {
			return fmt.Errorf("%s must be a pair of numbers, got %v", key, c.values[key])
		}
		if lo > hi {
			return fmt.Errorf("%s must be ordered, got [%g, %g]", key, lo, hi)
		}
	}
	for _, key := range c.Keys() {
		if !strings.HasSuffix(key, ".Delay") && !strings.HasSuffix(key, ".Timeout") {
			continue
		}
		s, ok := c.String(key)
		if !ok {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", key, s, err)
		}
	}
	return nil
}

// Keys returns all keys in sorted order.
func (c *Config) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is present.
func (c *Config) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Set stores a value.
func (c *Config) Set(key string, value interface{}) {
	c.values[key] = value
}

// String returns the value of key as a string. Numbers are formatted.
func (c *Config) String(key string) (string, bool) {
	v, ok := c.values[key]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	default:
		return "", false
	}
}

// Float returns the value of key as a float64. Numeric strings are accepted.
func (c *Config) Float(key string) (float64, bool) {
	v, ok := c.values[key]
	if !ok {
		return 0, false
	}
	return toFloat64(v)
}

// Int returns the value of key as an int.
func (c *Config) Int(key string) (int, bool) {
	f, ok := c.Float(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Floats returns the value of key as a list of float64.
func (c *Config) Floats(key string) ([]float64, bool) {
	v, ok := c.values[key]
	if !ok {
		return nil, false
	}
	switch vv := v.(type) {
	case []float64:
		return append([]float64(nil), vv...), true
	case []interface{}:
		out := make([]float64, 0, len(vv))
		for _, item := range vv {
			f, ok := toFloat64(item)
			if !ok {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	case string:
		// "a b" or "a,b" as written by the legacy configuration files
		fields := strings.FieldsFunc(vv, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' })
		out := make([]float64, 0, len(fields))
		for _, f := range fields {
			x, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, false
			}
			out = append(out, x)
		}
		return out, true
	default:
		return nil, false
	}
}

// Ints returns the value of key as a list of int.
func (c *Config) Ints(key string) ([]int, bool) {
	fs, ok := c.Floats(key)
	if !ok {
		return nil, false
	}
	out := make([]int, len(fs))
	for i, f := range fs {
		out[i] = int(f)
	}
	return out, true
}

// Range returns the two values of a range key.
func (c *Config) Range(key string) (lo, hi float64, ok bool) {
	fs, ok := c.Floats(key)
	if !ok || len(fs) != 2 {
		return 0, 0, false
	}
	return fs[0], fs[1], true
}

// RequireString returns the string value of key or an error wrapping ErrMissingKey.
func (c *Config) RequireString(key string) (string, error) {
	s, ok := c.String(key)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingKey, key)
	}
	return s, nil
}

// RequireRange returns the range value of key or an error wrapping ErrMissingKey.
func (c *Config) RequireRange(key string) (lo, hi float64, err error) {
	lo, hi, ok := c.Range(key)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrMissingKey, key)
	}
	return lo, hi, nil
}

// RequireInt returns the integer value of key or an error wrapping ErrMissingKey.
func (c *Config) RequireInt(key string) (int, error) {
	n, ok := c.Int(key)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingKey, key)
	}
	return n, nil
}

// GetTDCGain returns "<prefix>.TDCGain" or DefaultTDCGain.
func (c *Config) GetTDCGain(prefix string) float64 {
	if g, ok := c.Float(prefix + ".TDCGain"); ok && g != 0 {
		return g
	}
	return DefaultTDCGain
}

// GetElements returns "<prefix>.Elements" or def.
func (c *Config) GetElements(prefix string, def int) int {
	if n, ok := c.Int(prefix + ".Elements"); ok && n > 0 {
		return n
	}
	return def
}

// GetDataDir returns the directory holding per-run histogram files.
func (c *Config) GetDataDir() string {
	if s, ok := c.String("File.Input.Directory"); ok && s != "" {
		return s
	}
	return "."
}

// GetFilePattern returns the fmt pattern that maps a run number to a file name.
func (c *Config) GetFilePattern() string {
	if s, ok := c.String("File.Input.Pattern"); ok && s != "" {
		return s
	}
	return "ARHistograms_%d.root"
}

// GetReviewDelay returns "<prefix>.Review.Delay" as a duration, 0 when unset.
func (c *Config) GetReviewDelay(prefix string) time.Duration {
	s, ok := c.String(prefix + ".Review.Delay")
	if !ok || s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0 // default on parse error
	}
	return d
}

// GetHoles returns the CB hole element list from "CB.Holes".
func (c *Config) GetHoles() []int {
	holes, _ := c.Ints("CB.Holes")
	return holes
}

// toFloat64 converts a single decoded value to float64.
func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
