package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/nanotrack/internal/diffusion"
	"github.com/banshee-data/nanotrack/internal/tracks"
	"github.com/banshee-data/nanotrack/internal/units"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/nanotrack.defaults.json"

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// TuningConfig is the flat JSON configuration for an analysis run. Every
// field is optional; the Get* accessors supply defaults for nil fields.
type TuningConfig struct {
	// Tracking
	SearchRadius    *float64 `json:"search_radius,omitempty"` // px
	UseSpatialIndex *bool    `json:"use_spatial_index,omitempty"`
	AmbiguityPolicy *string  `json:"ambiguity_policy,omitempty"`

	// Reporting filters
	MinTrackLength    *int     `json:"min_track_length,omitempty"`
	MinMovingDistance *float64 `json:"min_moving_distance,omitempty"` // px
	HueMin            *float64 `json:"hue_min,omitempty"`
	HueMax            *float64 `json:"hue_max,omitempty"`

	// Camera
	FrameRate  *float64 `json:"frame_rate,omitempty"`   // fps
	NmPerPixel *float64 `json:"nm_per_pixel,omitempty"` // calibration
	ExposureMs *float64 `json:"exposure_ms,omitempty"`  // overrides motion_blur when set
	MotionBlur *float64 `json:"motion_blur,omitempty"`  // R in [0, 1/6]

	// Medium
	TemperatureCelsius *float64 `json:"temperature_celsius,omitempty"`
	ViscosityMPas      *float64 `json:"viscosity_mpas,omitempty"`

	// Estimation
	Estimator    *string `json:"estimator,omitempty"`
	MinLag       *int    `json:"min_lag,omitempty"`
	MaxLag       *int    `json:"max_lag,omitempty"`
	CorrectDrift *bool   `json:"correct_drift,omitempty"`
	Workers      *int    `json:"workers,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a config with every field set to its default.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		SearchRadius:       ptrFloat64(15),
		UseSpatialIndex:    ptrBool(false),
		AmbiguityPolicy:    ptrString(string(tracks.AmbiguityStartNew)),
		MinTrackLength:     ptrInt(10),
		MinMovingDistance:  ptrFloat64(5),
		FrameRate:          ptrFloat64(30),
		NmPerPixel:         ptrFloat64(166),
		MotionBlur:         ptrFloat64(diffusion.DefaultMotionBlur),
		TemperatureCelsius: ptrFloat64(22),
		ViscosityMPas:      ptrFloat64(0.9548),
		Estimator:          ptrString(string(diffusion.KindCovariance)),
		MinLag:             ptrInt(1),
		MaxLag:             ptrInt(2),
		CorrectDrift:       ptrBool(true),
		Workers:            ptrInt(0),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

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

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching from the current
// directory up towards the repository root. Panics if the file cannot be
// loaded; intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/nanotrack/...
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks the fields that are set. Unset fields always validate
// because their defaults are valid.
func (c *TuningConfig) Validate() error {
	if c.SearchRadius != nil && !(*c.SearchRadius > 0) {
		return invalid("search_radius must be > 0, got %v", *c.SearchRadius)
	}
	if c.AmbiguityPolicy != nil {
		switch tracks.AmbiguityPolicy(*c.AmbiguityPolicy) {
		case tracks.AmbiguityStartNew, tracks.AmbiguityDrop:
		default:
			return invalid("ambiguity_policy must be %q or %q, got %q", tracks.AmbiguityStartNew, tracks.AmbiguityDrop, *c.AmbiguityPolicy)
		}
	}
	if c.MinTrackLength != nil && *c.MinTrackLength < 1 {
		return invalid("min_track_length must be >= 1, got %d", *c.MinTrackLength)
	}
	if c.MinMovingDistance != nil && *c.MinMovingDistance < 0 {
		return invalid("min_moving_distance must be non-negative, got %v", *c.MinMovingDistance)
	}
	if c.FrameRate != nil && !(*c.FrameRate > 0) {
		return invalid("frame_rate must be > 0, got %v", *c.FrameRate)
	}
	if c.NmPerPixel != nil && !(*c.NmPerPixel > 0) {
		return invalid("nm_per_pixel must be > 0, got %v", *c.NmPerPixel)
	}
	if c.ExposureMs != nil {
		if *c.ExposureMs < 0 {
			return invalid("exposure_ms must be non-negative, got %v", *c.ExposureMs)
		}
		if *c.ExposureMs > 1000/c.GetFrameRate() {
			return invalid("exposure_ms %v exceeds the frame interval %v ms", *c.ExposureMs, 1000/c.GetFrameRate())
		}
	}
	if c.MotionBlur != nil && (*c.MotionBlur < 0 || *c.MotionBlur > diffusion.DefaultMotionBlur) {
		return invalid("motion_blur must be in [0, 1/6], got %v", *c.MotionBlur)
	}
	if c.TemperatureCelsius != nil && !(units.CelsiusToKelvin(*c.TemperatureCelsius) > 0) {
		return invalid("temperature_celsius must be above absolute zero, got %v", *c.TemperatureCelsius)
	}
	if c.ViscosityMPas != nil && !(*c.ViscosityMPas > 0) {
		return invalid("viscosity_mpas must be > 0, got %v", *c.ViscosityMPas)
	}
	if c.Estimator != nil {
		switch diffusion.Kind(*c.Estimator) {
		case diffusion.KindRegression, diffusion.KindCovariance, diffusion.KindKalman:
		default:
			return invalid("unknown estimator %q", *c.Estimator)
		}
	}
	if minLag, maxLag := c.GetMinLag(), c.GetMaxLag(); minLag < 1 || maxLag < minLag {
		return invalid("lag range [%d, %d] must satisfy 1 <= min_lag <= max_lag", minLag, maxLag)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return invalid("workers must be non-negative, got %d", *c.Workers)
	}
	if lo, hi, ok := c.HueWindow(); ok && lo >= hi {
		return invalid("hue window (%v, %v) is empty", lo, hi)
	}
	return nil
}

// GetSearchRadius returns the search_radius value or the default.
func (c *TuningConfig) GetSearchRadius() float64 {
	if c.SearchRadius == nil {
		return 15
	}
	return *c.SearchRadius
}

// GetUseSpatialIndex returns the use_spatial_index value or the default.
func (c *TuningConfig) GetUseSpatialIndex() bool {
	if c.UseSpatialIndex == nil {
		return false
	}
	return *c.UseSpatialIndex
}

// GetAmbiguityPolicy returns the ambiguity_policy value or the default.
func (c *TuningConfig) GetAmbiguityPolicy() tracks.AmbiguityPolicy {
	if c.AmbiguityPolicy == nil || *c.AmbiguityPolicy == "" {
		return tracks.AmbiguityStartNew
	}
	return tracks.AmbiguityPolicy(*c.AmbiguityPolicy)
}

// GetMinTrackLength returns the min_track_length value or the default.
func (c *TuningConfig) GetMinTrackLength() int {
	if c.MinTrackLength == nil {
		return 10
	}
	return *c.MinTrackLength
}

// GetMinMovingDistance returns the min_moving_distance value or the default.
func (c *TuningConfig) GetMinMovingDistance() float64 {
	if c.MinMovingDistance == nil {
		return 5
	}
	return *c.MinMovingDistance
}

// HueWindow returns the open hue interval when both bounds are set.
func (c *TuningConfig) HueWindow() (lo, hi float64, ok bool) {
	if c.HueMin == nil || c.HueMax == nil {
		return 0, 0, false
	}
	return *c.HueMin, *c.HueMax, true
}

// GetFrameRate returns the frame_rate value or the default.
func (c *TuningConfig) GetFrameRate() float64 {
	if c.FrameRate == nil {
		return 30
	}
	return *c.FrameRate
}

// GetNmPerPixel returns the nm_per_pixel value or the default.
func (c *TuningConfig) GetNmPerPixel() float64 {
	if c.NmPerPixel == nil {
		return 166
	}
	return *c.NmPerPixel
}

// GetMotionBlur returns R, derived from exposure_ms when that is set.
func (c *TuningConfig) GetMotionBlur() float64 {
	if c.ExposureMs != nil {
		return math.Min(units.MotionBlurFromExposure(*c.ExposureMs, c.GetFrameRate()), diffusion.DefaultMotionBlur)
	}
	if c.MotionBlur == nil {
		return diffusion.DefaultMotionBlur
	}
	return *c.MotionBlur
}

// GetTemperatureCelsius returns the temperature_celsius value or the default.
func (c *TuningConfig) GetTemperatureCelsius() float64 {
	if c.TemperatureCelsius == nil {
		return 22
	}
	return *c.TemperatureCelsius
}

// GetViscosityMPas returns the viscosity_mpas value or the default.
func (c *TuningConfig) GetViscosityMPas() float64 {
	if c.ViscosityMPas == nil {
		return 0.9548
	}
	return *c.ViscosityMPas
}

// GetEstimator returns the estimator value or the default.
func (c *TuningConfig) GetEstimator() diffusion.Kind {
	if c.Estimator == nil || *c.Estimator == "" {
		return diffusion.KindCovariance
	}
	return diffusion.Kind(*c.Estimator)
}

// GetMinLag returns the min_lag value or the default.
func (c *TuningConfig) GetMinLag() int {
	if c.MinLag == nil {
		return 1
	}
	return *c.MinLag
}

// GetMaxLag returns the max_lag value or the default.
func (c *TuningConfig) GetMaxLag() int {
	if c.MaxLag == nil {
		return 2
	}
	return *c.MaxLag
}

// GetCorrectDrift returns the correct_drift value or the default.
func (c *TuningConfig) GetCorrectDrift() bool {
	if c.CorrectDrift == nil {
		return true
	}
	return *c.CorrectDrift
}

// GetWorkers returns the workers value or the default (0, one per CPU).
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// TrackerConfig builds the association settings.
func (c *TuningConfig) TrackerConfig() tracks.TrackerConfig {
	return tracks.TrackerConfig{
		SearchRadius:    c.GetSearchRadius(),
		Policy:          c.GetAmbiguityPolicy(),
		UseSpatialIndex: c.GetUseSpatialIndex(),
	}
}

// EstimatorConfig builds the diffusion estimator settings for kind, which
// overrides the configured estimator when non-empty.
func (c *TuningConfig) EstimatorConfig(kind diffusion.Kind) diffusion.Config {
	if kind == "" {
		kind = c.GetEstimator()
	}
	return diffusion.Config{
		Kind:       kind,
		FrameRate:  c.GetFrameRate(),
		MinLag:     c.GetMinLag(),
		MaxLag:     c.GetMaxLag(),
		MotionBlur: c.GetMotionBlur(),
	}
}

// Physics returns the medium parameters in SI units.
func (c *TuningConfig) Physics() diffusion.Physics {
	return diffusion.Physics{
		TemperatureK: units.CelsiusToKelvin(c.GetTemperatureCelsius()),
		ViscosityPaS: units.MilliPascalSecondsToPascalSeconds(c.GetViscosityMPas()),
	}
}
