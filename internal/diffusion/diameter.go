package diffusion

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/nanotrack/internal/units"
)

var (
	// ErrNonPositiveDiffusion is returned when a diameter is requested for
	// D ≤ 0 (or a non-finite D), where Stokes–Einstein has no solution.
	ErrNonPositiveDiffusion = errors.New("diffusion: diffusion coefficient must be > 0")
	// ErrDiameterOutOfRange is returned when D is positive but so small
	// that the diameter overflows float64.
	ErrDiameterOutOfRange = errors.New("diffusion: diameter out of range")
	// ErrInvalidPhysics is returned for non-positive temperature or viscosity.
	ErrInvalidPhysics = errors.New("diffusion: invalid physical parameters")
)

// Physics describes the medium the particles diffuse in.
type Physics struct {
	TemperatureK float64
	ViscosityPaS float64 // dynamic viscosity
}

// DefaultPhysics is water at 22 °C.
func DefaultPhysics() Physics {
	return Physics{
		TemperatureK: units.CelsiusToKelvin(22),
		ViscosityPaS: units.MilliPascalSecondsToPascalSeconds(0.9548),
	}
}

// Validate rejects non-positive temperature or viscosity.
func (p Physics) Validate() error {
	if !(p.TemperatureK > 0) || !(p.ViscosityPaS > 0) {
		return fmt.Errorf("%w: temperature %v K, viscosity %v Pa·s", ErrInvalidPhysics, p.TemperatureK, p.ViscosityPaS)
	}
	return nil
}

// DiameterNm returns the hydrodynamic diameter in nm from a diffusion
// coefficient in µm²/s using the Stokes–Einstein relation
// d = k_B·T / (3π·η·D).
func (p Physics) DiameterNm(dMicron2PerSec float64) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if !(dMicron2PerSec > 0) || math.IsInf(dMicron2PerSec, 0) {
		return 0, fmt.Errorf("%w: got %v", ErrNonPositiveDiffusion, dMicron2PerSec)
	}
	dM2 := dMicron2PerSec * 1e-12
	nm := units.BoltzmannJPerK * p.TemperatureK / (3 * math.Pi * p.ViscosityPaS * dM2) * 1e9
	if math.IsInf(nm, 0) || math.IsNaN(nm) {
		return 0, fmt.Errorf("%w: D = %v µm²/s", ErrDiameterOutOfRange, dMicron2PerSec)
	}
	return nm, nil
}

// DiffusionForDiameter is the inverse of DiameterNm, used to generate
// reference data.
func (p Physics) DiffusionForDiameter(diameterNm float64) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if !(diameterNm > 0) {
		return 0, fmt.Errorf("%w: diameter %v nm", ErrInvalidPhysics, diameterNm)
	}
	dM2 := units.BoltzmannJPerK * p.TemperatureK / (3 * math.Pi * p.ViscosityPaS * diameterNm * 1e-9)
	return dM2 * 1e12, nil
}
