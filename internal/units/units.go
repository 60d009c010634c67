// Package units provides physical constants, unit names and conversions for
// diffusion coefficients and particle sizes.
package units

// Diffusion coefficient unit names accepted for reporting.
const (
	Micron2PerSec = "um2/s"   // µm²/s, the internal physical unit
	CM2E10PerSec  = "1e-10cm2/s"
	M2PerSec      = "m2/s"
)

// ValidUnits contains all valid diffusion unit values
var ValidUnits = []string{Micron2PerSec, CM2E10PerSec, M2PerSec}

// Physical constants.
const (
	BoltzmannJPerK = 1.380649e-23 // J/K, exact since the 2019 SI redefinition
	ZeroCelsiusK   = 273.15
)

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "um2/s, 1e-10cm2/s, m2/s"
}

// ConvertDiffusion converts a diffusion coefficient from µm²/s to the target
// units. Unknown units leave the value in µm²/s.
func ConvertDiffusion(dMicron2PerSec float64, targetUnits string) float64 {
	switch targetUnits {
	case CM2E10PerSec:
		return dMicron2PerSec * 100 // 1 µm² = 1e-8 cm²
	case M2PerSec:
		return dMicron2PerSec * 1e-12
	default:
		return dMicron2PerSec
	}
}

// PixelDiffusionToMicron2 converts a diffusion coefficient in px²/s to
// µm²/s given the camera calibration in nanometres per pixel.
func PixelDiffusionToMicron2(dPixel2PerSec, nmPerPixel float64) float64 {
	umPerPixel := nmPerPixel / 1000
	return dPixel2PerSec * umPerPixel * umPerPixel
}

// CelsiusToKelvin converts a temperature in °C to K.
func CelsiusToKelvin(c float64) float64 {
	return c + ZeroCelsiusK
}

// MilliPascalSecondsToPascalSeconds converts a dynamic viscosity in mPa·s
// (centipoise) to Pa·s.
func MilliPascalSecondsToPascalSeconds(mpas float64) float64 {
	return mpas * 1e-3
}

// MotionBlurFromExposure returns the motion-blur coefficient R for a
// camera exposing for exposureMs out of every frame interval. R is 1/6 for
// exposure across the whole frame and 0 for an instantaneous shutter.
func MotionBlurFromExposure(exposureMs, framesPerSecond float64) float64 {
	frameMs := 1000 / framesPerSecond
	return exposureMs / frameMs / 6
}
