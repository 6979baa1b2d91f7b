package normalize

import (
	"math"

	"shelly2mqtt/internal/core/domain"
)

// Sentinel readings devices emit when a sensor has no valid value. They are
// mapped to an explicit unknown (nil) instead of being passed through.
const (
	sentinelNoReading    = -1  // tilt, battery, vibration, motion, flood
	sentinelNoTemperature = 999 // temperature probes
)

// EnergyToKWh converts a raw cumulative energy counter to kWh using the
// model's counter unit. The unit belongs to the model, not the transport.
func EnergyToKWh(raw float64, model domain.Model) float64 {
	return raw * model.EnergyScale.Factor()
}

// RGBToHSV converts an RGB triple (0-255 per channel) to hue/saturation/value,
// each on a 0-1 scale.
func RGBToHSV(r, g, b float64) (h, s, v float64) {
	r, g, b = r/255, g/255, b/255
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	delta := max - min

	v = max
	if max > 0 {
		s = delta / max
	}
	if delta == 0 {
		return 0, s, v
	}
	switch max {
	case r:
		h = math.Mod((g-b)/delta, 6)
	case g:
		h = (b-r)/delta + 2
	default:
		h = (r-g)/delta + 4
	}
	h /= 6
	if h < 0 {
		h += 1
	}
	return h, s, v
}

// HSVToRGB is the inverse of RGBToHSV: hue/saturation/value on 0-1 scales to
// RGB channels on 0-255.
func HSVToRGB(h, s, v float64) (r, g, b float64) {
	i := math.Floor(h * 6)
	f := h*6 - i
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)

	switch int(i) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return math.Round(r * 255), math.Round(g * 255), math.Round(b * 255)
}

// ColorTempToNorm maps a Kelvin value onto the host's 0-1 scale using the
// model's bounds: the warmest supported temperature maps to 0, the coolest to
// 1. Models without bounds report 0.
func ColorTempToNorm(kelvin float64, model domain.Model) float64 {
	min, max := float64(model.ColorTempMinK), float64(model.ColorTempMaxK)
	if max <= min {
		return 0
	}
	return clamp01((kelvin - min) / (max - min))
}

// NormToColorTemp is the outbound inverse of ColorTempToNorm.
func NormToColorTemp(norm float64, model domain.Model) float64 {
	min, max := float64(model.ColorTempMinK), float64(model.ColorTempMaxK)
	if max <= min {
		return min
	}
	return min + clamp01(norm)*(max-min)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
