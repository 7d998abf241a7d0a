package stabilizer

import "math"

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the population standard deviation.
func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sq float64
	for _, v := range values {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// outlierMask marks values whose |z| exceeds threshold. Samples smaller than
// minSample, or with zero spread, are never filtered.
func outlierMask(values []float64, threshold float64, minSample int) []bool {
	mask := make([]bool, len(values))
	if len(values) < minSample || len(values) == 0 {
		return mask
	}
	m := mean(values)
	sd := stddev(values)
	if sd == 0 {
		return mask
	}
	for i, v := range values {
		mask[i] = math.Abs((v-m)/sd) > threshold
	}
	return mask
}
