package quality

import (
	"image"
	"math"
)

// normalFlowEps keeps the gradient denominator away from zero in flat image
// regions.
const normalFlowEps = 1e-6

// meanFlowMagnitude estimates apparent motion between two consecutive frames
// using the normal-flow approximation: the temporal derivative divided by the
// spatial gradient magnitude at each interior pixel. It returns the mean
// magnitude over the frame.
func meanFlowMagnitude(prev, next *image.Gray) float64 {
	bounds := prev.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	var sum float64
	var count int
	for y := bounds.Min.Y + 1; y < bounds.Max.Y-1; y++ {
		for x := bounds.Min.X + 1; x < bounds.Max.X-1; x++ {
			it := float64(next.GrayAt(x, y).Y) - float64(prev.GrayAt(x, y).Y)
			ix := (float64(prev.GrayAt(x+1, y).Y) - float64(prev.GrayAt(x-1, y).Y)) / 2
			iy := (float64(prev.GrayAt(x, y+1).Y) - float64(prev.GrayAt(x, y-1).Y)) / 2
			sum += math.Abs(it) / math.Sqrt(ix*ix+iy*iy+normalFlowEps)
			count++
		}
	}
	return sum / float64(count)
}

// motionSmoothness scores how evenly motion is distributed across the clip.
// A clip whose per-pair flow magnitudes vary wildly (jump cuts, stutter)
// scores low; steady motion scores high. magnitudes must hold one value per
// consecutive frame pair.
func motionSmoothness(magnitudes []float64) float64 {
	if len(magnitudes) < 2 {
		return 1
	}
	m := mean(magnitudes)
	if m < normalFlowEps {
		// No measurable motion at all: nothing to stutter.
		return 1
	}
	cv := stddev(magnitudes) / m
	return clamp01(1 - math.Min(cv, 1))
}

// motionSmoothnessFallback scores smoothness from the spread of mean frame
// differences when flow estimation is unusable.
func motionSmoothnessFallback(diffs []float64) float64 {
	return clamp01(1 - math.Min(stddev(diffs)/20, 1))
}
