package quality

import (
	"image"
	"math"
)

// Stabilisation constants from the standard SSIM definition, for 8-bit
// luminance (K1=0.01, K2=0.03, L=255).
const (
	ssimC1 = (0.01 * 255) * (0.01 * 255)
	ssimC2 = (0.03 * 255) * (0.03 * 255)
)

// grayStats returns the mean and variance of a grayscale frame along with the
// covariance against a second frame of the same dimensions.
func grayStats(a, b *image.Gray) (meanA, meanB, varA, varB, cov float64) {
	bounds := a.Bounds()
	n := float64(bounds.Dx() * bounds.Dy())
	if n == 0 {
		return 0, 0, 0, 0, 0
	}

	var sumA, sumB float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			sumA += float64(a.GrayAt(x, y).Y)
			sumB += float64(b.GrayAt(x, y).Y)
		}
	}
	meanA = sumA / n
	meanB = sumB / n

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			da := float64(a.GrayAt(x, y).Y) - meanA
			db := float64(b.GrayAt(x, y).Y) - meanB
			varA += da * da
			varB += db * db
			cov += da * db
		}
	}
	varA /= n
	varB /= n
	cov /= n
	return meanA, meanB, varA, varB, cov
}

// ssim computes the global structural similarity index between two grayscale
// frames of identical dimensions. The result lies in [-1, 1], with 1 meaning
// the frames are identical.
func ssim(a, b *image.Gray) float64 {
	meanA, meanB, varA, varB, cov := grayStats(a, b)
	num := (2*meanA*meanB + ssimC1) * (2*cov + ssimC2)
	den := (meanA*meanA + meanB*meanB + ssimC1) * (varA + varB + ssimC2)
	if den == 0 {
		return 0
	}
	return num / den
}

// meanAbsDiff returns the mean absolute pixel difference between two frames.
// Used as the consistency fallback when SSIM produces no usable value.
func meanAbsDiff(a, b *image.Gray) float64 {
	bounds := a.Bounds()
	n := float64(bounds.Dx() * bounds.Dy())
	if n == 0 {
		return 0
	}
	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			sum += math.Abs(float64(a.GrayAt(x, y).Y) - float64(b.GrayAt(x, y).Y))
		}
	}
	return sum / n
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
