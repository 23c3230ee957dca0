package detect

import "math"

// Structural diff parameters: a pixel counts as changed when its blurred
// grayscale delta exceeds diffPixelThreshold; the fraction is taken over the
// full 256x256 grid.
const (
	diffPixelThreshold = 25
	histCorrEarlyExit  = 0.95
)

// changeScore compares two preprocessed frames and returns a dissimilarity in
// [0,1]. Stage one is a histogram Pearson correlation; when the histograms are
// nearly identical (corr > 0.95) the cheap half-score is returned and the
// pixel diff is skipped. Otherwise the score is the mean of the histogram and
// structural components.
func changeScore(cur, prev *prep) float64 {
	corr := histCorrelation(cur.hist, prev.hist)
	h := 1 - math.Max(corr, 0)
	if corr > histCorrEarlyExit {
		return round4(0.5 * h)
	}

	changed := 0
	for i := range cur.gray {
		d := int(cur.gray[i]) - int(prev.gray[i])
		if d < 0 {
			d = -d
		}
		if d > diffPixelThreshold {
			changed++
		}
	}
	s := float64(changed) / float64(len(cur.gray))

	return round4(0.5*h + 0.5*s)
}

// histCorrelation is the Pearson correlation of two histograms. Two constant
// histograms compare as fully correlated.
func histCorrelation(a, b []float64) float64 {
	n := float64(len(a))
	var sumA, sumB float64
	for i := range a {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/n, sumB/n

	var num, denA, denB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		num += da * db
		denA += da * da
		denB += db * db
	}
	den := math.Sqrt(denA * denB)
	if den < 1e-12 {
		return 1
	}
	return num / den
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
