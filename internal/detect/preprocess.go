// Package detect finds visually distinct moments in a video and captures
// them as keyframes: person entering or leaving, objects appearing, posture
// changes, lighting shifts. It runs in two modes: file (known duration,
// threaded read->detect->write pipeline) and streaming (live source with a
// latest-frame cell).
package detect

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Comparison target size. All scoring happens on 256x256 derivatives, never
// on the full frame.
const resizeDim = 256

// Histogram layout: 50 hue bins over [0,180), 60 saturation bins over [0,256).
const (
	hueBins = 50
	satBins = 60
)

// prep holds the cached derivatives of one frame: a blurred 8-bit grayscale
// and a unit-sum hue-saturation histogram. Only these enter comparisons.
type prep struct {
	gray []uint8   // resizeDim*resizeDim, Gaussian 7x7 blurred
	hist []float64 // hueBins*satBins, normalized to unit sum
}

// gaussKernel7 is the separable 7-tap Gaussian (sigma 1.4), normalized.
var gaussKernel7 = func() [7]float64 {
	const sigma = 1.4
	var k [7]float64
	sum := 0.0
	for i := range k {
		d := float64(i - 3)
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}()

// preprocessFrame resizes a frame to 256x256 and derives the comparison
// artifacts. This is the only full-frame pass per sampled frame; everything
// downstream works on the derivatives.
func preprocessFrame(img image.Image) *prep {
	small := image.NewRGBA(image.Rect(0, 0, resizeDim, resizeDim))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	gray := make([]uint8, resizeDim*resizeDim)
	hist := make([]float64, hueBins*satBins)

	for y := 0; y < resizeDim; y++ {
		row := small.Pix[y*small.Stride:]
		for x := 0; x < resizeDim; x++ {
			r := row[x*4]
			g := row[x*4+1]
			b := row[x*4+2]

			// Luma, same weights as the classic BGR2GRAY conversion.
			gray[y*resizeDim+x] = uint8((299*int(r) + 587*int(g) + 114*int(b)) / 1000)

			h, s := rgbToHueSat(r, g, b)
			hb := int(h) * hueBins / 180
			if hb >= hueBins {
				hb = hueBins - 1
			}
			sb := int(s) * satBins / 256
			hist[hb*satBins+sb]++
		}
	}

	// Unit sum.
	total := float64(resizeDim * resizeDim)
	for i := range hist {
		hist[i] /= total
	}

	return &prep{gray: blur7(gray), hist: hist}
}

// rgbToHueSat converts to 8-bit HSV hue (0..179) and saturation (0..255).
func rgbToHueSat(r, g, b uint8) (float64, float64) {
	rf, gf, bf := float64(r), float64(g), float64(b)
	maxv := math.Max(rf, math.Max(gf, bf))
	minv := math.Min(rf, math.Min(gf, bf))
	delta := maxv - minv

	var s float64
	if maxv > 0 {
		s = 255 * delta / maxv
	}

	var h float64
	if delta > 0 {
		switch maxv {
		case rf:
			h = 60 * (gf - bf) / delta
		case gf:
			h = 120 + 60*(bf-rf)/delta
		default:
			h = 240 + 60*(rf-gf)/delta
		}
		if h < 0 {
			h += 360
		}
	}
	return h / 2, s // hue halved into the 0..180 range
}

// blur7 applies the separable 7x7 Gaussian to a square grayscale buffer.
func blur7(src []uint8) []uint8 {
	tmp := make([]float64, len(src))
	dst := make([]uint8, len(src))

	// Horizontal pass.
	for y := 0; y < resizeDim; y++ {
		for x := 0; x < resizeDim; x++ {
			var acc float64
			for k := -3; k <= 3; k++ {
				xx := clampIdx(x + k)
				acc += gaussKernel7[k+3] * float64(src[y*resizeDim+xx])
			}
			tmp[y*resizeDim+x] = acc
		}
	}
	// Vertical pass.
	for y := 0; y < resizeDim; y++ {
		for x := 0; x < resizeDim; x++ {
			var acc float64
			for k := -3; k <= 3; k++ {
				yy := clampIdx(y + k)
				acc += gaussKernel7[k+3] * tmp[yy*resizeDim+x]
			}
			dst[y*resizeDim+x] = uint8(acc + 0.5)
		}
	}
	return dst
}

func clampIdx(i int) int {
	if i < 0 {
		return 0
	}
	if i >= resizeDim {
		return resizeDim - 1
	}
	return i
}
