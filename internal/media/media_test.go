package media

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestResizeToWidth(t *testing.T) {
	img := solidImage(1024, 512, color.RGBA{R: 200, A: 255})

	out := ResizeToWidth(img, 768)
	assert.Equal(t, 768, out.Bounds().Dx())
	assert.Equal(t, 384, out.Bounds().Dy())

	// Already narrow enough: untouched.
	small := solidImage(320, 240, color.RGBA{G: 100, A: 255})
	assert.Equal(t, image.Image(small), ResizeToWidth(small, 768))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	img := solidImage(640, 480, color.RGBA{B: 150, A: 255})

	b64, err := EncodeJPEGBase64(img, MaxWebcamWidth, WebcamJPEGQuality)
	require.NoError(t, err)
	require.NotEmpty(t, b64)

	decoded, err := DecodeImageBase64(b64)
	require.NoError(t, err)
	assert.Equal(t, 512, decoded.Bounds().Dx())
	assert.Equal(t, 384, decoded.Bounds().Dy())
}

func TestDecodeImageBase64_Garbage(t *testing.T) {
	_, err := DecodeImageBase64("not base64 at all!!!")
	require.Error(t, err)

	// Valid base64, not an image.
	_, err = DecodeImageBase64("aGVsbG8gd29ybGQ=")
	require.Error(t, err)
}

func TestIsWebContainer(t *testing.T) {
	assert.True(t, IsWebContainer("/tmp/upload.webm"))
	assert.True(t, IsWebContainer("clip.MKV"))
	assert.False(t, IsWebContainer("video.mp4"))
	assert.False(t, IsWebContainer("noext"))
}

func TestParseRate(t *testing.T) {
	assert.InDelta(t, 29.97, parseRate("30000/1001"), 0.01)
	assert.Equal(t, 25.0, parseRate("25"))
	assert.Equal(t, 0.0, parseRate("0/0"))
}

func TestAspectRatio(t *testing.T) {
	assert.Equal(t, "16:9", aspectRatio(1920, 1080))
	assert.Equal(t, "4:3", aspectRatio(640, 480))
	assert.Equal(t, "1:1", aspectRatio(512, 512))
	assert.Equal(t, "1280:543", aspectRatio(1280, 543))
	assert.Equal(t, "", aspectRatio(100, 0))
}

func TestGenerateVideoID(t *testing.T) {
	id := GenerateVideoID("/nonexistent/video.mp4")
	assert.Len(t, id, 12)
	// Deterministic for the same path+size.
	assert.Equal(t, id, GenerateVideoID("/nonexistent/video.mp4"))
	assert.NotEqual(t, id, GenerateVideoID("/nonexistent/other.mp4"))
}
