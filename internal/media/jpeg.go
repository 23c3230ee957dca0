package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // reference images may be PNG

	"golang.org/x/image/draw"
)

// JPEG defaults: high quality for file uploads, reduced for webcam chunks
// where upload latency dominates.
const (
	MaxKeyframeWidth  = 768
	MaxWebcamWidth    = 512
	UploadJPEGQuality = 85
	WebcamJPEGQuality = 60
)

// ResizeToWidth scales img down so its width is at most maxWidth, preserving
// aspect ratio. Images already narrow enough are returned unchanged.
func ResizeToWidth(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxWidth || maxWidth <= 0 {
		return img
	}
	scale := float64(maxWidth) / float64(w)
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, int(float64(h)*scale)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// EncodeJPEG resizes and JPEG-encodes a frame.
func EncodeJPEG(img image.Image, maxWidth, quality int) ([]byte, error) {
	var buf bytes.Buffer
	err := jpeg.Encode(&buf, ResizeToWidth(img, maxWidth), &jpeg.Options{Quality: quality})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeJPEGBase64 is EncodeJPEG with base64 output, the form the AI clients
// embed into data URIs.
func EncodeJPEGBase64(img image.Image, maxWidth, quality int) (string, error) {
	b, err := EncodeJPEG(img, maxWidth, quality)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeImageBase64 decodes a base64 JPEG or PNG payload.
func DecodeImageBase64(b64 string) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("image base64: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("image decode: %w", err)
	}
	return img, nil
}
