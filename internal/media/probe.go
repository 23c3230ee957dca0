package media

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/technosupport/ts-comply/internal/schema"
)

// GenerateVideoID derives a stable 12-hex id from the file path and size.
func GenerateVideoID(path string) string {
	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%d", path, size)))
	return hex.EncodeToString(sum[:])[:12]
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe extracts container metadata via ffprobe.
func (t Tools) Probe(ctx context.Context, path string) (schema.VideoMetadata, error) {
	md := schema.VideoMetadata{Filename: filepath.Base(path)}
	if abs, err := filepath.Abs(path); err == nil {
		md.URL = "local://" + abs
	}

	cmd := exec.CommandContext(ctx, t.ffprobe(),
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return md, fmt.Errorf("ffprobe %s: %w", filepath.Base(path), err)
	}

	var po probeOutput
	if err := json.Unmarshal(out, &po); err != nil {
		return md, fmt.Errorf("ffprobe output: %w", err)
	}

	if d, err := strconv.ParseFloat(po.Format.Duration, 64); err == nil {
		md.Duration = math.Round(d*100) / 100
	}

	for _, s := range po.Streams {
		if s.CodecType != "video" {
			continue
		}
		md.Width = s.Width
		md.Height = s.Height
		md.FPS = parseRate(s.AvgFrameRate)
		if md.FPS == 0 {
			md.FPS = parseRate(s.RFrameRate)
		}
		if n, err := strconv.Atoi(s.NbFrames); err == nil {
			md.TotalFrames = n
		}
		break
	}

	if md.TotalFrames == 0 && md.FPS > 0 {
		md.TotalFrames = int(md.Duration * md.FPS)
	}
	if md.Duration == 0 && md.FPS > 0 {
		md.Duration = math.Round(float64(md.TotalFrames)/md.FPS*100) / 100
	}
	md.Resolution = fmt.Sprintf("%dx%d", md.Width, md.Height)
	md.AspectRatio = aspectRatio(md.Width, md.Height)
	return md, nil
}

func parseRate(r string) float64 {
	num, den, ok := strings.Cut(r, "/")
	if !ok {
		f, _ := strconv.ParseFloat(r, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func aspectRatio(w, h int) string {
	if h <= 0 {
		return ""
	}
	ratio := float64(w) / float64(h)
	switch {
	case math.Abs(ratio-16.0/9.0) < 0.1:
		return "16:9"
	case math.Abs(ratio-4.0/3.0) < 0.1:
		return "4:3"
	case math.Abs(ratio-1) < 0.1:
		return "1:1"
	default:
		return fmt.Sprintf("%d:%d", w, h)
	}
}
