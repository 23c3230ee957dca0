package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
)

// FramesToMP4 stitches a list of base64 JPEG frames into an mp4 clip at the
// given frame rate and returns the raw mp4 bytes. This is the clip format the
// remote GPU analyzer expects. Frames that fail to decode are skipped.
func (t Tools) FramesToMP4(ctx context.Context, framesB64 []string, fps int) ([]byte, error) {
	if len(framesB64) == 0 {
		return nil, fmt.Errorf("no frames provided for mp4 conversion")
	}
	if fps <= 0 {
		fps = 4
	}

	dir, err := os.MkdirTemp("", "tscomply-clip-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	written := 0
	for i, b64 := range framesB64 {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			log.Printf("[WARN] Media: frame %d failed to decode, skipping: %v", i, err)
			continue
		}
		name := filepath.Join(dir, fmt.Sprintf("frame_%04d.jpg", written))
		if err := os.WriteFile(name, raw, 0o644); err != nil {
			return nil, err
		}
		written++
	}
	if written == 0 {
		return nil, fmt.Errorf("all frames failed to decode")
	}

	outPath := filepath.Join(dir, "clip.mp4")
	cmd := exec.CommandContext(ctx, t.ffmpeg(),
		"-nostdin", "-y",
		"-framerate", fmt.Sprint(fps),
		"-i", filepath.Join(dir, "frame_%04d.jpg"),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("mp4 packaging: %v: %s", err, truncate(string(out), 300))
	}
	return os.ReadFile(outPath)
}
