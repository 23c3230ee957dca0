package media

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"
)

const audioExtractTimeout = 60 * time.Second

// FallbackTranscode converts a web-container upload to mp4 so the rawvideo
// decoder can retry. Returns the new path. The caller invokes this at most
// once per request.
func (t Tools) FallbackTranscode(ctx context.Context, path string) (string, error) {
	if _, err := exec.LookPath(t.ffmpeg()); err != nil {
		return "", ErrFFmpegAbsent
	}

	mp4Path := strings.TrimSuffix(path, "."+ext(path)) + ".mp4"
	cmd := exec.CommandContext(ctx, t.ffmpeg(),
		"-nostdin", "-y",
		"-i", path,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-crf", "23",
		"-an",
		mp4Path,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("transcode to mp4: %v: %s", err, truncate(string(out), 300))
	}
	log.Printf("[INFO] Media: converted %s -> %s", path, mp4Path)
	return mp4Path, nil
}

// ExtractAudio pulls a mono 16-kHz PCM WAV out of the video. Returns
// ErrNoAudio when the video has no usable audio track (missing stream or a
// file under 1000 bytes). The extraction has a 60 s wall clock.
func (t Tools) ExtractAudio(ctx context.Context, videoPath string) (string, error) {
	f, err := os.CreateTemp("", "tscomply-audio-*.wav")
	if err != nil {
		return "", err
	}
	audioPath := f.Name()
	f.Close()

	ctx, cancel := context.WithTimeout(ctx, audioExtractTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.ffmpeg(),
		"-nostdin", "-y",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		audioPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		log.Printf("[WARN] Media: audio extraction failed: %v: %s", err, truncate(string(out), 300))
		os.Remove(audioPath)
		return "", ErrNoAudio
	}

	fi, err := os.Stat(audioPath)
	if err != nil || fi.Size() < 1000 {
		os.Remove(audioPath)
		return "", ErrNoAudio
	}
	return audioPath, nil
}

func ext(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return path[i+1:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
