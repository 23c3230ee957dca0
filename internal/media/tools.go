// Package media wraps the external ffmpeg/ffprobe binaries: container
// probing, sequential raw frame decoding, fallback transcoding, audio
// extraction and JPEG/mp4 packaging for the AI clients.
//
// The change detector and the pipeline stay container-agnostic; everything
// that touches a codec goes through here.
package media

import (
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
)

var (
	ErrNoFrames     = errors.New("no decodable frames in source")
	ErrNoAudio      = errors.New("no usable audio track")
	ErrFFmpegAbsent = errors.New("ffmpeg binary not found")
)

// Tools holds the resolved binary paths. Zero value resolves from PATH.
type Tools struct {
	FFmpeg  string
	FFprobe string
}

func DefaultTools() Tools {
	return Tools{FFmpeg: "ffmpeg", FFprobe: "ffprobe"}
}

func (t Tools) ffmpeg() string {
	if t.FFmpeg != "" {
		return t.FFmpeg
	}
	return "ffmpeg"
}

func (t Tools) ffprobe() string {
	if t.FFprobe != "" {
		return t.FFprobe
	}
	return "ffprobe"
}

// Available reports whether the ffmpeg binary can be resolved.
func (t Tools) Available() bool {
	_, err := exec.LookPath(t.ffmpeg())
	return err == nil
}

// webContainerExts are the formats the primary rawvideo decode most often
// rejects (browser MediaRecorder output). Only these trigger the one-shot
// transcode fallback.
var webContainerExts = map[string]bool{
	".webm": true,
	".mkv":  true,
}

// IsWebContainer reports whether the path extension indicates a web-container
// format eligible for the mp4 fallback.
func IsWebContainer(path string) bool {
	return webContainerExts[strings.ToLower(filepath.Ext(path))]
}
