package media

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
)

// FrameReader decodes a video into RGBA frames sequentially via a single
// ffmpeg rawvideo pipe. Sequential reads keep the decoder state warm; there
// is no seeking.
type FrameReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	buf    *bufio.Reader
	width  int
	height int
	index  int
}

// OpenFrameReader starts ffmpeg decoding path into a raw RGBA stream at the
// given dimensions. The caller must Close the reader; cancelling ctx kills
// the decoder process.
func (t Tools) OpenFrameReader(ctx context.Context, path string, width, height int) (*FrameReader, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	cmd := exec.CommandContext(ctx, t.ffmpeg(),
		"-nostdin",
		"-v", "error",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFFmpegAbsent, err)
	}
	return &FrameReader{
		cmd:    cmd,
		stdout: stdout,
		buf:    bufio.NewReaderSize(stdout, 1<<20),
		width:  width,
		height: height,
	}, nil
}

// Next returns the next decoded frame and its zero-based index.
// io.EOF signals the end of the stream.
func (r *FrameReader) Next() (*image.RGBA, int, error) {
	pix := make([]byte, r.width*r.height*4)
	if _, err := io.ReadFull(r.buf, pix); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, 0, err
	}
	idx := r.index
	r.index++
	return &image.RGBA{
		Pix:    pix,
		Stride: r.width * 4,
		Rect:   image.Rect(0, 0, r.width, r.height),
	}, idx, nil
}

// Close terminates the decoder. Safe to call after EOF.
func (r *FrameReader) Close() error {
	r.stdout.Close()
	if r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
	// Wait reaps the process; the error after Kill is expected.
	_ = r.cmd.Wait()
	return nil
}
