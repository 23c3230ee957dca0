package detect

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"

	"github.com/technosupport/ts-comply/internal/media"
	"github.com/technosupport/ts-comply/internal/schema"
)

// SampleFile grabs up to maxFrames evenly spaced frames from a short video,
// skipping change detection entirely. Short clips get full coverage from a
// handful of frames; scoring them would only risk missing the ends. The first
// sample is pulled toward the half-second mark so it lands after camera
// auto-exposure settles.
func SampleFile(ctx context.Context, tools media.Tools, path string, meta schema.VideoMetadata, keyframesDir string, maxFrames int) ([]Event, error) {
	if maxFrames <= 0 {
		maxFrames = 5
	}
	fps := meta.FPS
	if fps <= 0 {
		fps = 30
	}
	total := meta.TotalFrames
	if total <= 0 {
		total = int(meta.Duration * fps)
	}

	indices := sampleIndices(total, maxFrames, fps)
	if len(indices) == 0 {
		return nil, media.ErrNoFrames
	}

	reader, err := tools.OpenFrameReader(ctx, path, meta.Width, meta.Height)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	writer := newKeyframeWriter()
	defer writer.Close()

	var events []Event
	want := 0
	for want < len(indices) {
		img, idx, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			if len(events) > 0 {
				log.Printf("[WARN] Detect: sampler decoder ended early at frame %d: %v", idx, err)
				break
			}
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if idx < indices[want] {
			continue
		}

		ev := Event{
			Index:       len(events),
			FrameNumber: idx,
			Timestamp:   float64(idx) / fps,
			ChangeScore: 0,
			Trigger:     TriggerSample,
			Frame:       img,
		}
		if keyframesDir != "" {
			ev.Path = filepath.Join(keyframesDir, fmt.Sprintf("sample_%04d.jpg", ev.Index))
			writer.Enqueue(ev.Path, img)
		}
		events = append(events, ev)
		want++
	}

	if len(events) == 0 {
		return nil, media.ErrNoFrames
	}
	return events, nil
}

// sampleIndices picks frame indices for SampleFile: every frame when the clip
// is tiny, otherwise maxFrames evenly spaced interior points with the first
// pulled to roughly 0.5 s in.
func sampleIndices(total, maxFrames int, fps float64) []int {
	if total <= 0 {
		return nil
	}
	if total <= maxFrames {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}

	step := float64(total) / float64(maxFrames+1)
	out := make([]int, 0, maxFrames)
	for i := 1; i <= maxFrames; i++ {
		out = append(out, int(step*float64(i)))
	}
	if out[0] > int(fps) {
		out[0] = int(fps * 0.5)
	}

	sort.Ints(out)
	dedup := out[:1]
	for _, v := range out[1:] {
		if v != dedup[len(dedup)-1] {
			dedup = append(dedup, v)
		}
	}
	return dedup
}
