package detect

import (
	"context"
	"image"
	"io"
	"log"
	"time"

	"github.com/technosupport/ts-comply/internal/media"
	"github.com/technosupport/ts-comply/internal/schema"
)

// frameQueueCap bounds how far decoding may run ahead of scoring.
const frameQueueCap = 30

type frameItem struct {
	img       *image.RGBA
	index     int
	timestamp float64
}

// DetectFile runs the full file-mode pipeline: a reader goroutine decodes and
// decimates frames into a bounded queue, the detector scores them on this
// goroutine, and a writer goroutine persists keyframes. The last frame of the
// video is always captured so the report covers the final state of the scene.
func DetectFile(ctx context.Context, tools media.Tools, path string, meta schema.VideoMetadata, opts Options) ([]Event, error) {
	opts.applyDefaults()

	fps := meta.FPS
	if fps <= 0 {
		fps = 30
	}
	sampleStep := int(fps * opts.SampleInterval)
	if sampleStep < 1 {
		sampleStep = 1
	}

	reader, err := tools.OpenFrameReader(ctx, path, meta.Width, meta.Height)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	det := NewDetector(opts)
	defer det.Finalize()

	frames := make(chan frameItem, frameQueueCap)
	readErr := make(chan error, 1)

	go func() {
		defer close(frames)
		var last frameItem
		sentLast := false
		for {
			img, idx, err := reader.Next()
			if err != nil {
				if err != io.EOF {
					readErr <- err
				}
				// Make sure the final frame reaches the detector even when
				// decimation skipped it.
				if last.img != nil && !sentLast {
					select {
					case frames <- last:
					case <-ctx.Done():
					}
				}
				return
			}
			item := frameItem{img: img, index: idx, timestamp: float64(idx) / fps}
			last, sentLast = item, false
			if idx%sampleStep != 0 {
				continue
			}
			select {
			case frames <- item:
				sentLast = true
			case <-ctx.Done():
				return
			}
		}
	}()

	start := time.Now()
	decoded := 0
	var lastItem frameItem
	for item := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		decoded++
		lastItem = item
		det.ProcessFrame(item.img, item.timestamp, item.index)
	}

	select {
	case err := <-readErr:
		if decoded == 0 {
			return nil, err
		}
		log.Printf("[WARN] Detect: decoder ended early after %d frames: %v", decoded, err)
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if decoded == 0 {
		return nil, media.ErrNoFrames
	}

	// Force-capture the last frame unless it was already the latest capture.
	events := det.Events()
	if len(events) == 0 || events[len(events)-1].FrameNumber != lastItem.index {
		det.ForceCapture(lastItem.img, lastItem.timestamp, lastItem.index, TriggerLast)
	}

	det.Finalize()
	events = det.Events()
	log.Printf("[INFO] Detect: %s: %d keyframes from %d sampled frames in %.1fs",
		meta.Filename, len(events), decoded, time.Since(start).Seconds())
	return events, nil
}
