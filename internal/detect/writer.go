package detect

import (
	"image"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/technosupport/ts-comply/internal/media"
)

// keyframeWriter encodes and writes keyframe JPEGs on a single background
// goroutine so disk latency never stalls detection. The queue is unbounded;
// write failures are logged and dropped, they never abort a run.
type keyframeWriter struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []writeJob
	closed bool
	done   chan struct{}
}

type writeJob struct {
	path string
	img  image.Image
}

func newKeyframeWriter() *keyframeWriter {
	w := &keyframeWriter{done: make(chan struct{})}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// Enqueue schedules a keyframe for writing. Safe after Close (the job is
// silently discarded).
func (w *keyframeWriter) Enqueue(path string, img image.Image) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.queue = append(w.queue, writeJob{path: path, img: img})
	w.cond.Signal()
}

func (w *keyframeWriter) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 && w.closed {
			w.mu.Unlock()
			return
		}
		job := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if err := writeJPEGFile(job.path, job.img); err != nil {
			log.Printf("[ERROR] Detect: keyframe write %s failed: %v", job.path, err)
		}
	}
}

// Close drains the queue and stops the goroutine. Idempotent.
func (w *keyframeWriter) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		w.cond.Signal()
	}
	w.mu.Unlock()
	<-w.done
}

func writeJPEGFile(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := media.EncodeJPEG(img, 0, media.UploadJPEGQuality)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
