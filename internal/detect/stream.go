package detect

import (
	"image"
	"log"
	"sync"
	"time"
)

// FrameSource is anything that yields frames sequentially. media.FrameReader
// satisfies it, which covers files and RTSP URLs alike.
type FrameSource interface {
	Next() (*image.RGBA, int, error)
	Close() error
}

// stopJoinTimeout bounds how long Stop waits for the grabber and sampler to
// exit before giving up and finalizing anyway.
const stopJoinTimeout = 3 * time.Second

// Streaming runs the detector against a live source. A grabber goroutine
// drains the source as fast as it produces, overwriting a single latest-frame
// cell; a sampler goroutine scores the cell on a fixed cadence. Draining
// continuously keeps the source's internal buffer fresh, so a slow scoring
// pass never causes the sampler to see stale footage.
type Streaming struct {
	det *Detector
	src FrameSource

	cellMu sync.Mutex
	latest *image.RGBA
	seq    int // frame number of latest; -1 when empty

	start       time.Time
	stop        chan struct{}
	stopOnce    sync.Once
	grabberDone chan struct{}
	samplerDone chan struct{}
}

// StartStreaming begins grabbing and sampling immediately.
func StartStreaming(src FrameSource, opts Options) *Streaming {
	opts.applyDefaults()
	s := &Streaming{
		det:         NewDetector(opts),
		src:         src,
		seq:         -1,
		start:       time.Now(),
		stop:        make(chan struct{}),
		grabberDone: make(chan struct{}),
		samplerDone: make(chan struct{}),
	}
	go s.grab()
	go s.sample(opts.SampleInterval)
	return s
}

func (s *Streaming) grab() {
	defer close(s.grabberDone)
	for {
		img, idx, err := s.src.Next()
		if err != nil {
			select {
			case <-s.stop:
			default:
				log.Printf("[WARN] Detect: stream source ended: %v", err)
			}
			return
		}
		s.cellMu.Lock()
		s.latest = img
		s.seq = idx
		s.cellMu.Unlock()
	}
}

func (s *Streaming) sample(interval float64) {
	defer close(s.samplerDone)
	ticker := time.NewTicker(time.Duration(interval * float64(time.Second)))
	defer ticker.Stop()

	lastSeq := -1
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		s.cellMu.Lock()
		img, seq := s.latest, s.seq
		s.cellMu.Unlock()
		if img == nil || seq == lastSeq {
			continue
		}
		lastSeq = seq
		s.det.ProcessFrame(img, time.Since(s.start).Seconds(), seq)
	}
}

// Push stores an externally supplied frame in the latest-frame cell and runs
// the capture policy on it directly. Used by the live websocket ingest, where
// frames arrive from the network rather than a decoder.
func (s *Streaming) Push(img *image.RGBA) *Event {
	s.cellMu.Lock()
	s.seq++
	seq := s.seq
	s.latest = img
	s.cellMu.Unlock()
	return s.det.ProcessPushedFrame(img, time.Since(s.start).Seconds(), seq)
}

// Events returns the captures so far.
func (s *Streaming) Events() []Event { return s.det.Events() }

// Stop halts the goroutines, waits up to three seconds for them to exit,
// flushes pending keyframe writes, and returns the final capture list.
// Idempotent.
func (s *Streaming) Stop() []Event {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.src.Close() // unblocks a grabber stuck in Next

		deadline := time.NewTimer(stopJoinTimeout)
		defer deadline.Stop()
		for _, done := range []chan struct{}{s.grabberDone, s.samplerDone} {
			select {
			case <-done:
			case <-deadline.C:
				log.Printf("[WARN] Detect: stream goroutine did not exit within %s", stopJoinTimeout)
			}
		}
		s.det.Finalize()
	})
	return s.det.Events()
}
