package detect

import (
	"fmt"
	"image"
	"path/filepath"
	"sync"
)

// Defaults for the capture policy. Tuned for compliance footage where the
// interesting events are people and equipment appearing, not camera motion.
const (
	DefaultChangeThreshold   = 0.10
	DefaultMinChangeInterval = 0.5
	DefaultMaxGap            = 10.0
	DefaultSampleInterval    = 0.3
)

// Capture triggers recorded on each keyframe.
const (
	TriggerFirst       = "first"
	TriggerChange      = "change"
	TriggerMaxGap      = "max_gap"
	TriggerLast        = "last"
	TriggerSample      = "sample"
	TriggerWebcamFrame = "webcam_frame"
)

// Options configures a Detector. Zero values fall back to the defaults above.
type Options struct {
	ChangeThreshold   float64
	MinChangeInterval float64 // seconds between change captures
	MaxGap            float64 // force a capture after this much quiet
	SampleInterval    float64 // streaming mode scoring cadence
	KeyframesDir      string  // where keyframe JPEGs land; empty disables writes
	OnChange          func(Event)
}

func (o *Options) applyDefaults() {
	if o.ChangeThreshold <= 0 {
		o.ChangeThreshold = DefaultChangeThreshold
	}
	if o.MinChangeInterval <= 0 {
		o.MinChangeInterval = DefaultMinChangeInterval
	}
	if o.MaxGap <= 0 {
		o.MaxGap = DefaultMaxGap
	}
	if o.SampleInterval <= 0 {
		o.SampleInterval = DefaultSampleInterval
	}
}

// Event is one captured keyframe.
type Event struct {
	Index       int
	FrameNumber int
	Timestamp   float64
	ChangeScore float64
	Trigger     string
	Path        string // file path, empty when writes are disabled
	Frame       image.Image
}

// Detector is the stateful change detector. Frames are compared against the
// last CAPTURED keyframe, not the previous frame, so a slow drift eventually
// accumulates into a capture instead of slipping under the threshold forever.
// Not safe for concurrent ProcessFrame calls; the streaming wrapper serializes
// them.
type Detector struct {
	opts Options

	mu          sync.Mutex
	prev        *prep // derivatives of the last captured keyframe
	lastCapture float64
	events      []Event
	writer      *keyframeWriter
	finalized   bool
}

// NewDetector creates a detector and starts its background keyframe writer.
func NewDetector(opts Options) *Detector {
	opts.applyDefaults()
	return &Detector{
		opts:        opts,
		lastCapture: -999, // any first frame satisfies the interval checks
		writer:      newKeyframeWriter(),
	}
}

// ProcessFrame scores one frame against the last captured keyframe and
// captures it when the policy fires. Returns the capture event, or nil when
// the frame was skipped.
func (d *Detector) ProcessFrame(frame image.Image, timestamp float64, frameNumber int) *Event {
	cur := preprocessFrame(frame)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.prev == nil {
		return d.capture(frame, cur, timestamp, frameNumber, 1.0, TriggerFirst)
	}

	score := changeScore(cur, d.prev)
	switch {
	case score >= d.opts.ChangeThreshold && timestamp-d.lastCapture >= d.opts.MinChangeInterval:
		return d.capture(frame, cur, timestamp, frameNumber, score, TriggerChange)
	case timestamp-d.lastCapture >= d.opts.MaxGap:
		return d.capture(frame, cur, timestamp, frameNumber, score, TriggerMaxGap)
	}
	return nil
}

// ProcessPushedFrame runs the capture policy on an externally supplied frame
// (live browser ingest). Captures are tagged webcam_frame regardless of which
// policy rule fired, so reports distinguish pushed footage from decoded files.
func (d *Detector) ProcessPushedFrame(frame image.Image, timestamp float64, frameNumber int) *Event {
	cur := preprocessFrame(frame)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.prev == nil {
		return d.capture(frame, cur, timestamp, frameNumber, 1.0, TriggerWebcamFrame)
	}

	score := changeScore(cur, d.prev)
	if (score >= d.opts.ChangeThreshold && timestamp-d.lastCapture >= d.opts.MinChangeInterval) ||
		timestamp-d.lastCapture >= d.opts.MaxGap {
		return d.capture(frame, cur, timestamp, frameNumber, score, TriggerWebcamFrame)
	}
	return nil
}

// ForceCapture records a frame unconditionally with the given trigger. Used
// for the final frame of a file and for externally pushed webcam frames.
func (d *Detector) ForceCapture(frame image.Image, timestamp float64, frameNumber int, trigger string) *Event {
	cur := preprocessFrame(frame)

	d.mu.Lock()
	defer d.mu.Unlock()

	score := 1.0
	if d.prev != nil {
		score = changeScore(cur, d.prev)
	}
	return d.capture(frame, cur, timestamp, frameNumber, score, trigger)
}

// capture appends the event, updates comparison state, and queues the disk
// write. Caller holds d.mu.
func (d *Detector) capture(frame image.Image, cur *prep, ts float64, frameNumber int, score float64, trigger string) *Event {
	ev := Event{
		Index:       len(d.events),
		FrameNumber: frameNumber,
		Timestamp:   ts,
		ChangeScore: score,
		Trigger:     trigger,
		Frame:       frame,
	}
	if d.opts.KeyframesDir != "" {
		ev.Path = filepath.Join(d.opts.KeyframesDir, fmt.Sprintf("change_%04d.jpg", ev.Index))
		d.writer.Enqueue(ev.Path, frame)
	}

	d.prev = cur
	d.lastCapture = ts
	d.events = append(d.events, ev)

	if d.opts.OnChange != nil {
		d.opts.OnChange(ev)
	}
	return &d.events[len(d.events)-1]
}

// Events returns a copy of the captures so far.
func (d *Detector) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

// Reset clears detection state so the detector can start a fresh video. The
// writer keeps running.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prev = nil
	d.lastCapture = -999
	d.events = nil
}

// Finalize drains pending keyframe writes and stops the writer. Idempotent.
func (d *Detector) Finalize() {
	d.mu.Lock()
	if d.finalized {
		d.mu.Unlock()
		return
	}
	d.finalized = true
	d.mu.Unlock()
	d.writer.Close()
}
