package schema

import (
	"time"
)

// Keyframe capture triggers.
const (
	TriggerFirst  = "first"
	TriggerChange = "change"
	TriggerMaxGap = "max_gap"
	TriggerSample = "sample"
	TriggerLast   = "last"
	TriggerWebcam = "webcam_frame"
)

// Checklist statuses carried on verdicts and tracker state.
const (
	ChecklistPending   = "pending"
	ChecklistCompliant = "compliant"
	ChecklistExpired   = "expired"
)

// KeyframeData is one frame captured by the change detector.
type KeyframeData struct {
	Timestamp   float64 `json:"timestamp"`
	FrameNumber int     `json:"frame_number"`
	ChangeScore float64 `json:"change_score"`
	Trigger     string  `json:"trigger"`
	Path        string  `json:"keyframe_path,omitempty"`
	ImageBase64 string  `json:"image_base64,omitempty"`
}

// PersonDetail is a per-person entry inside one frame observation.
type PersonDetail struct {
	PersonID   string `json:"person_id"`
	Appearance string `json:"appearance"`
	Details    string `json:"details,omitempty"`
}

// FrameObservation is the vision model's structured description of a keyframe.
type FrameObservation struct {
	Timestamp   float64        `json:"timestamp"`
	Description string         `json:"description"`
	Trigger     string         `json:"trigger"`
	ChangeScore float64        `json:"change_score"`
	ImageBase64 string         `json:"image_base64,omitempty"`
	People      []PersonDetail `json:"people,omitempty"`
}

// Verdict is a per-rule pass/fail judgement.
type Verdict struct {
	RuleType        string     `json:"rule_type"`
	RuleDescription string     `json:"rule_description"`
	Compliant       bool       `json:"compliant"`
	Severity        string     `json:"severity"`
	Reason          string     `json:"reason"`
	Timestamp       *float64   `json:"timestamp"`
	Mode            string     `json:"mode,omitempty"`
	ChecklistStatus string     `json:"checklist_status,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// PersonSummary aggregates one tracked subject across a request.
type PersonSummary struct {
	PersonID        string   `json:"person_id"`
	Appearance      string   `json:"appearance"`
	FirstSeen       float64  `json:"first_seen"`
	LastSeen        float64  `json:"last_seen"`
	FramesSeen      int      `json:"frames_seen"`
	Compliant       bool     `json:"compliant"`
	Violations      []string `json:"violations,omitempty"`
	ThumbnailBase64 string   `json:"thumbnail_base64,omitempty"`
}

// TranscriptSegment is one timestamped span of transcribed speech.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptResult is the speech-to-text output for one video or chunk.
type TranscriptResult struct {
	FullText string              `json:"full_text"`
	Segments []TranscriptSegment `json:"segments,omitempty"`
	Language string              `json:"language"`
	Duration float64             `json:"duration"`
}

// Report is the final compliance report for one analysis request.
type Report struct {
	VideoID             string             `json:"video_id"`
	Summary             string             `json:"summary"`
	OverallCompliant    bool               `json:"overall_compliant"`
	Incidents           []Verdict          `json:"incidents"`
	AllVerdicts         []Verdict          `json:"all_verdicts"`
	Recommendations     []string           `json:"recommendations"`
	FrameObservations   []FrameObservation `json:"frame_observations,omitempty"`
	PersonSummaries     []PersonSummary    `json:"person_summaries,omitempty"`
	Transcript          *TranscriptResult  `json:"transcript,omitempty"`
	ChecklistFulfilled  *bool              `json:"checklist_fulfilled"`
	AnalyzedAt          time.Time          `json:"analyzed_at"`
	TotalFramesAnalyzed int                `json:"total_frames_analyzed"`
	VideoDuration       float64            `json:"video_duration"`
}

// VideoMetadata is the probed container metadata.
type VideoMetadata struct {
	URL         string  `json:"url,omitempty"`
	Filename    string  `json:"filename"`
	Duration    float64 `json:"duration"`
	FPS         float64 `json:"fps"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	TotalFrames int     `json:"total_frames"`
	Resolution  string  `json:"resolution"`
	AspectRatio string  `json:"aspect_ratio,omitempty"`
}

// VideoProcessingResult is the change-detection stage output.
type VideoProcessingResult struct {
	VideoID   string         `json:"video_id"`
	Metadata  VideoMetadata  `json:"metadata"`
	Keyframes []KeyframeData `json:"keyframes"`
}

// AnalyzeResponse is the top-level API envelope.
type AnalyzeResponse struct {
	Status string  `json:"status"` // "complete" or "error"
	Report *Report `json:"report,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Providers for the single-frame path.
const (
	ProviderDefault   = "default"
	ProviderRemoteGPU = "remote_gpu"
)

// FrameAnalyzeRequest is the JSON body of POST /analyze/frame.
type FrameAnalyzeRequest struct {
	ImageBase64           string   `json:"image_base64"`
	PolicyJSON            string   `json:"policy_json"`
	AccumulatedTranscript string   `json:"accumulated_transcript,omitempty"`
	Frames                []string `json:"frames,omitempty"`
	Provider              string   `json:"provider,omitempty"`
	PersonHint            string   `json:"person_hint,omitempty"`
}

// ParallelFrameRequest is the JSON body of POST /analyze/frame/parallel.
type ParallelFrameRequest struct {
	Batches       [][]string `json:"batches"`
	MaxConcurrent int        `json:"max_concurrent,omitempty"`
	PolicyJSON    string     `json:"policy_json"`
}
