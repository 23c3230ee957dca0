// Package archive persists finished compliance reports in Postgres. The
// table is append-only; a report is a historical record, never edited.
package archive

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StoredReport is one archived analysis result.
type StoredReport struct {
	ID               uuid.UUID       `json:"id"`
	VideoID          string          `json:"video_id"`
	Filename         string          `json:"filename,omitempty"`
	OverallCompliant bool            `json:"overall_compliant"`
	IncidentCount    int             `json:"incident_count"`
	Summary          string          `json:"summary"`
	Report           json.RawMessage `json:"report"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Filter narrows List queries; zero value lists everything, newest first.
type Filter struct {
	OnlyViolations bool
	Limit          int
	Cursor         string // opaque "created_at|id" keyset position
}
