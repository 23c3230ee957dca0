package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-comply/internal/schema"
)

var ErrNotFound = errors.New("report not found")

const defaultListLimit = 50

type Service struct {
	DB *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{DB: db}
}

// Save archives one finished report. Failures are the caller's to log; the
// pipeline treats archival as best-effort.
func (s *Service) Save(ctx context.Context, rep *schema.Report, filename string) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	query := `
		INSERT INTO reports (
			id, video_id, filename, overall_compliant, incident_count, summary, report, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.DB.ExecContext(ctx, query,
		uuid.New(), rep.VideoID, filename, rep.OverallCompliant,
		len(rep.Incidents), rep.Summary, payload, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	log.Printf("[INFO] Archive: stored report for %s (compliant=%t, incidents=%d)",
		rep.VideoID, rep.OverallCompliant, len(rep.Incidents))
	return nil
}

// List returns archived reports newest first. The cursor is a keyset over
// (created_at, id) so it follows the sort order; a bare id cursor would skip
// or repeat rows across pages with random UUIDs.
func (s *Service) List(ctx context.Context, f Filter) ([]StoredReport, string, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}

	q := `SELECT id, video_id, filename, overall_compliant, incident_count, summary, created_at
	      FROM reports WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if f.OnlyViolations {
		q += " AND overall_compliant = false"
	}
	if f.Cursor != "" {
		ts, id, err := parseCursor(f.Cursor)
		if err != nil {
			return nil, "", err
		}
		q += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", idx, idx+1)
		args = append(args, ts, id)
		idx += 2
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", idx)
	args = append(args, f.Limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []StoredReport
	var next string
	for rows.Next() {
		var r StoredReport
		if err := rows.Scan(&r.ID, &r.VideoID, &r.Filename, &r.OverallCompliant,
			&r.IncidentCount, &r.Summary, &r.CreatedAt); err != nil {
			return nil, "", err
		}
		out = append(out, r)
		next = encodeCursor(r.CreatedAt, r.ID)
	}
	return out, next, rows.Err()
}

func encodeCursor(createdAt time.Time, id uuid.UUID) string {
	return createdAt.UTC().Format(time.RFC3339Nano) + "|" + id.String()
}

func parseCursor(s string) (time.Time, uuid.UUID, error) {
	tsPart, idPart, ok := strings.Cut(s, "|")
	if !ok {
		return time.Time{}, uuid.Nil, fmt.Errorf("malformed cursor %q", s)
	}
	ts, err := time.Parse(time.RFC3339Nano, tsPart)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("malformed cursor timestamp: %w", err)
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("malformed cursor id: %w", err)
	}
	return ts, id, nil
}

// Get returns the most recent archived report for one video id, including
// the full report document.
func (s *Service) Get(ctx context.Context, videoID string) (*StoredReport, error) {
	q := `SELECT id, video_id, filename, overall_compliant, incident_count, summary, report, created_at
	      FROM reports WHERE video_id = $1
	      ORDER BY created_at DESC LIMIT 1`

	var r StoredReport
	err := s.DB.QueryRowContext(ctx, q, videoID).Scan(
		&r.ID, &r.VideoID, &r.Filename, &r.OverallCompliant,
		&r.IncidentCount, &r.Summary, &r.Report, &r.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
