package archive

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-comply/internal/schema"
)

func TestSave(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO reports").
		WithArgs(sqlmock.AnyArg(), "vid-1", "site.mp4", false, 1, "One violation.", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	svc := NewService(db)
	rep := &schema.Report{
		VideoID:          "vid-1",
		Summary:          "One violation.",
		OverallCompliant: false,
		Incidents: []schema.Verdict{
			{RuleDescription: "Hard hat required", Compliant: false, Mode: schema.ModeIncident},
		},
	}
	require.NoError(t, svc.Save(context.Background(), rep, "site.mp4"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_ViolationsWithCursor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cursorTime := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	cursorID := uuid.New()

	rowID := uuid.New()
	rowTime := cursorTime.Add(-time.Hour)
	rows := sqlmock.NewRows([]string{"id", "video_id", "filename", "overall_compliant", "incident_count", "summary", "created_at"}).
		AddRow(rowID, "vid-2", "b.mp4", false, 2, "Two violations.", rowTime)

	mock.ExpectQuery("SELECT id, video_id, filename, overall_compliant, incident_count, summary, created_at").
		WithArgs(cursorTime, cursorID, 10).
		WillReturnRows(rows)

	svc := NewService(db)
	out, next, err := svc.List(context.Background(), Filter{
		OnlyViolations: true,
		Cursor:         encodeCursor(cursorTime, cursorID),
		Limit:          10,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "vid-2", out[0].VideoID)
	assert.Equal(t, 2, out[0].IncidentCount)

	// The returned cursor points at the last row and parses back losslessly.
	assert.Equal(t, encodeCursor(rowTime, rowID), next)
	ts, id, err := parseCursor(next)
	require.NoError(t, err)
	assert.True(t, ts.Equal(rowTime))
	assert.Equal(t, rowID, id)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_MalformedCursor(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewService(db)
	for _, cursor := range []string{"just-an-id", "not-a-time|" + uuid.New().String(), time.Now().Format(time.RFC3339Nano) + "|not-a-uuid"} {
		_, _, err := svc.List(context.Background(), Filter{Cursor: cursor})
		assert.Error(t, err, cursor)
	}
}

func TestGet_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, video_id, filename, overall_compliant, incident_count, summary, report, created_at").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	svc := NewService(db)
	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_Found(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	rows := sqlmock.NewRows([]string{"id", "video_id", "filename", "overall_compliant", "incident_count", "summary", "report", "created_at"}).
		AddRow(id, "vid-3", "c.mp4", true, 0, "All clear.", []byte(`{"video_id":"vid-3"}`), time.Now())

	mock.ExpectQuery("SELECT id, video_id, filename, overall_compliant").
		WithArgs("vid-3").
		WillReturnRows(rows)

	svc := NewService(db)
	r, err := svc.Get(context.Background(), "vid-3")
	require.NoError(t, err)
	assert.True(t, r.OverallCompliant)
	assert.JSONEq(t, `{"video_id":"vid-3"}`, string(r.Report))
}
