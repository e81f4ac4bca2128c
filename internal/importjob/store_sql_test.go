package importjob

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/courseimport/internal/db"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	dbh, err := db.Open(context.Background(), db.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbh.Close() })
	return NewSQLStore(dbh, string(db.DriverSQLite))
}

func createJob(t *testing.T, s *SQLStore, id, org string, at time.Time) {
	t.Helper()
	err := s.Create(context.Background(),
		Job{ID: id, OrganizationID: org, UserID: "u1", FileName: "c.zip", FileSize: 42, CreatedAt: at},
		Event{Step: StatusUploading, Status: StepInProgress, Message: "Received", Progress: 5, CreatedAt: at})
	require.NoError(t, err)
}

func TestSQLStore_AppendAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.UnixMilli(1700000000000).UTC()
	createJob(t, s, "j1", "org", at)

	require.NoError(t, s.Append(ctx, "j1", Event{Step: StatusUploading, Status: StepCompleted, Message: "Stored", Progress: 10},
		Update{FileURL: "mem://blobs/p.zip"}))
	require.NoError(t, s.Append(ctx, "j1", Event{Step: StatusValidating, Status: StepCompleted, Message: "ok", Progress: 25},
		Update{Manifest: json.RawMessage(`{"identifier":"M"}`)}))

	j, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusValidating, j.Status)
	assert.Equal(t, 25, j.Progress)
	assert.Equal(t, "mem://blobs/p.zip", j.FileURL)
	assert.JSONEq(t, `{"identifier":"M"}`, string(j.Manifest))
	assert.Nil(t, j.Structure)
	assert.Nil(t, j.CompletedAt)
	assert.Equal(t, at, j.CreatedAt)
	require.Len(t, j.Steps, 2)
	assert.Equal(t, "Stored", j.Steps[0].Message)

	events, err := s.Events(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, i+1, e.Seq)
	}
}

func TestSQLStore_RejectsRegressionAndTerminalAppends(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	createJob(t, s, "j1", "org", time.Now())

	require.NoError(t, s.Append(ctx, "j1", Event{Step: StatusExtracting, Status: StepInProgress, Progress: 40}, Update{}))
	assert.ErrorIs(t, s.Append(ctx, "j1", Event{Step: StatusExtracting, Status: StepCompleted, Progress: 30}, Update{}), ErrProgressRegressed)
	assert.ErrorIs(t, s.Append(ctx, "j1", Event{Step: StatusValidating, Status: StepInProgress, Progress: 45}, Update{}), ErrInvalidTransition)

	require.NoError(t, s.Append(ctx, "j1", Event{Step: StatusFailed, Status: StepFailed, Message: "broken", Progress: 0}, Update{}))
	assert.ErrorIs(t, s.Append(ctx, "j1", Event{Step: StatusMapping, Status: StepInProgress, Progress: 75}, Update{}), ErrTerminal)

	j, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, j.Status)
	assert.Equal(t, "broken", j.ErrorMessage)
	assert.NotNil(t, j.CompletedAt)

	events, err := s.Events(ctx, "j1")
	require.NoError(t, err)
	assert.Len(t, events, 3, "rejected events are not committed")
}

func TestSQLStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Append(ctx, "nope", Event{Step: StatusValidating, Progress: 25}, Update{}), ErrNotFound)
}

func TestSQLStore_CreateRequiresUploadingStep(t *testing.T) {
	s := newTestStore(t)
	err := s.Create(context.Background(), Job{ID: "x", OrganizationID: "o", UserID: "u", FileName: "f"},
		Event{Step: StatusReady, Progress: 100})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSQLStore_ListByOrganization(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.UnixMilli(1700000000000)
	createJob(t, s, "a", "org-1", base)
	createJob(t, s, "b", "org-1", base.Add(time.Minute))
	createJob(t, s, "c", "org-2", base.Add(2*time.Minute))

	jobs, err := s.List(ctx, ListOpts{OrganizationID: "org-1"})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "b", jobs[0].ID, "most recent first")
	assert.Equal(t, "a", jobs[1].ID)
	assert.Nil(t, jobs[0].Steps)

	jobs, err = s.List(ctx, ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "b", jobs[0].ID)

	jobs, err = s.List(ctx, ListOpts{OrganizationID: "none"})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
