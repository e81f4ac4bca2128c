package importjob

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
	now    func() time.Time
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver, now: time.Now}
}

func (s *SQLStore) Create(ctx context.Context, j Job, first Event) error {
	if first.Step != StatusUploading {
		return fmt.Errorf("%w: first step must be %s", ErrInvalidTransition, StatusUploading)
	}
	now := s.now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if first.CreatedAt.IsZero() {
		first.CreatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO import_jobs
		(id,organization_id,user_id,file_name,file_size,file_url,status,progress,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		j.ID, j.OrganizationID, j.UserID, j.FileName, j.FileSize, j.FileURL,
		string(first.Step), first.Progress, j.CreatedAt.UnixMilli(), first.CreatedAt.UnixMilli())
	if err != nil {
		return err
	}
	if err := insertEvent(ctx, tx, j.ID, 1, first); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) Append(ctx context.Context, id string, e Event, u Update) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	lock := ""
	if s.driver == "postgres" {
		lock = " FOR UPDATE"
	}
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM import_jobs WHERE id=$1`+lock, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	var last Event
	var step, status string
	var at int64
	err = tx.QueryRowContext(ctx, `SELECT seq,step,status,message,progress,created_at
		FROM import_job_events WHERE import_id=$1 ORDER BY seq DESC LIMIT 1`, id).
		Scan(&last.Seq, &step, &status, &last.Message, &last.Progress, &at)
	if err != nil {
		return err
	}
	last.Step, last.Status = Status(step), StepStatus(status)
	if err := checkAppend(last, e); err != nil {
		return err
	}

	if err := insertEvent(ctx, tx, id, last.Seq+1, e); err != nil {
		return err
	}

	set := []string{"status=$1", "progress=$2", "updated_at=$3"}
	args := []any{string(e.Step), e.Progress, e.CreatedAt.UnixMilli()}
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if u.FileURL != "" {
		add("file_url", u.FileURL)
	}
	if len(u.Manifest) > 0 {
		add("manifest_json", string(u.Manifest))
	}
	if len(u.Structure) > 0 {
		add("structure_json", string(u.Structure))
	}
	if e.Step == StatusFailed {
		add("error_message", e.Message)
	}
	if e.Step.Terminal() {
		add("completed_at", e.CreatedAt.UnixMilli())
	}
	args = append(args, id)
	q := fmt.Sprintf(`UPDATE import_jobs SET %s WHERE id=$%d`, strings.Join(set, ", "), len(args))
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEvent(ctx context.Context, tx *sql.Tx, id string, seq int, e Event) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO import_job_events
		(import_id,seq,step,status,message,progress,created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		id, seq, string(e.Step), string(e.Status), e.Message, e.Progress, e.CreatedAt.UnixMilli())
	return err
}

const jobColumns = `id,organization_id,user_id,file_name,file_size,file_url,status,progress,
	error_message,created_at,updated_at,completed_at`

type scanner interface{ Scan(dest ...any) error }

func scanJob(sc scanner, extra ...any) (Job, error) {
	var j Job
	var status string
	var created, updated int64
	var completed sql.NullInt64
	dest := append([]any{&j.ID, &j.OrganizationID, &j.UserID, &j.FileName, &j.FileSize, &j.FileURL,
		&status, &j.Progress, &j.ErrorMessage, &created, &updated, &completed}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return Job{}, err
	}
	j.Status = Status(status)
	j.CreatedAt = time.UnixMilli(created).UTC()
	j.UpdatedAt = time.UnixMilli(updated).UTC()
	if completed.Valid {
		t := time.UnixMilli(completed.Int64).UTC()
		j.CompletedAt = &t
	}
	return j, nil
}

// Get returns the job with its projected log. Status and progress come from
// the latest event.
func (s *SQLStore) Get(ctx context.Context, id string) (Job, error) {
	var manifest, structure string
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+`,manifest_json,structure_json FROM import_jobs WHERE id=$1`, id)
	j, err := scanJob(row, &manifest, &structure)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}
	if manifest != "" {
		j.Manifest = json.RawMessage(manifest)
	}
	if structure != "" {
		j.Structure = json.RawMessage(structure)
	}

	events, err := s.Events(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if status, progress, steps := Project(events); status != "" {
		j.Status, j.Progress, j.Steps = status, progress, steps
	}
	return j, nil
}

func (s *SQLStore) Events(ctx context.Context, id string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq,step,status,message,progress,created_at
		FROM import_job_events WHERE import_id=$1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var step, status string
		var at int64
		if err := rows.Scan(&e.Seq, &step, &status, &e.Message, &e.Progress, &at); err != nil {
			return nil, err
		}
		e.Step, e.Status = Status(step), StepStatus(status)
		e.CreatedAt = time.UnixMilli(at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// List returns job summaries, most recent first, without logs or documents.
func (s *SQLStore) List(ctx context.Context, opts ListOpts) ([]Job, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	q := `SELECT ` + jobColumns + ` FROM import_jobs`
	var args []any
	if opts.OrganizationID != "" {
		args = append(args, opts.OrganizationID)
		q += ` WHERE organization_id=$1`
	}
	args = append(args, limit, offset)
	q += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
