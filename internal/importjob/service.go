package importjob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mind-engage/courseimport/internal/logging"
	"github.com/mind-engage/courseimport/internal/metrics"
	"github.com/mind-engage/courseimport/internal/scorm"
	"github.com/mind-engage/courseimport/internal/scorm/archive"
	"github.com/mind-engage/courseimport/internal/scorm/assets"
	"github.com/mind-engage/courseimport/internal/scorm/parser"
	"github.com/mind-engage/courseimport/internal/scorm/resolve"
	"github.com/mind-engage/courseimport/internal/storage"
)

// Submission is one uploaded package.
type Submission struct {
	OrganizationID     string
	UserID             string
	FileName           string
	Data               []byte
	BackgroundImageURL string
}

// Service runs the import pipeline. Each stage is recorded as an in_progress
// and a completed event; a failing stage records a failed event and stops.
type Service struct {
	Store   Store
	Blobs   storage.BlobStore
	Log     *zap.Logger
	Metrics *metrics.Metrics

	Resolver     *resolve.Resolver
	MaxAssets    int
	AssetWorkers int
	Timeout      time.Duration // whole pipeline, 0 for none

	Now   func() time.Time
	NewID func() string
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// Submit creates a job and drives it to a terminal state. The returned id is
// empty only when no job record could be created. A non-nil error is always
// an *Error.
func (s *Service) Submit(ctx context.Context, sub Submission) (string, error) {
	switch {
	case sub.UserID == "":
		return "", newError(KindAuth, "submit", errors.New("caller identity required"))
	case sub.OrganizationID == "":
		return "", newError(KindValidation, "submit", errors.New("organization_id is required"))
	case len(sub.Data) == 0:
		return "", newError(KindValidation, "submit", errors.New("package is required"))
	}
	if sub.FileName == "" {
		sub.FileName = "package.zip"
	}

	r := &run{
		svc:     s,
		sub:     sub,
		id:      s.newID(),
		created: s.now(),
	}
	ctx = logging.WithImport(ctx, r.id, sub.OrganizationID)
	r.log = logging.For(ctx, s.Log)

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	err := s.Store.Create(ctx, Job{
		ID:             r.id,
		OrganizationID: sub.OrganizationID,
		UserID:         sub.UserID,
		FileName:       sub.FileName,
		FileSize:       int64(len(sub.Data)),
		CreatedAt:      r.created,
	}, Event{Step: StatusUploading, Status: StepInProgress, Progress: Progress(StatusUploading),
		Message: fmt.Sprintf("Received %s (%d bytes)", sub.FileName, len(sub.Data)), CreatedAt: r.created})
	if err != nil {
		r.log.Error("create import job failed", zap.Error(err))
		s.Metrics.JobFinished(string(StatusFailed))
		return "", newError(KindStorage, "create job", err)
	}
	r.log.Info("import started", zap.String("file", sub.FileName), zap.Int("bytes", len(sub.Data)))

	if err := r.pipeline(ctx); err != nil {
		return r.id, r.fail(ctx, err)
	}
	s.Metrics.JobFinished(string(StatusReady))
	r.log.Info("import ready", zap.Duration("took", s.now().Sub(r.created)))
	return r.id, nil
}

// run holds the state of one pipeline execution.
type run struct {
	svc     *Service
	sub     Submission
	id      string
	created time.Time
	log     *zap.Logger

	archive   *archive.Archive
	manifest  parser.Manifest
	pages     map[string]string
	found     []assets.Asset
	files     *resolve.Files
	relocated assets.Result
	structure []byte
	summary   string
}

type stageFunc func(ctx context.Context) (msg string, u Update, err error)

func (r *run) pipeline(ctx context.Context) error {
	stages := []struct {
		step  Status
		start string
		fn    stageFunc
	}{
		{StatusUploading, "Storing package", r.storePackage},
		{StatusValidating, "Validating package", r.validate},
		{StatusExtracting, "Extracting content", r.extract},
		{StatusParsingContent, "Indexing content pages", r.parseContent},
		{StatusProcessingAssets, "Relocating media assets", r.processAssets},
		{StatusMapping, "Building course structure", r.mapCourse},
	}
	for _, st := range stages {
		if err := r.stage(ctx, st.step, st.start, st.fn); err != nil {
			return err
		}
	}
	// The ready event carries the structure so both commit together.
	ready := Event{Step: StatusReady, Status: StepCompleted, Message: r.summary, Progress: Progress(StatusReady)}
	if err := r.append(ctx, ready, Update{Structure: r.structure}); err != nil {
		return newError(KindStorage, string(StatusReady), err)
	}
	return nil
}

// stage records start and completion of one step around fn. The uploading
// step already has its start event from job creation.
func (r *run) stage(ctx context.Context, step Status, start string, fn stageFunc) error {
	began := time.Now()
	progress := Progress(step)
	if step != StatusUploading {
		if err := r.append(ctx, Event{Step: step, Status: StepInProgress, Message: start, Progress: progress}, Update{}); err != nil {
			return newError(KindStorage, string(step), err)
		}
	}
	msg, u, err := fn(ctx)
	r.svc.Metrics.ObserveStage(string(step), time.Since(began))
	if err != nil {
		var e *Error
		if !errors.As(err, &e) {
			err = newError(KindInternal, string(step), err)
		}
		return err
	}
	if step == StatusUploading {
		progress = 10
	}
	if err := r.append(ctx, Event{Step: step, Status: StepCompleted, Message: msg, Progress: progress}, u); err != nil {
		return newError(KindStorage, string(step), err)
	}
	r.log.Info("import stage completed", zap.String("stage", string(step)), zap.String("message", msg))
	return nil
}

func (r *run) append(ctx context.Context, e Event, u Update) error {
	e.CreatedAt = r.svc.now()
	return r.svc.Store.Append(ctx, r.id, e, u)
}

// fail records the terminal failed event. It is written even when ctx has
// expired so a timed-out job does not stay in a running state.
func (r *run) fail(ctx context.Context, err error) error {
	var e *Error
	if !errors.As(err, &e) {
		e = newError(KindInternal, "", err)
	}
	r.log.Error("import failed", zap.String("kind", e.Kind.String()), zap.Error(e))
	r.svc.Metrics.JobFinished(string(StatusFailed))

	rec := context.WithoutCancel(ctx)
	ferr := r.append(rec, Event{Step: StatusFailed, Status: StepFailed, Message: e.Error(), Progress: 0}, Update{})
	if ferr != nil && !errors.Is(ferr, ErrTerminal) {
		r.log.Error("record import failure", zap.Error(ferr))
	}
	return e
}

func (r *run) storePackage(ctx context.Context) (string, Update, error) {
	key := storage.PackageKey(r.sub.OrganizationID, r.id, r.sub.FileName, r.created)
	stored, err := r.svc.Blobs.Put(ctx, key, bytes.NewReader(r.sub.Data))
	if err != nil {
		return "", Update{}, newError(KindStorage, "store package", err)
	}
	u, err := r.svc.Blobs.URL(stored)
	if err != nil {
		return "", Update{}, newError(KindStorage, "store package", err)
	}
	return "Package stored", Update{FileURL: u}, nil
}

func (r *run) validate(ctx context.Context) (string, Update, error) {
	a, err := archive.Open(r.sub.Data)
	if err != nil {
		return "", Update{}, newError(KindValidation, string(StatusValidating), err)
	}
	r.archive = a

	m, err := parser.Load(a)
	switch {
	case errors.Is(err, parser.ErrMalformed), errors.Is(err, parser.ErrNoOrganizations):
		return "", Update{}, newError(KindParse, string(StatusValidating), err)
	case err != nil:
		return "", Update{}, newError(KindValidation, string(StatusValidating), err)
	}
	r.manifest = m

	snap, err := json.Marshal(m)
	if err != nil {
		return "", Update{}, err
	}
	msg := fmt.Sprintf("Manifest parsed: %q, %d organizations, %d items, %d resources",
		m.Title, len(m.Organizations), m.ItemCount(), len(m.Resources))
	return msg, Update{Manifest: snap}, nil
}

func (r *run) extract(ctx context.Context) (string, Update, error) {
	r.pages = make(map[string]string)
	for _, p := range r.archive.Files() {
		if err := ctx.Err(); err != nil {
			return "", Update{}, err
		}
		if !resolve.IsContentFile(p) {
			continue
		}
		text, err := r.archive.ReadText(p)
		if err != nil {
			r.log.Warn("skip unreadable content file", zap.String("path", p), zap.Error(err))
			continue
		}
		r.pages[p] = text
	}
	r.found = assets.Discover(r.archive)
	return fmt.Sprintf("Extracted %d content files and found %d media assets", len(r.pages), len(r.found)), Update{}, nil
}

func (r *run) parseContent(ctx context.Context) (string, Update, error) {
	r.files = resolve.NewFiles(r.pages)
	msg := fmt.Sprintf("Indexed %d content pages", r.files.Len())
	if len(r.found) == 0 {
		msg += "; the package contains no media assets"
		r.log.Warn("package has no media assets", zap.Int("content_files", r.files.Len()))
	}
	return msg, Update{}, nil
}

func (r *run) processAssets(ctx context.Context) (string, Update, error) {
	p := &assets.Processor{
		Store:     r.svc.Blobs,
		Log:       r.log,
		Metrics:   r.svc.Metrics,
		MaxAssets: r.svc.MaxAssets,
		Workers:   r.svc.AssetWorkers,
	}
	res, err := p.Relocate(ctx, r.archive, r.found, r.sub.OrganizationID, r.id, r.created)
	if err != nil {
		return "", Update{}, err
	}
	r.relocated = res
	msg := fmt.Sprintf("Relocated %d of %d assets", res.Uploaded, len(r.found))
	if res.Failed > 0 || res.Skipped > 0 {
		msg += fmt.Sprintf(" (%d failed, %d over the limit)", res.Failed, res.Skipped)
	}
	return msg, Update{}, nil
}

func (r *run) mapCourse(ctx context.Context) (string, Update, error) {
	bg := r.sub.BackgroundImageURL
	if bg == "" {
		bg = r.relocated.FirstImage(r.found)
	}
	m := &scorm.Mapper{Resolver: r.svc.Resolver, Log: r.log, Metrics: r.svc.Metrics}
	c, err := m.Map(ctx, scorm.Input{
		Manifest:           r.manifest,
		Files:              r.files,
		Assets:             r.relocated.URLs,
		AssetCount:         len(r.found),
		BackgroundImageURL: bg,
		ImportedAt:         r.svc.now(),
	})
	if err != nil {
		return "", Update{}, err
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return "", Update{}, err
	}

	r.structure = doc
	r.summary = fmt.Sprintf("Import complete: %d modules, %d lessons, %d slides",
		len(c.Modules), c.LessonCount(), c.SlideCount())
	if c.Metadata.UnresolvedItems > 0 {
		r.summary += fmt.Sprintf(", %d without resolvable content", c.Metadata.UnresolvedItems)
	}
	return fmt.Sprintf("Mapped %d modules and %d lessons", len(c.Modules), c.LessonCount()), Update{}, nil
}
