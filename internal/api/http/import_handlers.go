package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	auth "github.com/mind-engage/courseimport/internal/auth/middleware"
	"github.com/mind-engage/courseimport/internal/importjob"
	"github.com/mind-engage/courseimport/internal/logging"
	"github.com/mind-engage/courseimport/internal/rbac"
)

// Importer runs one package through the import pipeline.
type Importer interface {
	Submit(ctx context.Context, sub importjob.Submission) (string, error)
}

// JobReader is the read side of the job store.
type JobReader interface {
	Get(ctx context.Context, id string) (importjob.Job, error)
	List(ctx context.Context, opts importjob.ListOpts) ([]importjob.Job, error)
}

type submitResponse struct {
	Success  bool   `json:"success"`
	ImportID string `json:"importId"`
	Message  string `json:"message"`
}

type errorResponse struct {
	Error    string `json:"error"`
	Details  string `json:"details,omitempty"`
	ImportID string `json:"importId,omitempty"`
}

// ImportHandlers groups the /imports endpoints.
type ImportHandlers struct {
	Importer       Importer
	Jobs           JobReader
	Log            *zap.Logger
	MaxUploadBytes int64
}

// Mount registers the import routes on r. r is expected to run behind the
// JWT middleware.
func (h *ImportHandlers) Mount(r chi.Router) {
	r.With(rbac.Require(rbac.PermImport)).Post("/", h.Submit)
	r.With(rbac.Require(rbac.PermList)).Get("/", h.List)
	r.With(rbac.Require(rbac.PermView)).Get("/{importID}", h.Get)
	r.With(rbac.Require(rbac.PermView)).Get("/{importID}/course", h.Course)
}

// POST /imports (multipart: package|file, organization_id, background_image_url)
func (h *ImportHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	log := logging.For(r.Context(), h.Log)

	user := auth.SubjectFromContext(r.Context())
	if user == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Details: "caller identity required"})
		return
	}

	if h.MaxUploadBytes > 0 {
		if r.ContentLength > h.MaxUploadBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "package too large",
				Details: "limit is " + strconv.FormatInt(h.MaxUploadBytes, 10) + " bytes"})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "package too large",
				Details: "limit is " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid multipart request", Details: err.Error()})
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	orgID := r.FormValue("organization_id")
	f, hdr, err := packageFile(r)
	if err != nil || orgID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing required fields",
			Details: "package file and organization_id are required"})
		return
	}
	defer f.Close()

	if !auth.CanAccessOrganization(r.Context(), orgID) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden", Details: "organization not accessible"})
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read package", Details: err.Error()})
		return
	}

	id, err := h.Importer.Submit(r.Context(), importjob.Submission{
		OrganizationID:     orgID,
		UserID:             user,
		FileName:           hdr.Filename,
		Data:               data,
		BackgroundImageURL: r.FormValue("background_image_url"),
	})
	if err != nil {
		status := statusForKind(importjob.KindOf(err), id)
		if status >= 500 {
			log.Error("import request failed", zap.String("import.id", id), zap.Error(err))
		}
		writeJSON(w, status, errorResponse{Error: "import failed", Details: err.Error(), ImportID: id})
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{Success: true, ImportID: id, Message: "SCORM package imported"})
}

// GET /imports/{importID}
func (h *ImportHandlers) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GET /imports/{importID}/course
func (h *ImportHandlers) Course(w http.ResponseWriter, r *http.Request) {
	job, ok := h.load(w, r)
	if !ok {
		return
	}
	switch job.Status {
	case importjob.StatusReady:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(job.Structure)
	case importjob.StatusFailed:
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "import failed", Details: job.ErrorMessage, ImportID: job.ID})
	default:
		writeJSON(w, http.StatusConflict, errorResponse{Error: "import in progress", Details: string(job.Status), ImportID: job.ID})
	}
}

// GET /imports?org_id=&limit=&offset=
func (h *ImportHandlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orgID := q.Get("org_id")
	if orgID == "" && !rbac.Default().Has(rbac.RoleFromContext(r.Context()), rbac.PermViewAll) {
		orgID = auth.OrganizationFromContext(r.Context())
	}
	if orgID != "" && !auth.CanAccessOrganization(r.Context(), orgID) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden", Details: "organization not accessible"})
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	jobs, err := h.Jobs.List(r.Context(), importjob.ListOpts{OrganizationID: orgID, Limit: limit, Offset: offset})
	if err != nil {
		logging.For(r.Context(), h.Log).Error("list imports failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "list imports"})
		return
	}
	if jobs == nil {
		jobs = []importjob.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"imports": jobs, "limit": limit, "offset": offset})
}

// load fetches the job named in the URL. Jobs of other organizations are
// reported as missing.
func (h *ImportHandlers) load(w http.ResponseWriter, r *http.Request) (importjob.Job, bool) {
	id := chi.URLParam(r, "importID")
	job, err := h.Jobs.Get(r.Context(), id)
	switch {
	case errors.Is(err, importjob.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "import not found", ImportID: id})
		return importjob.Job{}, false
	case err != nil:
		logging.For(r.Context(), h.Log).Error("load import failed", zap.String("import.id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "load import", ImportID: id})
		return importjob.Job{}, false
	}
	if !auth.CanAccessOrganization(r.Context(), job.OrganizationID) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "import not found", ImportID: id})
		return importjob.Job{}, false
	}
	return job, true
}

func packageFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	f, hdr, err := r.FormFile("package")
	if errors.Is(err, http.ErrMissingFile) {
		return r.FormFile("file")
	}
	return f, hdr, err
}

// statusForKind maps a pipeline error to a response code. Validation errors
// raised before a job exists are plain bad requests.
func statusForKind(k importjob.Kind, importID string) int {
	switch k {
	case importjob.KindValidation:
		if importID == "" {
			return http.StatusBadRequest
		}
		return http.StatusUnprocessableEntity
	case importjob.KindParse:
		return http.StatusUnprocessableEntity
	case importjob.KindAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
