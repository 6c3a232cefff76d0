// Package kernel is the HTTP surface of the service: job submission, status
// polling, SSE streaming and artifact downloads.
package kernel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"

	"github.com/hexforge/reliefd/internal/core/domain"
	"github.com/hexforge/reliefd/internal/core/ports"
	"github.com/hexforge/reliefd/internal/core/services"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// maxUploadBytes bounds the multipart form kept in memory before
	// spilling to disk. Source images are small grayscale files.
	maxUploadBytes = 64 << 20
)

type Server struct {
	logger    *slog.Logger
	store     ports.JobStore
	engine    ports.GeometryEngine
	scheduler *services.JobScheduler
	eventBus  *services.EventBus
	audit     ports.AuditLog // optional
	apiSpec   *openapi3.T    // optional, see SetAPISpec

	assetsDir       string
	assetsURLPrefix string
	uploadTmpDir    string
}

func NewServer(
	logger *slog.Logger,
	store ports.JobStore,
	engine ports.GeometryEngine,
	scheduler *services.JobScheduler,
	eventBus *services.EventBus,
	audit ports.AuditLog,
	assetsDir, assetsURLPrefix, uploadTmpDir string,
) *Server {
	if !strings.HasSuffix(assetsURLPrefix, "/") {
		assetsURLPrefix += "/"
	}
	return &Server{
		logger:          logger,
		store:           store,
		engine:          engine,
		scheduler:       scheduler,
		eventBus:        eventBus,
		audit:           audit,
		assetsDir:       assetsDir,
		assetsURLPrefix: assetsURLPrefix,
		uploadTmpDir:    uploadTmpDir,
	}
}

// Handler returns the http.Handler for the server. Fixed paths go on the mux;
// the wrapper dispatches the /v1/heightmap/jobs/{id}[/...] family, which the
// pre-1.22 mux patterns can't express cleanly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/openapi.json", s.handleOpenAPISpec)
	mux.Handle(s.assetsURLPrefix, http.StripPrefix(s.assetsURLPrefix, http.FileServer(http.Dir(s.assetsDir))))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/heightmap/jobs" {
			switch r.Method {
			case http.MethodPost:
				s.handleCreateJob(w, r)
			case http.MethodGet:
				s.handleListJobs(w, r)
			default:
				s.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
			}
			return
		}

		if rest, ok := strings.CutPrefix(r.URL.Path, "/v1/heightmap/jobs/"); ok {
			parts := strings.Split(rest, "/")
			id := domain.JobID(parts[0])
			switch {
			case len(parts) == 1 && r.Method == http.MethodGet:
				s.handleGetJob(w, r, id)
				return
			case len(parts) == 1 && r.Method == http.MethodDelete:
				s.handleDeleteJob(w, r, id)
				return
			case len(parts) == 2 && parts[1] == "events" && r.Method == http.MethodGet:
				s.handleJobEvents(w, r, id)
				return
			case len(parts) == 2 && parts[1] == "history" && r.Method == http.MethodGet:
				s.handleJobHistory(w, r, id)
				return
			case len(parts) == 3 && parts[1] == "files" && r.Method == http.MethodGet:
				s.handleJobFile(w, r, id, parts[2])
				return
			}
		}

		mux.ServeHTTP(w, r)
	})
}

// handleCreateJob accepts a multipart upload and enqueues the pipeline.
// POST /v1/heightmap/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	// Reject before accepting the upload: a broken engine host should not
	// mint failed job records.
	if err := s.engine.Ready(r.Context()); err != nil {
		var re *domain.ReadinessError
		if errors.As(err, &re) {
			s.writeError(w, http.StatusServiceUnavailable, re.Code, re.Message)
			return
		}
		s.writeError(w, http.StatusServiceUnavailable, domain.CodeEngineNotReady, err.Error())
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_MULTIPART", "invalid multipart form: "+err.Error())
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "MISSING_NAME", "name form field is required")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "MISSING_IMAGE", "image file field is required")
		return
	}
	defer file.Close()
	if header.Size == 0 {
		s.writeError(w, http.StatusBadRequest, "EMPTY_UPLOAD", "uploaded image is empty")
		return
	}

	uploadName := filepath.Base(header.Filename)
	if uploadName == "" || uploadName == "." || uploadName == string(filepath.Separator) {
		uploadName = "upload.png"
	}

	// Stage the upload before creating any job record, so a failed write
	// leaves no half-initialized job behind.
	staged, err := s.stageUpload(file)
	if err != nil {
		s.logger.Error("failed to stage upload", "error", err)
		s.writeError(w, http.StatusInternalServerError, "UPLOAD_ERROR", "failed to persist upload")
		return
	}
	defer os.Remove(staged)

	// Every remaining form field is a candidate engine parameter. Unknown
	// keys are dropped later by the schema, deterministically.
	rawParams := make(map[string]any)
	for key, values := range r.MultipartForm.Value {
		if key == "name" || len(values) == 0 {
			continue
		}
		rawParams[key] = values[0]
	}

	job, err := s.store.Create(r.Context(), name, uploadName)
	if err != nil {
		s.logger.Error("failed to create job record", "error", err)
		s.writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to create job record")
		return
	}

	imagePath := filepath.Join(job.InputsDir(), uploadName)
	if err := moveFile(staged, imagePath); err != nil {
		s.logger.Error("failed to save upload", "job_id", job.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "UPLOAD_ERROR", "failed to persist upload")
		return
	}

	req := services.RunRequest{JobID: job.ID, ImagePath: imagePath, RawParams: rawParams}
	if err := s.scheduler.Submit(r.Context(), req); err != nil {
		s.logger.Error("failed to submit job", "job_id", job.ID, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "QUEUE_FULL", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"ok":         true,
		"job_id":     job.ID,
		"status":     job.Status,
		"status_url": "/v1/heightmap/jobs/" + string(job.ID),
	})
}

// handleGetJob returns one job record.
// GET /v1/heightmap/jobs/{id}?include_raw=1
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, id domain.JobID) {
	job, err := s.store.Read(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to read job", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to read job record")
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", fmt.Sprintf("no such job: %s", id))
		return
	}

	// The raw payload is a debugging surface; strip it unless asked for.
	if r.URL.Query().Get("include_raw") != "1" {
		job.ResultRaw = nil
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// handleListJobs returns a page of records, newest first.
// GET /v1/heightmap/jobs?limit=50&offset=0
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	offset := 0

	if r.URL.Query().Has("limit") {
		if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
			s.writeError(w, http.StatusBadRequest, "INVALID_LIMIT", err.Error())
			return
		}
	}
	if r.URL.Query().Has("offset") {
		if err := runtime.BindQueryParameter("form", true, false, "offset", r.URL.Query(), &offset); err != nil {
			s.writeError(w, http.StatusBadRequest, "INVALID_OFFSET", err.Error())
			return
		}
	}
	if limit < 1 || limit > maxListLimit {
		s.writeError(w, http.StatusBadRequest, "INVALID_LIMIT", fmt.Sprintf("limit must be in [1, %d]", maxListLimit))
		return
	}
	if offset < 0 {
		s.writeError(w, http.StatusBadRequest, "INVALID_OFFSET", "offset must be >= 0")
		return
	}

	page, err := s.store.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to list job records")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(page)
}

// handleDeleteJob removes a job record. Artifacts stay on disk.
// DELETE /v1/heightmap/jobs/{id}
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request, id domain.JobID) {
	existed, err := s.store.Delete(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to delete job", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to delete job record")
		return
	}
	if !existed {
		s.writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", fmt.Sprintf("no such job: %s", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleJobHistory returns the audited status transitions for a job.
// GET /v1/heightmap/jobs/{id}/history
func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request, id domain.JobID) {
	if s.audit == nil {
		s.writeError(w, http.StatusNotFound, "AUDIT_DISABLED", "audit log is not configured")
		return
	}

	transitions, err := s.audit.ListTransitions(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to list job transitions", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "AUDIT_ERROR", "failed to read job history")
		return
	}
	if transitions == nil {
		transitions = []domain.JobTransition{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":      id,
		"transitions": transitions,
		"count":       len(transitions),
	})
}

// handleJobFile serves one job-local artifact.
// GET /v1/heightmap/jobs/{id}/files/{filename}
func (s *Server) handleJobFile(w http.ResponseWriter, r *http.Request, id domain.JobID, filename string) {
	job, err := s.store.Read(r.Context(), id)
	if err != nil || job == nil {
		s.writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", fmt.Sprintf("no such job: %s", id))
		return
	}

	// Base-name only: the path component can't point outside outputs/.
	name := filepath.Base(filename)
	if name != filename || name == "." || name == "" {
		s.writeError(w, http.StatusBadRequest, "INVALID_FILENAME", "invalid artifact filename")
		return
	}

	path := filepath.Join(job.OutputsDir(), name)
	if _, err := os.Stat(path); err != nil {
		// Preview shots live one level down.
		path = filepath.Join(job.PreviewsDir(), name)
		if _, err := os.Stat(path); err != nil {
			s.writeError(w, http.StatusNotFound, "FILE_NOT_FOUND", fmt.Sprintf("no such artifact: %s", name))
			return
		}
	}

	http.ServeFile(w, r, path)
}

// handleHealth reports liveness plus engine readiness.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	if err := s.engine.Ready(r.Context()); err != nil {
		status["engine"] = err.Error()
	} else {
		status["engine"] = "ready"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// writeError emits the structured error envelope with a fresh trace id so a
// client report can be matched against the logs.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	traceID := uuid.New().String()
	s.logger.Warn("request rejected", "status", status, "code", code, "message", message, "trace_id", traceID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"ok": false,
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"trace_id": traceID,
	})
}

// stageUpload copies the upload into the tmp dir and returns the staged path.
func (s *Server) stageUpload(src io.Reader) (string, error) {
	if err := os.MkdirAll(s.uploadTmpDir, 0o755); err != nil {
		return "", err
	}
	out, err := os.CreateTemp(s.uploadTmpDir, "upload-*")
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

// moveFile renames when possible and falls back to copy across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
