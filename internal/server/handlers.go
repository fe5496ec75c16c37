package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hyperjump/kotae/internal/answer"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/store"
	"go.uber.org/zap"
)

type uploadedFile struct {
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
}

type failedFile struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

type uploadResponse struct {
	Status        string         `json:"status"`
	UploadedFiles []uploadedFile `json:"uploaded_files"`
	FailedFiles   []failedFile   `json:"failed_files"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Ingest.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		if errors.Is(err, http.ErrNotMultipart) {
			s.respondError(w, http.StatusBadRequest, "No files received.")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.respondError(w, http.StatusBadRequest, "No files received.")
		return
	}

	resp := uploadResponse{Status: "success", UploadedFiles: []uploadedFile{}, FailedFiles: []failedFile{}}
	docs := make([]models.Document, 0, len(headers))
	for _, fh := range headers {
		content, err := readPart(fh)
		if err != nil {
			s.logger.Warn("upload: read part failed", zap.String("filename", fh.Filename), zap.Error(err))
			resp.FailedFiles = append(resp.FailedFiles, failedFile{Filename: fh.Filename, Error: err.Error()})
			continue
		}
		docs = append(docs, models.Document{Filename: filepath.Base(fh.Filename), Content: content})
	}

	owner := OwnerFromContext(r.Context())
	s.logger.Debug("upload request", zap.Int("files", len(docs)), zap.String("owner", owner))
	report := s.ingester.Ingest(r.Context(), docs, owner)
	for _, res := range report.Results {
		if res.OK() {
			resp.UploadedFiles = append(resp.UploadedFiles, uploadedFile{Filename: res.Filename, Chunks: res.FragmentCount})
		} else {
			resp.FailedFiles = append(resp.FailedFiles, failedFile{Filename: res.Filename, Error: res.Err.Error()})
		}
	}
	if len(resp.UploadedFiles) == 0 && len(resp.FailedFiles) > 0 {
		resp.Status = "failed"
	}
	respondJSON(w, http.StatusOK, resp)
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		req.Question = r.FormValue("question")
	}
	req.Owner = OwnerFromContext(r.Context())
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, "Empty question received.")
		return
	}

	s.logger.Debug("query request", zap.String("question", req.Question), zap.String("owner", req.Owner))
	answered, err := s.answerer.Answer(r.Context(), req.Question, req.Owner)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, answered)
	case errors.Is(err, models.ErrEmptyQuestion):
		s.respondError(w, http.StatusBadRequest, "Empty question received.")
	case errors.Is(err, answer.ErrAnswerGenerationFailed):
		s.logger.Error("query: answer generation failed", zap.Error(err))
		respondJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error(), "question": req.Question})
	default:
		s.logger.Error("query failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Kotae backend is running",
		"endpoints": []string{"/upload", "/query", "/ping", "/health", "/api/v1/status"},
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive", "message": "Backend running smoothly"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fragments, err := s.status.Count(ctx)
	if err != nil {
		s.logger.Error("status: count fragments failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sources, err := s.status.SourceCount(ctx)
	if err != nil {
		s.logger.Error("status: count sources failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"fragments": fragments,
		"sources":   sources,
		"config": map[string]interface{}{
			"embedding_provider":   s.cfg.Embedding.Provider,
			"embedding_dimensions": s.cfg.Embedding.Dimensions,
			"completion_model":     s.cfg.Completion.Model,
			"chunk_size":           s.cfg.Chunking.ChunkSize,
			"chunk_overlap":        s.cfg.Chunking.OverlapOrDefault(),
			"top_k":                s.cfg.Retrieval.TopK,
			"hybrid":               s.cfg.Retrieval.Hybrid,
			"multi_tenant":         s.cfg.Auth.MultiTenant,
			"database_path":        s.cfg.Storage.DatabasePath,
		},
	}

	diskBytes, err := s.status.DiskUsageBytes()
	if err == nil && s.cfg.Storage.KeywordIndexPath != "" {
		var kw int64
		kw, err = store.DiskUsageBytes(s.cfg.Storage.KeywordIndexPath)
		diskBytes += kw
	}
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	} else {
		s.logger.Warn("status: disk usage failed", zap.Error(err))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := s.cfg.Watch.SyncExisting
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.cfg.Watch.Directories = s.watch.Directories()
	if s.configPath == "" {
		return
	}
	if err := config.SaveWatchDirectories(s.configPath, s.cfg.Watch.Directories); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
