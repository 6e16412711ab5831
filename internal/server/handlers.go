package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"lockstep/internal/auth"
	"lockstep/internal/parser"
	"lockstep/internal/record"
	"lockstep/internal/search"
	"lockstep/internal/tasks"
	"lockstep/internal/version"
)

// previewLimit caps how many parsed events the preview response carries.
const previewLimit = 300

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}

	ip := auth.ClientIP(r)
	if !s.loginLimiter.Allow(ip) {
		writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "Too many login attempts")
		return
	}

	var creds loginRequest
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			writeJSONError(w, http.StatusBadRequest, "bad_request", "malformed credentials")
			return
		}
	} else {
		creds.Username = r.FormValue("username")
		creds.Password = r.FormValue("password")
	}

	// Check the password even for unknown usernames so both failure
	// modes take the same time.
	userOK := creds.Username == s.cfg.Auth.Username
	passOK := auth.CheckPassword(s.cfg.Auth.PasswordBcrypt, creds.Password)
	if !userOK || !passOK {
		log.Printf("[Server] failed login for %q from %s", creds.Username, ip)
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Bad credentials")
		return
	}

	token, err := s.signer.Mint(creds.Username)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "could not mint token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type uploadPreviewResponse struct {
	File     string          `json:"file"`
	TempPath string          `json:"temp_path"`
	Count    int             `json:"count"`
	Events   []record.Record `json:"events"`
}

func (s *Server) handleUploadPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "multipart field 'file' is required")
		return
	}
	defer file.Close()

	safeName := filepath.Base(header.Filename)
	switch strings.ToLower(filepath.Ext(safeName)) {
	case ".docx", ".html", ".htm":
	default:
		writeJSONError(w, http.StatusBadRequest, "bad_request", "only .docx and .html are supported")
		return
	}

	year := 0
	if v := r.FormValue("year"); v != "" {
		year, err = strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "bad_request", "year must be a number")
			return
		}
	}

	tmpPath := filepath.Join(s.uploadsDir, fmt.Sprintf("upload_%d_%s", time.Now().Unix(), safeName))
	dst, err := os.Create(tmpPath)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "could not store upload")
		return
	}
	_, copyErr := io.Copy(dst, file)
	closeErr := dst.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "could not store upload")
		return
	}

	events, err := parser.ParseFile(tmpPath, year)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "parse_error", err.Error())
		return
	}

	preview := events
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}
	writeJSON(w, http.StatusOK, uploadPreviewResponse{
		File:     safeName,
		TempPath: tmpPath,
		Count:    len(events),
		Events:   preview,
	})
}

type ingestRequest struct {
	TempPath string `json:"temp_path"`
	Mode     string `json:"mode"`
	Tag      string `json:"tag"`
	Dedupe   *bool  `json:"dedupe"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}

	var req ingestRequest
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "bad_request", "malformed request body")
			return
		}
	} else {
		req.TempPath = r.FormValue("temp_path")
		req.Mode = r.FormValue("mode")
		req.Tag = r.FormValue("tag")
		if v := r.FormValue("dedupe"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "bad_request", "dedupe must be a boolean")
				return
			}
			req.Dedupe = &b
		}
	}
	if req.TempPath == "" {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "temp_path is required")
		return
	}

	path, err := s.resolveUploadPath(req.TempPath)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		writeJSONError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("temp_path invalid or not found: %s", path))
		return
	}

	mode := strings.ToLower(req.Mode)
	if mode == "" {
		mode = tasks.ModeAppend
	}
	if mode != tasks.ModeAppend && mode != tasks.ModeRebuild {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "mode must be 'append' or 'rebuild'")
		return
	}

	dedupe := true
	if req.Dedupe != nil {
		dedupe = *req.Dedupe
	}

	taskID, err := s.runner.Enqueue(r.Context(), tasks.Request{
		Path:     path,
		Filename: filepath.Base(path),
		Mode:     mode,
		Tag:      req.Tag,
		Dedupe:   dedupe,
	})
	if err != nil {
		if errors.Is(err, tasks.ErrBusy) {
			writeJSONError(w, http.StatusServiceUnavailable, "busy", "ingestion queue is full")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "could not enqueue task")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": "queued"})
}

// resolveUploadPath confines temp_path to the uploads directory.
// Relative paths are taken as file names inside it, absolute paths must
// already point into it.
func (s *Server) resolveUploadPath(tempPath string) (string, error) {
	uploadsAbs, err := filepath.Abs(s.uploadsDir)
	if err != nil {
		return "", fmt.Errorf("resolve uploads dir: %w", err)
	}

	p := tempPath
	if !filepath.IsAbs(p) {
		p = filepath.Join(uploadsAbs, filepath.Base(p))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve temp_path: %w", err)
	}

	rel, err := filepath.Rel(uploadsAbs, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", errors.New("temp_path must be inside uploads directory")
	}
	return abs, nil
}

func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}

	q := r.URL.Query()
	page := atoiDefault(q.Get("page"), 1)
	pageSize := atoiDefault(q.Get("page_size"), 8)

	result, err := s.eng.Store().ListUploads(r.Context(), page, pageSize, q.Get("tag"))
	if err != nil {
		log.Printf("[Server] list uploads: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "could not list uploads")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type searchResponse struct {
	Query string       `json:"query"`
	Count int          `json:"count"`
	Hits  []search.Hit `json:"hits"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}

	hits, err := s.searcher.Search(r.Context(), req.Query, req.K)
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			writeJSONError(w, http.StatusBadRequest, "bad_request", "query is empty")
			return
		}
		log.Printf("[Server] search failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "search failed")
		return
	}
	if hits == nil {
		hits = []search.Hit{}
	}

	writeJSON(w, http.StatusOK, searchResponse{Query: req.Query, Count: len(hits), Hits: hits})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	writeJSON(w, http.StatusOK, struct {
		Status  string    `json:"status"`
		Time    time.Time `json:"time"`
		Version string    `json:"version"`
		Uptime  string    `json:"uptime"`
	}{
		Status:  "ok",
		Time:    time.Now(),
		Version: version.Info(),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Name string `json:"name"`
		version.BuildInfo
	}{Name: "lockstep", BuildInfo: version.GetBuildInfo()})
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
