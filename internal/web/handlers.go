package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/bidlog/internal/core"
	"github.com/JonMunkholm/bidlog/internal/logging"
)

// multipartMemory is the part of a multipart form kept in memory; the rest
// spills to temporary files.
const multipartMemory = 8 << 20

// UploadResponse is returned by POST /api/files.
type UploadResponse struct {
	FileID   string         `json:"fileId"`
	FileName string         `json:"fileName"`
	Size     int64          `json:"size"`
	Job      core.JobStatus `json:"job"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"jobs":   s.service.LimiterStatus(),
	})
}

// handleUpload stores a multipart "file" and starts analysing it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user := userID(r.Context())

	// Form overhead on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		respondError(w, r, err, statusForForm(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}
	defer file.Close()

	info, err := s.files.Put(user, header.Filename, file)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	log := logging.WithFields(r.Context(), "user_id", user, "file_id", info.ID)
	log.Info("log uploaded", "file_name", info.Name, "size", info.Size)

	st, err := s.service.Process(r.Context(), core.Request{UserID: user, FileID: info.ID})
	if err != nil {
		// The upload is kept; the client can retry POST /process.
		respondError(w, r, fmt.Errorf("file %s stored: %w", info.ID, err), 0)
		return
	}

	writeJSONStatus(w, http.StatusAccepted, UploadResponse{
		FileID:   info.ID,
		FileName: info.Name,
		Size:     info.Size,
		Job:      st,
	})
}

func statusForForm(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// handleProcess (re)starts analysis of a stored file. ?force=true ignores a
// stored result.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	req := core.Request{
		UserID: userID(r.Context()),
		FileID: chi.URLParam(r, "fileID"),
	}
	if v := r.URL.Query().Get("force"); v != "" {
		force, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, r, fmt.Errorf("%w: invalid force=%q", core.ErrInvalidRequest, v), http.StatusBadRequest)
			return
		}
		req.Force = force
	}

	st, err := s.service.Process(r.Context(), req)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	status := http.StatusAccepted
	if st.State.Terminal() {
		status = http.StatusOK
	}
	writeJSONStatus(w, status, st)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.Result(r.Context(), userID(r.Context()), chi.URLParam(r, "fileID"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleProcessed(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	ok, err := s.service.IsProcessed(r.Context(), userID(r.Context()), fileID)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, map[string]any{"fileId": fileID, "processed": ok})
}

// handleDelete removes an upload and its analysis, cancelling a running job
// on it.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	user := userID(r.Context())
	fileID := chi.URLParam(r, "fileID")
	if err := s.service.Delete(r.Context(), user, fileID); err != nil {
		respondError(w, r, err, 0)
		return
	}
	logging.WithFields(r.Context(), "user_id", user, "file_id", fileID).Info("log deleted")
	w.WriteHeader(http.StatusNoContent)
}

// ownedJob returns the job if it belongs to the calling user. Jobs of other
// users are reported as not found.
func (s *Server) ownedJob(r *http.Request) (core.JobStatus, error) {
	jobID := chi.URLParam(r, "jobID")
	st, err := s.service.Status(jobID)
	if err != nil {
		return core.JobStatus{}, err
	}
	if st.UserID != userID(r.Context()) {
		return core.JobStatus{}, fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	return st, nil
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	st, err := s.ownedJob(r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	st, err := s.ownedJob(r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	if err := s.service.Cancel(st.JobID); err != nil {
		respondError(w, r, err, 0)
		return
	}
	logging.FromContext(r.Context()).Info("job cancel requested", "job_id", st.JobID)

	st, err = s.service.Status(st.JobID)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, st)
}

// handleJobEvents streams job updates as Server-Sent Events. Each progress
// event carries the percentage as its id; a reconnecting client sending
// Last-Event-ID (or ?lastEventId) skips updates it has already seen. The
// stream ends with a "complete" event holding the final status.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	st, err := s.ownedJob(r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	lastID := -1
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastID, _ = strconv.Atoi(v)
	} else if v := r.URL.Query().Get("lastEventId"); v != "" {
		lastID, _ = strconv.Atoi(v)
	}

	updates, err := s.service.Subscribe(st.JobID)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	last := st
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				if final, err := s.service.Status(st.JobID); err == nil {
					last = final
				}
				writeEvent(w, "complete", last.Percent(), last)
				flusher.Flush()
				return
			}
			last = u
			if u.State.Terminal() {
				continue
			}
			pct := u.Percent()
			if pct <= lastID {
				continue
			}
			lastID = pct
			writeEvent(w, "progress", pct, u)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, id int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte("{}")
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
}
