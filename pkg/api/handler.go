// pkg/api/handler.go
package api

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

	"audio-transcriber/pkg/format"
	"audio-transcriber/pkg/models"
	"audio-transcriber/pkg/pipeline"
	"audio-transcriber/pkg/storage"

	"github.com/gorilla/mux"
)

const maxMemory = 32 << 20

type Handlers struct {
	manager *pipeline.Manager
	tempDir string
}

// NewHandlers serves jobs from manager. Uploads are spooled into tempDir,
// or the system temp directory when it is empty.
func NewHandlers(manager *pipeline.Manager, tempDir string) *Handlers {
	return &Handlers{
		manager: manager,
		tempDir: tempDir,
	}
}

// NewRouter registers every route on a fresh mux router.
func NewRouter(h *Handlers) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/transcriptions", h.UploadHandler).Methods("POST")
	router.HandleFunc("/jobs", h.ListJobsHandler).Methods("GET")
	router.HandleFunc("/jobs/{id}", h.GetJobHandler).Methods("GET")
	router.HandleFunc("/jobs/{id}", h.CancelJobHandler).Methods("DELETE")
	router.HandleFunc("/jobs/{id}/transcript", h.TranscriptHandler).Methods("GET")
	router.HandleFunc("/ws", h.WebSocketHandler)
	return router
}

func (h *Handlers) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	task := models.Task(r.FormValue("task"))
	switch task {
	case "", models.TaskTranscribe, models.TaskTranslate:
	default:
		http.Error(w, "task must be transcribe or translate", http.StatusBadRequest)
		return
	}
	language := r.FormValue("language")
	if language != "" && len(language) != 2 {
		http.Error(w, "language must be an ISO-639-1 code", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "audio file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	inputPath, err := h.spool(file, header.Filename)
	if err != nil {
		log.Printf("API: failed to store upload %s: %v", header.Filename, err)
		http.Error(w, "Failed to store audio file", http.StatusInternalServerError)
		return
	}

	job := models.NewJob(header.Filename, inputPath, task)
	job.Language = language
	job.Prompt = r.FormValue("prompt")

	log.Printf("API: Transcription requested: JobID=%s, File=%s, Size=%d bytes", job.ID, job.Filename, header.Size)

	if err := h.manager.Submit(job); err != nil {
		status := http.StatusServiceUnavailable
		if !errors.Is(err, pipeline.ErrQueueFull) && !errors.Is(err, pipeline.ErrShuttingDown) {
			status = http.StatusInternalServerError
		}
		// A rejected job was already finished by the manager, which removes its input.
		if !errors.Is(err, pipeline.ErrQueueFull) {
			os.Remove(inputPath)
		}
		http.Error(w, fmt.Sprintf("Failed to submit job: %v", err), status)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (h *Handlers) spool(src io.Reader, name string) (string, error) {
	dst, err := os.CreateTemp(h.tempDir, "upload-*"+filepath.Ext(name))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

func (h *Handlers) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.manager.Jobs()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}

	// Listings stay small; fetch a job to get its transcript.
	summaries := make([]models.Job, 0, len(jobs))
	for _, job := range jobs {
		summary := *job
		summary.Transcript = nil
		summaries = append(summaries, summary)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  summaries,
		"count": len(summaries),
	})
}

func (h *Handlers) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := h.manager.Job(id)
	if err != nil {
		jobError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handlers) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.manager.Cancel(id); err != nil {
		jobError(w, id, err)
		return
	}
	log.Printf("API: Cancel requested: JobID=%s", id)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": id,
		"status": "cancelling",
	})
}

func (h *Handlers) TranscriptHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	f := format.FormatJSON
	if name := r.URL.Query().Get("format"); name != "" {
		parsed, err := format.ParseFormat(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f = parsed
	}

	job, err := h.manager.Job(id)
	if err != nil {
		jobError(w, id, err)
		return
	}
	if job.Transcript == nil {
		if job.Status.Finished() {
			http.Error(w, fmt.Sprintf("job %s has no transcript: %s", id, job.Error), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, fmt.Sprintf("job %s is still %s", id, job.Status), http.StatusConflict)
		return
	}

	data, err := format.Render(job.Transcript, f)
	if err != nil {
		log.Printf("API: failed to render job %s as %s: %v", id, f, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", id+f.Extension()))
	if job.Transcript.Partial {
		w.Header().Set("X-Transcript-Partial", "true")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func jobError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, storage.ErrJobNotFound):
		http.Error(w, fmt.Sprintf("job %s not found", id), http.StatusNotFound)
	case errors.Is(err, pipeline.ErrJobFinished):
		http.Error(w, fmt.Sprintf("job %s already finished", id), http.StatusConflict)
	default:
		log.Printf("API: job %s: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
