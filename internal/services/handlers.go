package services

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/Lllllllleong/packingslipsorter/internal/jobs"
)

// UploadField is the multipart field carrying the submitted PDFs.
const UploadField = "pdf_files"

// HandleSubmit accepts a multipart upload and answers with the new job id.
func (f *SorterFunction) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, f.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			slog.Warn("Upload exceeds size limit", "limit", maxErr.Limit)
			http.Error(w, "Request Entity Too Large: upload exceeds limit", http.StatusRequestEntityTooLarge)
			return
		}
		slog.Warn("Could not parse multipart form", "error", err)
		http.Error(w, "Bad Request: could not parse upload", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[UploadField]
	if len(headers) == 0 {
		http.Error(w, "Bad Request: no files in field "+UploadField, http.StatusBadRequest)
		return
	}

	uploads, closeAll, err := openUploads(headers)
	defer closeAll()
	if err != nil {
		slog.Warn("Could not open uploaded file", "error", err)
		http.Error(w, "Bad Request: could not read upload", http.StatusBadRequest)
		return
	}

	res, err := f.Submit(r.Context(), uploads)
	if err != nil {
		slog.Error("Failed to submit job", "error", err)
		http.Error(w, "Internal Server Error: could not start processing", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func openUploads(headers []*multipart.FileHeader) ([]jobs.Upload, func(), error) {
	var files []io.Closer
	closeAll := func() {
		for _, c := range files {
			_ = c.Close()
		}
	}
	uploads := make([]jobs.Upload, 0, len(headers))
	for _, h := range headers {
		file, err := h.Open()
		if err != nil {
			return nil, closeAll, err
		}
		files = append(files, file)
		uploads = append(uploads, jobs.Upload{Name: h.Filename, Body: file})
	}
	return uploads, closeAll, nil
}

// HandleStatus reports the status of the job named by the id query parameter.
func (f *SorterFunction) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Bad Request: missing id", http.StatusBadRequest)
		return
	}
	res, err := f.Status(r.Context(), id)
	if errors.Is(err, jobs.ErrJobNotFound) {
		http.Error(w, "Not Found: unknown job", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Failed to read job status", "jobId", id, "error", err)
		http.Error(w, "Internal Server Error: status unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleArchive streams the archive of a finished job.
func (f *SorterFunction) HandleArchive(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Bad Request: missing id", http.StatusBadRequest)
		return
	}
	archive, err := f.Archive(r.Context(), id)
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		http.Error(w, "Not Found: unknown job", http.StatusNotFound)
		return
	case errors.Is(err, jobs.ErrArchiveNotReady):
		http.Error(w, "Conflict: archive not ready", http.StatusConflict)
		return
	case err != nil:
		slog.Error("Failed to open archive", "jobId", id, "error", err)
		http.Error(w, "Internal Server Error: archive unavailable", http.StatusInternalServerError)
		return
	}
	defer archive.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+jobs.ArchiveName+`"`)
	if _, err := io.Copy(w, archive); err != nil {
		slog.Error("Failed to stream archive", "jobId", id, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
