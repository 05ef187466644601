package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/stylizer/internal/api/response"
	"github.com/kiranshivaraju/stylizer/internal/artifact"
	"github.com/kiranshivaraju/stylizer/internal/job"
	"github.com/kiranshivaraju/stylizer/internal/store"
	"github.com/kiranshivaraju/stylizer/pkg/models"
)

// UploadField is the multipart field carrying the image.
const UploadField = "image"

// Room for multipart boundaries and headers on top of the file itself.
const multipartOverhead = 1 << 20

// parse buffers at most this much in memory; the rest spills to temp files.
const maxFormMemory = 1 << 20

// ImageService defines the interface the image handlers depend on.
type ImageService interface {
	Submit(ctx context.Context, u *artifact.Upload) (*models.Job, error)
	Status(ctx context.Context, id int64) (*job.StatusView, error)
	Delete(ctx context.Context, id int64) error
}

type uploadResponse struct {
	ID               int64  `json:"id"`
	Status           string `json:"status"`
	OriginalFileName string `json:"originalFileName"`
}

// NewUploadHandler returns an http.HandlerFunc for POST /api/images/upload.
func NewUploadHandler(svc ImageService, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)

		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeUploadError(w, artifact.ErrTooLarge)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected a multipart/form-data body", nil)
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		file, header, err := r.FormFile(UploadField)
		if err != nil {
			writeUploadError(w, artifact.ErrMissingFile)
			return
		}
		defer file.Close()

		j, err := svc.Submit(r.Context(), &artifact.Upload{
			FileName: header.Filename,
			Size:     header.Size,
			Content:  file,
		})
		if err != nil {
			if errors.Is(err, artifact.ErrValidation) {
				writeUploadError(w, err)
				return
			}
			slog.Error("upload failed", "error", err, "file_name", header.Filename)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process upload", nil)
			return
		}

		response.JSON(w, uploadResponse{
			ID:               j.ID,
			Status:           j.Status,
			OriginalFileName: j.OriginalFileName,
		})
	}
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/images/{id}.
func NewStatusHandler(svc ImageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}

		view, err := svc.Status(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Image not found", nil)
				return
			}
			slog.Error("status lookup failed", "error", err, "job_id", id)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch image", nil)
			return
		}

		response.JSON(w, view)
	}
}

// NewDeleteHandler returns an http.HandlerFunc for DELETE /api/images/{id}.
func NewDeleteHandler(svc ImageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}

		err := svc.Delete(r.Context(), id)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Image not found", nil)
		case errors.Is(err, job.ErrJobActive):
			response.Error(w, http.StatusConflict, "JOB_ACTIVE", "Image is still being processed", nil)
		default:
			slog.Error("delete failed", "error", err, "job_id", id)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete image", nil)
		}
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_ID", "Image id must be an integer", nil)
		return 0, false
	}
	return id, true
}

func writeUploadError(w http.ResponseWriter, err error) {
	code := "INVALID_UPLOAD"
	message := "Invalid upload"
	switch {
	case errors.Is(err, artifact.ErrMissingFile):
		code, message = "MISSING_FILE", "No image uploaded"
	case errors.Is(err, artifact.ErrUnsupportedType):
		code, message = "INVALID_FILE_TYPE", "Only JPEG and PNG images are allowed"
	case errors.Is(err, artifact.ErrTooLarge):
		code, message = "FILE_TOO_LARGE", "Image must be 10MB or smaller"
	}
	response.Error(w, http.StatusBadRequest, code, message, nil)
}
