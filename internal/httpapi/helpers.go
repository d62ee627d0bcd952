package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"pkt.systems/doctrans/api"
	"pkt.systems/doctrans/internal/docstore"
	"pkt.systems/doctrans/internal/jobs"
	"pkt.systems/doctrans/internal/orchestrator"
	"pkt.systems/doctrans/internal/storage"
	"pkt.systems/doctrans/internal/translate"
)

// convertError maps domain errors onto the HTTP error taxonomy.
func convertError(err error) httpError {
	var verr *docstore.ValidationError
	switch {
	case errors.As(err, &verr):
		return validationError(verr.Report)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrContainerNotFound):
		return httpError{Status: http.StatusNotFound, Code: "blob_not_found", Detail: "document does not exist"}
	case errors.Is(err, jobs.ErrNotFound):
		return httpError{Status: http.StatusNotFound, Code: "job_not_found", Detail: "unknown job id"}
	case errors.Is(err, jobs.ErrTerminal):
		return httpError{Status: http.StatusBadRequest, Code: "job_terminal", Detail: "job already reached a terminal state"}
	case errors.Is(err, orchestrator.ErrQueueFull):
		return httpError{Status: http.StatusServiceUnavailable, Code: "queue_full", Detail: "translation queue is at capacity", RetryAfter: 5}
	case errors.Is(err, translate.ErrUnavailable):
		return httpError{Status: http.StatusBadGateway, Code: "translator_unavailable", Detail: "translation service is unreachable"}
	}
	return httpError{Status: http.StatusInternalServerError, Code: "internal_error", Detail: "unexpected server error"}
}

func validationError(report docstore.Validation) httpError {
	detail := strings.Join(report.Errors, "; ")
	switch {
	case !report.FormatSupported:
		return httpError{Status: http.StatusBadRequest, Code: "unsupported_format", Detail: detail}
	case !report.SizeWithinLimits:
		return httpError{Status: http.StatusRequestEntityTooLarge, Code: "file_too_large", Detail: detail}
	}
	return httpError{Status: http.StatusBadRequest, Code: "validation_failed", Detail: detail}
}

func badRequest(detail string) httpError {
	return httpError{Status: http.StatusBadRequest, Code: "validation_failed", Detail: detail}
}

// formFileError distinguishes a body that blew the upload cap from a
// malformed multipart form. MaxBytesReader makes FormFile fail with
// *http.MaxBytesError in the former case.
func formFileError(err error) httpError {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return httpError{
			Status: http.StatusRequestEntityTooLarge,
			Code:   "file_too_large",
			Detail: fmt.Sprintf("request body exceeds the %d byte upload limit", maxErr.Limit),
		}
	}
	return badRequest("multipart form field \"file\" is required")
}

// decodeJSONBody decodes a single JSON value and rejects trailing data.
func decodeJSONBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	if dec.More() {
		return badRequest("unexpected trailing data after JSON body")
	}
	return nil
}

func parseLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("limit must be a non-negative integer")
	}
	if n == 0 {
		return def, nil
	}
	if n > max {
		return max, nil
	}
	return n, nil
}

func toJobResponse(job jobs.Job) api.JobResponse {
	return api.JobResponse{
		JobID:              job.ID,
		Status:             string(job.Status),
		SourceContainer:    job.SourceContainer,
		SourceBlob:         job.SourceBlob,
		TargetContainer:    job.TargetContainer,
		TargetBlob:         job.TargetBlob,
		SourceLanguage:     job.SourceLanguage,
		TargetLanguage:     job.TargetLanguage,
		CreatedAt:          job.CreatedAt,
		UpdatedAt:          job.UpdatedAt,
		Deadline:           job.Deadline,
		DocumentsTotal:     job.DocumentsTotal,
		DocumentsCompleted: job.DocumentsCompleted,
		DocumentsFailed:    job.DocumentsFailed,
		Progress:           job.Progress(),
		ErrorMessage:       job.ErrorMessage,
		OperationID:        job.OperationID,
	}
}
