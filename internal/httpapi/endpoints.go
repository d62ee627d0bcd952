package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"pkt.systems/doctrans/api"
	"pkt.systems/doctrans/internal/jobs"
	"pkt.systems/doctrans/internal/uuidv7"
)

// handleUpload stores a document under a sanitized unique name.
//
//	@Summary  Upload a document
//	@Tags     documents
//	@Accept   multipart/form-data
//	@Success  201 {object} api.UploadResponse
//	@Router   /upload [post]
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		return formFileError(err)
	}
	defer file.Close()

	container := strings.TrimSpace(r.FormValue("container"))
	info, err := h.store.Upload(r.Context(), container, header.Filename, file, header.Size)
	if err != nil {
		return err
	}
	uploadURL, err := h.store.UploadURL(r.Context(), info.Container, info.Name)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusCreated, api.UploadResponse{
		Container:   info.Container,
		BlobName:    info.Name,
		Size:        info.Size,
		ContentType: info.ContentType,
		UploadURL:   uploadURL.URL,
		UploadedAt:  info.LastModified,
	}, nil)
	return nil
}

// handleTranslate creates a translation job and admits it to the pool.
//
//	@Summary  Start an asynchronous translation job
//	@Tags     jobs
//	@Success  202 {object} api.JobResponse
//	@Failure  503 {object} api.ErrorResponse "queue_full"
//	@Router   /translate [post]
func (h *Handler) handleTranslate(w http.ResponseWriter, r *http.Request) error {
	var req api.TranslateRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return err
	}
	req.SourceBlob = strings.TrimSpace(req.SourceBlob)
	req.TargetLanguage = strings.TrimSpace(req.TargetLanguage)
	if req.SourceBlob == "" {
		return badRequest("source_blob is required")
	}
	if req.TargetLanguage == "" {
		return badRequest("target_language is required")
	}
	sourceContainer := req.SourceContainer
	if sourceContainer == "" {
		sourceContainer = h.store.SourceContainer()
	}
	targetContainer := req.TargetContainer
	if targetContainer == "" {
		targetContainer = h.store.TargetContainer()
	}
	if _, err := h.store.Stat(r.Context(), sourceContainer, req.SourceBlob); err != nil {
		return err
	}

	job := jobs.Job{
		ID:              uuidv7.New(),
		SourceContainer: sourceContainer,
		SourceBlob:      req.SourceBlob,
		TargetContainer: targetContainer,
		TargetBlob:      "translated_" + req.SourceBlob,
		SourceLanguage:  strings.TrimSpace(req.SourceLanguage),
		TargetLanguage:  req.TargetLanguage,
	}
	accepted, err := h.orch.Submit(job)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusAccepted, toJobResponse(accepted), nil)
	return nil
}

// handleJobGet returns one job snapshot.
func (h *Handler) handleJobGet(w http.ResponseWriter, r *http.Request) error {
	job, ok := h.registry.Get(r.PathValue("id"))
	if !ok {
		return jobs.ErrNotFound
	}
	h.writeJSON(w, http.StatusOK, toJobResponse(job), nil)
	return nil
}

// handleJobCancel cancels a pending or running job.
func (h *Handler) handleJobCancel(w http.ResponseWriter, r *http.Request) error {
	job, err := h.orch.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, toJobResponse(job), nil)
	return nil
}

// handleJobs lists jobs newest first.
func (h *Handler) handleJobs(w http.ResponseWriter, r *http.Request) error {
	limit, err := parseLimit(r.URL.Query().Get("limit"), 50, 500)
	if err != nil {
		return err
	}
	list := h.registry.List(limit)
	resp := api.JobListResponse{Jobs: make([]api.JobResponse, 0, len(list)), Count: len(list)}
	for _, job := range list {
		resp.Jobs = append(resp.Jobs, toJobResponse(job))
	}
	h.writeJSON(w, http.StatusOK, resp, nil)
	return nil
}

// handleDownload issues a read-only capability URL for a stored blob.
//
//	@Summary  Issue a download URL
//	@Tags     documents
//	@Success  200 {object} api.DownloadResponse
//	@Failure  404 {object} api.ErrorResponse "blob_not_found"
//	@Router   /download/{blob_name} [get]
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) error {
	signed, info, err := h.store.DownloadURL(r.Context(), r.URL.Query().Get("container"), r.PathValue("blob_name"))
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, api.DownloadResponse{
		URL:         signed.URL,
		Permissions: signed.Permissions.String(),
		ExpiresAt:   signed.ExpiresAt,
		FileSize:    info.Size,
		ContentType: info.ContentType,
	}, nil)
	return nil
}

// handleDocuments lists stored documents in a container.
func (h *Handler) handleDocuments(w http.ResponseWriter, r *http.Request) error {
	infos, err := h.store.List(r.Context(), r.URL.Query().Get("container"))
	if err != nil {
		return err
	}
	out := make([]api.ObjectResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, api.ObjectResponse{
			BlobName:     info.Name,
			Size:         info.Size,
			ContentType:  info.ContentType,
			LastModified: info.LastModified,
		})
	}
	h.writeJSON(w, http.StatusOK, out, nil)
	return nil
}

// handleValidate checks a document without storing it.
func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		return formFileError(err)
	}
	defer file.Close()

	report := h.store.ValidateDocument(header.Filename, header.Size)
	h.writeJSON(w, http.StatusOK, api.ValidationResponse{
		Valid:            report.Valid,
		FormatSupported:  report.FormatSupported,
		SizeWithinLimits: report.SizeWithinLimits,
		Errors:           report.Errors,
	}, nil)
	return nil
}

// handleLanguages returns the supported language catalogue.
func (h *Handler) handleLanguages(w http.ResponseWriter, r *http.Request) error {
	langs, err := h.translator.Languages(r.Context())
	if err != nil {
		return err
	}
	resp := api.LanguagesResponse{Translation: make(map[string]api.Language, len(langs))}
	for code, lang := range langs {
		resp.Translation[code] = api.Language{
			Name:       lang.Name,
			NativeName: lang.NativeName,
			Direction:  lang.Direction,
		}
	}
	h.writeJSON(w, http.StatusOK, resp, nil)
	return nil
}

// handleHealth probes storage and the translation service. Degraded
// means documents can move but translations cannot start.
//
//	@Summary  Deep health check
//	@Tags     ops
//	@Success  200 {object} api.HealthResponse
//	@Router   /health [get]
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) error {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := api.HealthResponse{Configured: h.store != nil && h.translator != nil}
	if h.store != nil {
		resp.StorageAccessible = h.store.Ping(ctx) == nil
	}
	if h.translator != nil {
		resp.TranslatorAccessible = h.translator.Ping(ctx) == nil
	}
	status := http.StatusOK
	switch {
	case !resp.Configured || !resp.StorageAccessible:
		resp.Status = api.HealthUnhealthy
		status = http.StatusServiceUnavailable
	case !resp.TranslatorAccessible:
		resp.Status = api.HealthDegraded
	default:
		resp.Status = api.HealthHealthy
	}
	h.writeJSON(w, status, resp, nil)
	return nil
}

// handleHealthz is the liveness probe.
func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) error {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, nil)
	return nil
}
