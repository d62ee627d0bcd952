// Package api holds the wire types of the doctrans HTTP surface.
package api

import "time"

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Detail    string `json:"detail,omitempty"`
}

// UploadResponse describes a stored document. UploadURL is a
// blob-scoped capability for writing the stored object directly.
type UploadResponse struct {
	Container   string    `json:"container"`
	BlobName    string    `json:"blob_name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	UploadURL   string    `json:"upload_url"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// TranslateRequest starts an asynchronous translation job.
type TranslateRequest struct {
	SourceBlob      string `json:"source_blob"`
	TargetLanguage  string `json:"target_language"`
	SourceLanguage  string `json:"source_language,omitempty"`
	SourceContainer string `json:"source_container,omitempty"`
	TargetContainer string `json:"target_container,omitempty"`
}

// JobResponse is one translation job snapshot.
type JobResponse struct {
	JobID           string    `json:"job_id"`
	Status          string    `json:"status"`
	SourceContainer string    `json:"source_container"`
	SourceBlob      string    `json:"source_blob"`
	TargetContainer string    `json:"target_container"`
	TargetBlob      string    `json:"target_blob"`
	SourceLanguage  string    `json:"source_language,omitempty"`
	TargetLanguage  string    `json:"target_language"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Deadline        time.Time `json:"deadline"`

	DocumentsTotal     int     `json:"documents_total"`
	DocumentsCompleted int     `json:"documents_completed"`
	DocumentsFailed    int     `json:"documents_failed"`
	Progress           float64 `json:"progress_percentage"`

	ErrorMessage string `json:"error_message,omitempty"`
	OperationID  string `json:"operation_id,omitempty"`
}

// JobListResponse lists job snapshots, newest first.
type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Count int           `json:"count"`
}

// DownloadResponse carries a capability URL for one document together
// with the document's stored metadata.
type DownloadResponse struct {
	URL         string    `json:"url"`
	Permissions string    `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
	FileSize    int64     `json:"file_size"`
	ContentType string    `json:"content_type,omitempty"`
}

// ValidationResponse reports document admissibility.
type ValidationResponse struct {
	Valid            bool     `json:"valid"`
	FormatSupported  bool     `json:"format_supported"`
	SizeWithinLimits bool     `json:"size_within_limits"`
	Errors           []string `json:"validation_errors,omitempty"`
}

// ObjectResponse describes a listed document.
type ObjectResponse struct {
	BlobName     string    `json:"blob_name"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Language describes one supported translation language.
type Language struct {
	Name       string `json:"name"`
	NativeName string `json:"nativeName"`
	Direction  string `json:"dir"`
}

// LanguagesResponse is the supported language catalogue.
type LanguagesResponse struct {
	Translation map[string]Language `json:"translation"`
}

// Health states.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// HealthResponse is the deep health report.
type HealthResponse struct {
	Status               string `json:"status"`
	Configured           bool   `json:"configured"`
	StorageAccessible    bool   `json:"storage_accessible"`
	TranslatorAccessible bool   `json:"translator_accessible"`
}
