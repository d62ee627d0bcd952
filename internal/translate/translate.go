// Package translate is the client for the external document
// translation service: single-document batch submissions plus the
// supported-languages catalogue.
package translate

import (
	"context"
	"errors"
)

// ErrUnavailable wraps transport-level failures talking to the
// translation service.
var ErrUnavailable = errors.New("translate: service unavailable")

// BatchRequest starts a translation of one document. SourceURL and
// TargetURL are blob-scoped capability URLs the service uses directly:
// the source is read through the one, the translated result written
// through the other.
type BatchRequest struct {
	SourceURL      string
	TargetURL      string
	TargetLanguage string
	// SourceLanguage is optional; empty lets the service auto-detect.
	SourceLanguage string
}

// OperationRef identifies an accepted batch.
type OperationRef struct {
	ID string
}

// OperationStatus is a point-in-time view of a batch operation.
type OperationStatus struct {
	ID                 string
	State              string
	Done               bool
	Succeeded          bool
	DocumentsTotal     int
	DocumentsCompleted int
	DocumentsFailed    int
	Error              string
}

// Language describes one supported translation language.
type Language struct {
	Name       string `json:"name"`
	NativeName string `json:"nativeName"`
	Direction  string `json:"dir"`
}

// Translator is the surface the orchestrator and HTTP layer consume.
type Translator interface {
	Start(ctx context.Context, req BatchRequest) (OperationRef, error)
	Status(ctx context.Context, opID string) (OperationStatus, error)
	Languages(ctx context.Context) (map[string]Language, error)
	Ping(ctx context.Context) error
}
