// Package svcfields centralises the structured log fields shared across
// the service so dashboards can rely on stable keys.
package svcfields

import "pkt.systems/pslog"

const (
	// Service is the canonical service name field value.
	Service = "doctrans"
	// KeySubsystem tags a logger with the emitting subsystem.
	KeySubsystem = "subsystem"
	// KeyCorrelationID carries the per-request correlation id.
	KeyCorrelationID = "correlation_id"
	// KeyJobID carries the translation job id.
	KeyJobID = "job_id"
)

// WithSubsystem returns logger tagged for the given subsystem,
// e.g. "doctrans.orchestrator".
func WithSubsystem(logger pslog.Logger, subsystem string) pslog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(KeySubsystem, subsystem)
}
