package otel

import "context"

// NoOpExporter is a metrics exporter that does nothing.
type NoOpExporter struct{}

// NewNoOpExporter creates a new no-op exporter for graceful degradation.
func NewNoOpExporter() *NoOpExporter {
	return &NoOpExporter{}
}

func (e *NoOpExporter) RecordParticipation(context.Context, string, string) {}

func (e *NoOpExporter) RecordCompletion(context.Context, string, string) {}

func (e *NoOpExporter) RecordFailover(context.Context, string, string) {}

func (e *NoOpExporter) Close(context.Context) error {
	return nil
}
