package ports

import "context"

// MetricsExporter exports assignment metrics to an external observability system.
type MetricsExporter interface {
	// RecordParticipation counts a first-time assignment.
	RecordParticipation(ctx context.Context, experiment, alternative string)
	// RecordCompletion counts a conversion.
	RecordCompletion(ctx context.Context, experiment, alternative string)
	// RecordFailover counts an operation answered without the store.
	RecordFailover(ctx context.Context, experiment, operation string)
	// Close shuts down the exporter and flushes any pending metrics.
	Close(ctx context.Context) error
}
