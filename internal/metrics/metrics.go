package metrics

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	Database   *DatabaseMetrics
	Messaging  *MessagingMetrics
	Health     *HealthMetrics
	Enrollment *EnrollmentMetrics
	Runtime    *RuntimeMetrics
}

func New(ctx context.Context, meter metric.Meter, logger *slog.Logger) (*Metrics, error) {
	database, err := NewDatabaseMetrics(meter)
	if err != nil {
		return nil, err
	}

	messaging, err := NewMessagingMetrics(meter)
	if err != nil {
		return nil, err
	}

	health, err := NewHealthMetrics(meter)
	if err != nil {
		return nil, err
	}

	enrollment, err := NewEnrollmentMetrics(meter)
	if err != nil {
		return nil, err
	}

	runtimeMetrics, err := NewRuntimeMetrics(meter)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "metrics collectors initialized successfully")

	return &Metrics{
		Database:   database,
		Messaging:  messaging,
		Health:     health,
		Enrollment: enrollment,
		Runtime:    runtimeMetrics,
	}, nil
}

// NewMock creates a no-op Metrics instance for testing
// The returned Metrics will safely ignore all Record* calls
func NewMock() *Metrics {
	return &Metrics{
		Database:   &DatabaseMetrics{},
		Messaging:  &MessagingMetrics{},
		Health:     &HealthMetrics{dependencies: make(map[string]*DependencyStatus)},
		Enrollment: &EnrollmentMetrics{},
	}
}

// durationBuckets covers 1ms..10s for p95/p99 accuracy.
var durationBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.025, // 25ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.25,  // 250ms
	0.5,   // 500ms
	1.0,   // 1s
	2.5,   // 2.5s
	5.0,   // 5s
	10.0,  // 10s
}
