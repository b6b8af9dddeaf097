package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EnrollmentMetrics counts domain mutations of the enrollment service.
type EnrollmentMetrics struct {
	studentMutations metric.Int64Counter
	courseMutations  metric.Int64Counter
	withdrawals      metric.Int64Counter
	conflicts        metric.Int64Counter
}

func NewEnrollmentMetrics(meter metric.Meter) (*EnrollmentMetrics, error) {
	em := &EnrollmentMetrics{}

	var err error

	em.studentMutations, err = meter.Int64Counter(
		"enrollment_service.students.mutations",
		metric.WithDescription("Total number of student creates, updates and deletes"),
		metric.WithUnit("{student}"),
	)
	if err != nil {
		return nil, err
	}

	em.courseMutations, err = meter.Int64Counter(
		"enrollment_service.courses.mutations",
		metric.WithDescription("Total number of course creates, updates and deletes"),
		metric.WithUnit("{course}"),
	)
	if err != nil {
		return nil, err
	}

	em.withdrawals, err = meter.Int64Counter(
		"enrollment_service.enrollments.withdrawn",
		metric.WithDescription("Total number of enrollments removed by withdraw"),
		metric.WithUnit("{enrollment}"),
	)
	if err != nil {
		return nil, err
	}

	em.conflicts, err = meter.Int64Counter(
		"enrollment_service.conflicts",
		metric.WithDescription("Total number of rejected duplicate business keys"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		return nil, err
	}

	return em, nil
}

func (em *EnrollmentMetrics) RecordStudentMutation(ctx context.Context, action string) {
	if em != nil && em.studentMutations != nil {
		em.studentMutations.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	}
}

func (em *EnrollmentMetrics) RecordCourseMutation(ctx context.Context, action string) {
	if em != nil && em.courseMutations != nil {
		em.courseMutations.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	}
}

func (em *EnrollmentMetrics) RecordWithdrawal(ctx context.Context) {
	if em != nil && em.withdrawals != nil {
		em.withdrawals.Add(ctx, 1)
	}
}

func (em *EnrollmentMetrics) RecordConflict(ctx context.Context, key string) {
	if em != nil && em.conflicts != nil {
		em.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
	}
}
