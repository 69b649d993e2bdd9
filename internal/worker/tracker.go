package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/zenpush/internal/db"
	"github.com/lalithlochan/zenpush/internal/message"
	"github.com/lalithlochan/zenpush/internal/tick"
)

// JobStore persists notification jobs. CreateJob must be an atomic
// insert-if-absent on the idempotency key, and the Mark methods must only
// move a pending job.
type JobStore interface {
	CreateJob(ctx context.Context, job *db.NotificationJob) (bool, error)
	MarkJobSent(ctx context.Context, id uuid.UUID, messageID string, sentAt time.Time) error
	MarkJobFailed(ctx context.Context, id uuid.UUID, errorMsg string) error
	FailStalePendingJobs(ctx context.Context, cutoff time.Time, reason string) (int64, error)
}

// JobTracker owns the pending -> sent|failed lifecycle of a job.
type JobTracker struct {
	store  JobStore
	logger *zap.Logger
	now    func() time.Time
}

func NewJobTracker(store JobStore, logger *zap.Logger) *JobTracker {
	return &JobTracker{store: store, logger: logger, now: time.Now}
}

// Create records a pending job for (reminder, type) in the tick window.
// created is false when a job with the same idempotency key already exists;
// the caller must not send in that case.
func (t *JobTracker) Create(ctx context.Context, r *db.Reminder, reminderType string, msg message.Message, tc tick.Context) (*db.NotificationJob, bool, error) {
	job := &db.NotificationJob{
		ID:             uuid.New(),
		OwnerID:        r.OwnerID,
		ReminderID:     r.ID,
		Type:           reminderType,
		Title:          msg.Title,
		Body:           msg.Body,
		IdempotencyKey: tc.IdempotencyKey(r.ID, reminderType),
		Status:         db.StatusPending,
		ScheduledTime:  tc.Now,
	}

	created, err := t.store.CreateJob(ctx, job)
	if err != nil {
		return nil, false, fmt.Errorf("create job %s: %w", job.IdempotencyKey, err)
	}
	return job, created, nil
}

// MarkSent moves a pending job to sent.
func (t *JobTracker) MarkSent(ctx context.Context, job *db.NotificationJob, messageID string) error {
	if job.Status != db.StatusPending {
		return db.ErrJobNotPending
	}

	sentAt := t.now()
	if err := t.store.MarkJobSent(ctx, job.ID, messageID, sentAt); err != nil {
		return fmt.Errorf("mark job %s sent: %w", job.ID, err)
	}

	job.Status = db.StatusSent
	job.SentAt = &sentAt
	job.TransportMessageID = &messageID
	return nil
}

// MarkFailed moves a pending job to failed with a description of the cause.
func (t *JobTracker) MarkFailed(ctx context.Context, job *db.NotificationJob, description string) error {
	if job.Status != db.StatusPending {
		return db.ErrJobNotPending
	}

	if err := t.store.MarkJobFailed(ctx, job.ID, description); err != nil {
		return fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}

	job.Status = db.StatusFailed
	job.Error = &description
	return nil
}

// Reconcile fails jobs left pending since before cutoff by an interrupted tick.
func (t *JobTracker) Reconcile(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := t.store.FailStalePendingJobs(ctx, cutoff, "abandoned: no dispatch outcome recorded")
	if err != nil {
		return 0, fmt.Errorf("reconcile stale jobs: %w", err)
	}
	return n, nil
}
