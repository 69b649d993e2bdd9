package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for reminders, device tokens and jobs.
// Reminders and device tokens are read-only here.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ListReminders returns every reminder across all owners.
//
// There is deliberately no owner or enabled filter: matching happens in process,
// which keeps the table free of composite indexes. The scan is O(n) in the number
// of reminders; if volume grows, paginate here without changing the matcher.
func (r *Repository) ListReminders(ctx context.Context) ([]*Reminder, error) {
	query := `
		SELECT id, owner_id, time, days_of_week, types, is_enabled
		FROM reminders
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	reminders := make([]*Reminder, 0)
	for rows.Next() {
		var (
			rem  Reminder
			days []int32
		)
		if err := rows.Scan(&rem.ID, &rem.OwnerID, &rem.Time, &days, &rem.Types, &rem.IsEnabled); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		rem.DaysOfWeek = make([]int, len(days))
		for i, d := range days {
			rem.DaysOfWeek[i] = int(d)
		}
		reminders = append(reminders, &rem)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}

	return reminders, nil
}

// GetDeviceToken returns the push token registered for an owner.
// A missing row yields ErrNotFound; a row with a NULL token yields "".
func (r *Repository) GetDeviceToken(ctx context.Context, ownerID string) (string, error) {
	query := `SELECT COALESCE(token, '') FROM device_tokens WHERE owner_id = $1`

	var token string
	err := r.db.Pool().QueryRow(ctx, query, ownerID).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query device token: %w", err)
	}

	return token, nil
}

// CreateJob inserts a pending job unless a job with the same idempotency key exists.
// It reports whether a row was inserted.
func (r *Repository) CreateJob(ctx context.Context, job *NotificationJob) (bool, error) {
	query := `
		INSERT INTO notification_jobs (
			id, owner_id, reminder_id, type, title, body,
			idempotency_key, status, scheduled_time
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		job.ID,
		job.OwnerID,
		job.ReminderID,
		job.Type,
		job.Title,
		job.Body,
		job.IdempotencyKey,
		job.Status,
		job.ScheduledTime,
	).Scan(&job.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		r.logger.Debug("job already exists for idempotency key",
			zap.String("idempotency_key", job.IdempotencyKey),
		)
		return false, nil
	}

	if err != nil {
		r.logger.Error("failed to create job",
			zap.Error(err),
			zap.String("job_id", job.ID.String()),
		)
		return false, fmt.Errorf("insert job: %w", err)
	}

	return true, nil
}

// MarkJobSent moves a pending job to sent.
func (r *Repository) MarkJobSent(ctx context.Context, id uuid.UUID, messageID string, sentAt time.Time) error {
	query := `
		UPDATE notification_jobs
		SET status = $1, sent_at = $2, transport_message_id = $3
		WHERE id = $4 AND status = $5
	`

	result, err := r.db.Pool().Exec(ctx, query, StatusSent, sentAt, messageID, id, StatusPending)
	if err != nil {
		return fmt.Errorf("mark job sent: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, ErrJobNotPending)
	}

	return nil
}

// MarkJobFailed moves a pending job to failed.
func (r *Repository) MarkJobFailed(ctx context.Context, id uuid.UUID, errorMsg string) error {
	query := `
		UPDATE notification_jobs
		SET status = $1, error = $2
		WHERE id = $3 AND status = $4
	`

	result, err := r.db.Pool().Exec(ctx, query, StatusFailed, errorMsg, id, StatusPending)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, ErrJobNotPending)
	}

	return nil
}

// FailStalePendingJobs fails every job still pending that was created before cutoff.
func (r *Repository) FailStalePendingJobs(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	query := `
		UPDATE notification_jobs
		SET status = $1, error = $2
		WHERE status = $3 AND created_at < $4
	`

	result, err := r.db.Pool().Exec(ctx, query, StatusFailed, reason, StatusPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}

	return result.RowsAffected(), nil
}

const jobColumns = `
	id, owner_id, reminder_id, type, title, body, idempotency_key,
	status, scheduled_time, created_at, sent_at, transport_message_id, error
`

func scanJob(row pgx.Row) (*NotificationJob, error) {
	var job NotificationJob
	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.ReminderID,
		&job.Type,
		&job.Title,
		&job.Body,
		&job.IdempotencyKey,
		&job.Status,
		&job.ScheduledTime,
		&job.CreatedAt,
		&job.SentAt,
		&job.TransportMessageID,
		&job.Error,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob retrieves a job by ID
func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (*NotificationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM notification_jobs WHERE id = $1`

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}

	return job, nil
}

// ListJobsByOwner retrieves an owner's jobs, newest first
func (r *Repository) ListJobsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*NotificationJob, error) {
	query := `SELECT ` + jobColumns + `
		FROM notification_jobs
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*NotificationJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return jobs, nil
}
