package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/zenpush/internal/db"
	"github.com/lalithlochan/zenpush/internal/message"
	"github.com/lalithlochan/zenpush/internal/metrics"
	"github.com/lalithlochan/zenpush/internal/tick"
)

// ErrScan marks a tick aborted because reminders could not be listed.
var ErrScan = errors.New("reminder scan failed")

// ReminderStore lists every reminder. It is read-only to the worker.
type ReminderStore interface {
	ListReminders(ctx context.Context) ([]*db.Reminder, error)
}

type Worker struct {
	reminders ReminderStore
	recipient *RecipientResolver
	tracker   *JobTracker
	matcher   *tick.Matcher
	transport Transport
	config    Config
	logger    *zap.Logger
	now       func() time.Time
}

type Config struct {
	Location        *time.Location
	WindowMinutes   int
	DeepLinkScheme  string
	Concurrency     int
	DispatchTimeout time.Duration
	StaleJobAfter   time.Duration
}

// Result is the outcome of one tick.
type Result struct {
	Window         string    `json:"window"`
	WindowStart    time.Time `json:"window_start"`
	Weekday        int       `json:"weekday"`
	Scanned        int       `json:"scanned"`
	Enabled        int       `json:"enabled"`
	Matched        int       `json:"matched"`
	Malformed      int       `json:"malformed"`
	SkippedNoToken int       `json:"skipped_no_token"`
	SkippedNoTypes int       `json:"skipped_no_types"`
	TokenErrors    int       `json:"token_errors"`
	Duplicates     int       `json:"duplicates"`
	Sent           int       `json:"sent"`   // recorded as sent
	Failed         int       `json:"failed"` // recorded as failed
	CreateErrors   int       `json:"create_errors"`
	TrackingErrors int       `json:"tracking_errors"` // outcome not recorded; job left pending
	Reconciled     int64     `json:"reconciled"`
}

func New(reminders ReminderStore, tokens TokenStore, jobs JobStore, transport Transport, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.WindowMinutes == 0 {
		cfg.WindowMinutes = tick.DefaultWindowMinutes
	}
	if cfg.DeepLinkScheme == "" {
		cfg.DeepLinkScheme = "mentalzen"
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.DispatchTimeout == 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	if cfg.StaleJobAfter == 0 {
		cfg.StaleJobAfter = 15 * time.Minute
	}

	return &Worker{
		reminders: reminders,
		recipient: NewRecipientResolver(tokens),
		tracker:   NewJobTracker(jobs, logger),
		matcher:   tick.NewMatcher(logger),
		transport: transport,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// RunTick evaluates the window containing the current instant.
func (w *Worker) RunTick(ctx context.Context) (*Result, error) {
	return w.RunTickAt(ctx, w.now())
}

// RunTickAt evaluates the window containing now. Only a failed scan is
// returned as an error; every per-reminder failure is logged and counted.
func (w *Worker) RunTickAt(ctx context.Context, now time.Time) (*Result, error) {
	tc := tick.Resolve(now, w.config.Location, w.config.WindowMinutes)
	res := &Result{
		Window:      tc.WindowLabel(),
		WindowStart: tc.WindowStartAt,
		Weekday:     tc.Weekday,
	}
	log := w.logger.With(
		zap.String("window", tc.WindowLabel()),
		zap.Time("window_start", tc.WindowStartAt),
		zap.Int("weekday", tc.Weekday),
	)

	reconciled, err := w.tracker.Reconcile(ctx, now.Add(-w.config.StaleJobAfter))
	if err != nil {
		log.Error("failed to reconcile stale jobs", zap.Error(err))
	} else if reconciled > 0 {
		res.Reconciled = reconciled
		metrics.RecordJobsReconciled(reconciled)
		log.Warn("failed abandoned pending jobs", zap.Int64("count", reconciled))
	}

	reminders, err := w.reminders.ListReminders(ctx)
	if err != nil {
		log.Error("failed to scan reminders", zap.Error(err))
		return res, fmt.Errorf("%w: %w", ErrScan, err)
	}
	metrics.SetRemindersScanned(len(reminders))

	match := w.matcher.Match(tc, reminders)
	res.Scanned = match.Scanned
	res.Enabled = match.Enabled
	res.Malformed = match.Malformed
	res.Matched = len(match.Due)
	for range match.Malformed {
		metrics.RecordReminderSkipped("malformed_time")
	}

	var mu sync.Mutex
	count := func(f func(r *Result)) {
		mu.Lock()
		f(res)
		mu.Unlock()
	}

	g := new(errgroup.Group)
	g.SetLimit(w.config.Concurrency)
	for _, r := range match.Due {
		if ctx.Err() != nil {
			log.Warn("tick cancelled, not starting remaining reminders", zap.Error(ctx.Err()))
			break
		}
		metrics.RecordReminderMatched()
		g.Go(func() error {
			w.processReminder(ctx, tc, r, count)
			return nil
		})
	}
	_ = g.Wait()

	log.Info("tick complete",
		zap.Int("scanned", res.Scanned),
		zap.Int("enabled", res.Enabled),
		zap.Int("matched", res.Matched),
		zap.Int("malformed", res.Malformed),
		zap.Int("skipped_no_token", res.SkippedNoToken),
		zap.Int("skipped_no_types", res.SkippedNoTypes),
		zap.Int("token_errors", res.TokenErrors),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("create_errors", res.CreateErrors),
		zap.Int("tracking_errors", res.TrackingErrors),
	)

	return res, nil
}

func (w *Worker) processReminder(ctx context.Context, tc tick.Context, r *db.Reminder, count func(func(*Result))) {
	log := w.logger.With(zap.String("reminder_id", r.ID), zap.String("owner_id", r.OwnerID))

	types := dedupeTypes(r.Types)
	if len(types) == 0 {
		log.Info("reminder has no types, skipping")
		metrics.RecordReminderSkipped("no_types")
		count(func(res *Result) { res.SkippedNoTypes++ })
		return
	}

	token, ok, err := w.recipient.Resolve(ctx, r.OwnerID)
	if err != nil {
		log.Error("token lookup failed, skipping reminder", zap.Error(err))
		metrics.RecordReminderSkipped("token_error")
		count(func(res *Result) { res.TokenErrors++ })
		return
	}
	if !ok {
		log.Debug("no device token for owner, skipping")
		metrics.RecordReminderSkipped("no_token")
		count(func(res *Result) { res.SkippedNoToken++ })
		return
	}

	for _, typ := range types {
		if ctx.Err() != nil {
			return
		}
		w.processPair(ctx, tc, r, typ, token, log.With(zap.String("type", typ)), count)
	}
}

func (w *Worker) processPair(ctx context.Context, tc tick.Context, r *db.Reminder, typ, token string, log *zap.Logger, count func(func(*Result))) {
	msg := message.Compose(typ)

	job, created, err := w.tracker.Create(ctx, r, typ, msg, tc)
	if err != nil {
		log.Error("failed to create job", zap.Error(err))
		count(func(res *Result) { res.CreateErrors++ })
		return
	}
	if !created {
		log.Info("job already exists for this window, not sending",
			zap.String("idempotency_key", job.IdempotencyKey))
		metrics.RecordDuplicateJob()
		count(func(res *Result) { res.Duplicates++ })
		return
	}
	log = log.With(zap.String("job_id", job.ID.String()))

	// The job exists now; its outcome must be recorded even if the tick is cancelled.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.DispatchTimeout)
	defer cancel()

	start := time.Now()
	messageID, sendErr := w.transport.Send(dctx, PushMessage{
		Token: token,
		Title: msg.Title,
		Body:  msg.Body,
		Data: map[string]string{
			"type":     typ,
			"deepLink": DeepLink(w.config.DeepLinkScheme, typ),
		},
		Priority: HighPriority,
	})

	if sendErr != nil {
		metrics.RecordDispatch(string(ReasonOf(sendErr)), time.Since(start))
		log.Error("failed to send notification",
			zap.String("transport", w.transport.Name()),
			zap.String("reason", string(ReasonOf(sendErr))),
			zap.Error(sendErr),
		)
		if err := w.tracker.MarkFailed(dctx, job, describeError(sendErr)); err != nil {
			log.Error("failed to record job failure", zap.Error(err))
			count(func(res *Result) { res.TrackingErrors++ })
			return
		}
		metrics.RecordJob(db.StatusFailed, typ)
		count(func(res *Result) { res.Failed++ })
		return
	}

	metrics.RecordDispatch("success", time.Since(start))
	log.Info("notification sent",
		zap.String("transport", w.transport.Name()),
		zap.String("message_id", messageID),
	)
	if err := w.tracker.MarkSent(dctx, job, messageID); err != nil {
		log.Error("failed to record job as sent", zap.Error(err))
		count(func(res *Result) { res.TrackingErrors++ })
		return
	}
	metrics.RecordJob(db.StatusSent, typ)
	count(func(res *Result) { res.Sent++ })
}

// dedupeTypes drops empty and repeated types, keeping first occurrence order.
func dedupeTypes(types []string) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}
