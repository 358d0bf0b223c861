// Package notifications owns the durable delivery pipeline for alert
// notifications: a SQLite-backed job queue, the dispatcher that drains it
// with bounded parallelism, and the channel gateways (SMS, webhook, and a
// log-only simulator used when no provider is configured).
package notifications

import (
	"database/sql"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/vigiaops/vigia-go/internal/config"
)

// Job statuses. pending and sending are live; the rest are terminal except
// dlq, which an operator can requeue.
const (
	StatusPending   = "pending"
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusDLQ       = "dlq"
	StatusCancelled = "cancelled"
)

const (
	defaultMaxAttempts = 5
	cleanupInterval    = 1 * time.Hour
	sentRetention      = 7 * 24 * time.Hour
	dlqRetention       = 30 * 24 * time.Hour
)

// Job is one queued delivery: a rendered body bound to an alert, a channel
// and a recipient. Attempts counts delivery tries already made.
type Job struct {
	ID          string     `json:"id"`
	AlertID     string     `json:"alertId"`
	Channel     string     `json:"channel"`
	Recipient   string     `json:"recipient"`
	Body        string     `json:"body"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"maxAttempts"`
	LastError   string     `json:"lastError,omitempty"`
	ProviderID  string     `json:"providerId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	NextRetryAt time.Time  `json:"nextRetryAt"`
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Queue is the persistent notification job store. Jobs survive restarts;
// any job caught mid-send by a crash is returned to pending on open.
type Queue struct {
	db     *sql.DB
	dbPath string
	policy config.RetryPolicy

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewQueue opens (or creates) the queue database under dataDir. A blank
// dataDir falls back to the current directory.
func NewQueue(dataDir string, policy config.RetryPolicy) (*Queue, error) {
	dataDir = strings.TrimSpace(dataDir)
	if dataDir == "" {
		dataDir = "."
	}
	dir := filepath.Join(dataDir, "notifications")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create notifications directory: %w", err)
	}
	dbPath := filepath.Join(dir, "notification_queue.db")

	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open notification queue database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultMaxAttempts
	}

	q := &Queue{
		db:     db,
		dbPath: dbPath,
		policy: policy,
		stopCh: make(chan struct{}),
	}
	if err := q.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize notification queue schema: %w", err)
	}
	requeued, err := q.requeueOrphans()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to recover in-flight notifications: %w", err)
	}
	if requeued > 0 {
		log.Info().Int("jobs", requeued).Msg("Requeued notifications interrupted by restart")
	}

	q.wg.Add(1)
	go q.cleanupLoop()

	log.Info().Str("path", dbPath).Msg("Notification queue initialized")
	return q, nil
}

func (q *Queue) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS notification_jobs (
			id TEXT PRIMARY KEY,
			alert_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			recipient TEXT NOT NULL,
			body TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			provider_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			next_retry_at INTEGER NOT NULL,
			last_attempt INTEGER,
			completed_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status_retry
			ON notification_jobs(status, next_retry_at);
		CREATE INDEX IF NOT EXISTS idx_jobs_alert
			ON notification_jobs(alert_id);
		CREATE TABLE IF NOT EXISTS notification_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			event TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_job ON notification_audit(job_id);
	`
	_, err := q.db.Exec(schema)
	return err
}

// requeueOrphans returns jobs stuck in sending (crash mid-delivery) to
// pending so the dispatcher picks them up again.
func (q *Queue) requeueOrphans() (int, error) {
	res, err := q.execRetry(
		`UPDATE notification_jobs SET status = ?, next_retry_at = ? WHERE status = ?`,
		StatusPending, time.Now().UTC().UnixMilli(), StatusSending,
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Enqueue stores a new pending job and returns it. The body must already be
// rendered; the queue never re-renders on retry.
func (q *Queue) Enqueue(alertID, channel, recipient, body string) (Job, error) {
	alertID = strings.TrimSpace(alertID)
	channel = strings.ToLower(strings.TrimSpace(channel))
	recipient = strings.TrimSpace(recipient)
	if alertID == "" {
		return Job{}, fmt.Errorf("alert ID is required")
	}
	if channel == "" {
		return Job{}, fmt.Errorf("channel is required")
	}
	if recipient == "" {
		return Job{}, fmt.Errorf("recipient is required")
	}

	now := time.Now().UTC()
	job := Job{
		ID:          ulid.Make().String(),
		AlertID:     alertID,
		Channel:     channel,
		Recipient:   recipient,
		Body:        body,
		Status:      StatusPending,
		MaxAttempts: q.policy.MaxAttempts,
		CreatedAt:   now,
		NextRetryAt: now,
	}

	_, err := q.execRetry(
		`INSERT INTO notification_jobs
			(id, alert_id, channel, recipient, body, status, attempts, max_attempts,
			 last_error, provider_id, created_at, next_retry_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, '', '', ?, ?)`,
		job.ID, job.AlertID, job.Channel, job.Recipient, job.Body, job.Status,
		job.MaxAttempts, job.CreatedAt.UnixMilli(), job.NextRetryAt.UnixMilli(),
	)
	if err != nil {
		return Job{}, fmt.Errorf("failed to enqueue notification: %w", err)
	}
	q.recordAudit(job.ID, "enqueued", channel+" to "+recipient)
	return job, nil
}

// GetPending returns due pending jobs oldest first, up to limit.
func (q *Queue) GetPending(limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.Query(
		`SELECT id, alert_id, channel, recipient, body, status, attempts, max_attempts,
			last_error, provider_id, created_at, next_retry_at, last_attempt, completed_at
		 FROM notification_jobs
		 WHERE status = ? AND next_retry_at <= ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		StatusPending, time.Now().UTC().UnixMilli(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// GetJob fetches a single job by ID.
func (q *Queue) GetJob(id string) (Job, error) {
	rows, err := q.db.Query(
		`SELECT id, alert_id, channel, recipient, body, status, attempts, max_attempts,
			last_error, provider_id, created_at, next_retry_at, last_attempt, completed_at
		 FROM notification_jobs WHERE id = ?`, id,
	)
	if err != nil {
		return Job{}, err
	}
	defer rows.Close()
	jobs, err := scanJobs(rows)
	if err != nil {
		return Job{}, err
	}
	if len(jobs) == 0 {
		return Job{}, fmt.Errorf("notification job %s not found", id)
	}
	return jobs[0], nil
}

// ClaimSending flips a pending job to sending. Returns false when the job
// was grabbed by another worker or cancelled in the meantime.
func (q *Queue) ClaimSending(id string) (bool, error) {
	now := time.Now().UTC()
	res, err := q.execRetry(
		`UPDATE notification_jobs
		 SET status = ?, attempts = attempts + 1, last_attempt = ?
		 WHERE id = ? AND status = ?`,
		StatusSending, now.UnixMilli(), id, StatusPending,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkSent records a successful delivery with the provider's message ID.
func (q *Queue) MarkSent(id, providerID string) error {
	now := time.Now().UTC()
	res, err := q.execRetry(
		`UPDATE notification_jobs
		 SET status = ?, provider_id = ?, last_error = '', completed_at = ?
		 WHERE id = ?`,
		StatusSent, providerID, now.UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification job %s not found", id)
	}
	q.recordAudit(id, "sent", providerID)
	return nil
}

// MarkFailed terminates a job without further retries (permanent gateway
// errors: malformed number, auth failure).
func (q *Queue) MarkFailed(id, reason string) error {
	now := time.Now().UTC()
	res, err := q.execRetry(
		`UPDATE notification_jobs
		 SET status = ?, last_error = ?, completed_at = ?
		 WHERE id = ?`,
		StatusFailed, reason, now.UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification job %s not found", id)
	}
	q.recordAudit(id, "failed", reason)
	return nil
}

// ScheduleRetry pushes a job back to pending with backoff, or to the DLQ
// once attempts are exhausted. Returns the updated job.
func (q *Queue) ScheduleRetry(id, lastError string) (Job, error) {
	job, err := q.GetJob(id)
	if err != nil {
		return Job{}, err
	}
	now := time.Now().UTC()
	if job.Attempts >= job.MaxAttempts {
		_, err = q.execRetry(
			`UPDATE notification_jobs
			 SET status = ?, last_error = ?, completed_at = ?
			 WHERE id = ?`,
			StatusDLQ, lastError, now.UnixMilli(), id,
		)
		if err != nil {
			return Job{}, err
		}
		q.recordAudit(id, "dlq", lastError)
		log.Warn().
			Str("job", id).
			Str("alert", job.AlertID).
			Int("attempts", job.Attempts).
			Str("error", lastError).
			Msg("Notification moved to dead letter queue")
		return q.GetJob(id)
	}

	delay := q.backoff(job.Attempts)
	next := now.Add(delay)
	_, err = q.execRetry(
		`UPDATE notification_jobs
		 SET status = ?, last_error = ?, next_retry_at = ?
		 WHERE id = ?`,
		StatusPending, lastError, next.UnixMilli(), id,
	)
	if err != nil {
		return Job{}, err
	}
	q.recordAudit(id, "retry_scheduled", fmt.Sprintf("attempt %d, retry in %s", job.Attempts, delay.Round(time.Millisecond)))
	return q.GetJob(id)
}

// MarkCancelled terminates a job because its alert resolved before
// delivery.
func (q *Queue) MarkCancelled(id string) error {
	now := time.Now().UTC()
	res, err := q.execRetry(
		`UPDATE notification_jobs
		 SET status = ?, completed_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		StatusCancelled, now.UnixMilli(), id, StatusPending, StatusSending,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		q.recordAudit(id, "cancelled", "alert resolved")
	}
	return nil
}

// CancelByAlertIDs cancels all live jobs belonging to the given alerts and
// returns how many were cancelled.
func (q *Queue) CancelByAlertIDs(alertIDs []string) (int, error) {
	if len(alertIDs) == 0 {
		return 0, nil
	}
	now := time.Now().UTC().UnixMilli()
	total := 0
	for _, alertID := range alertIDs {
		res, err := q.execRetry(
			`UPDATE notification_jobs
			 SET status = ?, completed_at = ?
			 WHERE alert_id = ? AND status IN (?, ?)`,
			StatusCancelled, now, alertID, StatusPending, StatusSending,
		)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	if total > 0 {
		log.Debug().Int("jobs", total).Int("alerts", len(alertIDs)).Msg("Cancelled queued notifications for resolved alerts")
	}
	return total, nil
}

// UpdateStatus sets a job's status directly. Used by the DLQ admin
// handlers; errors when the job does not exist.
func (q *Queue) UpdateStatus(id, status string) error {
	res, err := q.execRetry(
		`UPDATE notification_jobs SET status = ? WHERE id = ?`, status, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification job %s not found", id)
	}
	return nil
}

// RetryDLQ moves a dead-lettered job back to pending with a fresh attempt
// budget.
func (q *Queue) RetryDLQ(id string) error {
	res, err := q.execRetry(
		`UPDATE notification_jobs
		 SET status = ?, attempts = 0, last_error = '', next_retry_at = ?, completed_at = NULL
		 WHERE id = ? AND status = ?`,
		StatusPending, time.Now().UTC().UnixMilli(), id, StatusDLQ,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification job %s not found in dead letter queue", id)
	}
	q.recordAudit(id, "dlq_retried", "")
	return nil
}

// DeleteJob removes a job permanently.
func (q *Queue) DeleteJob(id string) error {
	res, err := q.execRetry(`DELETE FROM notification_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification job %s not found", id)
	}
	return nil
}

// GetDLQ returns dead-lettered jobs newest first.
func (q *Queue) GetDLQ(limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.Query(
		`SELECT id, alert_id, channel, recipient, body, status, attempts, max_attempts,
			last_error, provider_id, created_at, next_retry_at, last_attempt, completed_at
		 FROM notification_jobs
		 WHERE status = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		StatusDLQ, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// GetQueueStats returns job counts keyed by status.
func (q *Queue) GetQueueStats() (map[string]int, error) {
	rows, err := q.db.Query(
		`SELECT status, COUNT(*) FROM notification_jobs GROUP BY status`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{
		StatusPending:   0,
		StatusSending:   0,
		StatusSent:      0,
		StatusFailed:    0,
		StatusDLQ:       0,
		StatusCancelled: 0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// backoff computes the delay before the given retry attempt (1-based):
// base*factor^(attempt-1) with proportional jitter, capped.
func (q *Queue) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(q.policy.Base)
	for i := 1; i < attempt; i++ {
		d *= q.policy.Factor
		if d >= float64(q.policy.Cap) {
			d = float64(q.policy.Cap)
			break
		}
	}
	if d > float64(q.policy.Cap) {
		d = float64(q.policy.Cap)
	}
	if q.policy.Jitter > 0 {
		// Spread in [d*(1-jitter), d*(1+jitter)] to avoid retry stampedes.
		d *= 1 + q.policy.Jitter*(2*rand.Float64()-1)
	}
	if d > float64(q.policy.Cap) {
		d = float64(q.policy.Cap)
	}
	return time.Duration(d)
}

func (q *Queue) recordAudit(jobID, event, detail string) {
	_, err := q.execRetry(
		`INSERT INTO notification_audit (job_id, event, detail, created_at)
		 VALUES (?, ?, ?, ?)`,
		jobID, event, detail, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		log.Debug().Err(err).Str("job", jobID).Str("event", event).Msg("Failed to record notification audit entry")
	}
}

func (q *Queue) cleanupLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			q.performCleanup()
		case <-q.stopCh:
			return
		}
	}
}

// performCleanup prunes terminal jobs past retention: completed jobs after
// seven days, dead-lettered jobs after thirty.
func (q *Queue) performCleanup() {
	now := time.Now().UTC()
	res, err := q.execRetry(
		`DELETE FROM notification_jobs
		 WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		StatusSent, StatusFailed, StatusCancelled, now.Add(-sentRetention).UnixMilli(),
	)
	var completed int64
	if err == nil {
		completed, _ = res.RowsAffected()
	} else {
		log.Warn().Err(err).Msg("Notification queue cleanup failed for completed jobs")
	}

	res, err = q.execRetry(
		`DELETE FROM notification_jobs
		 WHERE status = ? AND completed_at IS NOT NULL AND completed_at < ?`,
		StatusDLQ, now.Add(-dlqRetention).UnixMilli(),
	)
	var dead int64
	if err == nil {
		dead, _ = res.RowsAffected()
	} else {
		log.Warn().Err(err).Msg("Notification queue cleanup failed for DLQ jobs")
	}

	if completed > 0 || dead > 0 {
		log.Info().
			Int64("completed", completed).
			Int64("dlq", dead).
			Msg("Pruned old notification jobs")
	}

	if _, err := q.execRetry(
		`DELETE FROM notification_audit WHERE created_at < ?`,
		now.Add(-dlqRetention).UnixMilli(),
	); err != nil {
		log.Debug().Err(err).Msg("Failed to prune notification audit entries")
	}
}

// Stop halts background cleanup and closes the database.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})
	q.wg.Wait()
	if err := q.db.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close notification queue database")
	}
}

func (q *Queue) execRetry(query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	var err error
	for i := 0; i < 5; i++ {
		result, err = q.db.Exec(query, args...)
		if err == nil {
			return result, nil
		}
		if i < 4 && strings.Contains(err.Error(), "database is locked") {
			time.Sleep(time.Duration(100*(i+1)) * time.Millisecond)
			continue
		}
		break
	}
	return nil, err
}

func scanJobs(rows *sql.Rows) ([]Job, error) {
	var jobs []Job
	for rows.Next() {
		var j Job
		var createdAt, nextRetryAt int64
		var lastAttempt, completedAt sql.NullInt64
		if err := rows.Scan(
			&j.ID, &j.AlertID, &j.Channel, &j.Recipient, &j.Body, &j.Status,
			&j.Attempts, &j.MaxAttempts, &j.LastError, &j.ProviderID,
			&createdAt, &nextRetryAt, &lastAttempt, &completedAt,
		); err != nil {
			return nil, err
		}
		j.CreatedAt = time.UnixMilli(createdAt).UTC()
		j.NextRetryAt = time.UnixMilli(nextRetryAt).UTC()
		if lastAttempt.Valid {
			t := time.UnixMilli(lastAttempt.Int64).UTC()
			j.LastAttempt = &t
		}
		if completedAt.Valid {
			t := time.UnixMilli(completedAt.Int64).UTC()
			j.CompletedAt = &t
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
