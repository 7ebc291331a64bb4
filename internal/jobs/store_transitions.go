package jobs

import (
	"context"
	"fmt"
	"strings"
)

// Claim moves a PENDING job to PROCESSING. It reports false when another
// runner claimed it first or the job is no longer pending.
func (s *Store) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, step = 0, updated_at = ? WHERE id = ? AND status = ?`,
		StatusProcessing, s.timestamp(), id, StatusPending)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetStep records progress. The job becomes PROCESSING if it was PENDING. Steps
// never move backwards while processing; a stale lower step is ignored.
func (s *Store) SetStep(ctx context.Context, id string, step Step) error {
	if !step.Valid() {
		return fmt.Errorf("set step: invalid step %d", step)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, step = ?, updated_at = ?
         WHERE id = ? AND (status = ? OR (status = ? AND step <= ?))`,
		StatusProcessing, int(step), s.timestamp(),
		id, StatusPending, StatusProcessing, int(step))
	if err != nil {
		return fmt.Errorf("set step: %w", err)
	}
	return s.checkTransition(ctx, res, id, false)
}

// MarkCompleted records success with the published output key.
func (s *Store) MarkCompleted(ctx context.Context, id, outputKey string) error {
	outputKey = strings.TrimSpace(outputKey)
	if outputKey == "" {
		return fmt.Errorf("mark completed: output key required")
	}
	now := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, output_key = ?, error = NULL, completed_at = ?, updated_at = ?
         WHERE id = ? AND status NOT IN (?, ?)`,
		StatusCompleted, outputKey, now, now,
		id, StatusCompleted, StatusFailed)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return s.checkTransition(ctx, res, id, true)
}

// MarkFailed records a terminal failure. An empty message is stored as
// "unknown failure" so FAILED rows always carry an error.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "unknown failure"
	}
	now := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, error = ?, output_key = NULL, completed_at = ?, updated_at = ?
         WHERE id = ? AND status NOT IN (?, ?)`,
		StatusFailed, message, now, now,
		id, StatusCompleted, StatusFailed)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return s.checkTransition(ctx, res, id, true)
}

// ResetStuckProcessing returns jobs left PROCESSING by a crashed process to
// PENDING so they rerun from the top.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, step = 0, updated_at = ? WHERE status = ?`,
		StatusPending, s.timestamp(), StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// Requeue starts a FAILED job over as PENDING, clearing its error.
func (s *Store) Requeue(ctx context.Context, id string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, step = 0, error = NULL, completed_at = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusPending, s.timestamp(), id, StatusFailed)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		job, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("requeue job %s: status is %s, only FAILED jobs can be requeued", id, job.Status)
	}
	return nil
}

// checkTransition turns a zero-row update into ErrNotFound or ErrTerminal.
// Non-terminal no-ops (a stale step) are not errors.
func (s *Store) checkTransition(ctx context.Context, res interface{ RowsAffected() (int64, error) }, id string, terminal bool) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s is %s: %w", id, job.Status, ErrTerminal)
	}
	if terminal {
		return fmt.Errorf("job %s: terminal transition not applied", id)
	}
	return nil
}
