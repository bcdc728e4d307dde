package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/smarttodo/tasksync/internal/remote"
	"github.com/smarttodo/tasksync/internal/schema"
)

// Result summarises one drain cycle.
type Result struct {
	Attempted int
	Succeeded int
	// Retrying counts entries that failed and will be retried.
	Retrying int
	// Failed counts entries that hit the retry bound in this cycle.
	Failed int
	// Remaining counts entries left untouched because connectivity was
	// lost mid-drain.
	Remaining int
	// Deferred counts entries held back because an earlier entry for the
	// same record is still pending or failed in this cycle.
	Deferred int
	Pulled    bool
	// Skipped is set when no drain ran: another one was in flight, or a
	// periodic trigger found the queue empty.
	Skipped bool
}

func (r Result) String() string {
	if r.Skipped {
		return "skipped"
	}
	s := fmt.Sprintf("%d/%d synced", r.Succeeded, r.Attempted)
	if r.Retrying > 0 {
		s += fmt.Sprintf(", %d retrying", r.Retrying)
	}
	if r.Failed > 0 {
		s += fmt.Sprintf(", %d failed", r.Failed)
	}
	if r.Deferred > 0 {
		s += fmt.Sprintf(", %d deferred", r.Deferred)
	}
	if r.Remaining > 0 {
		s += fmt.Sprintf(", %d waiting for connection", r.Remaining)
	}
	if r.Pulled {
		s += ", pulled"
	}
	return s
}

// Flush drains the queue now, regardless of whether it is empty.
func (e *Engine) Flush(ctx context.Context) (Result, error) {
	return e.Drain(ctx, TriggerManual)
}

// Drain runs one drain cycle. It returns ErrAuthenticationMissing when no
// user is signed in and ErrOffline when the monitor is offline; in both
// cases the queue is untouched. Per-entry failures are not errors: they
// are counted in the Result and retried.
func (e *Engine) Drain(ctx context.Context, reason Trigger) (Result, error) {
	var res Result

	uid := e.auth.CurrentUser()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return res, ErrClosed
	}
	if uid == "" {
		warn := !e.authWarned
		e.authWarned = true
		e.lastErr = ErrAuthenticationMissing.Error()
		e.mu.Unlock()
		if warn {
			e.notifier.Notify(Notice{
				Level:   LevelWarning,
				Message: "Sign in to sync your changes",
				Err:     ErrAuthenticationMissing,
			})
		}
		return res, ErrAuthenticationMissing
	}
	e.authWarned = false
	if !e.monitor.Online() {
		e.mu.Unlock()
		return res, ErrOffline
	}
	if reason == TriggerPeriodic && e.queue.PendingCount() == 0 {
		e.mu.Unlock()
		res.Skipped = true
		return res, nil
	}
	if e.syncing {
		e.mu.Unlock()
		res.Skipped = true
		return res, nil
	}
	e.syncing = true
	e.lastErr = ""
	e.statuses.Publish(e.statusLocked())
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.statuses.Publish(e.statusLocked())
		e.mu.Unlock()
	}()

	entries := e.queue.ListPending(ctx)
	// Records whose earlier entry did not go through. Later entries for
	// them wait for the next cycle so per-record order holds.
	blocked := make(map[string]bool)
	reachedEnd := true
	for i, entry := range entries {
		if !e.monitor.Online() {
			res.Remaining = len(entries) - i
			reachedEnd = false
			e.logger.Printf("Connection lost mid-sync, %d changes stay queued", res.Remaining)
			break
		}
		key := recordKey(entry)
		if key != "" && blocked[key] {
			res.Deferred++
			continue
		}
		res.Attempted++

		err := e.apply(ctx, uid, entry)
		if err == nil {
			if err := e.queue.MarkCompleted(ctx, entry.ID); err != nil {
				e.logger.Printf("Warning: %v", err)
			}
			res.Succeeded++
			continue
		}

		e.logger.Printf("Sync of %s %s (entry %d) failed: %v", entry.Type, entry.Action, entry.ID, err)
		if key != "" {
			blocked[key] = true
		}
		if IsFatal(err) {
			if merr := e.queue.MarkFailed(ctx, entry.ID, err); merr != nil {
				e.logger.Printf("Warning: %v", merr)
			}
			res.Failed++
			e.notifier.Notify(Notice{
				Level:   LevelError,
				Message: fmt.Sprintf("Failed to sync %s: %v", entry.Type, err),
				Err:     err,
			})
			continue
		}
		if !IsRetryable(err) {
			e.logger.Printf("Warning: entry %d failed with a non-transient error, retrying anyway", entry.ID)
		}
		updated, failedNow, rerr := e.queue.RecordFailure(ctx, entry.ID, err, e.cfg.MaxRetries)
		if rerr != nil {
			e.logger.Printf("Warning: %v", rerr)
			continue
		}
		if failedNow {
			res.Failed++
			e.notifier.Notify(Notice{
				Level:   LevelError,
				Message: fmt.Sprintf("Failed to sync %s after %d attempts: %s", entry.Type, updated.RetryCount, updated.LastError),
				Err:     err,
			})
			continue
		}
		res.Retrying++
		e.scheduleRetry(updated.RetryCount)
	}

	if res.Deferred > 0 && res.Retrying == 0 {
		e.scheduleRetry(1)
	}

	if reachedEnd {
		if err := e.pull(ctx, uid); err != nil {
			e.logger.Printf("Refresh from remote failed: %v", err)
			e.mu.Lock()
			e.lastErr = err.Error()
			e.mu.Unlock()
		} else {
			res.Pulled = true
			e.mu.Lock()
			e.lastSync = e.now()
			e.mu.Unlock()
		}
	}
	return res, nil
}

// recordKey identifies the record an entry mutates, or "" when the payload
// names none.
func recordKey(entry *schema.QueueEntry) string {
	id, err := entry.RecordID()
	if err != nil || id == "" {
		return ""
	}
	return string(entry.Type) + "/" + id
}

func (e *Engine) scheduleRetry(retry int) {
	delay := e.cfg.backoff(retry)
	h := e.sched.After(retryKey, delay, func() {
		e.kick(TriggerRetry)
	})
	if h == nil {
		return
	}
	e.mu.Lock()
	e.retryHandle = h
	e.mu.Unlock()
}

// apply sends one queue entry to the remote.
func (e *Engine) apply(ctx context.Context, uid string, entry *schema.QueueEntry) error {
	switch entry.Type {
	case schema.TypeTask:
		return e.applyTask(ctx, uid, entry)
	case schema.TypeCategory:
		return e.applyCategory(ctx, uid, entry)
	case schema.TypeUser:
		return e.applyProfile(ctx, uid, entry)
	}
	return fmt.Errorf("unsupported entry type %q", entry.Type)
}

func (e *Engine) applyTask(ctx context.Context, uid string, entry *schema.QueueEntry) error {
	switch entry.Action {
	case schema.ActionAdd:
		var t schema.Task
		if err := json.Unmarshal(entry.Payload, &t); err != nil {
			return fmt.Errorf("failed to decode task: %w", err)
		}
		doc, err := remote.Encode(&t)
		if err != nil {
			return err
		}
		doc["userId"] = uid
		doc["createdAt"] = remote.ServerTimestamp
		doc["updatedAt"] = remote.ServerTimestamp
		if t.CompletedAt != nil {
			doc["completedAt"] = remote.ServerTimestamp
		}
		_, err = e.remote.Set(ctx, uid, remote.Tasks, t.ID, doc)
		return err

	case schema.ActionUpdate:
		var p schema.UpdatePayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode task update: %w", err)
		}
		var patch schema.TaskPatch
		if err := json.Unmarshal(p.Updates, &patch); err != nil {
			return fmt.Errorf("failed to decode task update: %w", err)
		}
		fields := patch.Fields()
		fields["updatedAt"] = remote.ServerTimestamp
		if patch.Status != nil {
			if *patch.Status == schema.StatusCompleted {
				fields["completedAt"] = remote.ServerTimestamp
			} else {
				fields["completedAt"] = nil
			}
		}
		return e.remote.Update(ctx, uid, remote.Tasks, p.ID, fields)

	case schema.ActionDelete:
		var ref schema.RecordRef
		if err := json.Unmarshal(entry.Payload, &ref); err != nil {
			return fmt.Errorf("failed to decode task reference: %w", err)
		}
		return e.remote.Delete(ctx, uid, remote.Tasks, ref.ID)
	}
	return fmt.Errorf("unsupported task action %q", entry.Action)
}

func (e *Engine) applyCategory(ctx context.Context, uid string, entry *schema.QueueEntry) error {
	switch entry.Action {
	case schema.ActionAdd:
		var c schema.Category
		if err := json.Unmarshal(entry.Payload, &c); err != nil {
			return fmt.Errorf("failed to decode category: %w", err)
		}
		doc, err := remote.Encode(&c)
		if err != nil {
			return err
		}
		delete(doc, "taskCount")
		doc["userId"] = uid
		doc["createdAt"] = remote.ServerTimestamp
		doc["updatedAt"] = remote.ServerTimestamp
		_, err = e.remote.Set(ctx, uid, remote.Categories, c.ID, doc)
		return err

	case schema.ActionUpdate:
		var p schema.UpdatePayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode category update: %w", err)
		}
		var patch schema.CategoryPatch
		if err := json.Unmarshal(p.Updates, &patch); err != nil {
			return fmt.Errorf("failed to decode category update: %w", err)
		}
		fields := patch.Fields()
		fields["updatedAt"] = remote.ServerTimestamp
		return e.remote.Update(ctx, uid, remote.Categories, p.ID, fields)

	case schema.ActionDelete:
		var ref schema.RecordRef
		if err := json.Unmarshal(entry.Payload, &ref); err != nil {
			return fmt.Errorf("failed to decode category reference: %w", err)
		}
		return e.remote.Delete(ctx, uid, remote.Categories, ref.ID)
	}
	return fmt.Errorf("unsupported category action %q", entry.Action)
}

// applyProfile writes profile changes to the user's own document, creating
// it on first use.
func (e *Engine) applyProfile(ctx context.Context, uid string, entry *schema.QueueEntry) error {
	switch entry.Action {
	case schema.ActionAdd, schema.ActionUpdate:
		var p schema.UpdatePayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode profile update: %w", err)
		}
		var patch schema.ProfilePatch
		if err := json.Unmarshal(p.Updates, &patch); err != nil {
			return fmt.Errorf("failed to decode profile update: %w", err)
		}
		fields := patch.Fields()
		fields["updatedAt"] = remote.ServerTimestamp

		err := e.remote.Update(ctx, uid, remote.Users, uid, fields)
		if !errors.Is(err, remote.ErrNotFound) {
			return err
		}
		doc := remote.Expand(fields)
		doc["userId"] = uid
		_, err = e.remote.Set(ctx, uid, remote.Users, uid, doc)
		return err

	case schema.ActionDelete:
		return e.remote.Delete(ctx, uid, remote.Users, uid)
	}
	return fmt.Errorf("unsupported profile action %q", entry.Action)
}
