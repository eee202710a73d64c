package jobs

import (
	"context"
	"fmt"
	"time"

	"herald/internal/eventbus"
	"herald/internal/storage"
	"herald/pkg/logx"
)

// dispatchLoop drains the global queue one recipient at a time. A single
// goroutine runs it, so at most one send is in flight system-wide.
func (s *Service) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if s.dispatchPaused() {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}

		r, ok := s.queue.tryDequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.queue.wait():
			}
			continue
		}
		s.dispatch(ctx, r)
	}
}

func (s *Service) dispatchPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockExisting
}

func (s *Service) dispatch(ctx context.Context, r *Recipient) {
	s.mu.Lock()
	job, ok := s.jobs[r.JobID]
	if !ok {
		s.mu.Unlock()
		// Recipients are only ever enqueued for registered jobs and jobs are
		// never deleted, so this is an internal consistency fault.
		s.log.Error("queued recipient owned by unknown job",
			logx.String("job", r.JobID), logx.String("nation", r.Nation))
		return
	}
	if r.resolved {
		// Cancelled while queued; removal from the queue raced the dequeue.
		s.mu.Unlock()
		return
	}
	s.sending = true
	first := !job.started
	if first {
		job.started = true
	}
	params := job.Params
	dry := job.DryRun
	s.mu.Unlock()

	if first {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobStarted, JobID: job.ID})
		s.log.Info("job started", logx.String("job", job.ID))
	}

	sendErr := s.send(ctx, r.Nation, params, dry)

	s.mu.Lock()
	wrote, completed := s.resolveLocked(job, r, sendErr == nil, sendErr)
	s.sending = false
	s.mu.Unlock()

	if !wrote {
		// Finalized by cancellation while the send was in flight; the first
		// resolution stands and the late result is dropped.
		return
	}

	s.audit(ctx, job.ID, r.Nation, params, dry, sendErr)

	if sendErr != nil {
		s.bus.Publish(eventbus.Event{
			Type:   eventbus.TypeSendFailed,
			JobID:  job.ID,
			Nation: r.Nation,
			Err:    sendErr.Error(),
		})
		s.log.Warn("send failed", logx.String("job", job.ID), logx.String("nation", r.Nation), logx.Err(sendErr))
	} else {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeSendSucceeded, JobID: job.ID, Nation: r.Nation})
		s.log.Debug("send succeeded", logx.String("job", job.ID), logx.String("nation", r.Nation))
	}

	if completed {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobCompleted, JobID: job.ID})
		s.log.Info("job complete", logx.String("job", job.ID))
	}
}

// send runs the per-recipient checks and the delivery itself. Any returned
// error becomes that recipient's final status; it never aborts siblings.
func (s *Service) send(ctx context.Context, nation string, p SendParams, dry bool) error {
	if p.SkipRepeats && s.store != nil {
		sent, err := s.store.Sent(ctx, nation, p.Telegram.ID)
		if err != nil {
			return fmt.Errorf("send history: %w", err)
		}
		if sent {
			return fmt.Errorf("telegram %s was already sent to %s", p.Telegram.ID, nation)
		}
	}
	if p.CheckEligibility {
		ok, err := s.dir.CanReceive(ctx, nation, p.Telegram.Class, p.From)
		if err != nil {
			return fmt.Errorf("eligibility check: %w", err)
		}
		if !ok {
			return fmt.Errorf("nation %q does not accept %s telegrams", nation, p.Telegram.Class)
		}
	}
	if dry {
		return nil
	}
	return s.dir.SendTelegram(ctx, p.Credentials, p.Telegram, nation)
}

func (s *Service) audit(ctx context.Context, jobID, nation string, p SendParams, dry bool, sendErr error) {
	if s.store == nil {
		return
	}
	rec := storage.SendRecord{
		At:         time.Now(),
		JobID:      jobID,
		Nation:     nation,
		TelegramID: p.Telegram.ID,
		Class:      p.Telegram.Class.String(),
		DryRun:     dry,
		OK:         sendErr == nil,
	}
	if sendErr != nil {
		rec.Error = sendErr.Error()
	}
	if err := s.store.AppendSend(ctx, rec); err != nil {
		s.log.Warn("appending send history", logx.Err(err))
	}
}
