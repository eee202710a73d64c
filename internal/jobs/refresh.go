package jobs

import (
	"context"

	"herald/internal/eventbus"
	"herald/pkg/logx"
)

// refreshTick re-evaluates every running continuous job. Each job gets its
// own goroutine: re-evaluations are independent and their directory calls
// may overlap each other and the in-flight send. Only dispatch itself is
// serialized.
func (s *Service) refreshTick(ctx context.Context) {
	s.mu.Lock()
	if s.down || s.blockNew {
		s.mu.Unlock()
		return
	}
	var targets []*Job
	for _, job := range s.jobs {
		if job.Continuous && !job.complete {
			targets = append(targets, job)
		}
	}
	s.mu.Unlock()

	for _, job := range targets {
		s.wg.Add(1)
		go func(job *Job) {
			defer s.wg.Done()
			s.refreshJob(ctx, job)
		}(job)
	}
}

// refreshJob appends recipients that started matching the job's query after
// it was last evaluated. A failed re-evaluation is logged and retried on
// the next tick; it never fails the job.
func (s *Service) refreshJob(ctx context.Context, job *Job) {
	nations, err := s.ev.Evaluate(ctx, job.Query, job.Rules)
	if err != nil {
		s.log.Warn("refresh evaluation failed", logx.String("job", job.ID), logx.Err(err))
		return
	}

	s.mu.Lock()
	if s.down || job.complete {
		// Cancelled (or shut down) while the evaluation was outstanding.
		s.mu.Unlock()
		return
	}
	var added []*Recipient
	for _, n := range nations {
		if job.known[n] {
			continue
		}
		job.known[n] = true
		r := &Recipient{Nation: n, JobID: job.ID}
		job.recipients = append(job.recipients, r)
		added = append(added, r)
	}
	s.mu.Unlock()

	if len(added) == 0 {
		return
	}
	names := make([]string, len(added))
	for i, r := range added {
		s.queue.enqueue(r)
		names[i] = r.Nation
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeRecipientsAdded, JobID: job.ID, Nations: names})
	s.log.Info("refresh added recipients", logx.String("job", job.ID), logx.Int("added", len(added)))
}
