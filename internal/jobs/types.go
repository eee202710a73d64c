package jobs

import (
	"herald/internal/directory"
	"herald/internal/eval"
)

// SendParams is everything a job needs to actually deliver its telegram.
type SendParams struct {
	Telegram    directory.Telegram
	Credentials directory.Credentials

	// From is the region the telegram is attributed to; eligibility checks
	// for recruitment telegrams pass it along.
	From string

	// CheckEligibility asks the directory per recipient whether the nation
	// accepts this telegram class before sending. A failed check fails the
	// send with a descriptive error rather than silently skipping.
	CheckEligibility bool

	// SkipRepeats consults the send history and fails the send if this
	// telegram id already reached the nation in an earlier job. Ignored
	// when no store is configured.
	SkipRepeats bool
}

// SubmitRequest pairs a query with its send parameters.
type SubmitRequest struct {
	Query      string
	Params     SendParams
	Continuous bool
	DryRun     bool
	Rules      eval.CacheRules
}

// Recipient is one queued delivery. Resolution state is guarded by the
// service mutex and written exactly once: whichever path resolves it first
// (send result, cancellation, shutdown clear) wins, later writes are
// dropped.
type Recipient struct {
	Nation string
	JobID  string

	resolved bool
	success  bool
	cause    error
}

// Job is created once at submission. Only recipients (append-only, never
// reordered, continuous jobs only) and the started/complete flags mutate
// afterwards.
type Job struct {
	ID         string
	Query      string
	Params     SendParams
	Continuous bool
	DryRun     bool
	Rules      eval.CacheRules

	recipients []*Recipient
	known      map[string]bool // canonical nation -> already a recipient
	started    bool
	complete   bool
}

// RecipientStatus is a point-in-time copy of one recipient.
type RecipientStatus struct {
	Nation  string
	Pending bool
	Success bool
	Error   string
}

// JobStatus is a point-in-time copy of one job.
type JobStatus struct {
	ID         string
	Query      string
	Continuous bool
	DryRun     bool
	Started    bool
	Complete   bool

	Total     int
	Pending   int
	Succeeded int
	Failed    int

	Recipients []RecipientStatus
}

// Snapshot is a point-in-time copy of the whole service.
type Snapshot struct {
	Jobs          []JobStatus
	QueueLen      int
	Sending       bool
	BlockExisting bool
	BlockNew      bool
	Down          bool
}
