// Package jobs owns the send pipeline: it turns a recipient query into a
// tracked job, queues one pending recipient per resolved nation on a single
// global FIFO, and drains that queue one send at a time.
//
// Serialized dispatch is the only back-pressure this layer provides; the
// directory client enforces the wire-level rate limits underneath it. A
// cron-driven refresh re-evaluates continuous jobs and appends nations that
// started matching after submission.
package jobs
