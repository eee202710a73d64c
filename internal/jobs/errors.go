package jobs

import "errors"

var (
	ErrShutdown     = errors.New("job manager is shut down")
	ErrBlocked      = errors.New("new submissions are blocked")
	ErrNoRecipients = errors.New("query matched no recipients")
	ErrNotFound     = errors.New("job not found")

	// ErrCancelled / ErrCleared are terminal recipient causes written by
	// Cancel and Shutdown respectively.
	ErrCancelled = errors.New("job cancelled")
	ErrCleared   = errors.New("pending sends cleared at shutdown")
)
