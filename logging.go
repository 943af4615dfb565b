package taskpool

import "log"

// RejectionObserver is the host environment's unhandled-rejection facility:
// a task failure that no waiter claims within the pool's grace period is
// surfaced via UnhandledRejection; if a waiter claims it later after all
// (a late Promise or WaitForIdle call), RejectionHandled is additionally
// signalled. Observer methods are called outside the pool's scheduling
// context, and may safely re-enter the public API.
type RejectionObserver interface {
	UnhandledRejection(err error)
	RejectionHandled(err error)
}

// defaultObserver reports via the pool's logger, falling back to the
// standard library's log package for unhandled rejections when no logger
// is configured, so they are never silently dropped.
type defaultObserver struct {
	pool *Pool
}

func (x defaultObserver) UnhandledRejection(err error) {
	if x.pool.logger == nil {
		log.Printf(`taskpool: unhandled rejection: %v`, err)
		return
	}
	x.pool.logger.Err().
		Err(err).
		Log(`unhandled rejection`)
}

func (x defaultObserver) RejectionHandled(err error) {
	x.pool.logger.Debug().
		Err(err).
		Log(`rejection handled`)
}
