package app

import "errors"

// Error taxonomy. Everything else surfaces as a plain precondition violation
// via fmt.Errorf; these named classes are the ones callers dispatch on.
var (
	errAlreadyRequested = errors.New("randomness already requested for this round")
	errUnknownRequest   = errors.New("unknown randomness request")
	errCallLimitReached = errors.New("keeper call limit reached for this round")
	errNothingToClaim   = errors.New("nothing to claim")
	errPaused           = errors.New("gauntlet is paused")
	errReentrantCall    = errors.New("reentrant call rejected")
)
