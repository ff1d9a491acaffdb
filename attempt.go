package sourcier

import "time"

// callState is the lifecycle of one extraction call. The retry loop is
// driven by explicit state transitions rather than nested conditionals so
// the attempt policy stays auditable in one place (advance, below).
type callState int

const (
	statePending    callState = iota // resolved, not yet attempting
	stateAttempting                  // a browser attempt is executing
	stateSucceeded                   // terminal: manifest extracted
	stateFailed                      // terminal: budget exhausted or fatal error
)

func (s callState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateAttempting:
		return "attempting"
	case stateSucceeded:
		return "succeeded"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// attemptRecord is transient bookkeeping for one browser attempt; it is
// logged and discarded, never persisted.
type attemptRecord struct {
	attempt  int
	started  time.Time
	duration time.Duration
}

// advance computes the next call state after attempt k of max finished
// with err. The whole retry policy lives here: only retryable failures
// with budget remaining produce another attempt.
func advance(s callState, k, max int, err error) callState {
	switch s {
	case statePending:
		return stateAttempting
	case stateAttempting:
		if err == nil {
			return stateSucceeded
		}
		if Retryable(err) && k < max {
			return stateAttempting
		}
		return stateFailed
	}
	return s
}
