package sources

import (
	"context"
	"time"
)

// RetryPolicy bounds the rate-limit retry loop. MaxRetries counts additional
// attempts after the first, so a policy of 5 allows 6 requests in total.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration // cap for the doubling delay, 0 means uncapped
}

// retryState enumerates the states of the retry machine.
type retryState int

const (
	stateAttempting retryState = iota
	stateBackingOff
	stateSucceeded
	stateExhausted
)

// retryMachine drives the retry loop for rate-limited requests. It starts in
// stateAttempting; each 429 moves it to stateBackingOff until the budget is
// spent (stateExhausted), and a successful attempt parks it in
// stateSucceeded. Waiting is a separate step so the transitions can be
// exercised without sleeping.
type retryMachine struct {
	policy  RetryPolicy
	state   retryState
	attempt int           // attempts recorded so far
	delay   time.Duration // next default backoff delay
	wait    time.Duration // delay chosen for the pending backoff
}

func newRetryMachine(policy RetryPolicy) *retryMachine {
	return &retryMachine{
		policy: policy,
		state:  stateAttempting,
		delay:  policy.BaseDelay,
	}
}

func (m *retryMachine) State() retryState { return m.state }

// Attempts returns how many attempts have been recorded.
func (m *retryMachine) Attempts() int { return m.attempt }

// RecordSuccess marks the current attempt successful.
func (m *retryMachine) RecordSuccess() {
	m.attempt++
	m.state = stateSucceeded
}

// RecordRateLimit marks the current attempt rate-limited. When the server
// supplied a Retry-After hint it overrides the default delay for this backoff
// only; the default delay keeps doubling either way, up to the policy cap.
func (m *retryMachine) RecordRateLimit(hint time.Duration, hasHint bool) {
	m.attempt++
	if m.attempt > m.policy.MaxRetries {
		m.state = stateExhausted
		return
	}

	m.wait = m.delay
	if hasHint {
		m.wait = hint
	}

	m.delay *= 2
	if m.policy.MaxDelay > 0 && m.delay > m.policy.MaxDelay {
		m.delay = m.policy.MaxDelay
	}

	m.state = stateBackingOff
}

// Backoff waits out the pending delay and returns the machine to
// stateAttempting. Cancelling the context aborts the wait.
func (m *retryMachine) Backoff(ctx context.Context) error {
	timer := time.NewTimer(m.wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	m.state = stateAttempting
	return nil
}
