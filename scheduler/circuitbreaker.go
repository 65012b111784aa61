package scheduler

import (
	"log"
	"sync"
	"time"
)

// circuitState is the admission-control state of a circuitBreaker.
type circuitState int

const (
	circuitClosed   circuitState = iota // admitting normally
	circuitHalfOpen                     // admitting a limited test sample
	circuitOpen                         // rejecting new assignments
)

func (s circuitState) String() string {
	switch s {
	case circuitClosed:
		return "closed"
	case circuitHalfOpen:
		return "half_open"
	case circuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// circuitBreaker is admission control in front of Scheduler.assign: when the
// ready queue or worker saturation runs too hot, it rejects new assignments
// for a cooldown period rather than piling workers onto an already-stressed
// run, then samples a handful of test assignments before fully reopening.
// Grounded on control_plane/scheduler/circuit_breaker.go, repurposed from
// HTTP-submission backpressure to task-assignment backpressure.
type circuitBreaker struct {
	mu    sync.Mutex
	state circuitState

	queueThreshold      int
	saturationThreshold float64
	cooldownPeriod      time.Duration

	openedAt  time.Time
	testCount int
	testLimit int
}

func newCircuitBreaker(queueThreshold int) *circuitBreaker {
	return &circuitBreaker{
		state:               circuitClosed,
		queueThreshold:      queueThreshold,
		saturationThreshold: 0.95,
		cooldownPeriod:      30 * time.Second,
		testLimit:           5,
	}
}

// shouldAdmit reports whether a new task assignment should proceed given the
// current ready-queue depth and worker saturation (runningWorkers/maxWorkers).
func (cb *circuitBreaker) shouldAdmit(queueDepth int, workerSaturation float64) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == circuitOpen && time.Since(cb.openedAt) > cb.cooldownPeriod {
		cb.state = circuitHalfOpen
		cb.testCount = 0
	}

	if cb.state == circuitHalfOpen {
		if cb.testCount < cb.testLimit {
			cb.testCount++
			return true
		}
		if queueDepth < cb.queueThreshold/2 && workerSaturation < cb.saturationThreshold {
			cb.state = circuitClosed
			return true
		}
		return false
	}

	if queueDepth > cb.queueThreshold || workerSaturation > cb.saturationThreshold {
		cb.state = circuitOpen
		cb.openedAt = time.Now()
		log.Printf("⚠️ scheduler circuit breaker OPEN (queueDepth=%d, saturation=%.2f)", queueDepth, workerSaturation)
		return false
	}

	return cb.state == circuitClosed
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == circuitHalfOpen && cb.testCount >= cb.testLimit {
		cb.state = circuitClosed
		log.Printf("✅ scheduler circuit breaker CLOSED after passing test sample")
	}
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == circuitHalfOpen {
		cb.state = circuitOpen
		cb.openedAt = time.Now()
		cb.testCount = 0
		log.Printf("⚠️ scheduler circuit breaker REOPENED - test assignment failed during half-open sample")
	}
}

func (cb *circuitBreaker) currentState() circuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
