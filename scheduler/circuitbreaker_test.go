package scheduler

import "testing"

func TestCircuitBreakerOpensOnQueueDepth(t *testing.T) {
	cb := newCircuitBreaker(10)
	if !cb.shouldAdmit(2, 0.1) {
		t.Fatal("expected admit under threshold")
	}
	if cb.shouldAdmit(20, 0.1) {
		t.Fatal("expected reject once queue depth exceeds threshold")
	}
	if cb.currentState() != circuitOpen {
		t.Fatalf("expected open state, got %s", cb.currentState())
	}
}

func TestCircuitBreakerOpensOnSaturation(t *testing.T) {
	cb := newCircuitBreaker(100)
	if cb.shouldAdmit(1, 0.99) {
		t.Fatal("expected reject once saturation exceeds threshold")
	}
}

func TestCircuitBreakerRecordFailureReopensFromHalfOpen(t *testing.T) {
	cb := newCircuitBreaker(10)
	cb.state = circuitHalfOpen
	cb.testCount = 0

	cb.recordFailure()
	if cb.currentState() != circuitOpen {
		t.Fatalf("expected reopen on failure during half-open, got %s", cb.currentState())
	}
}

func TestCircuitBreakerRecordSuccessClosesAfterTestLimit(t *testing.T) {
	cb := newCircuitBreaker(10)
	cb.state = circuitHalfOpen
	cb.testCount = cb.testLimit

	cb.recordSuccess()
	if cb.currentState() != circuitClosed {
		t.Fatalf("expected closed after enough half-open successes, got %s", cb.currentState())
	}
}
