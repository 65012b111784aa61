// Package review implements the ReviewCoordinator (spec.md §4.8): it
// infers a specialization from task keywords, reuses or spawns a
// dedicated reviewer worker, and brokers the review-request /
// review-approved / review-rejected exchange over the MessageChannel.
// The reuse-or-spawn registry and the pending-wait-plus-timeout shape are
// grounded on control_plane/coordination/leader.go's callback/mutex
// discipline, generalized from a single leader slot to a map of
// specializations.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxforge/agentcore/channel"
	"github.com/fluxforge/agentcore/observability"
	"github.com/fluxforge/agentcore/workerpool"
)

// Specialization is the closed set of reviewer focus areas.
type Specialization string

const (
	Security    Specialization = "security"
	Performance Specialization = "performance"
	Style       Specialization = "style"
)

var securityKeywords = []string{"auth", "security", "login", "password", "token", "encrypt"}
var performanceKeywords = []string{"optimize", "performance", "cache", "query", "index", "batch"}

// InferSpecialization matches spec.md §4.8's keyword substring rules
// against taskID, falling back to Style.
func InferSpecialization(taskID string) Specialization {
	lower := strings.ToLower(taskID)
	for _, kw := range securityKeywords {
		if strings.Contains(lower, kw) {
			return Security
		}
	}
	for _, kw := range performanceKeywords {
		if strings.Contains(lower, kw) {
			return Performance
		}
	}
	return Style
}

func systemPromptFor(spec Specialization) string {
	switch spec {
	case Security:
		return "You are a security-focused code reviewer. Flag authentication, authorization, and data-handling risks."
	case Performance:
		return "You are a performance-focused code reviewer. Flag algorithmic complexity, caching, and query efficiency issues."
	default:
		return "You are a style-focused code reviewer. Flag readability, naming, and convention issues."
	}
}

// ErrTimeout is returned when a review is not resolved within its deadline.
var ErrTimeout = errors.New("review: wait timed out")

// ErrDisposed is returned to any wait outstanding when Dispose is called.
var ErrDisposed = errors.New("review: coordinator disposed")

// RequestInput is the input to Coordinator.RequestReview.
type RequestInput struct {
	TaskID         string
	WorkerID       string
	FilesChanged   []string
	Description    string
	Specialization Specialization // optional; empty infers from TaskID
}

// RequestResult is returned synchronously from RequestReview.
type RequestResult struct {
	ReviewID   string
	ReviewerID string
	Status     string
}

// Outcome is the resolved result of a review.
type Outcome struct {
	Approved   bool
	ReviewerID string
	Feedback   string
	Suggestions []string
	Issues      []string
}

type pending struct {
	ch chan Outcome
}

// Coordinator brokers reviews between workers and specialized reviewers.
type Coordinator struct {
	pool *workerpool.Pool
	ch   *channel.Server

	mu              sync.Mutex
	activeReviewers map[Specialization]string
	pendingReviews  map[string]*pending // keyed by taskId
	requestStarted  map[string]time.Time
	requestSpec     map[string]Specialization
	defaultTimeout  time.Duration
}

const defaultWaitTimeout = 5 * time.Minute

// New constructs a Coordinator.
func New(pool *workerpool.Pool, ch *channel.Server) *Coordinator {
	c := &Coordinator{
		pool:            pool,
		ch:              ch,
		activeReviewers: make(map[Specialization]string),
		pendingReviews:  make(map[string]*pending),
		requestStarted:  make(map[string]time.Time),
		requestSpec:     make(map[string]Specialization),
		defaultTimeout:  defaultWaitTimeout,
	}
	return c
}

// takeRequestTiming removes and returns the specialization and elapsed time
// recorded when taskId's review was requested, for metrics purposes.
func (c *Coordinator) takeRequestTiming(taskID string) (Specialization, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start, ok := c.requestStarted[taskID]
	if !ok {
		return "", 0, false
	}
	spec := c.requestSpec[taskID]
	delete(c.requestStarted, taskID)
	delete(c.requestSpec, taskID)
	return spec, time.Since(start), true
}

// Listen starts consuming review-approved/review-rejected messages from the
// channel server. Must be called once before RequestReview/WaitForApproval
// are used concurrently with real workers.
func (c *Coordinator) Listen(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-c.ch.Events():
				if !ok {
					return
				}
				if e.Kind != channel.EventMessage {
					continue
				}
				switch e.Message.Type {
				case channel.ReviewApproved:
					c.resolve(e.Message, true)
				case channel.ReviewRejected:
					c.resolve(e.Message, false)
				}
			}
		}
	}()
}

type reviewResponsePayload struct {
	TaskID      string   `json:"taskId"`
	Feedback    string   `json:"feedback"`
	Suggestions []string `json:"suggestions,omitempty"`
	Issues      []string `json:"issues,omitempty"`
}

func (c *Coordinator) resolve(msg channel.Message, approved bool) {
	var p reviewResponsePayload
	if json.Unmarshal(msg.Payload, &p) != nil || p.TaskID == "" {
		return
	}

	c.mu.Lock()
	pend, ok := c.pendingReviews[p.TaskID]
	if ok {
		delete(c.pendingReviews, p.TaskID)
	}
	c.mu.Unlock()
	if !ok {
		log.Printf("review: discarding %s for unknown taskId %q", msg.Type, p.TaskID)
		return
	}

	feedback := p.Feedback
	if feedback == "" {
		feedback = "no feedback provided"
	}
	pend.ch <- Outcome{
		Approved:    approved,
		ReviewerID:  msg.From,
		Feedback:    feedback,
		Suggestions: p.Suggestions,
		Issues:      p.Issues,
	}

	outcome := "rejected"
	if approved {
		outcome = "approved"
	}
	spec, elapsed, hadTiming := c.takeRequestTiming(p.TaskID)
	observability.ReviewOutcomes.WithLabelValues(string(spec), outcome).Inc()
	if hadTiming {
		observability.ReviewRoundTripSeconds.Observe(elapsed.Seconds())
	}
}

// RequestReview resolves a reviewer for the task's specialization (reusing
// one already spawned or spawning a fresh one), then sends a review-request
// message and returns synchronously.
func (c *Coordinator) RequestReview(ctx context.Context, in RequestInput) (RequestResult, error) {
	spec := in.Specialization
	if spec == "" {
		spec = InferSpecialization(in.TaskID)
	}

	reviewerID, err := c.ensureReviewer(ctx, spec)
	if err != nil {
		return RequestResult{}, err
	}

	reviewID := "review-" + uuid.NewString()[:8]

	c.mu.Lock()
	c.requestStarted[in.TaskID] = time.Now()
	c.requestSpec[in.TaskID] = spec
	c.mu.Unlock()

	payload, _ := json.Marshal(map[string]any{
		"reviewId":     reviewID,
		"taskId":       in.TaskID,
		"filesChanged": in.FilesChanged,
		"description":  in.Description,
	})
	c.ch.Send(reviewerID, channel.Message{
		ID:        reviewID,
		Type:      channel.ReviewRequest,
		From:      in.WorkerID,
		To:        reviewerID,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})

	return RequestResult{ReviewID: reviewID, ReviewerID: reviewerID, Status: "pending"}, nil
}

func (c *Coordinator) ensureReviewer(ctx context.Context, spec Specialization) (string, error) {
	c.mu.Lock()
	if id, ok := c.activeReviewers[spec]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	reviewerID := "reviewer-" + string(spec) + "-" + uuid.NewString()[:8]
	_, err := c.pool.Spawn(ctx, workerpool.SpawnOptions{
		TaskID:       reviewerID,
		WorkingDir:   "/",
		SystemPrompt: systemPromptFor(spec),
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.activeReviewers[spec] = reviewerID
	c.mu.Unlock()
	log.Printf("✅ reviewer %s spawned for specialization %q", reviewerID, spec)
	return reviewerID, nil
}

// WaitForApproval suspends until taskId's review resolves or timeout
// elapses. At most one outstanding wait per taskId.
func (c *Coordinator) WaitForApproval(taskID string, timeout time.Duration) (Outcome, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	p := &pending{ch: make(chan Outcome, 1)}
	c.mu.Lock()
	c.pendingReviews[taskID] = p
	c.mu.Unlock()

	select {
	case o, ok := <-p.ch:
		if !ok {
			return Outcome{}, ErrDisposed
		}
		return o, nil
	case <-time.After(timeout):
		c.mu.Lock()
		delete(c.pendingReviews, taskID)
		c.mu.Unlock()
		spec, _, _ := c.takeRequestTiming(taskID)
		observability.ReviewOutcomes.WithLabelValues(string(spec), "timeout").Inc()
		log.Printf("⚠️ review for task %s timed out after %v", taskID, timeout)
		return Outcome{}, ErrTimeout
	}
}

// Dispose rejects every outstanding wait and clears the reviewer registry;
// subsequent requests spawn fresh reviewers.
func (c *Coordinator) Dispose() {
	c.mu.Lock()
	pending := c.pendingReviews
	c.pendingReviews = make(map[string]*pending)
	c.activeReviewers = make(map[Specialization]string)
	c.requestStarted = make(map[string]time.Time)
	c.requestSpec = make(map[string]Specialization)
	c.mu.Unlock()

	for _, p := range pending {
		close(p.ch)
	}
}
