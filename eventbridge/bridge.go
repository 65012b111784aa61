package eventbridge

import (
	"context"
	"time"

	"github.com/fluxforge/agentcore/ratelimit"
	"github.com/fluxforge/agentcore/scheduler"
)

// PumpScheduler forwards a Scheduler's lifecycle events to the hub until
// ctx is cancelled or the event stream closes.
func PumpScheduler(ctx context.Context, hub *Hub, events <-chan scheduler.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			hub.Publish(Envelope{
				Source:    "scheduler",
				Kind:      string(e.Kind),
				Payload:   map[string]string{"taskId": e.TaskID, "workerId": e.WorkerID},
				Timestamp: time.Now().UnixMilli(),
			})
		}
	}
}

// PumpRateLimiter forwards a Limiter's warning/exceeded events to the hub.
func PumpRateLimiter(ctx context.Context, hub *Hub, events <-chan ratelimit.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			hub.Publish(Envelope{
				Source:    "ratelimit",
				Kind:      string(e.Kind),
				Payload:   e,
				Timestamp: time.Now().UnixMilli(),
			})
		}
	}
}
