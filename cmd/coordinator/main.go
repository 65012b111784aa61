// Command coordinator is a demo wiring of every component into a single
// end-to-end run over a fixed demo task list: it reads pool, rate and
// strategy settings from the environment, constructs the WorkerPool, MessageChannel server, RateLimiter and
// Scheduler, and drives one run to completion while exposing Prometheus
// metrics. The env-var-plus-fmt.Sscanf configuration style (no config
// framework) and the construction order (store-equivalent first, then
// scheduler, then Start) are grounded on control_plane/main.go.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluxforge/agentcore/channel"
	"github.com/fluxforge/agentcore/graph"
	"github.com/fluxforge/agentcore/ratelimit"
	"github.com/fluxforge/agentcore/scheduler"
	"github.com/fluxforge/agentcore/session"
	"github.com/fluxforge/agentcore/workerpool"
)

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}

func demoTasks() []graph.TaskSpec {
	return []graph.TaskSpec{
		{ID: "fetch-dependencies", Instructions: "echo fetching deps", WorkspacePath: "/workspace/deps", EstimatedRPM: 5},
		{ID: "run-unit-tests", Dependencies: []string{"fetch-dependencies"}, Instructions: "echo running tests", WorkspacePath: "/workspace/tests", EstimatedRPM: 10},
		{ID: "run-lint", Dependencies: []string{"fetch-dependencies"}, Instructions: "echo linting", WorkspacePath: "/workspace/lint", EstimatedRPM: 5},
		{ID: "publish-artifact", Dependencies: []string{"run-unit-tests", "run-lint"}, Instructions: "echo publishing", WorkspacePath: "/workspace/publish", EstimatedRPM: 8},
	}
}

func main() {
	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.Printf("metrics listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	maxWorkers := envInt("MAX_WORKERS", 10)
	spawnTimeoutMs := envInt("SPAWN_TIMEOUT_MS", 3000)

	pool, err := workerpool.New(workerpool.Config{
		MaxWorkers:   maxWorkers,
		SpawnTimeout: time.Duration(spawnTimeoutMs) * time.Millisecond,
		AutoCleanup:  true,
	}, session.ShellFactory{})
	if err != nil {
		log.Fatalf("failed to construct worker pool: %v", err)
	}
	defer pool.Cleanup()

	ch := channel.NewServer(channel.ServerConfig{EnableRemoteFallback: false})
	port, err := ch.Listen()
	if err != nil {
		log.Fatalf("failed to bind message channel: %v", err)
	}
	log.Printf("message channel listening on loopback port %d", port)
	defer ch.Stop()

	limiter := ratelimit.New([]ratelimit.ProviderConfig{
		{Provider: "worker", RequestsPerMinute: envInt("MAX_RPM", 3800)},
	})
	defer limiter.Dispose()

	sched, err := scheduler.New(demoTasks(), pool, ch, limiter, scheduler.Config{
		Strategy:            scheduler.StrategyName(envOr("SCHEDULER_STRATEGY", "max-parallel")),
		MaxRPM:              float64(envInt("MAX_RPM", 3800)),
		EstimatedRPMPerTask: float64(envInt("ESTIMATED_RPM_PER_TASK", 15)),
		MaxWorkers:          maxWorkers,
	})
	if err != nil {
		log.Fatalf("failed to construct scheduler: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	go func() {
		for e := range sched.Events() {
			log.Printf("scheduler event: %s taskId=%s workerId=%s err=%v", e.Kind, e.TaskID, e.WorkerID, e.Err)
		}
	}()

	if err := sched.Run(ctx); err != nil {
		log.Fatalf("scheduler run failed: %v", err)
	}
	log.Println("run complete")
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
