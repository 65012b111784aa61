// Package remotesink provides two concrete RemoteSink implementations
// (spec.md §6's "remote transport, out of scope" interface): a Redis list
// sink and a Postgres table sink. Neither is required by the core; both
// exist to give the channel package's injected collaborator interface a
// real, testable backing transport, grounded on
// control_plane/store/redis.go and control_plane/store/postgres.go.
package remotesink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluxforge/agentcore/channel"
)

// RedisSink pushes undeliverable messages onto a per-destination Redis
// list, the way control_plane/store/redis.go pairs a *redis.Client with a
// connection-verified constructor.
type RedisSink struct {
	client    *redis.Client
	keyPrefix string
	timeout   time.Duration
}

// NewRedisSink connects to addr and verifies the connection with a Ping,
// mirroring NewRedisStore's fail-fast construction contract.
func NewRedisSink(addr, password string, db int) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisSink{client: client, keyPrefix: "agentcore:remote:", timeout: 5 * time.Second}, nil
}

// Send pushes msg onto the destination's list, satisfying channel.RemoteSink.
func (s *RedisSink) Send(msg channel.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	key := s.keyPrefix + msg.To
	if msg.To == "" {
		key = s.keyPrefix + "unrouted"
	}
	return s.client.RPush(ctx, key, b).Err()
}

// Close releases the underlying connection pool.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
