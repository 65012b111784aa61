package remotesink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fluxforge/agentcore/channel"
)

// PostgresSink appends undeliverable messages to a durable table, the way
// control_plane/store/postgres.go pairs a pgxpool.Pool with a
// connection-verified constructor and a pool-tuning config.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink initializes a connection pool and verifies it with a
// Ping, mirroring NewPostgresStore.
func NewPostgresSink(ctx context.Context, connString string) (*PostgresSink, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresSink{pool: pool}, nil
}

const insertMessageQuery = `
	INSERT INTO remote_messages (id, type, from_worker, to_worker, payload, timestamp, correlation_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// Send persists msg as a row, satisfying channel.RemoteSink.
func (s *PostgresSink) Send(msg channel.Message) error {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = s.pool.Exec(ctx, insertMessageQuery,
		msg.ID, msg.Type, msg.From, msg.To, payload, msg.Timestamp, msg.CorrelationID,
	)
	return err
}

// Close releases the underlying connection pool.
func (s *PostgresSink) Close() {
	s.pool.Close()
}
