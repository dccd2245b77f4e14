package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSource claims outbox rows written by the Postgres repository.
type PostgresSource struct {
	pool *pgxpool.Pool
	dlq  *DLQWriter
}

// NewPostgresSource constructs a PostgresSource.
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool, dlq: NewDLQWriter(pool)}
}

// Claim implements Source.
func (s *PostgresSource) Claim(ctx context.Context, limit int) ([]Message, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const query = `SELECT event_id, conduct_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload
        FROM outbox
        WHERE published_at IS NULL AND claimed_at IS NULL
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.EventID, &msg.ConductID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &msg.Payload); err != nil {
			rows.Close()
			return nil, err
		}
		messages = append(messages, msg)
		ids = append(ids, msg.EventID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkPublished implements Source.
func (s *PostgresSource) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)
	return err
}

// DeadLetter implements Source.
func (s *PostgresSource) DeadLetter(ctx context.Context, msg Message, reason string) error {
	return s.dlq.Write(ctx, msg, reason)
}

// ReleaseStale returns claimed but unpublished rows older than the cutoff
// interval to the queue, for rows orphaned by a dispatcher crash.
func (s *PostgresSource) ReleaseStale(ctx context.Context, olderThan string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbox SET claimed_at = NULL WHERE published_at IS NULL AND claimed_at < NOW() - $1::interval`,
		olderThan,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
