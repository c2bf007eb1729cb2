package eventlog

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/choir-run/choir/pkg/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore is the durable Store backing production deployments.
// Append takes seq from the table's Postgres sequence in the INSERT
// statement itself. Seqs are strictly increasing but not gap-free: an
// insert that fails after drawing a value leaves that seq unused.
type PostgresStore struct {
	pool *store.Pool
}

// NewPostgresStore opens a pool and applies embedded migrations before
// returning, matching the teacher's NewClient-does-migrate-on-construct
// pattern.
func NewPostgresStore(ctx context.Context, cfg store.DSNConfig) (*PostgresStore, error) {
	if err := store.Migrate(cfg, migrationsFS, "migrations"); err != nil {
		return nil, err
	}
	pool, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Append(ctx context.Context, e Event) (int64, error) {
	payload, err := structToJSON(e.Payload)
	if err != nil {
		return 0, fmt.Errorf("%w: marshaling payload: %v", ErrBackendUnavailable, err)
	}

	var seq int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO events (event_id, event_type, actor_id, user_id, "timestamp", payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`, e.EventID, e.EventType, e.ActorID, e.UserID, e.Timestamp, payload).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return seq, nil
}

func (s *PostgresStore) AppendAsync(e Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.Append(ctx, e); err != nil {
			slog.Warn("eventlog: async append failed", "event_type", e.EventType, "error", err)
		}
	}()
}

func (s *PostgresStore) Query(ctx context.Context, sinceSeq int64, limit int, filter Filter) ([]Event, error) {
	if limit <= 0 {
		limit = 1000
	}

	var rows pgx.Rows
	var err error
	if filter.EventType == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT seq, event_id, event_type, actor_id, user_id, "timestamp", payload
			FROM events WHERE seq > $1 ORDER BY seq ASC LIMIT $2
		`, sinceSeq, limit)
	} else if filter.EventType[len(filter.EventType)-1] == '.' {
		rows, err = s.pool.Query(ctx, `
			SELECT seq, event_id, event_type, actor_id, user_id, "timestamp", payload
			FROM events WHERE seq > $1 AND event_type LIKE $2 ORDER BY seq ASC LIMIT $3
		`, sinceSeq, filter.EventType+"%", limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT seq, event_id, event_type, actor_id, user_id, "timestamp", payload
			FROM events WHERE seq > $1 AND event_type = $2 ORDER BY seq ASC LIMIT $3
		`, sinceSeq, filter.EventType, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var payloadBytes []byte
		if err := rows.Scan(&e.Seq, &e.EventID, &e.EventType, &e.ActorID, &e.UserID, &e.Timestamp, &payloadBytes); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		e.Payload, err = jsonToStruct(payloadBytes)
		if err != nil {
			return nil, fmt.Errorf("eventlog: decode payload: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LatestSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("eventlog: latest_seq: %w", err)
	}
	return seq, nil
}

// Follow polls Query at a bounded interval. Per spec §4.1 the design
// floor is <=200ms effective latency; its consumers (the relay and the
// logs WebSocket handler) tolerate that latency.
func (s *PostgresStore) Follow(ctx context.Context, sinceSeq int64, filter Filter) (<-chan Event, <-chan error) {
	out := make(chan Event, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		ticker := time.NewTicker(150 * time.Millisecond)
		defer ticker.Stop()

		last := sinceSeq
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				events, err := s.Query(ctx, last, 500, filter)
				if err != nil {
					select {
					case errc <- err:
					default:
					}
					continue
				}
				for _, e := range events {
					select {
					case out <- e:
						last = e.Seq
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, errc
}

func structToJSON(s *structpb.Struct) ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.AsMap())
}

func jsonToStruct(b []byte) (*structpb.Struct, error) {
	if len(b) == 0 {
		return structpb.NewStruct(nil)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}
