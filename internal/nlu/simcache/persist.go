package simcache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tourism-assistant/internal/nlu/embedding"
)

// SQLitePersister keeps embeddings in a local SQLite table keyed by (model, text).
type SQLitePersister struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS embedding_cache (
	model      TEXT    NOT NULL,
	text_key   TEXT    NOT NULL,
	vector     BLOB    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (model, text_key)
)`

func NewSQLitePersister(ctx context.Context, db *sql.DB) (*SQLitePersister, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("create embedding_cache table: %w", err)
	}
	return &SQLitePersister{db: db}, nil
}

func (p *SQLitePersister) Load(ctx context.Context, model string, limit int) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT text_key, vector FROM embedding_cache WHERE model = ? ORDER BY updated_at DESC LIMIT ?`,
		model, limit)
	if err != nil {
		return nil, fmt.Errorf("query embedding_cache: %w", err)
	}
	defer rows.Close()

	var newestFirst []Entry
	for rows.Next() {
		var key string
		var blob []byte
		if err := rows.Scan(&key, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding_cache: %w", err)
		}
		values, err := embedding.DecodeVector(blob)
		if err != nil {
			continue
		}
		newestFirst = append(newestFirst, Entry{Key: key, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reverse(newestFirst), nil
}

func (p *SQLitePersister) Store(ctx context.Context, model string, e Entry) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO embedding_cache (model, text_key, vector, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (model, text_key) DO UPDATE SET vector = excluded.vector, updated_at = excluded.updated_at`,
		model, e.Key, embedding.EncodeVector(e.Values), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert embedding_cache: %w", err)
	}
	return nil
}

func (p *SQLitePersister) Close() error {
	return p.db.Close()
}

// RedisPersister keeps vectors in a hash per model and write order in a sorted set.
type RedisPersister struct {
	client *redis.Client
	prefix string
}

func NewRedisPersister(client *redis.Client, prefix string) *RedisPersister {
	if prefix == "" {
		prefix = "assistant:embeddings"
	}
	return &RedisPersister{client: client, prefix: prefix}
}

func (p *RedisPersister) vectorsKey(model string) string { return p.prefix + ":" + model }
func (p *RedisPersister) recencyKey(model string) string { return p.prefix + ":" + model + ":recency" }

func (p *RedisPersister) Load(ctx context.Context, model string, limit int) ([]Entry, error) {
	keys, err := p.client.ZRevRange(ctx, p.recencyKey(model), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read embedding recency: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	blobs, err := p.client.HMGet(ctx, p.vectorsKey(model), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read embeddings: %w", err)
	}

	newestFirst := make([]Entry, 0, len(keys))
	for i, raw := range blobs {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		values, err := embedding.DecodeVector([]byte(s))
		if err != nil {
			continue
		}
		newestFirst = append(newestFirst, Entry{Key: keys[i], Values: values})
	}
	return reverse(newestFirst), nil
}

func (p *RedisPersister) Store(ctx context.Context, model string, e Entry) error {
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, p.vectorsKey(model), e.Key, embedding.EncodeVector(e.Values))
	pipe.ZAdd(ctx, p.recencyKey(model), redis.Z{Score: float64(time.Now().UnixNano()), Member: e.Key})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (p *RedisPersister) Close() error {
	return nil
}

func reverse(in []Entry) []Entry {
	for i, j := 0, len(in)-1; i < j; i, j = i+1, j-1 {
		in[i], in[j] = in[j], in[i]
	}
	return in
}
